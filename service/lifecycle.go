package service

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/assets"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/wallet"
	"github.com/LykkeCity/MatchingEngine-sub000/infra/memory"
	"github.com/LykkeCity/MatchingEngine-sub000/infra/persist"
	"github.com/LykkeCity/MatchingEngine-sub000/infra/sequence"
)

// OrderLifecycleService owns every live order: the per-pair limit and
// stop books, the id registry and the transitions between them. It is
// mutated only from the dispatcher goroutine; readers get snapshots.
type OrderLifecycleService struct {
	dict      assets.Dictionary
	ledger    *wallet.Ledger
	bus       *EventBus
	snapshots *persist.SnapshotBoard
	ids       *sequence.Sequencer
	retired   *memory.RetireRing
	pool      *memory.Pool[orderbook.Order]
	log       *zap.Logger

	books     map[string]*orderbook.OrderBook
	stopBooks map[string]*orderbook.StopOrderBook
	registry  *orderbook.Registry

	// maxSideSize caps resting orders per book side; zero disables.
	maxSideSize int

	lastQuote map[string]decimal.Decimal
}

func NewOrderLifecycleService(
	dict assets.Dictionary,
	ledger *wallet.Ledger,
	bus *EventBus,
	snapshots *persist.SnapshotBoard,
	ids *sequence.Sequencer,
	retired *memory.RetireRing,
	pool *memory.Pool[orderbook.Order],
	maxSideSize int,
	log *zap.Logger,
) *OrderLifecycleService {
	return &OrderLifecycleService{
		dict:        dict,
		ledger:      ledger,
		bus:         bus,
		snapshots:   snapshots,
		ids:         ids,
		retired:     retired,
		pool:        pool,
		log:         log,
		books:       make(map[string]*orderbook.OrderBook),
		stopBooks:   make(map[string]*orderbook.StopOrderBook),
		registry:    orderbook.NewRegistry(),
		maxSideSize: maxSideSize,
		lastQuote:   make(map[string]decimal.Decimal),
	}
}

func (s *OrderLifecycleService) Book(assetPairID string) *orderbook.OrderBook {
	b, ok := s.books[assetPairID]
	if !ok {
		b = orderbook.NewOrderBook(assetPairID)
		s.books[assetPairID] = b
	}
	return b
}

func (s *OrderLifecycleService) StopBook(assetPairID string) *orderbook.StopOrderBook {
	b, ok := s.stopBooks[assetPairID]
	if !ok {
		b = orderbook.NewStopOrderBook(assetPairID)
		s.stopBooks[assetPairID] = b
	}
	return b
}

func (s *OrderLifecycleService) NextOrderID() uint64 { return s.ids.Next() }

// AcquireOrder hands out a zeroed order record, recycled from retired
// orders once no snapshot reader can still see them.
func (s *OrderLifecycleService) AcquireOrder() *orderbook.Order {
	if s.pool == nil {
		return &orderbook.Order{}
	}
	o := s.pool.Get()
	o.Reset()
	return o
}

// RestoreFromStore rebuilds the books from persisted orders at startup,
// without quote or snapshot notifications. It returns the highest order
// id seen so the id sequencer can resume past it.
func (s *OrderLifecycleService) RestoreFromStore(limitOrders, stopOrders []*orderbook.Order) uint64 {
	var maxID uint64
	for _, o := range limitOrders {
		s.Book(o.AssetPairID).AddOrder(o)
		s.registry.Add(o)
		if o.ID > maxID {
			maxID = o.ID
		}
	}
	for _, o := range stopOrders {
		s.StopBook(o.AssetPairID).AddOrder(o)
		s.registry.Add(o)
		if o.ID > maxID {
			maxID = o.ID
		}
	}
	return maxID
}

func (s *OrderLifecycleService) OrderByExternalID(externalID string) (*orderbook.Order, bool) {
	return s.registry.GetByExternalID(externalID)
}

// SideFull reports whether a side of the pair's book is at capacity.
func (s *OrderLifecycleService) SideFull(assetPairID string, isBuy bool) bool {
	if s.maxSideSize <= 0 {
		return false
	}
	return s.Book(assetPairID).SideSize(isBuy) >= s.maxSideSize
}

// AddToOrderBook rests the order and publishes the side's new state.
// A partially matched order keeps Processing; a fresh one becomes
// InOrderBook.
func (s *OrderLifecycleService) AddToOrderBook(o *orderbook.Order, now time.Time) {
	if o.Status != orderbook.Processing {
		o.Status = orderbook.InOrderBook
	}
	s.Book(o.AssetPairID).AddOrder(o)
	s.registry.Add(o)
	s.notifySide(o.AssetPairID, o.IsBuy(), now)
}

// AddStopOrder parks the order in the stop book until a bound triggers.
func (s *OrderLifecycleService) AddStopOrder(o *orderbook.Order) {
	o.Status = orderbook.Pending
	s.StopBook(o.AssetPairID).AddOrder(o)
	s.registry.Add(o)
}

// RemoveOrder unlinks the order from whichever book holds it. It does
// not change status or balances.
func (s *OrderLifecycleService) RemoveOrder(o *orderbook.Order) bool {
	if o.Type == orderbook.StopLimit && o.Status == orderbook.Pending {
		return s.StopBook(o.AssetPairID).RemoveOrder(o)
	}
	return s.Book(o.AssetPairID).RemoveOrder(o)
}

// Withdraw unlinks an order admitted earlier in the same failed
// command, from book and registry both, with no notifications.
func (s *OrderLifecycleService) Withdraw(o *orderbook.Order) {
	s.RemoveOrder(o)
	s.registry.Remove(o)
}

// CancelOrder removes the order and releases whatever it still had
// reserved. Cancelling an order that already left its book is a no-op
// and returns no operations.
func (s *OrderLifecycleService) CancelOrder(o *orderbook.Order, now time.Time) []wallet.Operation {
	if !s.RemoveOrder(o) {
		return nil
	}
	o.Status = orderbook.Cancelled
	var ops []wallet.Operation
	if o.ReservedLimitVolume.Sign() > 0 {
		pair, ok := s.dict.AssetPair(o.AssetPairID)
		if ok {
			assetID := pair.BaseAssetID
			if o.IsBuy() {
				assetID = pair.QuotingAssetID
			}
			ops = append(ops, wallet.NewOperation(o.ClientID, assetID, decimal.Zero, o.ReservedLimitVolume.Neg(), now))
		}
		o.ReservedLimitVolume = decimal.Zero
	}
	if o.Type == orderbook.Limit {
		s.notifySide(o.AssetPairID, o.IsBuy(), now)
	}
	return ops
}

// CancelAllPreviousOrders removes every live order the client has on
// the pair, optionally one side only. Used by cancel-and-replace and
// mass cancel. The returned snapshots let the caller undo the whole
// sweep if the releasing batch fails to persist.
func (s *OrderLifecycleService) CancelAllPreviousOrders(
	clientID, assetPairID string,
	sideFiltered, isBuy bool,
	now time.Time,
) ([]*orderbook.Order, []wallet.Operation, []orderRevert) {
	orders := s.registry.ClientOrders(clientID, assetPairID, sideFiltered, isBuy)
	var (
		cancelled []*orderbook.Order
		ops       []wallet.Operation
		undos     []orderRevert
	)
	for _, o := range orders {
		undo := snapshotOrder(o)
		released := s.CancelOrder(o, now)
		if o.Status != orderbook.Cancelled {
			continue
		}
		ops = append(ops, released...)
		cancelled = append(cancelled, o)
		undos = append(undos, undo)
	}
	return cancelled, ops, undos
}

// ReinstateOrder undoes one cancellation after its batch failed to
// persist: the order's fields revert to the snapshot and it rejoins
// its book. Registry entries survive until a batch commits, so only
// book membership needs restoring.
func (s *OrderLifecycleService) ReinstateOrder(undo orderRevert, now time.Time) {
	undo.apply()
	o := undo.o
	if o.Type == orderbook.StopLimit && o.Status == orderbook.Pending {
		s.StopBook(o.AssetPairID).AddOrder(o)
		return
	}
	s.Book(o.AssetPairID).RestoreOrder(o)
	s.notifySide(o.AssetPairID, o.IsBuy(), now)
}

// MoveOrdersToDone retires terminal orders from the registry. The
// structs go through the retire ring so concurrent snapshot readers
// drain before reuse.
func (s *OrderLifecycleService) MoveOrdersToDone(orders []*orderbook.Order) {
	for _, o := range orders {
		if !o.Status.Terminal() {
			continue
		}
		s.registry.Remove(o)
		if s.retired != nil {
			if !s.retired.Enqueue(o) {
				// Ring full: the order stays reachable by GC only.
				s.log.Warn("retire ring full, dropping order on floor", zap.Uint64("orderId", o.ID))
			}
		}
	}
}

// ReserveFor returns the asset and amount the order must hold reserved
// while resting: the quoting notional for buys, the base volume for
// sells.
func (s *OrderLifecycleService) ReserveFor(o *orderbook.Order) (string, decimal.Decimal, bool) {
	pair, ok := s.dict.AssetPair(o.AssetPairID)
	if !ok {
		return "", decimal.Zero, false
	}
	if o.IsBuy() {
		quote, ok := s.dict.Asset(pair.QuotingAssetID)
		if !ok {
			return "", decimal.Zero, false
		}
		return pair.QuotingAssetID, assets.Round(o.AbsRemaining().Mul(o.Price), quote.Accuracy), true
	}
	return pair.BaseAssetID, o.AbsRemaining(), true
}

// IsEnoughFunds reports whether the client can cover the order's
// reservation out of available balance.
func (s *OrderLifecycleService) IsEnoughFunds(o *orderbook.Order) bool {
	assetID, amount, ok := s.ReserveFor(o)
	if !ok {
		return false
	}
	return s.ledger.AvailableBalance(o.ClientID, assetID).Cmp(amount) >= 0
}

// GetStopOrderForProcess pops the next stop order whose bound the
// current best price satisfies, converted into a plain limit order at
// its bound's paired price. Buy stops watch the best ask, sell stops
// the best bid. Nil when nothing triggers.
func (s *OrderLifecycleService) GetStopOrderForProcess(assetPairID string, now time.Time) *orderbook.Order {
	stopBook, ok := s.stopBooks[assetPairID]
	if !ok || stopBook.Size() == 0 {
		return nil
	}
	book := s.Book(assetPairID)

	type probe struct {
		price   decimal.Decimal
		isBuy   bool
		isLower bool
	}
	ask, bid := book.BestAskPrice(), book.BestBidPrice()
	probes := []probe{
		{ask, true, true},
		{ask, true, false},
		{bid, false, true},
		{bid, false, false},
	}
	for _, p := range probes {
		if p.price.IsZero() {
			continue
		}
		o := stopBook.GetOrder(p.price, p.isBuy, p.isLower)
		if o == nil {
			continue
		}
		stopBook.RemoveOrder(o)
		if p.isLower {
			o.Price = o.LowerPrice.Decimal
		} else {
			o.Price = o.UpperPrice.Decimal
		}
		o.Type = orderbook.Limit
		s.log.Info("stop order triggered",
			zap.Uint64("orderId", o.ID),
			zap.String("assetPair", assetPairID),
			zap.String("price", o.Price.String()),
			zap.Bool("lowerBound", p.isLower))
		return o
	}
	return nil
}

// notifySide publishes the side's best quote when it moved and rewrites
// the side's snapshot file.
func (s *OrderLifecycleService) notifySide(assetPairID string, isBuy bool, now time.Time) {
	book := s.Book(assetPairID)
	best := book.BestBidPrice()
	if !isBuy {
		best = book.BestAskPrice()
	}
	key := assetPairID + "/bid"
	if !isBuy {
		key = assetPairID + "/ask"
	}
	if last, ok := s.lastQuote[key]; !ok || last.Cmp(best) != 0 {
		s.lastQuote[key] = best
		s.bus.PublishQuote(QuoteUpdate{
			AssetPairID: assetPairID,
			IsBuy:       isBuy,
			Price:       best,
			Timestamp:   now,
		})
	}
	if s.snapshots != nil {
		s.snapshots.Publish(assetPairID, isBuy, book.Copy())
	}
}

// NotifyBothSides is called after matching, which always touches the
// opposite side and may touch the order's own side too.
func (s *OrderLifecycleService) NotifyBothSides(assetPairID string, now time.Time) {
	s.notifySide(assetPairID, true, now)
	s.notifySide(assetPairID, false, now)
}
