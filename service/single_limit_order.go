package service

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/assets"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/wallet"
	"github.com/LykkeCity/MatchingEngine-sub000/infra/sequence"
)

var (
	ErrInvalidPrice   = errors.New("invalid price")
	ErrInvalidVolume  = errors.New("invalid volume")
	ErrNegativeSpread = errors.New("order leads to negative spread")
	ErrBookFull       = errors.New("order book side is full")
)

// SingleLimitOrderService admits limit and stop-limit orders: it
// validates, reserves, matches the crossing part against third-party
// liquidity and rests the remainder.
type SingleLimitOrderService struct {
	core
	matcher *LimitMatcher
}

func NewSingleLimitOrderService(
	lifecycle *OrderLifecycleService,
	ledger *wallet.Ledger,
	seq *sequence.Sequencer,
	bus *EventBus,
	matcher *LimitMatcher,
	log *zap.Logger,
) *SingleLimitOrderService {
	return &SingleLimitOrderService{
		core:    core{lifecycle: lifecycle, ledger: ledger, seq: seq, bus: bus, log: log.Named("limitOrder")},
		matcher: matcher,
	}
}

// ProcessLimitOrder runs one order through the full admission pipeline.
// The order's final status tells the outcome; the error carries the
// rejection reason when it is terminal on arrival.
func (s *SingleLimitOrderService) ProcessLimitOrder(o *orderbook.Order, now time.Time) error {
	o.ID = s.lifecycle.NextOrderID()
	o.CreatedAt = now
	o.RemainingVolume = o.Volume

	pair, base, quote, err := s.matcher.resolvePair(o.AssetPairID)
	if err != nil {
		o.Status = orderbook.UnknownAsset
		s.reject(o, now)
		return err
	}

	o.Volume = assets.Round(o.Volume, base.Accuracy)
	o.RemainingVolume = o.Volume
	if o.Volume.IsZero() {
		o.Status = orderbook.Cancelled
		s.reject(o, now)
		return ErrInvalidVolume
	}
	if err := validateFeeInstructions(o.Fees); err != nil {
		o.Status = orderbook.InvalidFee
		s.reject(o, now)
		return err
	}

	if o.Type == orderbook.StopLimit {
		return s.admitStopOrder(o, pair, quote, now)
	}

	o.Price = assets.Round(o.Price, pair.Accuracy)
	if o.Price.Sign() <= 0 {
		o.Status = orderbook.InvalidPrice
		s.reject(o, now)
		return ErrInvalidPrice
	}

	book := s.lifecycle.Book(o.AssetPairID)
	if book.LeadToNegativeSpreadForClient(o) {
		o.Status = orderbook.LeadToNegativeSpread
		s.reject(o, now)
		return ErrNegativeSpread
	}
	if s.lifecycle.SideFull(o.AssetPairID, o.IsBuy()) {
		o.Status = orderbook.Cancelled
		s.reject(o, now)
		return ErrBookFull
	}
	if !s.lifecycle.IsEnoughFunds(o) {
		o.Status = orderbook.NotEnoughFunds
		s.reject(o, now)
		return ErrNotEnoughFunds
	}

	assetID, amount, _ := s.lifecycle.ReserveFor(o)
	o.ReservedLimitVolume = amount
	reserveOp := wallet.NewOperation(o.ClientID, assetID, decimal.Zero, amount, now)

	return s.placeAndMatch(o, reserveOp, now)
}

// ProcessTriggeredStop places a stop order whose bound fired. The order
// already carries its id and reservation, so it skips admission and
// goes straight to matching.
func (s *SingleLimitOrderService) ProcessTriggeredStop(o *orderbook.Order, now time.Time) error {
	book := s.lifecycle.Book(o.AssetPairID)
	if book.LeadToNegativeSpreadForClient(o) {
		return s.cancelTriggered(o, orderbook.LeadToNegativeSpread, now)
	}
	assetID, amount, ok := s.lifecycle.ReserveFor(o)
	if !ok {
		return s.cancelTriggered(o, orderbook.UnknownAsset, now)
	}
	// The stop's own reservation still backs it.
	available := s.ledger.AvailableBalance(o.ClientID, assetID).Add(o.ReservedLimitVolume)
	if available.Cmp(amount) < 0 {
		return s.cancelTriggered(o, orderbook.NotEnoughFunds, now)
	}
	if err := s.placeAndMatch(o, wallet.Operation{}, now); err != nil {
		if !o.Status.Terminal() {
			s.reparkStop(o)
		}
		return err
	}
	return nil
}

// reparkStop puts a triggered stop back into the stop book after a
// failed persist. Its admission reservation is still held, so the
// order simply waits for the next trigger.
func (s *SingleLimitOrderService) reparkStop(o *orderbook.Order) {
	o.Type = orderbook.StopLimit
	s.lifecycle.AddStopOrder(o)
}

// placeAndMatch matches the crossing part and rests the remainder. The
// order enters the book only after the batch persisted; a failed
// persist rolls the matching pass back and leaves books, makers and
// the order exactly as they were.
func (s *SingleLimitOrderService) placeAndMatch(o *orderbook.Order, reserveOp wallet.Operation, now time.Time) error {
	undo := snapshotOrder(o)
	var ops []wallet.Operation
	if reserveOp.ClientID != "" {
		ops = append(ops, reserveOp)
	}

	book := s.lifecycle.Book(o.AssetPairID)
	var trades []wallet.Trade
	orders := []*orderbook.Order{o}
	var res *MatchResult

	if book.LeadToNegativeSpread(o) {
		var err error
		res, err = s.matcher.Match(book, o, now)
		if err != nil {
			s.reject(o, now)
			return err
		}
		ops = append(ops, res.Operations...)
		trades = res.Trades
		orders = touchedOrders(res, o)
	}

	if !o.Status.Terminal() && o.Status != orderbook.Processing {
		o.Status = orderbook.InOrderBook
	}
	if err := s.commit(ops, orders, trades, now); err != nil {
		if res != nil {
			res.Rollback()
		}
		undo.apply()
		if reserveOp.ClientID != "" {
			// The reserve op never committed.
			o.ReservedLimitVolume = decimal.Zero
		}
		return err
	}
	if res != nil {
		res.Settle()
	}
	if !o.Status.Terminal() {
		s.lifecycle.AddToOrderBook(o, now)
	}
	s.lifecycle.NotifyBothSides(o.AssetPairID, now)
	return nil
}

// admitStopOrder validates the bounds and parks the order in the stop
// book with its worst-case reservation.
func (s *SingleLimitOrderService) admitStopOrder(o *orderbook.Order, pair assets.AssetPair, quote assets.Asset, now time.Time) error {
	lowerOK := o.LowerLimitPrice.Valid && o.LowerPrice.Valid &&
		o.LowerLimitPrice.Decimal.Sign() > 0 && o.LowerPrice.Decimal.Sign() > 0
	upperOK := o.UpperLimitPrice.Valid && o.UpperPrice.Valid &&
		o.UpperLimitPrice.Decimal.Sign() > 0 && o.UpperPrice.Decimal.Sign() > 0
	partial := (o.LowerLimitPrice.Valid || o.LowerPrice.Valid) && !lowerOK ||
		(o.UpperLimitPrice.Valid || o.UpperPrice.Valid) && !upperOK
	if (!lowerOK && !upperOK) || partial {
		o.Status = orderbook.InvalidPrice
		s.reject(o, now)
		return ErrInvalidPrice
	}

	assetID := pair.BaseAssetID
	amount := o.AbsRemaining()
	if o.IsBuy() {
		// A buy may trigger at either bound; reserve for the dearer one.
		price := decimal.Zero
		if lowerOK {
			price = o.LowerPrice.Decimal
		}
		if upperOK && o.UpperPrice.Decimal.Cmp(price) > 0 {
			price = o.UpperPrice.Decimal
		}
		assetID = pair.QuotingAssetID
		amount = assets.Round(o.AbsRemaining().Mul(price), quote.Accuracy)
	}
	if s.ledger.AvailableBalance(o.ClientID, assetID).Cmp(amount) < 0 {
		o.Status = orderbook.NotEnoughFunds
		s.reject(o, now)
		return ErrNotEnoughFunds
	}

	o.ReservedLimitVolume = amount
	s.lifecycle.AddStopOrder(o)
	reserveOp := wallet.NewOperation(o.ClientID, assetID, decimal.Zero, amount, now)
	if err := s.commit([]wallet.Operation{reserveOp}, []*orderbook.Order{o}, nil, now); err != nil {
		s.lifecycle.Withdraw(o)
		o.ReservedLimitVolume = decimal.Zero
		return err
	}
	return nil
}

func (s *SingleLimitOrderService) cancelTriggered(o *orderbook.Order, status orderbook.OrderStatus, now time.Time) error {
	undo := snapshotOrder(o)
	o.Status = status
	var ops []wallet.Operation
	if o.ReservedLimitVolume.Sign() > 0 {
		pair, ok := s.matcher.dict.AssetPair(o.AssetPairID)
		if ok {
			assetID := pair.BaseAssetID
			if o.IsBuy() {
				assetID = pair.QuotingAssetID
			}
			ops = append(ops, wallet.NewOperation(o.ClientID, assetID, decimal.Zero, o.ReservedLimitVolume.Neg(), now))
		}
		o.ReservedLimitVolume = decimal.Zero
	}
	if err := s.commit(ops, []*orderbook.Order{o}, nil, now); err != nil {
		undo.apply()
		s.reparkStop(o)
		return err
	}
	return nil
}
