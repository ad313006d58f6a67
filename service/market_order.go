package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/assets"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/wallet"
	"github.com/LykkeCity/MatchingEngine-sub000/infra/sequence"
)

// MarketOrderService executes market orders against the book. A market
// order either fills in full or dies; it never rests.
type MarketOrderService struct {
	core
	matcher *MarketMatcher
}

func NewMarketOrderService(
	lifecycle *OrderLifecycleService,
	ledger *wallet.Ledger,
	seq *sequence.Sequencer,
	bus *EventBus,
	matcher *MarketMatcher,
	log *zap.Logger,
) *MarketOrderService {
	return &MarketOrderService{
		core:    core{lifecycle: lifecycle, ledger: ledger, seq: seq, bus: bus, log: log.Named("marketOrder")},
		matcher: matcher,
	}
}

// ProcessMarketOrder validates and executes one market order. The
// order's status carries the outcome; o.Price is the volume-weighted
// execution price on success.
func (s *MarketOrderService) ProcessMarketOrder(o *orderbook.MarketOrder, now time.Time) error {
	o.ID = s.lifecycle.NextOrderID()
	o.CreatedAt = now

	pair, base, quote, err := s.matcher.resolvePair(o.AssetPairID)
	if err != nil {
		o.Status = orderbook.UnknownAsset
		s.rejectMarket(o, now)
		return err
	}

	volumeAccuracy := base.Accuracy
	if !o.Straight {
		volumeAccuracy = quote.Accuracy
	}
	o.Volume = assets.Round(o.Volume, volumeAccuracy)
	if o.Volume.IsZero() {
		o.Status = orderbook.Cancelled
		s.rejectMarket(o, now)
		return ErrInvalidVolume
	}
	if err := validateFeeInstructions(o.Fees); err != nil {
		o.Status = orderbook.InvalidFee
		s.rejectMarket(o, now)
		return err
	}

	book := s.lifecycle.Book(o.AssetPairID)
	status, price := o.Status, o.Price
	res, err := s.matcher.Match(book, o, now)
	if err != nil {
		s.rejectMarket(o, now)
		return err
	}

	if err := s.commit(res.Operations, touchedOrders(res), res.Trades, now); err != nil {
		res.Rollback()
		o.Status, o.Price = status, price
		return err
	}
	res.Settle()
	s.bus.MarketOrderExecuted(o, now)
	s.lifecycle.NotifyBothSides(o.AssetPairID, now)
	s.log.Info("market order executed",
		zap.Uint64("orderId", o.ID),
		zap.String("clientId", o.ClientID),
		zap.String("assetPair", pair.ID),
		zap.String("price", o.Price.String()))
	return nil
}

func (s *MarketOrderService) rejectMarket(o *orderbook.MarketOrder, now time.Time) {
	s.bus.MarketOrderExecuted(o, now)
	s.log.Info("market order rejected",
		zap.Uint64("orderId", o.ID),
		zap.String("externalId", o.ExternalID),
		zap.String("status", o.Status.String()))
}
