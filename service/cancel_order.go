package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/wallet"
	"github.com/LykkeCity/MatchingEngine-sub000/infra/sequence"
)

// CancelOrderService cancels single orders by external id and whole
// client books. Cancellation is idempotent: an unknown or already
// terminal id is a successful no-op.
type CancelOrderService struct {
	core
}

func NewCancelOrderService(
	lifecycle *OrderLifecycleService,
	ledger *wallet.Ledger,
	seq *sequence.Sequencer,
	bus *EventBus,
	log *zap.Logger,
) *CancelOrderService {
	return &CancelOrderService{
		core: core{lifecycle: lifecycle, ledger: ledger, seq: seq, bus: bus, log: log.Named("cancel")},
	}
}

// CancelLimitOrder cancels the live order with the given external id.
// The returned order is nil when there was nothing to cancel.
func (s *CancelOrderService) CancelLimitOrder(externalID string, now time.Time) (*orderbook.Order, error) {
	o, ok := s.lifecycle.OrderByExternalID(externalID)
	if !ok || o.Status.Terminal() {
		return nil, nil
	}
	wasLimit := o.Type == orderbook.Limit
	undo := snapshotOrder(o)
	ops := s.lifecycle.CancelOrder(o, now)
	if o.Status != orderbook.Cancelled {
		return nil, nil
	}
	if err := s.commit(ops, []*orderbook.Order{o}, nil, now); err != nil {
		s.lifecycle.ReinstateOrder(undo, now)
		return nil, err
	}
	if wasLimit {
		s.lifecycle.NotifyBothSides(o.AssetPairID, now)
	}
	s.log.Info("order cancelled",
		zap.Uint64("orderId", o.ID),
		zap.String("externalId", externalID))
	return o, nil
}

// MassCancel cancels every live order the client has on the pair,
// optionally one side only.
func (s *CancelOrderService) MassCancel(
	clientID, assetPairID string,
	sideFiltered, isBuy bool,
	now time.Time,
) ([]*orderbook.Order, error) {
	cancelled, ops, undos := s.lifecycle.CancelAllPreviousOrders(clientID, assetPairID, sideFiltered, isBuy, now)
	if len(cancelled) == 0 {
		return nil, nil
	}
	if err := s.commit(ops, cancelled, nil, now); err != nil {
		for i := len(undos) - 1; i >= 0; i-- {
			s.lifecycle.ReinstateOrder(undos[i], now)
		}
		return nil, err
	}
	s.lifecycle.NotifyBothSides(assetPairID, now)
	s.log.Info("mass cancel",
		zap.String("clientId", clientID),
		zap.String("assetPair", assetPairID),
		zap.Int("orders", len(cancelled)))
	return cancelled, nil
}
