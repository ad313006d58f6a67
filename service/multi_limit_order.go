package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/wallet"
	"github.com/LykkeCity/MatchingEngine-sub000/infra/sequence"
)

// MultiLimitOrderService handles market-maker batches: one message
// carrying a client's full quote set for a pair, optionally replacing
// everything the client had resting there.
type MultiLimitOrderService struct {
	core
	single *SingleLimitOrderService
}

func NewMultiLimitOrderService(
	lifecycle *OrderLifecycleService,
	ledger *wallet.Ledger,
	seq *sequence.Sequencer,
	bus *EventBus,
	single *SingleLimitOrderService,
	log *zap.Logger,
) *MultiLimitOrderService {
	return &MultiLimitOrderService{
		core:   core{lifecycle: lifecycle, ledger: ledger, seq: seq, bus: bus, log: log.Named("multiLimitOrder")},
		single: single,
	}
}

// ProcessMultiLimitOrder cancels the client's previous orders on the
// pair when asked, then admits the batch one order at a time. A bad
// order rejects alone; the rest of the batch still goes through.
func (s *MultiLimitOrderService) ProcessMultiLimitOrder(
	clientID, assetPairID string,
	orders []*orderbook.Order,
	cancelPrevious bool,
	now time.Time,
) error {
	if cancelPrevious {
		cancelled, ops, undos := s.lifecycle.CancelAllPreviousOrders(clientID, assetPairID, false, false, now)
		if len(cancelled) > 0 {
			if err := s.commit(ops, cancelled, nil, now); err != nil {
				for i := len(undos) - 1; i >= 0; i-- {
					s.lifecycle.ReinstateOrder(undos[i], now)
				}
				return err
			}
			s.lifecycle.NotifyBothSides(assetPairID, now)
		}
	}

	var firstErr error
	for _, o := range orders {
		o.ClientID = clientID
		o.AssetPairID = assetPairID
		if err := s.single.ProcessLimitOrder(o, now); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			s.log.Info("batch order rejected",
				zap.String("clientId", clientID),
				zap.String("externalId", o.ExternalID),
				zap.String("status", o.Status.String()))
		}
	}
	return firstErr
}
