package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/wallet"
	"github.com/LykkeCity/MatchingEngine-sub000/infra/sequence"
)

// core bundles the collaborators every submission service needs: the
// lifecycle service owning the books, the ledger, the batch sequencer
// and the outbound bus.
type core struct {
	lifecycle *OrderLifecycleService
	ledger    *wallet.Ledger
	seq       *sequence.Sequencer
	bus       *EventBus
	log       *zap.Logger
}

// commit persists one sequenced batch and, only after it is durable,
// publishes the trades and order reports and retires terminal orders.
// Terminal orders also go into the batch's removal set so the store
// prunes their records instead of keeping them forever.
func (c *core) commit(
	ops []wallet.Operation,
	orders []*orderbook.Order,
	trades []wallet.Trade,
	now time.Time,
) error {
	var removed []uint64
	for _, o := range orders {
		if o.Status.Terminal() {
			removed = append(removed, o.ID)
		}
	}
	batch := wallet.Batch{
		Sequence:        c.seq.Next(),
		Orders:          orders,
		RemovedOrderIDs: removed,
	}
	if err := c.ledger.ProcessWalletOperations(ops, batch); err != nil {
		return err
	}
	c.bus.TradesCommitted(trades)
	for _, o := range orders {
		c.bus.OrderChanged(o, now)
	}
	c.lifecycle.MoveOrdersToDone(orders)
	return nil
}

// reject reports a terminal rejection without touching balances.
func (c *core) reject(o *orderbook.Order, now time.Time) {
	c.bus.OrderChanged(o, now)
	c.log.Info("order rejected",
		zap.Uint64("orderId", o.ID),
		zap.String("externalId", o.ExternalID),
		zap.String("status", o.Status.String()))
}

// touchedOrders flattens a match result into the order list persisted
// with its batch.
func touchedOrders(res *MatchResult, extra ...*orderbook.Order) []*orderbook.Order {
	out := make([]*orderbook.Order, 0, len(res.CompletedOrders)+len(res.ProcessingOrders)+len(res.CancelledOrders)+len(extra))
	out = append(out, res.CompletedOrders...)
	out = append(out, res.ProcessingOrders...)
	out = append(out, res.CancelledOrders...)
	out = append(out, extra...)
	return out
}
