package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
)

// orderRevert holds an order's mutable fields as they were before the
// current command touched them. The ledger already stages balances and
// applies them only after the batch persisted; orders and books are
// the only state a failed persist leaves mutated, and these snapshots
// are what puts them back.
type orderRevert struct {
	o         *orderbook.Order
	status    orderbook.OrderStatus
	remaining decimal.Decimal
	reserved  decimal.Decimal
	lastMatch time.Time
}

func snapshotOrder(o *orderbook.Order) orderRevert {
	return orderRevert{
		o:         o,
		status:    o.Status,
		remaining: o.RemainingVolume,
		reserved:  o.ReservedLimitVolume,
		lastMatch: o.LastMatchTime,
	}
}

func (r orderRevert) apply() {
	r.o.Status = r.status
	r.o.RemainingVolume = r.remaining
	r.o.ReservedLimitVolume = r.reserved
	r.o.LastMatchTime = r.lastMatch
}

// Settle reinserts the resting orders that survive the match: the
// aggressor's own skipped orders and partially filled makers. Called
// only once the batch is durable; fully matched and unfunded makers
// stay out of the book for good.
func (res *MatchResult) Settle() {
	for i := len(res.popped) - 1; i >= 0; i-- {
		if m := res.popped[i]; res.keep[m.ID] {
			res.book.RestoreOrder(m)
		}
	}
}

// Rollback undoes the whole matching pass after a failed persist:
// every touched resting order gets its fields back and every popped
// order returns to its original book position. Restoring in reverse
// pop order reconstructs the book exactly.
func (res *MatchResult) Rollback() {
	for _, r := range res.reverts {
		r.apply()
	}
	for i := len(res.popped) - 1; i >= 0; i-- {
		res.book.RestoreOrder(res.popped[i])
	}
}
