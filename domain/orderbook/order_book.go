package orderbook

import "github.com/shopspring/decimal"

// OrderBook is the per-asset-pair limit book. Asks are ordered by price
// ascending, bids by price descending; within a level FIFO by creation.
// The book is owned by its asset-pair entry and mutated only by the
// lifecycle service under the sequencer, so no lock is taken here.
type OrderBook struct {
	AssetPairID string
	bids        *RBTree
	asks        *RBTree
}

func NewOrderBook(assetPairID string) *OrderBook {
	return &OrderBook{
		AssetPairID: assetPairID,
		bids:        NewRBTree(),
		asks:        NewRBTree(),
	}
}

func (b *OrderBook) side(isBuy bool) *RBTree {
	if isBuy {
		return b.bids
	}
	return b.asks
}

// bestLevel returns the top priority level for a side: highest price
// for bids, lowest for asks.
func (b *OrderBook) bestLevel(isBuy bool) *PriceLevel {
	if isBuy {
		return b.bids.MaxLevel()
	}
	return b.asks.MinLevel()
}

// AddOrder enqueues the order at its price level.
func (b *OrderBook) AddOrder(o *Order) {
	b.side(o.IsBuy()).UpsertLevel(o.Price).Enqueue(o)
}

// RestoreOrder reinserts a previously popped order at the head of its
// level, preserving time priority. Callers restore in reverse pop order.
func (b *OrderBook) RestoreOrder(o *Order) {
	b.side(o.IsBuy()).UpsertLevel(o.Price).EnqueueFront(o)
}

// RemoveOrder unlinks the order if present. Removing an absent order is
// a no-op; the bool reports whether anything changed.
func (b *OrderBook) RemoveOrder(o *Order) bool {
	tree := b.side(o.IsBuy())
	lvl := tree.FindLevel(o.Price)
	if lvl == nil || !lvl.Contains(o) {
		return false
	}
	lvl.Unlink(o)
	if lvl.head == nil {
		tree.DeleteLevel(lvl.Price)
	}
	return true
}

// PopBest removes and returns the highest-priority order on a side, or
// nil when the side is empty.
func (b *OrderBook) PopBest(isBuy bool) *Order {
	lvl := b.bestLevel(isBuy)
	if lvl == nil {
		return nil
	}
	o := lvl.head
	lvl.Unlink(o)
	if lvl.head == nil {
		b.side(isBuy).DeleteLevel(lvl.Price)
	}
	return o
}

// BestAskPrice returns the lowest ask, or zero when there is no quote.
func (b *OrderBook) BestAskPrice() decimal.Decimal {
	if lvl := b.asks.MinLevel(); lvl != nil {
		return lvl.Price
	}
	return decimal.Zero
}

// BestBidPrice returns the highest bid, or zero when there is no quote.
func (b *OrderBook) BestBidPrice() decimal.Decimal {
	if lvl := b.bids.MaxLevel(); lvl != nil {
		return lvl.Price
	}
	return decimal.Zero
}

// crosses reports whether a price on the given side crosses the
// opposite best price.
func crosses(isBuy bool, price, oppositeBest decimal.Decimal) bool {
	if oppositeBest.IsZero() {
		return false
	}
	if isBuy {
		return price.Cmp(oppositeBest) >= 0
	}
	return price.Cmp(oppositeBest) <= 0
}

// LeadToNegativeSpread reports whether admitting the order would
// immediately cross the opposite best price.
func (b *OrderBook) LeadToNegativeSpread(o *Order) bool {
	if o.IsBuy() {
		return crosses(true, o.Price, b.BestAskPrice())
	}
	return crosses(false, o.Price, b.BestBidPrice())
}

// LeadToNegativeSpreadForClient reports whether a crossing admission
// would cross at least one of the client's own resting orders. It walks
// a copy of the opposite side from the best price while it keeps
// crossing, short-circuiting at the first non-crossing level.
func (b *OrderBook) LeadToNegativeSpreadForClient(o *Order) bool {
	return b.walkCrossing(o, func(resting *Order) bool {
		return resting.ClientID == o.ClientID
	})
}

// LeadToNegativeSpreadByOtherClient reports whether a crossing
// admission would cross a third party's resting order.
func (b *OrderBook) LeadToNegativeSpreadByOtherClient(o *Order) bool {
	return b.walkCrossing(o, func(resting *Order) bool {
		return resting.ClientID != o.ClientID
	})
}

func (b *OrderBook) walkCrossing(o *Order, match func(*Order) bool) bool {
	snapshot := b.Copy()
	opposite := snapshot.Asks
	if !o.IsBuy() {
		opposite = snapshot.Bids
	}
	for _, lvl := range opposite {
		// Levels come best-first; the first non-crossing price ends
		// the walk.
		if !crosses(o.IsBuy(), o.Price, lvl.Price) {
			return false
		}
		for _, n := range lvl.Orders {
			if match(n) {
				return true
			}
		}
	}
	return false
}

// LevelSnapshot is one price level of a point-in-time book copy.
type LevelSnapshot struct {
	Price  decimal.Decimal
	Orders []*Order
}

// BookSnapshot is an independent copy of the book: fresh slices sharing
// the resting *Order references. Both sides are ordered best-first.
type BookSnapshot struct {
	AssetPairID string
	Bids        []LevelSnapshot
	Asks        []LevelSnapshot
}

// Copy takes a point-in-time snapshot. Readers iterate the snapshot,
// never the live, mutating structure.
func (b *OrderBook) Copy() *BookSnapshot {
	out := &BookSnapshot{AssetPairID: b.AssetPairID}
	collect := func(lvl *PriceLevel) LevelSnapshot {
		ls := LevelSnapshot{Price: lvl.Price, Orders: make([]*Order, 0, lvl.OrderCount)}
		for n := lvl.head; n != nil; n = n.next {
			ls.Orders = append(ls.Orders, n)
		}
		return ls
	}
	b.bids.ForEachDescending(func(lvl *PriceLevel) bool {
		out.Bids = append(out.Bids, collect(lvl))
		return true
	})
	b.asks.ForEachAscending(func(lvl *PriceLevel) bool {
		out.Asks = append(out.Asks, collect(lvl))
		return true
	})
	return out
}

// BidsWalk visits bid levels best first.
func (b *OrderBook) BidsWalk(fn func(*PriceLevel) bool) {
	b.bids.ForEachDescending(fn)
}

// AsksWalk visits ask levels best first.
func (b *OrderBook) AsksWalk(fn func(*PriceLevel) bool) {
	b.asks.ForEachAscending(fn)
}

// SideSize returns the number of resting orders on a side.
func (b *OrderBook) SideSize(isBuy bool) int {
	total := 0
	b.side(isBuy).ForEachAscending(func(lvl *PriceLevel) bool {
		total += lvl.OrderCount
		return true
	})
	return total
}
