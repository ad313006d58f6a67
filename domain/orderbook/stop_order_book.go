package orderbook

import (
	"sort"

	"github.com/shopspring/decimal"
)

// stopIndex keeps stop orders grouped by trigger price, FIFO within a
// level. Levels are held ascending; bestIsMax selects which end is the
// head of the index. Stop books are tiny next to limit books, so a
// sorted slice beats a tree here.
type stopIndex struct {
	bestIsMax bool
	levels    []*stopLevel
}

type stopLevel struct {
	price  decimal.Decimal
	orders []*Order
}

func newStopIndex(bestIsMax bool) *stopIndex {
	return &stopIndex{bestIsMax: bestIsMax}
}

func (ix *stopIndex) find(price decimal.Decimal) (int, bool) {
	i := sort.Search(len(ix.levels), func(i int) bool {
		return ix.levels[i].price.Cmp(price) >= 0
	})
	if i < len(ix.levels) && ix.levels[i].price.Equal(price) {
		return i, true
	}
	return i, false
}

func (ix *stopIndex) add(price decimal.Decimal, o *Order) {
	i, ok := ix.find(price)
	if ok {
		ix.levels[i].orders = append(ix.levels[i].orders, o)
		return
	}
	lvl := &stopLevel{price: price, orders: []*Order{o}}
	ix.levels = append(ix.levels, nil)
	copy(ix.levels[i+1:], ix.levels[i:])
	ix.levels[i] = lvl
}

func (ix *stopIndex) remove(price decimal.Decimal, o *Order) bool {
	i, ok := ix.find(price)
	if !ok {
		return false
	}
	lvl := ix.levels[i]
	for j, n := range lvl.orders {
		if n == o {
			lvl.orders = append(lvl.orders[:j], lvl.orders[j+1:]...)
			if len(lvl.orders) == 0 {
				ix.levels = append(ix.levels[:i], ix.levels[i+1:]...)
			}
			return true
		}
	}
	return false
}

// head returns the highest-priority order of the index: earliest order
// at the best trigger price.
func (ix *stopIndex) head() *Order {
	if len(ix.levels) == 0 {
		return nil
	}
	if ix.bestIsMax {
		return ix.levels[len(ix.levels)-1].orders[0]
	}
	return ix.levels[0].orders[0]
}

// StopOrderBook holds untriggered stop-limit orders for one asset pair
// in four trigger indices: (side x lower/upper bound). An order with
// both bounds lives in both of its side's indices and leaves them
// together. One id map per side keeps removal O(level).
type StopOrderBook struct {
	AssetPairID string

	buyLower   *stopIndex
	buyUpper   *stopIndex
	sellLower  *stopIndex
	sellUpper  *stopIndex
	buyOrders  map[uint64]*Order
	sellOrders map[uint64]*Order
}

func NewStopOrderBook(assetPairID string) *StopOrderBook {
	return &StopOrderBook{
		AssetPairID: assetPairID,
		// Lower bounds trigger as price falls to them: the largest
		// lower bound is hit first. Upper bounds mirror that.
		buyLower:   newStopIndex(true),
		buyUpper:   newStopIndex(false),
		sellLower:  newStopIndex(true),
		sellUpper:  newStopIndex(false),
		buyOrders:  make(map[uint64]*Order),
		sellOrders: make(map[uint64]*Order),
	}
}

func (b *StopOrderBook) index(isBuy, isLower bool) *stopIndex {
	switch {
	case isBuy && isLower:
		return b.buyLower
	case isBuy:
		return b.buyUpper
	case isLower:
		return b.sellLower
	default:
		return b.sellUpper
	}
}

func (b *StopOrderBook) idMap(isBuy bool) map[uint64]*Order {
	if isBuy {
		return b.buyOrders
	}
	return b.sellOrders
}

// AddOrder registers the order in every index its bounds require and in
// the side id map, atomically from the caller's point of view.
func (b *StopOrderBook) AddOrder(o *Order) {
	isBuy := o.IsBuy()
	if o.LowerLimitPrice.Valid {
		b.index(isBuy, true).add(o.LowerLimitPrice.Decimal, o)
	}
	if o.UpperLimitPrice.Valid {
		b.index(isBuy, false).add(o.UpperLimitPrice.Decimal, o)
	}
	b.idMap(isBuy)[o.ID] = o
}

// RemoveOrder takes the order out of the id map and all indices it was
// added to. Removing an absent order is a no-op.
func (b *StopOrderBook) RemoveOrder(o *Order) bool {
	isBuy := o.IsBuy()
	if _, ok := b.idMap(isBuy)[o.ID]; !ok {
		return false
	}
	if o.LowerLimitPrice.Valid {
		b.index(isBuy, true).remove(o.LowerLimitPrice.Decimal, o)
	}
	if o.UpperLimitPrice.Valid {
		b.index(isBuy, false).remove(o.UpperLimitPrice.Decimal, o)
	}
	delete(b.idMap(isBuy), o.ID)
	return true
}

// GetOrder peeks the head of the (side, bound) index and returns it
// only if the head's trigger is satisfied by price. The head is always
// the best candidate, so a non-qualifying head means nothing qualifies.
func (b *StopOrderBook) GetOrder(price decimal.Decimal, isBuy, isLower bool) *Order {
	head := b.index(isBuy, isLower).head()
	if head == nil || price.Sign() <= 0 {
		return nil
	}
	if isLower {
		if head.LowerLimitPrice.Decimal.Cmp(price) >= 0 {
			return head
		}
		return nil
	}
	if head.UpperLimitPrice.Decimal.Cmp(price) <= 0 {
		return head
	}
	return nil
}

// SideOrders returns the side's orders for snapshots and persistence.
func (b *StopOrderBook) SideOrders(isBuy bool) []*Order {
	m := b.idMap(isBuy)
	out := make([]*Order, 0, len(m))
	for _, o := range m {
		out = append(out, o)
	}
	return out
}

func (b *StopOrderBook) Size() int {
	return len(b.buyOrders) + len(b.sellOrders)
}
