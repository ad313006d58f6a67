package orderbook

import "github.com/shopspring/decimal"

// PriceLevel holds all resting orders at one price as a FIFO
// doubly-linked list. Orders arrive through the single sequencer, so
// link order equals creation order and ties break by earlier CreatedAt.
type PriceLevel struct {
	Price      decimal.Decimal
	head       *Order
	tail       *Order
	OrderCount int
}

func (p *PriceLevel) Head() *Order { return p.head }

func (p *PriceLevel) Enqueue(o *Order) {
	if p.head == nil {
		p.head = o
		p.tail = o
	} else {
		p.tail.next = o
		o.prev = p.tail
		p.tail = o
	}
	p.OrderCount++
}

// EnqueueFront reinserts an order at the head of the level. Matching
// pops from the head, so restoring popped orders front-first in reverse
// pop order reproduces the original FIFO exactly.
func (p *PriceLevel) EnqueueFront(o *Order) {
	if p.head == nil {
		p.head = o
		p.tail = o
	} else {
		o.next = p.head
		p.head.prev = o
		p.head = o
	}
	p.OrderCount++
}

func (p *PriceLevel) Unlink(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		p.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		p.tail = o.prev
	}
	o.next = nil
	o.prev = nil
	p.OrderCount--
}

// Contains walks the level looking for the exact order identity.
func (p *PriceLevel) Contains(o *Order) bool {
	for n := p.head; n != nil; n = n.next {
		if n == o {
			return true
		}
	}
	return false
}

// TotalRemaining sums |RemainingVolume| over the level.
func (p *PriceLevel) TotalRemaining() decimal.Decimal {
	total := decimal.Zero
	for n := p.head; n != nil; n = n.next {
		total = total.Add(n.AbsRemaining())
	}
	return total
}
