package persist

import (
	"sync"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
)

type sideKey struct {
	assetPairID string
	isBuy       bool
}

// SnapshotBoard is the handoff between the engine goroutine and the
// snapshot writer job. The engine publishes the newest copy of each
// book side; the writer drains whatever is current when it wakes, so
// a slow disk coalesces bursts into one write per side.
type SnapshotBoard struct {
	mu    sync.Mutex
	sides map[sideKey]*orderbook.BookSnapshot
	dirty chan struct{}
}

func NewSnapshotBoard() *SnapshotBoard {
	return &SnapshotBoard{
		sides: make(map[sideKey]*orderbook.BookSnapshot),
		dirty: make(chan struct{}, 1),
	}
}

// Publish replaces the pending copy for one book side and wakes the
// writer. It never blocks the engine.
func (b *SnapshotBoard) Publish(assetPairID string, isBuy bool, snap *orderbook.BookSnapshot) {
	b.mu.Lock()
	b.sides[sideKey{assetPairID, isBuy}] = snap
	b.mu.Unlock()
	select {
	case b.dirty <- struct{}{}:
	default:
	}
}

// Dirty signals that at least one side has an unwritten copy.
func (b *SnapshotBoard) Dirty() <-chan struct{} {
	return b.dirty
}

// Drain hands every pending side to fn and clears the board.
func (b *SnapshotBoard) Drain(fn func(assetPairID string, isBuy bool, snap *orderbook.BookSnapshot)) {
	b.mu.Lock()
	pending := b.sides
	b.sides = make(map[sideKey]*orderbook.BookSnapshot, len(pending))
	b.mu.Unlock()

	for key, snap := range pending {
		fn(key.assetPairID, key.isBuy, snap)
	}
}
