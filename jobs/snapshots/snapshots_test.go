package snapshots

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
	"github.com/LykkeCity/MatchingEngine-sub000/infra/memory"
	"github.com/LykkeCity/MatchingEngine-sub000/infra/persist"
)

func testSnapshot(id uint64) *orderbook.BookSnapshot {
	price := decimal.RequireFromString("10000")
	o := &orderbook.Order{
		ID: id, ClientID: "alice", AssetPairID: "BTCUSD",
		Price: price, Volume: decimal.NewFromInt(1), RemainingVolume: decimal.NewFromInt(1),
	}
	return &orderbook.BookSnapshot{
		AssetPairID: "BTCUSD",
		Bids:        []orderbook.LevelSnapshot{{Price: price, Orders: []*orderbook.Order{o}}},
	}
}

func TestFlushWritesPublishedSides(t *testing.T) {
	board := persist.NewSnapshotBoard()
	files := &persist.BookSnapshotter{Dir: t.TempDir()}
	w := New(board, files, zap.NewNop())

	board.Publish("BTCUSD", true, testSnapshot(11))
	w.flush()

	side, err := files.ReadOrderBook("BTCUSD", true)
	if err != nil {
		t.Fatalf("read side snapshot: %v", err)
	}
	if len(side.Orders) != 1 || side.Orders[0].ID != 11 {
		t.Errorf("side orders = %+v, want the published order", side.Orders)
	}
}

func TestFlushCoalescesToLatestCopy(t *testing.T) {
	board := persist.NewSnapshotBoard()
	files := &persist.BookSnapshotter{Dir: t.TempDir()}
	w := New(board, files, zap.NewNop())

	board.Publish("BTCUSD", true, testSnapshot(1))
	board.Publish("BTCUSD", true, testSnapshot(2))
	w.flush()

	side, err := files.ReadOrderBook("BTCUSD", true)
	if err != nil {
		t.Fatalf("read side snapshot: %v", err)
	}
	if len(side.Orders) != 1 || side.Orders[0].ID != 2 {
		t.Errorf("side orders = %+v, want only the newest copy", side.Orders)
	}
}

type discardPool struct{ got int }

func (p *discardPool) PutAny(any) { p.got++ }

func TestFlushReleasesReaderEpoch(t *testing.T) {
	board := persist.NewSnapshotBoard()
	files := &persist.BookSnapshotter{Dir: t.TempDir()}
	w := New(board, files, zap.NewNop())

	ring := memory.NewRetireRing(8)
	pool := &discardPool{}
	ring.Enqueue(&orderbook.Order{ID: 3})

	board.Publish("BTCUSD", false, testSnapshot(3))
	w.flush()

	memory.AdvanceEpochAndReclaim(ring, pool, w.Reader())
	if pool.got != 1 {
		t.Fatal("retired order must be reclaimable once the flush finished")
	}
	if ring.Dequeue() != nil {
		t.Error("ring must be drained after reclamation")
	}
}
