package snapshots

import (
	"context"

	"go.uber.org/zap"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
	"github.com/LykkeCity/MatchingEngine-sub000/infra/memory"
	"github.com/LykkeCity/MatchingEngine-sub000/infra/persist"
)

// Writer drains published book snapshots to disk off the engine
// goroutine. Snapshots share the live order structs, so every flush
// runs inside a reader epoch; the reclaimer will not recycle a retired
// order while a flush that could reference it is in progress.
type Writer struct {
	board  *persist.SnapshotBoard
	files  *persist.BookSnapshotter
	reader *memory.ReaderEpoch
	log    *zap.Logger
}

func New(board *persist.SnapshotBoard, files *persist.BookSnapshotter, log *zap.Logger) *Writer {
	return &Writer{
		board:  board,
		files:  files,
		reader: memory.NewReaderEpoch(),
		log:    log.Named("snapshots"),
	}
}

// Reader exposes the epoch the reclaimer must respect.
func (w *Writer) Reader() *memory.ReaderEpoch {
	return w.reader
}

func (w *Writer) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.board.Dirty():
				w.flush()
			}
		}
	}()
}

func (w *Writer) flush() {
	w.reader.Enter()
	defer w.reader.Exit()

	w.board.Drain(func(assetPairID string, isBuy bool, snap *orderbook.BookSnapshot) {
		if err := w.files.UpdateOrderBook(assetPairID, isBuy, snap); err != nil {
			w.log.Error("order book snapshot write failed",
				zap.String("assetPair", assetPairID),
				zap.Bool("isBuy", isBuy),
				zap.Error(err))
		}
	})
}
