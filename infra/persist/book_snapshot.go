package persist

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
)

// BookSideSnapshot is the externally visible state of one book side,
// written after every mutation for recovery and observability.
type BookSideSnapshot struct {
	AssetPairID string
	IsBuy       bool
	Created     time.Time
	Orders      []BookOrderEntry
}

type BookOrderEntry struct {
	ID        uint64
	ClientID  string
	Price     string
	Volume    string
	Remaining string
}

// BookSnapshotter writes side snapshots as gob files, one per
// (pair, side), overwritten in place.
type BookSnapshotter struct {
	Dir string
}

func (w *BookSnapshotter) UpdateOrderBook(pair string, isBuy bool, snap *orderbook.BookSnapshot) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}

	side := "ask"
	levels := snap.Asks
	if isBuy {
		side = "bid"
		levels = snap.Bids
	}

	s := BookSideSnapshot{
		AssetPairID: pair,
		IsBuy:       isBuy,
		Created:     time.Now(),
	}
	for _, lvl := range levels {
		for _, o := range lvl.Orders {
			s.Orders = append(s.Orders, BookOrderEntry{
				ID:        o.ID,
				ClientID:  o.ClientID,
				Price:     o.Price.String(),
				Volume:    o.Volume.String(),
				Remaining: o.RemainingVolume.String(),
			})
		}
	}

	path := filepath.Join(w.Dir, fmt.Sprintf("%s_%s.snap", pair, side))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return gob.NewEncoder(f).Encode(&s)
}

// ReadOrderBook loads a previously written side snapshot.
func (w *BookSnapshotter) ReadOrderBook(pair string, isBuy bool) (*BookSideSnapshot, error) {
	side := "ask"
	if isBuy {
		side = "bid"
	}
	f, err := os.Open(filepath.Join(w.Dir, fmt.Sprintf("%s_%s.snap", pair, side)))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var s BookSideSnapshot
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}
