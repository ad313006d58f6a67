package persist

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/wallet"
)

// Key layout:
//
//	balance/<clientID>/<assetID> -> balance record
//	order/<id, zero padded>      -> order record
//	meta/sequence                -> big-endian uint64
const (
	balancePrefix = "balance/"
	orderPrefix   = "order/"
	sequenceKey   = "meta/sequence"
)

// Store is the pebble-backed durable side of the engine. One Persist
// call writes balances, orders and the sequence number as a single
// synced pebble batch; either all of it lands or none of it does.
type Store struct {
	db  *pebble.DB
	log *zap.Logger
}

func Open(dir string, log *zap.Logger) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &Store{db: db, log: log.Named("persist")}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", orderPrefix, id))
}

func balanceKey(clientID, assetID string) []byte {
	return []byte(balancePrefix + clientID + "/" + assetID)
}

// Persist implements wallet.Persister.
func (s *Store) Persist(b wallet.Batch) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, bal := range b.Balances {
		if err := batch.Set(balanceKey(bal.ClientID, bal.AssetID), EncodeBalance(bal), nil); err != nil {
			return err
		}
	}
	for _, o := range b.Orders {
		if err := batch.Set(orderKey(o.ID), EncodeOrder(o), nil); err != nil {
			return err
		}
	}
	for _, id := range b.RemovedOrderIDs {
		if err := batch.Delete(orderKey(id), nil); err != nil {
			return err
		}
	}
	if b.Sequence > 0 {
		var seq [8]byte
		binary.BigEndian.PutUint64(seq[:], b.Sequence)
		if err := batch.Set([]byte(sequenceKey), seq[:], nil); err != nil {
			return err
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch seq=%d: %w", b.Sequence, err)
	}
	return nil
}

func (s *Store) scan(prefix string, fn func(val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// LoadBalances returns every stored wallet record.
func (s *Store) LoadBalances() ([]wallet.AssetBalance, error) {
	var out []wallet.AssetBalance
	err := s.scan(balancePrefix, func(val []byte) error {
		b, err := DecodeBalance(val)
		if err != nil {
			return err
		}
		out = append(out, b)
		return nil
	})
	return out, err
}

// LoadLimitOrders returns live resting limit orders for book
// repopulation at startup.
func (s *Store) LoadLimitOrders() ([]*orderbook.Order, error) {
	return s.loadOrders(func(o *orderbook.Order) bool {
		return o.Type == orderbook.Limit && !o.Status.Terminal()
	})
}

// LoadStopLimitOrders returns untriggered stop orders.
func (s *Store) LoadStopLimitOrders() ([]*orderbook.Order, error) {
	return s.loadOrders(func(o *orderbook.Order) bool {
		return o.Type == orderbook.StopLimit && o.Status == orderbook.Pending
	})
}

func (s *Store) loadOrders(keep func(*orderbook.Order) bool) ([]*orderbook.Order, error) {
	var out []*orderbook.Order
	err := s.scan(orderPrefix, func(val []byte) error {
		o, err := DecodeOrder(val)
		if err != nil {
			return err
		}
		if keep(o) {
			out = append(out, o)
		}
		return nil
	})
	return out, err
}

// LoadSequence returns the persisted sequence high-water mark, zero on
// a fresh store.
func (s *Store) LoadSequence() (uint64, error) {
	val, closer, err := s.db.Get([]byte(sequenceKey))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, ErrCorruptRecord
	}
	return binary.BigEndian.Uint64(val), nil
}
