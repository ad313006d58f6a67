package persist

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/wallet"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPersistAndLoad(t *testing.T) {
	s := openTestStore(t)
	now := time.Unix(0, 1717243200000000000)

	live := &orderbook.Order{
		ID: 1, ClientID: "alice", AssetPairID: "BTCUSD",
		Price: d("10000"), Volume: d("1"), RemainingVolume: d("1"),
		Status: orderbook.InOrderBook, Type: orderbook.Limit, CreatedAt: now,
	}
	done := &orderbook.Order{
		ID: 2, ClientID: "bob", AssetPairID: "BTCUSD",
		Price: d("9000"), Volume: d("1"), RemainingVolume: d("0"),
		Status: orderbook.Matched, Type: orderbook.Limit, CreatedAt: now,
	}
	stop := &orderbook.Order{
		ID: 3, ClientID: "carol", AssetPairID: "BTCUSD",
		Volume: d("0.5"), RemainingVolume: d("0.5"),
		Status: orderbook.Pending, Type: orderbook.StopLimit, CreatedAt: now,
	}

	err := s.Persist(wallet.Batch{
		Sequence: 17,
		Balances: []wallet.AssetBalance{
			{ClientID: "alice", AssetID: "USD", Balance: d("100"), Reserved: d("40")},
			{ClientID: "bob", AssetID: "BTC", Balance: d("2")},
		},
		Orders: []*orderbook.Order{live, done, stop},
	})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	balances, err := s.LoadBalances()
	if err != nil {
		t.Fatalf("load balances: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("balances = %d, want 2", len(balances))
	}

	limits, err := s.LoadLimitOrders()
	if err != nil {
		t.Fatalf("load limits: %v", err)
	}
	if len(limits) != 1 || limits[0].ID != 1 {
		t.Errorf("live limit orders = %v, terminal orders must be filtered", limits)
	}

	stops, err := s.LoadStopLimitOrders()
	if err != nil {
		t.Fatalf("load stops: %v", err)
	}
	if len(stops) != 1 || stops[0].ID != 3 {
		t.Errorf("pending stop orders = %v", stops)
	}

	seq, err := s.LoadSequence()
	if err != nil || seq != 17 {
		t.Errorf("sequence = %d err=%v, want 17", seq, err)
	}
}

func TestPersistRemovesOrders(t *testing.T) {
	s := openTestStore(t)

	o := &orderbook.Order{
		ID: 5, ClientID: "alice", AssetPairID: "BTCUSD",
		Price: d("10000"), Volume: d("1"), RemainingVolume: d("1"),
		Status: orderbook.InOrderBook, Type: orderbook.Limit,
	}
	if err := s.Persist(wallet.Batch{Sequence: 1, Orders: []*orderbook.Order{o}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Persist(wallet.Batch{Sequence: 2, RemovedOrderIDs: []uint64{5}}); err != nil {
		t.Fatal(err)
	}

	limits, err := s.LoadLimitOrders()
	if err != nil {
		t.Fatal(err)
	}
	if len(limits) != 0 {
		t.Errorf("orders = %d, want 0 after removal", len(limits))
	}
}

func TestLoadSequenceFreshStore(t *testing.T) {
	s := openTestStore(t)
	seq, err := s.LoadSequence()
	if err != nil || seq != 0 {
		t.Errorf("seq = %d err=%v, want 0 on fresh store", seq, err)
	}
}

func TestBalanceOverwrite(t *testing.T) {
	s := openTestStore(t)

	first := wallet.AssetBalance{ClientID: "alice", AssetID: "USD", Balance: d("100")}
	second := wallet.AssetBalance{ClientID: "alice", AssetID: "USD", Balance: d("250"), Reserved: d("10")}
	if err := s.Persist(wallet.Batch{Sequence: 1, Balances: []wallet.AssetBalance{first}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Persist(wallet.Batch{Sequence: 2, Balances: []wallet.AssetBalance{second}}); err != nil {
		t.Fatal(err)
	}

	balances, err := s.LoadBalances()
	if err != nil {
		t.Fatal(err)
	}
	if len(balances) != 1 {
		t.Fatalf("balances = %d, want the key overwritten", len(balances))
	}
	if !balances[0].Balance.Equal(d("250")) || !balances[0].Reserved.Equal(d("10")) {
		t.Errorf("balance = %+v", balances[0])
	}
}

func TestRemovalWinsOverWriteInOneBatch(t *testing.T) {
	s := openTestStore(t)

	o := &orderbook.Order{
		ID: 7, ClientID: "alice", AssetPairID: "BTCUSD",
		Price: d("10000"), Volume: d("1"), RemainingVolume: d("0"),
		Status: orderbook.Matched, Type: orderbook.Limit,
	}
	// A fully matched order appears in the same batch both as a final
	// record and as a removal; the removal must take effect.
	err := s.Persist(wallet.Batch{
		Sequence:        1,
		Orders:          []*orderbook.Order{o},
		RemovedOrderIDs: []uint64{7},
	})
	if err != nil {
		t.Fatal(err)
	}

	all, err := s.loadOrders(func(*orderbook.Order) bool { return true })
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("orders = %d, want the matched order pruned", len(all))
	}
}
