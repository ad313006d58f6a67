package persist

import (
	"testing"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
)

func TestBookSnapshotRoundTrip(t *testing.T) {
	book := orderbook.NewOrderBook("BTCUSD")
	for i, tc := range []struct{ price, volume string }{
		{"10000", "-1"},
		{"10100", "-0.5"},
		{"10000", "-0.25"},
	} {
		book.AddOrder(&orderbook.Order{
			ID:              uint64(i + 1),
			ClientID:        "maker",
			AssetPairID:     "BTCUSD",
			Price:           d(tc.price),
			Volume:          d(tc.volume),
			RemainingVolume: d(tc.volume),
			Type:            orderbook.Limit,
			Status:          orderbook.InOrderBook,
		})
	}

	w := &BookSnapshotter{Dir: t.TempDir()}
	if err := w.UpdateOrderBook("BTCUSD", false, book.Copy()); err != nil {
		t.Fatalf("write: %v", err)
	}

	snap, err := w.ReadOrderBook("BTCUSD", false)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if snap.AssetPairID != "BTCUSD" || snap.IsBuy {
		t.Errorf("header: %+v", snap)
	}
	if len(snap.Orders) != 3 {
		t.Fatalf("orders = %d, want 3", len(snap.Orders))
	}
	// Best ask level first, FIFO within the level.
	if snap.Orders[0].ID != 1 || snap.Orders[1].ID != 3 || snap.Orders[2].ID != 2 {
		t.Errorf("order ids = %d,%d,%d", snap.Orders[0].ID, snap.Orders[1].ID, snap.Orders[2].ID)
	}
	if snap.Orders[0].Price != "10000" || snap.Orders[0].Remaining != "-1" {
		t.Errorf("entry 0 = %+v", snap.Orders[0])
	}
}

func TestBookSnapshotOverwrite(t *testing.T) {
	book := orderbook.NewOrderBook("BTCUSD")
	o := &orderbook.Order{
		ID: 1, ClientID: "maker", AssetPairID: "BTCUSD",
		Price: d("9900"), Volume: d("2"), RemainingVolume: d("2"),
		Type: orderbook.Limit, Status: orderbook.InOrderBook,
	}
	book.AddOrder(o)

	w := &BookSnapshotter{Dir: t.TempDir()}
	if err := w.UpdateOrderBook("BTCUSD", true, book.Copy()); err != nil {
		t.Fatal(err)
	}
	book.RemoveOrder(o)
	if err := w.UpdateOrderBook("BTCUSD", true, book.Copy()); err != nil {
		t.Fatal(err)
	}

	snap, err := w.ReadOrderBook("BTCUSD", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Orders) != 0 {
		t.Errorf("orders = %d, want empty side after overwrite", len(snap.Orders))
	}
}
