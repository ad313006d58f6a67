package service

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
)

func marketBuy(clientID, externalID, pair, volume string, straight bool) *orderbook.MarketOrder {
	return &orderbook.MarketOrder{
		ExternalID:  externalID,
		ClientID:    clientID,
		AssetPairID: pair,
		Volume:      d(volume),
		Straight:    straight,
	}
}

func TestLimitOrderPartialFill(t *testing.T) {
	e := newTestEnv(t)
	e.fund("bob", "BTC", "1")
	e.fund("alice", "USD", "5000")

	maker := e.placeLimit("bob", "ask", "10000", "-1")
	taker := e.placeLimit("alice", "bid", "10000", "0.5")

	require.Equal(t, orderbook.Matched, taker.Status)
	require.Equal(t, orderbook.Processing, maker.Status)
	require.True(t, maker.RemainingVolume.Equal(d("-0.5")), "maker remaining = %s", maker.RemainingVolume)
	require.Equal(t, 1, e.lifecycle.Book("BTCUSD").SideSize(false), "maker remainder must stay in the book")

	require.True(t, e.ledger.Balance("alice", "BTC").Equal(d("0.5")))
	require.True(t, e.ledger.Balance("alice", "USD").IsZero())
	require.True(t, e.ledger.ReservedBalance("alice", "USD").IsZero(), "taker reservation fully consumed")
	require.True(t, e.ledger.Balance("bob", "USD").Equal(d("5000")))
	require.True(t, e.ledger.Balance("bob", "BTC").Equal(d("0.5")))
	require.True(t, e.ledger.ReservedBalance("bob", "BTC").Equal(d("0.5")), "maker keeps reserve for the remainder")
}

func TestLimitOrderFullCrossConservation(t *testing.T) {
	e := newTestEnv(t)
	e.fund("bob", "BTC", "1")
	e.fund("alice", "USD", "10000")

	maker := e.placeLimit("bob", "ask", "10000", "-1")
	taker := e.placeLimit("alice", "bid", "10000", "1")

	require.Equal(t, orderbook.Matched, maker.Status)
	require.Equal(t, orderbook.Matched, taker.Status)
	require.Equal(t, 0, e.lifecycle.Book("BTCUSD").SideSize(false))
	require.Equal(t, 0, e.lifecycle.Book("BTCUSD").SideSize(true))

	// Nothing minted, nothing burned.
	btc := e.ledger.Balance("alice", "BTC").Add(e.ledger.Balance("bob", "BTC"))
	usd := e.ledger.Balance("alice", "USD").Add(e.ledger.Balance("bob", "USD"))
	require.True(t, btc.Equal(d("1")))
	require.True(t, usd.Equal(d("10000")))
	require.True(t, e.ledger.ReservedBalance("bob", "BTC").IsZero())
	require.True(t, e.ledger.ReservedBalance("alice", "USD").IsZero())
}

func TestLimitOrderRestsNonCrossingRemainder(t *testing.T) {
	e := newTestEnv(t)
	e.fund("bob", "BTC", "1")
	e.fund("alice", "USD", "30000")

	e.placeLimit("bob", "ask", "10000", "-1")
	taker := e.placeLimit("alice", "bid", "10500", "2")

	require.Equal(t, orderbook.Processing, taker.Status)
	require.True(t, taker.RemainingVolume.Equal(d("1")))
	book := e.lifecycle.Book("BTCUSD")
	require.Equal(t, 0, book.SideSize(false))
	require.Equal(t, 1, book.SideSize(true))
	// Reserved 21000 at admission, 10000 spent on the fill.
	require.True(t, e.ledger.ReservedBalance("alice", "USD").Equal(d("11000")))
}

func TestMarketOrderAllOrNothing(t *testing.T) {
	e := newTestEnv(t)
	e.fund("bob", "BTC", "1")
	e.fund("alice", "USD", "30000")

	maker := e.placeLimit("bob", "ask", "10000", "-1")

	o := marketBuy("alice", "m1", "BTCUSD", "2", true)
	err := e.market.ProcessMarketOrder(o, e.now)
	require.ErrorIs(t, err, ErrNoLiquidity)
	require.Equal(t, orderbook.NoLiquidity, o.Status)

	// The book and every balance are exactly as before.
	book := e.lifecycle.Book("BTCUSD")
	require.Equal(t, 1, book.SideSize(false))
	require.True(t, book.BestAskPrice().Equal(d("10000")))
	require.True(t, maker.RemainingVolume.Equal(d("-1")))
	require.Equal(t, orderbook.InOrderBook, maker.Status)
	require.True(t, e.ledger.Balance("alice", "USD").Equal(d("30000")))
	require.True(t, e.ledger.ReservedBalance("bob", "BTC").Equal(d("1")))
}

func TestMarketOrderVolumeWeightedPrice(t *testing.T) {
	e := newTestEnv(t)
	e.fund("bob", "BTC", "1")
	e.fund("carol", "BTC", "1")
	e.fund("alice", "USD", "20000")

	e.placeLimit("bob", "a1", "10000", "-1")
	maker2 := e.placeLimit("carol", "a2", "10100", "-1")

	o := marketBuy("alice", "m1", "BTCUSD", "1.5", true)
	require.NoError(t, e.market.ProcessMarketOrder(o, e.now))

	require.Equal(t, orderbook.Matched, o.Status)
	// 10000*1 + 10100*0.5 over 1.5, rounded to the pair accuracy.
	require.True(t, o.Price.Equal(d("10033.33")), "vwap = %s", o.Price)
	require.True(t, e.ledger.Balance("alice", "BTC").Equal(d("1.5")))
	require.True(t, e.ledger.Balance("alice", "USD").Equal(d("4950")))
	require.Equal(t, orderbook.Processing, maker2.Status)
	require.True(t, maker2.RemainingVolume.Equal(d("-0.5")))
	require.Equal(t, 1, e.lifecycle.Book("BTCUSD").SideSize(false))
}

func TestMarketOrderSkipsOwnOrders(t *testing.T) {
	e := newTestEnv(t)
	e.fund("alice", "BTC", "1")
	e.fund("alice", "USD", "11000")
	e.fund("bob", "BTC", "1")

	own := e.placeLimit("alice", "own-ask", "10000", "-1")
	e.placeLimit("bob", "ask", "10100", "-1")

	o := marketBuy("alice", "m1", "BTCUSD", "1", true)
	require.NoError(t, e.market.ProcessMarketOrder(o, e.now))

	require.True(t, o.Price.Equal(d("10100")), "must trade past the own order")
	book := e.lifecycle.Book("BTCUSD")
	require.Equal(t, 1, book.SideSize(false))
	require.True(t, book.BestAskPrice().Equal(d("10000")), "own order back at the top of the book")
	require.Equal(t, orderbook.InOrderBook, own.Status)
	require.True(t, e.ledger.Balance("alice", "BTC").Equal(d("2")))
	require.True(t, e.ledger.Balance("alice", "USD").Equal(d("900")))
	require.True(t, e.ledger.Balance("bob", "USD").Equal(d("10100")))
}

func TestMarketOrderRemovesUnfundedMakers(t *testing.T) {
	e := newTestEnv(t)
	e.fund("carol", "BTC", "1")
	e.fund("alice", "USD", "10100")

	// Resting order whose owner never had the coins.
	ghost := limitOrder("dave", "ghost", "BTCUSD", "10000", "-1")
	ghost.ID = 9001
	ghost.RemainingVolume = ghost.Volume
	e.lifecycle.AddToOrderBook(ghost, e.now)
	e.placeLimit("carol", "ask", "10100", "-1")

	o := marketBuy("alice", "m1", "BTCUSD", "1", true)
	require.NoError(t, e.market.ProcessMarketOrder(o, e.now))

	require.Equal(t, orderbook.NotEnoughFunds, ghost.Status)
	require.Equal(t, 0, e.lifecycle.Book("BTCUSD").SideSize(false), "ghost removed, funded maker consumed")
	require.True(t, o.Price.Equal(d("10100")))
	require.True(t, e.ledger.Balance("alice", "BTC").Equal(d("1")))
	require.True(t, e.ledger.Balance("dave", "BTC").IsZero())
	require.True(t, e.ledger.Balance("carol", "USD").Equal(d("10100")))
}

func TestMarketOrderNotStraightFoldsDust(t *testing.T) {
	e := newTestEnv(t)
	e.fund("m1", "XYZ", "2")
	e.fund("m2", "XYZ", "10")
	e.fund("alice", "USD", "8")

	first := limitOrder("m1", "a1", "XYZUSD", "3", "-2")
	require.NoError(t, e.limits.ProcessLimitOrder(first, e.now))
	second := limitOrder("m2", "a2", "XYZUSD", "3", "-10")
	require.NoError(t, e.limits.ProcessLimitOrder(second, e.now))

	// Spend 8 USD on a 0-accuracy base: 6 buys the first maker's two
	// units, the 2 USD remainder cannot buy a whole unit from the
	// second and folds into the executed leg.
	o := marketBuy("alice", "m-buy", "XYZUSD", "8", false)
	require.NoError(t, e.market.ProcessMarketOrder(o, e.now))

	require.Equal(t, orderbook.Matched, o.Status)
	require.True(t, e.ledger.Balance("alice", "XYZ").Equal(d("2")))
	require.True(t, e.ledger.Balance("alice", "USD").IsZero())
	require.True(t, e.ledger.Balance("m1", "USD").Equal(d("8")), "dust settles with the filled maker")
	require.True(t, e.ledger.Balance("m1", "XYZ").IsZero())
	require.Equal(t, orderbook.Matched, first.Status)

	// The second maker was popped, skipped and restored untouched.
	require.True(t, e.ledger.Balance("m2", "USD").IsZero())
	require.True(t, second.RemainingVolume.Equal(d("-10")))
	require.Equal(t, 1, e.lifecycle.Book("XYZUSD").SideSize(false))
	require.True(t, o.Price.Equal(d("4")), "effective price = %s", o.Price)
}

func TestMarketOrderNotStraightNoFillIsNoLiquidity(t *testing.T) {
	e := newTestEnv(t)
	e.fund("m2", "XYZ", "10")
	e.fund("alice", "USD", "2")

	maker := limitOrder("m2", "a2", "XYZUSD", "3", "-10")
	require.NoError(t, e.limits.ProcessLimitOrder(maker, e.now))

	// 2 USD buys no whole unit at 3; there is no executed leg to fold
	// into.
	o := marketBuy("alice", "m-buy", "XYZUSD", "2", false)
	err := e.market.ProcessMarketOrder(o, e.now)
	require.ErrorIs(t, err, ErrNoLiquidity)
	require.Equal(t, orderbook.NoLiquidity, o.Status)
	require.True(t, maker.RemainingVolume.Equal(d("-10")))
	require.Equal(t, 1, e.lifecycle.Book("XYZUSD").SideSize(false))
	require.True(t, e.ledger.Balance("alice", "USD").Equal(d("2")))
}

func TestMarketOrderWithoutFunds(t *testing.T) {
	e := newTestEnv(t)
	e.fund("bob", "BTC", "1")
	e.fund("alice", "USD", "100")

	maker := e.placeLimit("bob", "ask", "10000", "-1")

	o := marketBuy("alice", "m1", "BTCUSD", "1", true)
	err := e.market.ProcessMarketOrder(o, e.now)
	require.ErrorIs(t, err, ErrNotEnoughFunds)
	require.Equal(t, orderbook.NotEnoughFunds, o.Status)
	require.Equal(t, orderbook.InOrderBook, maker.Status)
	require.Equal(t, 1, e.lifecycle.Book("BTCUSD").SideSize(false))
	require.True(t, e.ledger.Balance("alice", "USD").Equal(d("100")))
}

func TestTakerFeeTransfers(t *testing.T) {
	e := newTestEnv(t)
	e.fund("bob", "BTC", "1")
	e.fund("alice", "USD", "10200")

	e.placeLimit("bob", "ask", "10000", "-1")

	taker := limitOrder("alice", "bid", "BTCUSD", "10000", "1")
	taker.Fees = []orderbook.FeeInstruction{{
		Type:           orderbook.ClientFee,
		SizeType:       orderbook.Percentage,
		TakerSize:      d("0.01"),
		TargetClientID: "feepot",
	}}
	require.NoError(t, e.limits.ProcessLimitOrder(taker, e.now))

	require.Equal(t, orderbook.Matched, taker.Status)
	require.True(t, e.ledger.Balance("feepot", "USD").Equal(d("100")))
	require.True(t, e.ledger.Balance("alice", "USD").Equal(d("100")))
	require.True(t, e.ledger.Balance("bob", "USD").Equal(d("10000")), "maker pays no taker fee")
}

func TestOversizedFeeAbortsWithoutSideEffects(t *testing.T) {
	e := newTestEnv(t)
	e.fund("bob", "BTC", "1")
	e.fund("alice", "USD", "30000")

	maker := e.placeLimit("bob", "ask", "10000", "-1")

	taker := limitOrder("alice", "bid", "BTCUSD", "10000", "1")
	taker.Fees = []orderbook.FeeInstruction{{
		Type:           orderbook.ClientFee,
		SizeType:       orderbook.Percentage,
		TakerSize:      d("1.5"),
		TargetClientID: "feepot",
	}}
	err := e.limits.ProcessLimitOrder(taker, e.now)
	require.ErrorIs(t, err, ErrInvalidFee)
	require.Equal(t, orderbook.InvalidFee, taker.Status)

	require.Equal(t, orderbook.InOrderBook, maker.Status)
	require.True(t, maker.RemainingVolume.Equal(d("-1")))
	require.Equal(t, 1, e.lifecycle.Book("BTCUSD").SideSize(false))
	require.True(t, e.ledger.Balance("alice", "USD").Equal(d("30000")))
	require.True(t, e.ledger.Balance("feepot", "USD").IsZero())
	require.True(t, e.ledger.ReservedBalance("alice", "USD").IsZero(), "no reservation survives a rejected order")
}

func TestFourTradeLegsPerFill(t *testing.T) {
	e := newTestEnv(t)
	e.fund("bob", "BTC", "1")
	e.fund("alice", "USD", "10000")

	book := e.lifecycle.Book("BTCUSD")
	maker := e.placeLimit("bob", "ask", "10000", "-1")

	taker := limitOrder("alice", "bid", "BTCUSD", "10000", "1")
	taker.ID = e.lifecycle.NextOrderID()
	taker.RemainingVolume = taker.Volume
	res, err := NewLimitMatcher(e.ledger, e.dict, zap.NewNop()).Match(book, taker, e.now)
	require.NoError(t, err)

	require.Len(t, res.Trades, 4)
	var base, quote decimal.Decimal
	for _, tr := range res.Trades {
		require.Equal(t, "10000", tr.Price.String())
		switch tr.AssetID {
		case "BTC":
			base = base.Add(tr.Volume)
		case "USD":
			quote = quote.Add(tr.Volume)
		}
	}
	require.True(t, base.IsZero(), "base legs must net to zero")
	require.True(t, quote.IsZero(), "quote legs must net to zero")
	require.Contains(t, res.CompletedOrders, maker)
}

func TestLimitMatchRollsBackWhenPersistFails(t *testing.T) {
	e := newTestEnv(t)
	e.fund("bob", "BTC", "1")
	e.fund("alice", "USD", "10000")

	maker := e.placeLimit("bob", "ask", "10000", "-1")

	e.persister.fail = errors.New("disk full")
	taker := limitOrder("alice", "bid", "BTCUSD", "10000", "0.5")
	require.Error(t, e.limits.ProcessLimitOrder(taker, e.now))

	// The maker is back in the book exactly as it was.
	require.Equal(t, orderbook.InOrderBook, maker.Status)
	require.True(t, maker.RemainingVolume.Equal(d("-1")), "maker remaining = %s", maker.RemainingVolume)
	require.True(t, maker.ReservedLimitVolume.Equal(d("1")))
	book := e.lifecycle.Book("BTCUSD")
	require.Equal(t, 1, book.SideSize(false))
	require.Equal(t, 0, book.SideSize(true), "failed taker must not rest")

	// The taker carries no trace of the aborted pass.
	require.Equal(t, orderbook.Pending, taker.Status)
	require.True(t, taker.RemainingVolume.Equal(d("0.5")))
	require.True(t, taker.ReservedLimitVolume.IsZero())
	_, ok := e.lifecycle.OrderByExternalID("bid")
	require.False(t, ok, "failed taker must not register")

	require.True(t, e.ledger.Balance("alice", "USD").Equal(d("10000")))
	require.True(t, e.ledger.ReservedBalance("alice", "USD").IsZero())
	require.True(t, e.ledger.ReservedBalance("bob", "BTC").Equal(d("1")))

	// With persistence back the same cross executes normally.
	e.persister.fail = nil
	retry := limitOrder("alice", "bid-2", "BTCUSD", "10000", "0.5")
	require.NoError(t, e.limits.ProcessLimitOrder(retry, e.now))
	require.Equal(t, orderbook.Matched, retry.Status)
	require.Equal(t, orderbook.Processing, maker.Status)
	require.True(t, e.ledger.Balance("alice", "BTC").Equal(d("0.5")))
}

func TestMarketMatchRollsBackWhenPersistFails(t *testing.T) {
	e := newTestEnv(t)
	e.fund("bob", "BTC", "1")
	e.fund("alice", "USD", "20000")

	maker := e.placeLimit("bob", "ask", "10000", "-1")

	e.persister.fail = errors.New("disk full")
	o := marketBuy("alice", "m1", "BTCUSD", "1", true)
	require.Error(t, e.market.ProcessMarketOrder(o, e.now))

	require.Equal(t, orderbook.Pending, o.Status)
	require.True(t, o.Price.IsZero())
	require.Equal(t, orderbook.InOrderBook, maker.Status)
	require.True(t, maker.RemainingVolume.Equal(d("-1")))
	book := e.lifecycle.Book("BTCUSD")
	require.Equal(t, 1, book.SideSize(false))
	require.True(t, book.BestAskPrice().Equal(d("10000")))
	require.True(t, e.ledger.Balance("alice", "USD").Equal(d("20000")))
	require.True(t, e.ledger.ReservedBalance("bob", "BTC").Equal(d("1")))
}
