package service

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/assets"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/wallet"
)

// MarketMatcher executes market orders all-or-nothing: either the full
// requested quantity is sourced from the book or the book is left
// byte-for-byte untouched and the order dies NoLiquidity.
type MarketMatcher struct {
	matcher
}

func NewMarketMatcher(ledger *wallet.Ledger, dict assets.Dictionary, log *zap.Logger) *MarketMatcher {
	return &MarketMatcher{matcher{ledger: ledger, dict: dict, log: log}}
}

// Match fills o against the opposite side of book. On any failure,
// including invalid fees discovered mid-planning, every popped resting
// order is restored in reverse pop order so the book is exactly as it
// was. On success o.Price carries the volume-weighted execution price.
func (mm *MarketMatcher) Match(book *orderbook.OrderBook, o *orderbook.MarketOrder, now time.Time) (*MatchResult, error) {
	pair, base, quote, err := mm.resolvePair(o.AssetPairID)
	if err != nil {
		o.Status = orderbook.UnknownAsset
		return nil, err
	}

	isBuy := o.IsBuy()
	// Straight volume counts base units, non-straight counts the
	// quoting budget to spend.
	remaining := o.Volume.Abs()

	var (
		fills   []legFill
		popped  []*orderbook.Order
		reverts []orderRevert
		skipped = map[uint64]bool{}
		nsf     []*orderbook.Order

		totalVolume   = decimal.Zero
		totalNotional = decimal.Zero
	)

	restoreAll := func() {
		for i := len(popped) - 1; i >= 0; i-- {
			book.RestoreOrder(popped[i])
		}
	}

	for remaining.Sign() > 0 {
		maker := book.PopBest(!isBuy)
		if maker == nil {
			break
		}
		popped = append(popped, maker)
		reverts = append(reverts, snapshotOrder(maker))

		// Own resting orders never trade against a market order; they
		// go back into the book after the match settles.
		if maker.ClientID == o.ClientID {
			skipped[maker.ID] = true
			continue
		}

		makerRem := maker.AbsRemaining()
		var v, n decimal.Decimal
		full := false

		if o.Straight {
			if makerRem.Cmp(remaining) <= 0 {
				v, full = makerRem, true
			} else {
				v = remaining
			}
			n = assets.Round(v.Mul(maker.Price), quote.Accuracy)
		} else {
			fullNotional := assets.Round(makerRem.Mul(maker.Price), quote.Accuracy)
			if fullNotional.Cmp(remaining) <= 0 {
				v, n, full = makerRem, fullNotional, true
			} else {
				v = remaining.Div(maker.Price).RoundDown(base.Accuracy)
				if v.IsZero() {
					// The leftover budget buys less than one base unit.
					// Fold it into the previous leg's notional so the
					// order spends exactly what it asked to spend.
					if len(fills) > 0 {
						fills[len(fills)-1].notional = fills[len(fills)-1].notional.Add(remaining)
						totalNotional = totalNotional.Add(remaining)
						remaining = decimal.Zero
					}
					skipped[maker.ID] = true
					break
				}
				// Rounding dust of the partial leg folds in here too.
				n = remaining
			}
		}

		if !mm.enoughFunds(maker, v, pair, quote.Accuracy) {
			nsf = append(nsf, maker)
			continue
		}

		fills = append(fills, legFill{maker: maker, volume: v, notional: n, makerFull: full})
		totalVolume = totalVolume.Add(v)
		totalNotional = totalNotional.Add(n)
		if o.Straight {
			remaining = remaining.Sub(v)
		} else {
			remaining = remaining.Sub(n)
		}
	}

	if remaining.Sign() > 0 || len(fills) == 0 {
		restoreAll()
		o.Status = orderbook.NoLiquidity
		return nil, ErrNoLiquidity
	}

	spend, spendAsset := totalNotional, pair.QuotingAssetID
	if !isBuy {
		spend, spendAsset = totalVolume, pair.BaseAssetID
	}
	if mm.ledger.AvailableBalance(o.ClientID, spendAsset).Cmp(spend) < 0 {
		restoreAll()
		o.Status = orderbook.NotEnoughFunds
		return nil, ErrNotEnoughFunds
	}

	res, err := mm.buildResult(fills, aggressorView{
		clientID: o.ClientID,
		orderID:  o.ID,
		isBuy:    isBuy,
		fees:     o.Fees,
	}, pair, now)
	if err != nil {
		restoreAll()
		o.Status = orderbook.InvalidFee
		return nil, err
	}

	// Underfunded makers leave the book for good; skipped own orders
	// and a partially filled head go back in original priority once the
	// batch settles.
	for _, m := range nsf {
		m.Status = orderbook.NotEnoughFunds
	}
	res.Operations = append(res.Operations, cancelReservations(nsf, pair, now)...)
	res.CancelledOrders = append(res.CancelledOrders, nsf...)

	res.book = book
	res.popped = popped
	res.reverts = reverts
	res.keep = make(map[uint64]bool, len(skipped)+len(res.ProcessingOrders))
	for id := range skipped {
		res.keep[id] = true
	}
	for _, m := range res.ProcessingOrders {
		res.keep[m.ID] = true
	}

	o.Status = orderbook.Matched
	if totalVolume.Sign() > 0 {
		o.Price = assets.Round(totalNotional.Div(totalVolume), pair.Accuracy)
	}
	mm.log.Debug("market order matched",
		zap.Uint64("orderId", o.ID),
		zap.String("assetPair", o.AssetPairID),
		zap.String("volume", totalVolume.String()),
		zap.String("price", o.Price.String()))
	return res, nil
}
