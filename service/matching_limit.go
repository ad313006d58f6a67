package service

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/assets"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/wallet"
)

// LimitMatcher executes crossing limit orders. Unlike the market path
// it is partial-fill tolerant: it consumes liquidity only while resting
// prices cross the order's own price, and whatever quantity is left
// afterwards rests in the book.
type LimitMatcher struct {
	matcher
}

func NewLimitMatcher(ledger *wallet.Ledger, dict assets.Dictionary, log *zap.Logger) *LimitMatcher {
	return &LimitMatcher{matcher{ledger: ledger, dict: dict, log: log}}
}

// Match fills o against the opposite side while the opposite best price
// crosses o.Price. The caller decides beforehand whether the order may
// cross at all; an order that does not cross simply produces an empty
// result. Fee failures restore the book and reject the order whole.
func (lm *LimitMatcher) Match(book *orderbook.OrderBook, o *orderbook.Order, now time.Time) (*MatchResult, error) {
	pair, _, quote, err := lm.resolvePair(o.AssetPairID)
	if err != nil {
		o.Status = orderbook.UnknownAsset
		return nil, err
	}

	isBuy := o.IsBuy()
	remaining := o.AbsRemaining()

	var (
		fills   []legFill
		popped  []*orderbook.Order
		reverts []orderRevert
		skip    = map[uint64]bool{}
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
		best := book.PopBest(!isBuy)
		if best == nil {
			break
		}
		if !priceCrosses(isBuy, o.Price, best.Price) {
			book.RestoreOrder(best)
			break
		}
		popped = append(popped, best)
		reverts = append(reverts, snapshotOrder(best))

		if best.ClientID == o.ClientID {
			skip[best.ID] = true
			continue
		}

		makerRem := best.AbsRemaining()
		v := decimal.Min(makerRem, remaining)
		full := v.Cmp(makerRem) == 0
		// Fills execute at the resting price.
		n := assets.Round(v.Mul(best.Price), quote.Accuracy)

		if !lm.enoughFunds(best, v, pair, quote.Accuracy) {
			nsf = append(nsf, best)
			continue
		}

		fills = append(fills, legFill{maker: best, volume: v, notional: n, makerFull: full})
		totalVolume = totalVolume.Add(v)
		totalNotional = totalNotional.Add(n)
		remaining = remaining.Sub(v)
	}

	res, err := lm.buildResult(fills, aggressorView{
		clientID: o.ClientID,
		orderID:  o.ID,
		isBuy:    isBuy,
		fees:     o.Fees,
		limit:    o,
	}, pair, now)
	if err != nil {
		restoreAll()
		o.Status = orderbook.InvalidFee
		return nil, err
	}

	for _, m := range nsf {
		m.Status = orderbook.NotEnoughFunds
	}
	res.Operations = append(res.Operations, cancelReservations(nsf, pair, now)...)
	res.CancelledOrders = append(res.CancelledOrders, nsf...)

	res.book = book
	res.popped = popped
	res.reverts = reverts
	res.keep = make(map[uint64]bool, len(skip)+len(res.ProcessingOrders))
	for id := range skip {
		res.keep[id] = true
	}
	for _, m := range res.ProcessingOrders {
		res.keep[m.ID] = true
	}

	if totalVolume.Sign() > 0 {
		if isBuy {
			o.RemainingVolume = o.RemainingVolume.Sub(totalVolume)
		} else {
			o.RemainingVolume = o.RemainingVolume.Add(totalVolume)
		}
		o.LastMatchTime = now
		if o.RemainingVolume.IsZero() {
			o.Status = orderbook.Matched
			if o.ReservedLimitVolume.Sign() > 0 {
				// Rounding can leave a sliver of reserve behind on a
				// complete fill; release it with the batch.
				assetID := pair.BaseAssetID
				if isBuy {
					assetID = pair.QuotingAssetID
				}
				res.Operations = append(res.Operations,
					wallet.NewOperation(o.ClientID, assetID, decimal.Zero, o.ReservedLimitVolume.Neg(), now))
				o.ReservedLimitVolume = decimal.Zero
			}
			res.CompletedOrders = append(res.CompletedOrders, o)
		} else {
			o.Status = orderbook.Processing
		}
		lm.log.Debug("limit order matched",
			zap.Uint64("orderId", o.ID),
			zap.String("assetPair", o.AssetPairID),
			zap.String("volume", totalVolume.String()),
			zap.String("notional", totalNotional.String()))
	}

	return res, nil
}

// priceCrosses mirrors the book's spread test for a specific resting
// price instead of the side's best.
func priceCrosses(isBuy bool, price, restingPrice decimal.Decimal) bool {
	if isBuy {
		return price.Cmp(restingPrice) >= 0
	}
	return price.Cmp(restingPrice) <= 0
}
