package service

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/assets"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/wallet"
)

var (
	ErrNoLiquidity    = errors.New("not enough liquidity")
	ErrNotEnoughFunds = errors.New("not enough funds")
	ErrUnknownAsset   = errors.New("unknown asset or asset pair")
)

// matcher carries the collaborators both matching algorithms share.
// The two algorithms themselves stay separate on purpose: market
// matching is all-or-nothing, limit matching is partial-fill tolerant,
// and their outcome policies must not be unified.
type matcher struct {
	ledger *wallet.Ledger
	dict   assets.Dictionary
	log    *zap.Logger
}

// legFill is one planned fill against a resting order. volume is in
// base units, notional in quoting units, both positive.
type legFill struct {
	maker     *orderbook.Order
	volume    decimal.Decimal
	notional  decimal.Decimal
	makerFull bool
}

// MatchResult is the planned outcome of one matching pass. The book
// restoration it still owes is deferred: the caller calls Settle once
// the batch persisted, or Rollback when it did not.
type MatchResult struct {
	Timestamp        time.Time
	Trades           []wallet.Trade
	Operations       []wallet.Operation
	CompletedOrders  []*orderbook.Order
	ProcessingOrders []*orderbook.Order
	CancelledOrders  []*orderbook.Order

	book    *orderbook.OrderBook
	popped  []*orderbook.Order
	keep    map[uint64]bool
	reverts []orderRevert
}

// resolvePair looks up the pair and both leg assets in one shot.
func (m *matcher) resolvePair(assetPairID string) (assets.AssetPair, assets.Asset, assets.Asset, error) {
	pair, ok := m.dict.AssetPair(assetPairID)
	if !ok {
		return assets.AssetPair{}, assets.Asset{}, assets.Asset{}, ErrUnknownAsset
	}
	base, ok := m.dict.Asset(pair.BaseAssetID)
	if !ok {
		return assets.AssetPair{}, assets.Asset{}, assets.Asset{}, ErrUnknownAsset
	}
	quote, ok := m.dict.Asset(pair.QuotingAssetID)
	if !ok {
		return assets.AssetPair{}, assets.Asset{}, assets.Asset{}, ErrUnknownAsset
	}
	return pair, base, quote, nil
}

// enoughFunds checks the owner's balance in the order's limiting asset
// against the given base volume. An order's own reservation counts as
// spendable for its own execution.
func (m *matcher) enoughFunds(o *orderbook.Order, volume decimal.Decimal, pair assets.AssetPair, quoteAccuracy int32) bool {
	var need decimal.Decimal
	var assetID string
	if o.IsBuy() {
		need = assets.Round(volume.Mul(o.Price), quoteAccuracy)
		assetID = pair.QuotingAssetID
	} else {
		need = volume
		assetID = pair.BaseAssetID
	}
	available := m.ledger.AvailableBalance(o.ClientID, assetID).Add(o.ReservedLimitVolume)
	return available.Cmp(need) >= 0
}

// aggressorView abstracts over the two aggressor shapes. limit is nil
// for market orders, which carry no reservation.
type aggressorView struct {
	clientID string
	orderID  uint64
	isBuy    bool
	fees     []orderbook.FeeInstruction
	limit    *orderbook.Order
}

// buildResult turns planned fills into the full set of wallet
// operations, trades and order mutations. Nothing is mutated until
// every leg, including fees, has been computed; an ErrInvalidFee from
// any leg therefore aborts with zero side effects.
func (m *matcher) buildResult(
	fills []legFill,
	agg aggressorView,
	pair assets.AssetPair,
	now time.Time,
) (*MatchResult, error) {
	res := &MatchResult{Timestamp: now}

	aggReserve := decimal.Zero
	if agg.limit != nil {
		aggReserve = agg.limit.ReservedLimitVolume
	}

	type makerMutation struct {
		fill    legFill
		release decimal.Decimal
	}
	mutations := make([]makerMutation, 0, len(fills))
	aggReleases := make([]decimal.Decimal, 0, len(fills))

	for _, f := range fills {
		maker := f.maker
		v, n := f.volume, f.notional

		buyer, seller := maker.ClientID, agg.clientID
		if agg.isBuy {
			buyer, seller = agg.clientID, maker.ClientID
		}

		// Reserve consumption. The maker spends out of its reservation
		// in the limiting asset; a fully matched maker releases the
		// whole remainder so rounding drift can not strand reserve.
		makerSpend := v
		if maker.IsBuy() {
			makerSpend = n
		}
		makerRelease := decimal.Min(makerSpend, maker.ReservedLimitVolume)
		if f.makerFull {
			makerRelease = maker.ReservedLimitVolume
		}

		aggSpend := n
		if !agg.isBuy {
			aggSpend = v
		}
		aggRelease := decimal.Zero
		if agg.limit != nil {
			aggRelease = decimal.Min(aggSpend, aggReserve)
			aggReserve = aggReserve.Sub(aggRelease)
		}

		// Four cash legs per matched resting order.
		makerBaseReserved, makerQuoteReserved := makerRelease.Neg(), decimal.Zero
		if maker.IsBuy() {
			makerBaseReserved, makerQuoteReserved = decimal.Zero, makerRelease.Neg()
		}
		aggBaseReserved, aggQuoteReserved := decimal.Zero, decimal.Zero
		if agg.limit != nil {
			if agg.isBuy {
				aggQuoteReserved = aggRelease.Neg()
			} else {
				aggBaseReserved = aggRelease.Neg()
			}
		}

		if agg.isBuy {
			res.Operations = append(res.Operations,
				wallet.NewOperation(agg.clientID, pair.BaseAssetID, v, aggBaseReserved, now),
				wallet.NewOperation(agg.clientID, pair.QuotingAssetID, n.Neg(), aggQuoteReserved, now),
				wallet.NewOperation(maker.ClientID, pair.BaseAssetID, v.Neg(), makerBaseReserved, now),
				wallet.NewOperation(maker.ClientID, pair.QuotingAssetID, n, makerQuoteReserved, now),
			)
		} else {
			res.Operations = append(res.Operations,
				wallet.NewOperation(agg.clientID, pair.BaseAssetID, v.Neg(), aggBaseReserved, now),
				wallet.NewOperation(agg.clientID, pair.QuotingAssetID, n, aggQuoteReserved, now),
				wallet.NewOperation(maker.ClientID, pair.BaseAssetID, v, makerBaseReserved, now),
				wallet.NewOperation(maker.ClientID, pair.QuotingAssetID, n.Neg(), makerQuoteReserved, now),
			)
		}

		// Fees, maker then taker, before cash movements are final.
		makerFeeOps, err := m.feeOps(maker.Fees, true, maker.ClientID, v, n, pair, now)
		if err != nil {
			return nil, err
		}
		takerFeeOps, err := m.feeOps(agg.fees, false, agg.clientID, v, n, pair, now)
		if err != nil {
			return nil, err
		}
		res.Operations = append(res.Operations, makerFeeOps...)
		res.Operations = append(res.Operations, takerFeeOps...)

		// Four trade legs: base and quote for each counterparty.
		res.Trades = append(res.Trades,
			newTrade(buyer, pair.BaseAssetID, v, maker.Price, agg.orderID, maker.ID, now),
			newTrade(buyer, pair.QuotingAssetID, n.Neg(), maker.Price, agg.orderID, maker.ID, now),
			newTrade(seller, pair.BaseAssetID, v.Neg(), maker.Price, maker.ID, agg.orderID, now),
			newTrade(seller, pair.QuotingAssetID, n, maker.Price, maker.ID, agg.orderID, now),
		)

		mutations = append(mutations, makerMutation{fill: f, release: makerRelease})
		aggReleases = append(aggReleases, aggRelease)
	}

	// All legs computed; now mutate the resting orders.
	for _, mu := range mutations {
		maker := mu.fill.maker
		if maker.IsBuy() {
			maker.RemainingVolume = maker.RemainingVolume.Sub(mu.fill.volume)
		} else {
			maker.RemainingVolume = maker.RemainingVolume.Add(mu.fill.volume)
		}
		maker.ReservedLimitVolume = maker.ReservedLimitVolume.Sub(mu.release)
		maker.LastMatchTime = now
		if mu.fill.makerFull || maker.RemainingVolume.IsZero() {
			maker.RemainingVolume = decimal.Zero
			maker.Status = orderbook.Matched
			res.CompletedOrders = append(res.CompletedOrders, maker)
		} else {
			maker.Status = orderbook.Processing
			res.ProcessingOrders = append(res.ProcessingOrders, maker)
		}
	}
	if agg.limit != nil {
		total := decimal.Zero
		for _, r := range aggReleases {
			total = total.Add(r)
		}
		agg.limit.ReservedLimitVolume = agg.limit.ReservedLimitVolume.Sub(total)
	}

	return res, nil
}

func newTrade(clientID, assetID string, volume, price decimal.Decimal, orderID, oppositeID uint64, now time.Time) wallet.Trade {
	return wallet.Trade{
		ID:              uuid.New(),
		ClientID:        clientID,
		AssetID:         assetID,
		Volume:          volume,
		Price:           price,
		OrderID:         orderID,
		OppositeOrderID: oppositeID,
		Timestamp:       now,
	}
}

// cancelReservations releases the remaining reserve of orders being
// cancelled during a match (owners that failed the funds check).
func cancelReservations(orders []*orderbook.Order, pair assets.AssetPair, now time.Time) []wallet.Operation {
	var ops []wallet.Operation
	for _, o := range orders {
		if o.ReservedLimitVolume.Sign() <= 0 {
			continue
		}
		assetID := pair.BaseAssetID
		if o.IsBuy() {
			assetID = pair.QuotingAssetID
		}
		ops = append(ops, wallet.NewOperation(o.ClientID, assetID, decimal.Zero, o.ReservedLimitVolume.Neg(), now))
		o.ReservedLimitVolume = decimal.Zero
	}
	return ops
}
