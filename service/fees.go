package service

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/assets"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/wallet"
)

// ErrInvalidFee rejects an order whose fee instructions cannot be
// applied. It is raised before any cash moves.
var ErrInvalidFee = errors.New("invalid fee instruction")

// feeOps turns one party's fee instructions into wallet operations for
// a single matched leg. Instructions apply in declared order against
// this leg's volume/notional only; maker size for the resting side,
// taker size for the aggressor. The computed fee moves payer -> target
// in the instruction's asset.
func (m *matcher) feeOps(
	instrs []orderbook.FeeInstruction,
	isMaker bool,
	tradingClient string,
	volume, notional decimal.Decimal,
	pair assets.AssetPair,
	now time.Time,
) ([]wallet.Operation, error) {
	if len(instrs) == 0 {
		return nil, nil
	}

	var (
		ops       []wallet.Operation
		quoteFees = decimal.Zero
		baseFees  = decimal.Zero
	)

	for _, instr := range instrs {
		size := instr.TakerSize
		if isMaker {
			size = instr.MakerSize
		}
		if size.Sign() < 0 {
			return nil, ErrInvalidFee
		}
		if size.IsZero() {
			continue
		}

		feeAsset := instr.AssetID
		if feeAsset == "" {
			feeAsset = pair.QuotingAssetID
		}
		if len(instr.AssetIDs) > 0 && !containsAsset(instr.AssetIDs, feeAsset) {
			return nil, ErrInvalidFee
		}
		asset, ok := m.dict.Asset(feeAsset)
		if !ok {
			return nil, ErrInvalidFee
		}

		var amount decimal.Decimal
		switch instr.SizeType {
		case orderbook.Percentage:
			switch feeAsset {
			case pair.QuotingAssetID:
				amount = size.Mul(notional)
			case pair.BaseAssetID:
				amount = size.Mul(volume)
			default:
				// A percentage has nothing to be a percentage of in an
				// unrelated asset.
				return nil, ErrInvalidFee
			}
		case orderbook.Absolute:
			amount = size
		default:
			return nil, ErrInvalidFee
		}

		amount = assets.Round(amount, asset.Accuracy)
		if amount.Sign() <= 0 {
			continue
		}

		switch feeAsset {
		case pair.QuotingAssetID:
			quoteFees = quoteFees.Add(amount)
			if quoteFees.Cmp(notional) > 0 {
				return nil, ErrInvalidFee
			}
		case pair.BaseAssetID:
			baseFees = baseFees.Add(amount)
			if baseFees.Cmp(volume) > 0 {
				return nil, ErrInvalidFee
			}
		}

		payer := tradingClient
		if instr.Type == orderbook.ExternalFee && instr.SourceClientID != "" {
			payer = instr.SourceClientID
		}
		if instr.TargetClientID == "" || instr.TargetClientID == payer {
			return nil, ErrInvalidFee
		}

		ops = append(ops,
			wallet.NewOperation(payer, feeAsset, amount.Neg(), decimal.Zero, now),
			wallet.NewOperation(instr.TargetClientID, feeAsset, amount, decimal.Zero, now),
		)
	}
	return ops, nil
}

func containsAsset(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// validateFeeInstructions does the static checks a submission service
// runs before admission: sizes non-negative and targets present for
// instructions that can ever charge.
func validateFeeInstructions(instrs []orderbook.FeeInstruction) error {
	for _, instr := range instrs {
		if instr.MakerSize.Sign() < 0 || instr.TakerSize.Sign() < 0 {
			return ErrInvalidFee
		}
		if (instr.MakerSize.Sign() > 0 || instr.TakerSize.Sign() > 0) && instr.TargetClientID == "" {
			return ErrInvalidFee
		}
		if instr.AssetID != "" && len(instr.AssetIDs) > 0 && !containsAsset(instr.AssetIDs, instr.AssetID) {
			return ErrInvalidFee
		}
	}
	return nil
}
