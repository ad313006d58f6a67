package service

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/assets"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/wallet"
	"github.com/LykkeCity/MatchingEngine-sub000/infra/sequence"
)

var ErrInsufficientBalance = errors.New("insufficient available balance")

// CashOperationService applies deposits, withdrawals and transfers to
// the ledger. Withdrawals may only draw on available balance; amounts
// reserved against open orders are untouchable.
type CashOperationService struct {
	dict   assets.Dictionary
	ledger *wallet.Ledger
	seq    *sequence.Sequencer
	log    *zap.Logger
}

func NewCashOperationService(dict assets.Dictionary, ledger *wallet.Ledger, seq *sequence.Sequencer, log *zap.Logger) *CashOperationService {
	return &CashOperationService{dict: dict, ledger: ledger, seq: seq, log: log.Named("cash")}
}

// CashInOut credits or debits one client in one asset. A negative
// amount withdraws and must be covered by available balance.
func (s *CashOperationService) CashInOut(clientID, assetID string, amount decimal.Decimal, now time.Time) error {
	asset, ok := s.dict.Asset(assetID)
	if !ok {
		return ErrUnknownAsset
	}
	amount = assets.Round(amount, asset.Accuracy)
	if amount.IsZero() {
		return nil
	}
	if amount.Sign() < 0 && s.ledger.AvailableBalance(clientID, assetID).Cmp(amount.Neg()) < 0 {
		return ErrInsufficientBalance
	}
	op := wallet.NewOperation(clientID, assetID, amount, decimal.Zero, now)
	if err := s.ledger.ProcessWalletOperations([]wallet.Operation{op}, wallet.Batch{Sequence: s.seq.Next()}); err != nil {
		return err
	}
	s.log.Info("cash operation",
		zap.String("clientId", clientID),
		zap.String("assetId", assetID),
		zap.String("amount", amount.String()))
	return nil
}

// Transfer moves available funds between two clients in one batch.
func (s *CashOperationService) Transfer(fromClientID, toClientID, assetID string, amount decimal.Decimal, now time.Time) error {
	asset, ok := s.dict.Asset(assetID)
	if !ok {
		return ErrUnknownAsset
	}
	amount = assets.Round(amount, asset.Accuracy)
	if amount.Sign() <= 0 {
		return ErrInsufficientBalance
	}
	if s.ledger.AvailableBalance(fromClientID, assetID).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	ops := []wallet.Operation{
		wallet.NewOperation(fromClientID, assetID, amount.Neg(), decimal.Zero, now),
		wallet.NewOperation(toClientID, assetID, amount, decimal.Zero, now),
	}
	if err := s.ledger.ProcessWalletOperations(ops, wallet.Batch{Sequence: s.seq.Next()}); err != nil {
		return err
	}
	s.log.Info("transfer",
		zap.String("from", fromClientID),
		zap.String("to", toClientID),
		zap.String("assetId", assetID),
		zap.String("amount", amount.String()))
	return nil
}
