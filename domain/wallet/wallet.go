package wallet

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
)

// AssetBalance is one client's position in one asset. Reserved is the
// portion earmarked against open orders.
type AssetBalance struct {
	ClientID string
	AssetID  string
	Balance  decimal.Decimal
	Reserved decimal.Decimal
}

func (b AssetBalance) Available() decimal.Decimal {
	return b.Balance.Sub(b.Reserved)
}

// Operation is a single balance mutation. A batch of operations is
// applied all-or-nothing by the ledger.
type Operation struct {
	ID             uuid.UUID
	ClientID       string
	AssetID        string
	Amount         decimal.Decimal
	ReservedAmount decimal.Decimal
	Timestamp      time.Time
}

func NewOperation(clientID, assetID string, amount, reserved decimal.Decimal, ts time.Time) Operation {
	return Operation{
		ID:             uuid.New(),
		ClientID:       clientID,
		AssetID:        assetID,
		Amount:         amount,
		ReservedAmount: reserved,
		Timestamp:      ts,
	}
}

// Trade is one immutable leg of a match. Every match produces four
// legs: base and quote for each counterparty, netting to zero per asset.
type Trade struct {
	ID              uuid.UUID
	ClientID        string
	AssetID         string
	Volume          decimal.Decimal
	Price           decimal.Decimal
	OrderID         uint64
	OppositeOrderID uint64
	Timestamp       time.Time
}

// Batch is the unit of durability: everything one sequenced command
// changed. Persisters must write it atomically.
type Batch struct {
	Sequence        uint64
	Balances        []AssetBalance
	Operations      []Operation
	Orders          []*orderbook.Order
	RemovedOrderIDs []uint64
}

// Persister is the opaque durable store the ledger commits through.
// A nil return means the whole batch is durable; any error means none
// of it is.
type Persister interface {
	Persist(b Batch) error
}

// AssetDelta is the old/new pair reported per touched (client, asset).
type AssetDelta struct {
	AssetID     string
	OldBalance  decimal.Decimal
	NewBalance  decimal.Decimal
	OldReserved decimal.Decimal
	NewReserved decimal.Decimal
}

// BalanceUpdate is the per-client notification emitted after a
// successful commit.
type BalanceUpdate struct {
	ClientID  string
	Timestamp time.Time
	Assets    []AssetDelta
}

// EventSink receives committed balance updates for outbound reporting.
type EventSink interface {
	BalanceUpdated(u BalanceUpdate)
}
