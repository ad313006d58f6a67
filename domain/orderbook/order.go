package orderbook

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderType uint8

const (
	Limit OrderType = iota
	StopLimit
)

func (t OrderType) String() string {
	switch t {
	case StopLimit:
		return "StopLimit"
	default:
		return "Limit"
	}
}

// OrderStatus is the full lifecycle state machine. Pending, InOrderBook
// and Processing are live; every other status is a terminal sink.
type OrderStatus uint8

const (
	Pending OrderStatus = iota
	InOrderBook
	Processing
	Matched
	Cancelled
	NotEnoughFunds
	NoLiquidity
	InvalidPrice
	UnknownAsset
	InvalidFee
	LeadToNegativeSpread
)

func (s OrderStatus) String() string {
	switch s {
	case Pending:
		return "Pending"
	case InOrderBook:
		return "InOrderBook"
	case Processing:
		return "Processing"
	case Matched:
		return "Matched"
	case Cancelled:
		return "Cancelled"
	case NotEnoughFunds:
		return "NotEnoughFunds"
	case NoLiquidity:
		return "NoLiquidity"
	case InvalidPrice:
		return "InvalidPrice"
	case UnknownAsset:
		return "UnknownAsset"
	case InvalidFee:
		return "InvalidFee"
	case LeadToNegativeSpread:
		return "LeadToNegativeSpread"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the status is a sink the order never leaves.
func (s OrderStatus) Terminal() bool {
	switch s {
	case Pending, InOrderBook, Processing:
		return false
	default:
		return true
	}
}

type FeeType uint8

const (
	ClientFee FeeType = iota
	ExternalFee
)

type FeeSizeType uint8

const (
	Percentage FeeSizeType = iota
	Absolute
)

// FeeInstruction is applied per matched leg, in declared order.
// MakerSize applies to the resting side, TakerSize to the aggressor.
// AssetID picks the fee asset; empty means the trade's quoting asset.
// AssetIDs, when non-empty, is the set of assets the instruction may
// legally settle in.
type FeeInstruction struct {
	Type           FeeType
	SizeType       FeeSizeType
	MakerSize      decimal.Decimal
	TakerSize      decimal.Decimal
	SourceClientID string
	TargetClientID string
	AssetID        string
	AssetIDs       []string
}

// Order is a limit or stop-limit order. Volume is signed: positive is a
// buy, negative a sell. RemainingVolume carries the same sign and never
// exceeds Volume in magnitude. Resting orders are mutated in place by
// matching while they stay in the book.
type Order struct {
	ID          uint64
	ExternalID  string
	ClientID    string
	AssetPairID string

	Price           decimal.Decimal
	Volume          decimal.Decimal
	RemainingVolume decimal.Decimal

	Status OrderStatus
	Type   OrderType

	CreatedAt     time.Time
	LastMatchTime time.Time

	// Stop bounds. A stop-limit order carries at least one of them;
	// the paired price is where the order rests once triggered.
	LowerLimitPrice decimal.NullDecimal
	LowerPrice      decimal.NullDecimal
	UpperLimitPrice decimal.NullDecimal
	UpperPrice      decimal.NullDecimal

	Fees []FeeInstruction

	// ReservedLimitVolume is this order's contribution to the client's
	// reserved balance in the limiting asset.
	ReservedLimitVolume decimal.Decimal

	next *Order
	prev *Order
}

func (o *Order) IsBuy() bool {
	return o.Volume.Sign() > 0
}

// AbsRemaining returns |RemainingVolume|.
func (o *Order) AbsRemaining() decimal.Decimal {
	return o.RemainingVolume.Abs()
}

// Next returns the FIFO successor inside a price level.
func (o *Order) Next() *Order { return o.next }

// Reset clears the order for pool reuse.
func (o *Order) Reset() { *o = Order{} }

// MarketOrder is the transient aggressor variant. It never rests, so it
// has no price. Straight volume is denominated in the base asset,
// non-straight in the quoting asset.
type MarketOrder struct {
	ID          uint64
	ExternalID  string
	ClientID    string
	AssetPairID string

	Volume   decimal.Decimal
	Straight bool

	Status    OrderStatus
	CreatedAt time.Time

	// Price is filled in after matching with the effective execution
	// price, for reporting only.
	Price decimal.Decimal

	Fees []FeeInstruction
}

func (o *MarketOrder) IsBuy() bool {
	return o.Volume.Sign() > 0
}
