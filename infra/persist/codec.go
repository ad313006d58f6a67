package persist

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/LykkeCity/MatchingEngine-sub000/domain/orderbook"
	"github.com/LykkeCity/MatchingEngine-sub000/domain/wallet"
)

// Stored values are protobuf wire format assembled by hand with
// protowire. Decimals travel as their canonical string form so no
// precision is lost across restarts.

var ErrCorruptRecord = errors.New("persist: corrupt record")

const (
	orderFieldID              = 1
	orderFieldExternalID      = 2
	orderFieldClientID        = 3
	orderFieldAssetPairID     = 4
	orderFieldPrice           = 5
	orderFieldVolume          = 6
	orderFieldRemaining       = 7
	orderFieldStatus          = 8
	orderFieldType            = 9
	orderFieldCreatedAt       = 10
	orderFieldLastMatch       = 11
	orderFieldLowerLimitPrice = 12
	orderFieldLowerPrice      = 13
	orderFieldUpperLimitPrice = 14
	orderFieldUpperPrice      = 15
	orderFieldReservedVolume  = 16
	orderFieldFee             = 17
)

const (
	feeFieldType     = 1
	feeFieldSizeType = 2
	feeFieldMaker    = 3
	feeFieldTaker    = 4
	feeFieldSource   = 5
	feeFieldTarget   = 6
	feeFieldAssetID  = 7
	feeFieldAssetIDs = 8
)

const (
	balanceFieldClientID = 1
	balanceFieldAssetID  = 2
	balanceFieldBalance  = 3
	balanceFieldReserved = 4
)

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func encodeFee(f orderbook.FeeInstruction) []byte {
	var b []byte
	b = appendVarint(b, feeFieldType, uint64(f.Type))
	b = appendVarint(b, feeFieldSizeType, uint64(f.SizeType))
	b = appendString(b, feeFieldMaker, f.MakerSize.String())
	b = appendString(b, feeFieldTaker, f.TakerSize.String())
	b = appendString(b, feeFieldSource, f.SourceClientID)
	b = appendString(b, feeFieldTarget, f.TargetClientID)
	b = appendString(b, feeFieldAssetID, f.AssetID)
	for _, id := range f.AssetIDs {
		b = appendString(b, feeFieldAssetIDs, id)
	}
	return b
}

// EncodeOrder serializes an order for durable storage.
func EncodeOrder(o *orderbook.Order) []byte {
	var b []byte
	b = appendVarint(b, orderFieldID, o.ID)
	b = appendString(b, orderFieldExternalID, o.ExternalID)
	b = appendString(b, orderFieldClientID, o.ClientID)
	b = appendString(b, orderFieldAssetPairID, o.AssetPairID)
	b = appendString(b, orderFieldPrice, o.Price.String())
	b = appendString(b, orderFieldVolume, o.Volume.String())
	b = appendString(b, orderFieldRemaining, o.RemainingVolume.String())
	b = appendVarint(b, orderFieldStatus, uint64(o.Status))
	b = appendVarint(b, orderFieldType, uint64(o.Type))
	b = appendVarint(b, orderFieldCreatedAt, uint64(o.CreatedAt.UnixNano()))
	if !o.LastMatchTime.IsZero() {
		b = appendVarint(b, orderFieldLastMatch, uint64(o.LastMatchTime.UnixNano()))
	}
	if o.LowerLimitPrice.Valid {
		b = appendString(b, orderFieldLowerLimitPrice, o.LowerLimitPrice.Decimal.String())
	}
	if o.LowerPrice.Valid {
		b = appendString(b, orderFieldLowerPrice, o.LowerPrice.Decimal.String())
	}
	if o.UpperLimitPrice.Valid {
		b = appendString(b, orderFieldUpperLimitPrice, o.UpperLimitPrice.Decimal.String())
	}
	if o.UpperPrice.Valid {
		b = appendString(b, orderFieldUpperPrice, o.UpperPrice.Decimal.String())
	}
	b = appendString(b, orderFieldReservedVolume, o.ReservedLimitVolume.String())
	for _, f := range o.Fees {
		b = protowire.AppendTag(b, orderFieldFee, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeFee(f))
	}
	return b
}

type fieldScanner struct {
	buf []byte
	err error
}

func (s *fieldScanner) next() (protowire.Number, protowire.Type, bool) {
	if s.err != nil || len(s.buf) == 0 {
		return 0, 0, false
	}
	num, typ, n := protowire.ConsumeTag(s.buf)
	if n < 0 {
		s.err = ErrCorruptRecord
		return 0, 0, false
	}
	s.buf = s.buf[n:]
	return num, typ, true
}

func (s *fieldScanner) varint() uint64 {
	v, n := protowire.ConsumeVarint(s.buf)
	if n < 0 {
		s.err = ErrCorruptRecord
		return 0
	}
	s.buf = s.buf[n:]
	return v
}

func (s *fieldScanner) bytes() []byte {
	v, n := protowire.ConsumeBytes(s.buf)
	if n < 0 {
		s.err = ErrCorruptRecord
		return nil
	}
	s.buf = s.buf[n:]
	return v
}

func (s *fieldScanner) skip(num protowire.Number, typ protowire.Type) {
	n := protowire.ConsumeFieldValue(num, typ, s.buf)
	if n < 0 {
		s.err = ErrCorruptRecord
		return
	}
	s.buf = s.buf[n:]
}

func (s *fieldScanner) decimalString() (decimal.Decimal, error) {
	raw := s.bytes()
	if s.err != nil {
		return decimal.Zero, s.err
	}
	return decimal.NewFromString(string(raw))
}

func decodeFee(buf []byte) (orderbook.FeeInstruction, error) {
	var f orderbook.FeeInstruction
	s := &fieldScanner{buf: buf}
	for {
		num, typ, ok := s.next()
		if !ok {
			break
		}
		var err error
		switch num {
		case feeFieldType:
			f.Type = orderbook.FeeType(s.varint())
		case feeFieldSizeType:
			f.SizeType = orderbook.FeeSizeType(s.varint())
		case feeFieldMaker:
			f.MakerSize, err = s.decimalString()
		case feeFieldTaker:
			f.TakerSize, err = s.decimalString()
		case feeFieldSource:
			f.SourceClientID = string(s.bytes())
		case feeFieldTarget:
			f.TargetClientID = string(s.bytes())
		case feeFieldAssetID:
			f.AssetID = string(s.bytes())
		case feeFieldAssetIDs:
			f.AssetIDs = append(f.AssetIDs, string(s.bytes()))
		default:
			s.skip(num, typ)
		}
		if err != nil {
			return f, err
		}
	}
	return f, s.err
}

// DecodeOrder parses a stored order.
func DecodeOrder(buf []byte) (*orderbook.Order, error) {
	o := &orderbook.Order{}
	s := &fieldScanner{buf: buf}
	for {
		num, typ, ok := s.next()
		if !ok {
			break
		}
		var err error
		switch num {
		case orderFieldID:
			o.ID = s.varint()
		case orderFieldExternalID:
			o.ExternalID = string(s.bytes())
		case orderFieldClientID:
			o.ClientID = string(s.bytes())
		case orderFieldAssetPairID:
			o.AssetPairID = string(s.bytes())
		case orderFieldPrice:
			o.Price, err = s.decimalString()
		case orderFieldVolume:
			o.Volume, err = s.decimalString()
		case orderFieldRemaining:
			o.RemainingVolume, err = s.decimalString()
		case orderFieldStatus:
			o.Status = orderbook.OrderStatus(s.varint())
		case orderFieldType:
			o.Type = orderbook.OrderType(s.varint())
		case orderFieldCreatedAt:
			o.CreatedAt = time.Unix(0, int64(s.varint()))
		case orderFieldLastMatch:
			o.LastMatchTime = time.Unix(0, int64(s.varint()))
		case orderFieldLowerLimitPrice:
			o.LowerLimitPrice, err = nullDecimal(s)
		case orderFieldLowerPrice:
			o.LowerPrice, err = nullDecimal(s)
		case orderFieldUpperLimitPrice:
			o.UpperLimitPrice, err = nullDecimal(s)
		case orderFieldUpperPrice:
			o.UpperPrice, err = nullDecimal(s)
		case orderFieldReservedVolume:
			o.ReservedLimitVolume, err = s.decimalString()
		case orderFieldFee:
			var fee orderbook.FeeInstruction
			fee, err = decodeFee(s.bytes())
			o.Fees = append(o.Fees, fee)
		default:
			s.skip(num, typ)
		}
		if err != nil {
			return nil, fmt.Errorf("decode order field %d: %w", num, err)
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return o, nil
}

func nullDecimal(s *fieldScanner) (decimal.NullDecimal, error) {
	d, err := s.decimalString()
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

// EncodeBalance serializes one wallet record.
func EncodeBalance(b wallet.AssetBalance) []byte {
	var out []byte
	out = appendString(out, balanceFieldClientID, b.ClientID)
	out = appendString(out, balanceFieldAssetID, b.AssetID)
	out = appendString(out, balanceFieldBalance, b.Balance.String())
	out = appendString(out, balanceFieldReserved, b.Reserved.String())
	return out
}

// DecodeBalance parses a stored wallet record.
func DecodeBalance(buf []byte) (wallet.AssetBalance, error) {
	var b wallet.AssetBalance
	s := &fieldScanner{buf: buf}
	for {
		num, typ, ok := s.next()
		if !ok {
			break
		}
		var err error
		switch num {
		case balanceFieldClientID:
			b.ClientID = string(s.bytes())
		case balanceFieldAssetID:
			b.AssetID = string(s.bytes())
		case balanceFieldBalance:
			b.Balance, err = s.decimalString()
		case balanceFieldReserved:
			b.Reserved, err = s.decimalString()
		default:
			s.skip(num, typ)
		}
		if err != nil {
			return b, err
		}
	}
	return b, s.err
}
