package journal

import "time"

type RecordType uint8

const (
	RecordLimitOrder RecordType = iota
	RecordMarketOrder
	RecordCancel
	RecordMassCancel
	RecordMultiLimitOrder
	RecordCashOperation
)

// Record is an immutable journal entry: one accepted inbound command.
type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, seq uint64, data []byte) *Record {
	return &Record{
		Type: t,
		Seq:  seq,
		Time: time.Now().UnixNano(),
		Data: data,
	}
}
