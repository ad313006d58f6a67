package outbox

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// Outbox is the durable staging area for outbound financial events.
// The sequencer appends inside the command scope; publisher jobs drain
// it and advance each record through NEW -> SENT -> ACKED. Events are
// never dropped: an unacked record is retried on the next scan.

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

type Record struct {
	Seq         uint64
	Kind        string
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

// binary encoding: [state:1][retries:4][lastAttempt:8][kindLen:2][kind][payload]
func encodeRecord(r *Record) []byte {
	buf := make([]byte, 1+4+8+2+len(r.Kind)+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	binary.BigEndian.PutUint16(buf[13:15], uint16(len(r.Kind)))
	copy(buf[15:], r.Kind)
	copy(buf[15+len(r.Kind):], r.Payload)
	return buf
}

func decodeRecord(b []byte) (*Record, error) {
	if len(b) < 15 {
		return nil, errors.New("outbox: invalid record length")
	}
	kindLen := int(binary.BigEndian.Uint16(b[13:15]))
	if len(b) < 15+kindLen {
		return nil, errors.New("outbox: invalid kind length")
	}
	return &Record{
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Kind:        string(b[15 : 15+kindLen]),
		Payload:     b[15+kindLen:],
	}, nil
}

type Outbox struct {
	db   *pebble.DB
	next uint64
}

func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		DisableWAL: false, // events must survive a crash
	})
	if err != nil {
		return nil, err
	}
	o := &Outbox{db: db}
	if err := o.recoverNext(); err != nil {
		db.Close()
		return nil, err
	}
	return o, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

func (o *Outbox) recoverNext() error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("event/"),
		UpperBound: []byte("event/~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	if iter.Last() && iter.Valid() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		o.next = seq
	}
	return iter.Error()
}

// Append stages one event durably and returns its outbox sequence.
func (o *Outbox) Append(kind string, payload []byte) (uint64, error) {
	o.next++
	rec := &Record{
		Seq:     o.next,
		Kind:    kind,
		State:   StateNew,
		Payload: payload,
	}
	if err := o.db.Set(keyFor(rec.Seq), encodeRecord(rec), pebble.Sync); err != nil {
		return 0, err
	}
	return rec.Seq, nil
}

func (o *Outbox) update(seq uint64, mutate func(*Record)) error {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		return err
	}
	rec, err := decodeRecord(val)
	closer.Close()
	if err != nil {
		return err
	}
	rec.Seq = seq
	mutate(rec)
	rec.LastAttempt = time.Now().UnixNano()
	return o.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync)
}

func (o *Outbox) MarkSent(seq uint64) error {
	return o.update(seq, func(r *Record) {
		r.State = StateSent
		r.Retries++
	})
}

func (o *Outbox) MarkAcked(seq uint64) error {
	return o.update(seq, func(r *Record) { r.State = StateAcked })
}

// Delete removes acked records during cleanup.
func (o *Outbox) Delete(seq uint64) error {
	return o.db.Delete(keyFor(seq), pebble.Sync)
}

// ScanPending visits every record not yet acked, in sequence order.
func (o *Outbox) ScanPending(fn func(*Record) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("event/"),
		UpperBound: []byte("event/~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		rec, err := decodeRecord(iter.Value())
		if err != nil {
			return err
		}
		if rec.State == StateAcked {
			continue
		}
		rec.Seq, err = parseKey(iter.Key())
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("event/%020d", seq))
}

func parseKey(b []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(b), "event/%d", &seq)
	return seq, err
}
