package sequence

import "sync/atomic"

// Sequencer generates strictly monotonic ids: engine order ids and
// persistence batch sequence numbers both come from here, so replay
// resumes from a single high-water mark.
type Sequencer struct {
	next atomic.Uint64
}

// New creates a sequencer starting from a given value.
// Fresh start: 0. After loading persisted state: the stored sequence.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next sequence id.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued sequence.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}

// Reset sets the sequencer. Only used after startup loading.
func (s *Sequencer) Reset(v uint64) {
	s.next.Store(v)
}
