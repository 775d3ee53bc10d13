package engine

import "sync/atomic"

// Sequencer hands out the gapless, strictly increasing sequence numbers
// stamped on every event of one instrument.
type Sequencer struct {
	last atomic.Uint64
}

// NewSequencer starts after start. A fresh book starts at 0; a restart
// passes the last sequence found in the journal.
func NewSequencer(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last issued sequence.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Reset sets the last issued sequence. Only used while restoring state.
func (s *Sequencer) Reset(v uint64) {
	s.last.Store(v)
}
