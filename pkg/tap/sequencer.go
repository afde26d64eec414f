package tap

// Sequencer is the single-consumer stage described in §4.1: it reads
// RawTap values from a bounded channel and writes TapEvent values,
// stamped with a dense monotonic event_id starting at 1, to another. It
// never drops — both the read and the write are blocking channel
// operations, so backpressure upstream simply propagates downstream.
type Sequencer struct {
	in     <-chan RawTap
	out    chan<- TapEvent
	nextID uint64
}

// NewSequencer wires a sequencer between the given channels. in is closed
// by the external tap producer on shutdown; out is closed by Run when in
// is drained, per the orderly-shutdown rule in §5.
func NewSequencer(in <-chan RawTap, out chan<- TapEvent) *Sequencer {
	return &Sequencer{in: in, out: out, nextID: 1}
}

// Run consumes until in is closed, then closes out and returns. Output
// order is exactly input order; event_id values are dense and monotonic.
func (s *Sequencer) Run() {
	defer close(s.out)
	for raw := range s.in {
		s.out <- TapEvent{
			EventID:      s.nextID,
			Direction:    raw.Direction,
			Bytes:        raw.Bytes,
			ObservedTsMs: raw.ObservedTsMs,
		}
		s.nextID++
	}
}
