package capture

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/aionmeter/aionmeter/internal/util"
)

// Verdict is the outcome of sequencing one segment.
type Verdict int

const (
	VerdictAccepted Verdict = iota
	VerdictDuplicate
	VerdictGap
	VerdictOverlap
)

func (v Verdict) String() string {
	switch v {
	case VerdictAccepted:
		return "accepted"
	case VerdictDuplicate:
		return "duplicate"
	case VerdictGap:
		return "gap"
	case VerdictOverlap:
		return "overlap"
	default:
		return "unknown"
	}
}

// SequencerObserver is notified of sequencing anomalies.
type SequencerObserver interface {
	OnGap(streamKey string, missing uint32)
	OnDuplicate(streamKey string)
}

type streamState struct {
	mu           sync.Mutex
	expectedNext uint32
	initialized  bool
}

// Sequencer tracks the next expected sequence number per stream and
// filters retransmissions.
type Sequencer struct {
	mu       sync.Mutex
	streams  map[string]*streamState
	observer SequencerObserver
	logger   zerolog.Logger
}

// NewSequencer creates a sequencer. observer may be nil.
func NewSequencer(observer SequencerObserver) *Sequencer {
	return &Sequencer{
		streams:  make(map[string]*streamState),
		observer: observer,
		logger:   util.ComponentLogger("sequencer"),
	}
}

// seqLess compares sequence numbers with 32-bit wraparound.
func seqLess(a, b uint32) bool {
	return int32(a-b) < 0
}

func (s *Sequencer) state(key string) *streamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[key]
	if !ok {
		st = &streamState{}
		s.streams[key] = st
	}
	return st
}

// Feed returns the bytes of payload that should be appended to the stream,
// or nil when nothing new arrived.
func (s *Sequencer) Feed(streamKey string, seq uint32, payload []byte, syn, fin bool) ([]byte, Verdict) {
	consumed := uint32(len(payload))
	if syn {
		consumed++
	}
	if fin {
		consumed++
	}
	next := seq + consumed

	st := s.state(streamKey)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.initialized {
		st.initialized = true
		st.expectedNext = next
		return nonEmpty(payload), VerdictAccepted
	}

	expected := st.expectedNext
	switch {
	case seq == expected:
		st.expectedNext = next
		return nonEmpty(payload), VerdictAccepted

	case seqLess(seq, expected):
		if !seqLess(expected, next) {
			s.logger.Trace().
				Str("stream", streamKey).
				Uint32("seq", seq).
				Uint32("expected", expected).
				Msg("duplicate segment ignored")
			if s.observer != nil {
				s.observer.OnDuplicate(streamKey)
			}
			return nil, VerdictDuplicate
		}
		// Partially retransmitted: keep only bytes past expected.
		skip := expected - seq
		if syn {
			skip--
		}
		st.expectedNext = next
		if int(skip) >= len(payload) {
			return nil, VerdictOverlap
		}
		return payload[skip:], VerdictOverlap

	default:
		missing := seq - expected
		s.logger.Warn().
			Str("stream", streamKey).
			Uint32("expected", expected).
			Uint32("got", seq).
			Uint32("missing", missing).
			Msg("tcp stream gap")
		if s.observer != nil {
			s.observer.OnGap(streamKey, missing)
		}
		st.expectedNext = next
		return nonEmpty(payload), VerdictGap
	}
}

// Streams returns the number of streams with sequencing state.
func (s *Sequencer) Streams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// Reset drops all stream state.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = make(map[string]*streamState)
}

func nonEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
