package capture

import (
	"bytes"
	"testing"
)

type seqObserver struct {
	gaps       int
	missing    uint32
	duplicates int
}

func (o *seqObserver) OnGap(_ string, missing uint32) { o.gaps++; o.missing += missing }
func (o *seqObserver) OnDuplicate(string)              { o.duplicates++ }

func TestSequencerInOrder(t *testing.T) {
	s := NewSequencer(nil)

	out, v := s.Feed("k", 1000, []byte("abc"), false, false)
	if v != VerdictAccepted || string(out) != "abc" {
		t.Fatalf("first feed = %q, %s", out, v)
	}
	out, v = s.Feed("k", 1003, []byte("de"), false, false)
	if v != VerdictAccepted || string(out) != "de" {
		t.Fatalf("second feed = %q, %s", out, v)
	}
}

func TestSequencerDropsDuplicate(t *testing.T) {
	obs := &seqObserver{}
	s := NewSequencer(obs)
	s.Feed("k", 1000, []byte("abcd"), false, false)

	out, v := s.Feed("k", 1000, []byte("abcd"), false, false)
	if v != VerdictDuplicate || out != nil {
		t.Fatalf("retransmit = %q, %s", out, v)
	}
	if obs.duplicates != 1 {
		t.Fatalf("duplicates = %d", obs.duplicates)
	}

	// Next in-order segment still accepted, state unchanged by the duplicate.
	out, v = s.Feed("k", 1004, []byte("e"), false, false)
	if v != VerdictAccepted || string(out) != "e" {
		t.Fatalf("after duplicate = %q, %s", out, v)
	}
}

func TestSequencerGapAcceptsAndAdvances(t *testing.T) {
	obs := &seqObserver{}
	s := NewSequencer(obs)
	s.Feed("k", 1000, []byte("ab"), false, false)

	out, v := s.Feed("k", 1010, []byte("xy"), false, false)
	if v != VerdictGap || string(out) != "xy" {
		t.Fatalf("gap feed = %q, %s", out, v)
	}
	if obs.gaps != 1 || obs.missing != 8 {
		t.Fatalf("gap observer = %+v", obs)
	}

	out, v = s.Feed("k", 1012, []byte("z"), false, false)
	if v != VerdictAccepted || string(out) != "z" {
		t.Fatalf("after gap = %q, %s", out, v)
	}
}

func TestSequencerOverlapEmitsTail(t *testing.T) {
	s := NewSequencer(nil)
	s.Feed("k", 1000, []byte("abcd"), false, false)

	out, v := s.Feed("k", 1002, []byte("cdef"), false, false)
	if v != VerdictOverlap || !bytes.Equal(out, []byte("ef")) {
		t.Fatalf("overlap = %q, %s", out, v)
	}
	out, v = s.Feed("k", 1006, []byte("g"), false, false)
	if v != VerdictAccepted || string(out) != "g" {
		t.Fatalf("after overlap = %q, %s", out, v)
	}
}

func TestSequencerSynFinConsumeSequence(t *testing.T) {
	s := NewSequencer(nil)

	out, _ := s.Feed("k", 500, nil, true, false)
	if out != nil {
		t.Fatalf("bare SYN produced %q", out)
	}
	out, v := s.Feed("k", 501, []byte("hi"), false, true)
	if v != VerdictAccepted || string(out) != "hi" {
		t.Fatalf("after SYN = %q, %s", out, v)
	}
	_, v = s.Feed("k", 504, []byte("x"), false, false)
	if v != VerdictAccepted {
		t.Fatalf("FIN did not consume a sequence number: %s", v)
	}
}

func TestSequencerWraparound(t *testing.T) {
	s := NewSequencer(nil)
	s.Feed("k", 0xFFFFFFFE, []byte("ab"), false, false)

	out, v := s.Feed("k", 0, []byte("cd"), false, false)
	if v != VerdictAccepted || string(out) != "cd" {
		t.Fatalf("wrapped feed = %q, %s", out, v)
	}
	_, v = s.Feed("k", 0xFFFFFFFE, []byte("ab"), false, false)
	if v != VerdictDuplicate {
		t.Fatalf("pre-wrap retransmit = %s, want duplicate", v)
	}
}

func TestSequencerStreamsIndependentAndReset(t *testing.T) {
	s := NewSequencer(nil)
	s.Feed("a", 100, []byte("x"), false, false)
	if _, v := s.Feed("b", 9000, []byte("y"), false, false); v != VerdictAccepted {
		t.Fatalf("new stream verdict = %s", v)
	}
	if s.Streams() != 2 {
		t.Fatalf("streams = %d", s.Streams())
	}

	s.Reset()
	if s.Streams() != 0 {
		t.Fatalf("streams after reset = %d", s.Streams())
	}
	if _, v := s.Feed("a", 5, []byte("x"), false, false); v != VerdictAccepted {
		t.Fatalf("feed after reset = %s", v)
	}
}
