package protocol

import (
	"bytes"
	"testing"
)

type countingObserver struct {
	desyncs int
	resets  int
}

func (o *countingObserver) OnDesync(string)      { o.desyncs++ }
func (o *countingObserver) OnBufferReset(string) { o.resets++ }

func collect(f *Framer, data []byte) []Frame {
	var frames []Frame
	f.Append(data, func(fr Frame) { frames = append(frames, fr) })
	return frames
}

func TestFramerKeepAliveSynchronizes(t *testing.T) {
	f := NewFramer("test", nil)
	frames := collect(f, []byte{0x06, 0x00, 0x36})
	if len(frames) != 0 {
		t.Fatalf("keep-alive emitted %d frames", len(frames))
	}
	if !f.Synced() {
		t.Fatalf("framer not synchronized after marker")
	}
	if f.Buffered() != 0 {
		t.Fatalf("keep-alive not consumed, %d bytes buffered", f.Buffered())
	}
	if f.Stats().KeepAlives != 1 {
		t.Fatalf("keep-alive count = %d, want 1", f.Stats().KeepAlives)
	}
}

func TestFramerDiscardsGarbageBeforeMarker(t *testing.T) {
	payload := []byte{0x04, 0x38, 0x11, 0x22, 0x33}
	var stream []byte
	stream = append(stream, 0xAA, 0xBB, 0xCC, 0xDD)
	stream = append(stream, SyncMarker...)
	stream = append(stream, PrefixFrame(payload)...)

	f := NewFramer("test", nil)
	frames := collect(f, stream)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0].Payload(), payload) {
		t.Fatalf("payload mismatch: got %x want %x", frames[0].Payload(), payload)
	}
	if f.Stats().DiscardedByte != 4 {
		t.Fatalf("discarded %d bytes, want 4", f.Stats().DiscardedByte)
	}
}

func TestFramerGarbageWithoutMarkerKeepsTail(t *testing.T) {
	f := NewFramer("test", nil)
	collect(f, []byte{0x01, 0x02, 0x03, 0x04, 0x06, 0x00})
	if f.Synced() {
		t.Fatalf("framer synchronized without marker")
	}
	if f.Buffered() != 2 {
		t.Fatalf("buffered %d bytes, want 2", f.Buffered())
	}

	// The marker completes across the append boundary.
	frames := collect(f, append([]byte{0x36}, PrefixFrame([]byte{0x01, 0x02})...))
	if !f.Synced() {
		t.Fatalf("framer did not synchronize on split marker")
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames after split marker, want 1", len(frames))
	}
}

func TestFramerInvalidSizeDesyncsOneByte(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"zero size", []byte{0x03, 0xEE}},
		{"negative size", []byte{0x01, 0xEE}},
		{"oversized", []byte{0x80, 0x40}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			obs := &countingObserver{}
			f := NewFramer("test", obs)
			collect(f, SyncMarker)

			frames := collect(f, tc.data)
			if len(frames) != 0 {
				t.Fatalf("emitted %d frames from invalid size", len(frames))
			}
			if f.Synced() {
				t.Fatalf("framer still synchronized after invalid size")
			}
			if f.Buffered() != len(tc.data)-1 {
				t.Fatalf("buffered %d bytes, want %d", f.Buffered(), len(tc.data)-1)
			}
			if obs.desyncs != 1 {
				t.Fatalf("observer saw %d desyncs, want 1", obs.desyncs)
			}
		})
	}
}

func TestFramerWaitsForPartialFrame(t *testing.T) {
	frame := PrefixFrame([]byte{0x04, 0x38, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06})
	f := NewFramer("test", nil)
	collect(f, SyncMarker)

	if frames := collect(f, frame[:4]); len(frames) != 0 {
		t.Fatalf("emitted %d frames from partial data", len(frames))
	}
	frames := collect(f, frame[4:])
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0].Bytes(), frame) {
		t.Fatalf("frame mismatch: got %x want %x", frames[0].Bytes(), frame)
	}
}

func TestFramerMultipleFramesOneAppend(t *testing.T) {
	a := PrefixFrame([]byte{0x04, 0x38, 0x01})
	b := PrefixFrame([]byte{0xFF, 0xFF, 0x02, 0x03})

	var stream []byte
	stream = append(stream, SyncMarker...)
	stream = append(stream, a...)
	stream = append(stream, SyncMarker...)
	stream = append(stream, b...)

	f := NewFramer("test", nil)
	frames := collect(f, stream)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if !bytes.Equal(frames[0].Bytes(), a) || !bytes.Equal(frames[1].Bytes(), b) {
		t.Fatalf("frames out of order or corrupted")
	}
	if f.Stats().KeepAlives != 2 {
		t.Fatalf("keep-alives = %d, want 2", f.Stats().KeepAlives)
	}
}

func TestFramerHardResetOverCap(t *testing.T) {
	obs := &countingObserver{}
	f := NewFramer("test", obs)
	collect(f, SyncMarker)

	huge := make([]byte, MaxBufferSize+1)
	frames := collect(f, huge)
	if len(frames) != 0 {
		t.Fatalf("emitted %d frames after overflow", len(frames))
	}
	if f.Synced() || f.Buffered() != 0 {
		t.Fatalf("framer not reset: synced=%v buffered=%d", f.Synced(), f.Buffered())
	}
	if obs.resets != 1 || f.Stats().BufferResets != 1 {
		t.Fatalf("reset not reported: observer=%d stats=%d", obs.resets, f.Stats().BufferResets)
	}
}

func TestFramerClear(t *testing.T) {
	f := NewFramer("test", nil)
	collect(f, append(append([]byte{}, SyncMarker...), 0x20, 0x04))
	f.Clear()
	if f.Synced() || f.Buffered() != 0 {
		t.Fatalf("Clear left synced=%v buffered=%d", f.Synced(), f.Buffered())
	}
}

func TestStreamBuffersIsolatesStreams(t *testing.T) {
	sb := NewStreamBuffers(nil)
	frame := PrefixFrame([]byte{0x04, 0x38, 0x01, 0x02})

	var got []string
	emit := func(key string) func(Frame) {
		return func(Frame) { got = append(got, key) }
	}

	sb.Process("a", SyncMarker, emit("a"))
	sb.Process("b", frame, emit("b"))
	sb.Process("a", frame, emit("a"))

	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("frames emitted for %v, want only [a]", got)
	}
	if sb.ActiveStreams() != 2 {
		t.Fatalf("active streams = %d, want 2", sb.ActiveStreams())
	}

	sb.ClearStream("a")
	if sb.ActiveStreams() != 1 {
		t.Fatalf("active streams after ClearStream = %d, want 1", sb.ActiveStreams())
	}
	sb.Clear()
	if sb.ActiveStreams() != 0 {
		t.Fatalf("active streams after Clear = %d, want 0", sb.ActiveStreams())
	}
}
