package protocol

import (
	"bytes"

	"github.com/rs/zerolog"

	"github.com/aionmeter/aionmeter/internal/util"
)

const (
	// InitialBufferSize is the starting capacity of a framer buffer.
	InitialBufferSize = 64 * 1024

	// MaxBufferSize caps framer growth. Crossing it forces a hard reset.
	MaxBufferSize = 10 * 1024 * 1024
)

// FramerStats counts framing anomalies since creation.
type FramerStats struct {
	FramesEmitted int64 `json:"frames_emitted"`
	KeepAlives    int64 `json:"keep_alives"`
	Desyncs       int64 `json:"desyncs"`
	Resyncs       int64 `json:"resyncs"`
	BufferResets  int64 `json:"buffer_resets"`
	DiscardedByte int64 `json:"discarded_bytes"`
}

// FramerObserver receives framing anomalies. Implementations must be cheap;
// they are called inline while the framer lock is held.
type FramerObserver interface {
	OnDesync(streamKey string)
	OnBufferReset(streamKey string)
}

// Framer accumulates raw stream bytes and cuts complete length-prefixed
// frames. It is not safe for concurrent use; StreamBuffers serializes access
// per stream.
type Framer struct {
	key      string
	buf      []byte
	synced   bool
	stats    FramerStats
	observer FramerObserver
	logger   zerolog.Logger
}

// NewFramer creates an unsynchronized framer for one stream.
func NewFramer(streamKey string, observer FramerObserver) *Framer {
	return &Framer{
		key:      streamKey,
		buf:      make([]byte, 0, InitialBufferSize),
		observer: observer,
		logger:   util.ComponentLogger("framer").With().Str("stream", streamKey).Logger(),
	}
}

// Synced reports whether the framer is aligned on a frame boundary.
func (f *Framer) Synced() bool {
	return f.synced
}

// Buffered returns the number of bytes waiting for a complete frame.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Stats returns a copy of the framer counters.
func (f *Framer) Stats() FramerStats {
	return f.stats
}

// Append adds data to the buffer and calls emit for every complete frame.
// Emitted frames own their bytes.
func (f *Framer) Append(data []byte, emit func(Frame)) {
	if len(data) == 0 {
		return
	}

	if !f.grow(len(data)) {
		return
	}
	f.buf = append(f.buf, data...)

	f.drain(emit)
}

// Clear drops all buffered bytes and returns to the unsynchronized state.
func (f *Framer) Clear() {
	f.buf = f.buf[:0]
	f.synced = false
}

func (f *Framer) drain(emit func(Frame)) {
	for len(f.buf) > 0 {
		if !f.synced {
			if !f.sync() {
				return
			}
			continue
		}

		value, n := ReadVarint(f.buf, 0)
		if n < 0 {
			// An incomplete prefix waits for more data; a prefix that can
			// never terminate within 5 bytes is garbage.
			if len(f.buf) < MaxVarintLen {
				return
			}
			f.desync()
			continue
		}

		size := value + n - LengthBias
		if size <= 0 || size > MaxFrameSize {
			f.desync()
			continue
		}

		if len(f.buf) < size {
			return
		}

		raw := make([]byte, size)
		copy(raw, f.buf[:size])
		f.consume(size)

		if isKeepAlive(raw) {
			f.stats.KeepAlives++
			continue
		}

		f.stats.FramesEmitted++
		if emit != nil {
			emit(Frame{Raw: raw, PrefixLen: n})
		}
	}
}

// sync searches for the marker. It returns true once aligned.
func (f *Framer) sync() bool {
	idx := bytes.Index(f.buf, SyncMarker)
	if idx < 0 {
		keep := len(SyncMarker) - 1
		if len(f.buf) > keep {
			f.stats.DiscardedByte += int64(len(f.buf) - keep)
			f.consume(len(f.buf) - keep)
		}
		return false
	}

	if idx > 0 {
		f.stats.DiscardedByte += int64(idx)
		f.consume(idx)
	}

	f.synced = true
	f.stats.Resyncs++
	f.logger.Debug().Int("skipped", idx).Msg("stream synchronized on marker")
	return true
}

func (f *Framer) desync() {
	f.synced = false
	f.stats.Desyncs++
	f.stats.DiscardedByte++
	f.consume(1)
	if f.observer != nil {
		f.observer.OnDesync(f.key)
	}
}

// consume removes n bytes from the front of the buffer.
func (f *Framer) consume(n int) {
	if n >= len(f.buf) {
		f.buf = f.buf[:0]
		return
	}
	remaining := copy(f.buf, f.buf[n:])
	f.buf = f.buf[:remaining]
}

// grow makes room for needed more bytes. It returns false after a hard reset,
// in which case the incoming data is dropped.
func (f *Framer) grow(needed int) bool {
	required := len(f.buf) + needed
	if required <= cap(f.buf) {
		return true
	}

	if required > MaxBufferSize {
		f.logger.Warn().
			Int("buffered", len(f.buf)).
			Int("incoming", needed).
			Msg("framer buffer over hard cap, resetting")
		f.buf = make([]byte, 0, InitialBufferSize)
		f.synced = false
		f.stats.BufferResets++
		if f.observer != nil {
			f.observer.OnBufferReset(f.key)
		}
		return false
	}

	newCap := cap(f.buf) * 2
	if newCap < required {
		newCap = required
	}
	if newCap > MaxBufferSize {
		newCap = MaxBufferSize
	}

	grown := make([]byte, len(f.buf), newCap)
	copy(grown, f.buf)
	f.buf = grown
	return true
}
