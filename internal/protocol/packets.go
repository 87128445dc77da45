// Package protocol implements the reverse-engineered AION combat wire format:
// varint primitives, marker-based frame synchronization, frame classification,
// batch sub-frame extraction, and the damage and nickname decoders.
// Integers on the wire are little-endian; lengths are base-128 varints.
package protocol

// Sync marker that anchors frame alignment. It is also the full body of a
// keep-alive frame.
var SyncMarker = []byte{0x06, 0x00, 0x36}

// Opcode bytes following the length prefix.
const (
	OpDamage1 byte = 0x04
	OpDamage2 byte = 0x38
	OpBatch   byte = 0xFF
)

// DamageSignature is the opcode pair of a single damage record.
var DamageSignature = []byte{OpDamage1, OpDamage2}

const (
	// MaxFrameSize is the largest derived frame size accepted while framing.
	MaxFrameSize = 4096

	// LengthBias is subtracted from value+prefixLen to get the frame size.
	LengthBias = 4

	// MaxVarintLen is the longest varint backward walk used in batch frames.
	MaxVarintLen = 5
)

// FrameKind classifies a synchronized frame by its type tag.
type FrameKind int

const (
	FrameMalformed FrameKind = iota
	FrameDirectDamage
	FrameBatchDamage
	FrameUnknown
)

var frameKindStrings = map[FrameKind]string{
	FrameMalformed:    "malformed",
	FrameDirectDamage: "direct_damage",
	FrameBatchDamage:  "batch_damage",
	FrameUnknown:      "unknown",
}

// String returns the label used in logs and metrics.
func (k FrameKind) String() string {
	if s, ok := frameKindStrings[k]; ok {
		return s
	}
	return "unknown"
}

// Frame is one complete protocol message as cut by the Framer. Raw still
// carries the varint length prefix because the decoders re-read it.
type Frame struct {
	Raw       []byte
	PrefixLen int
}

// Bytes returns the full frame including its length prefix.
func (f Frame) Bytes() []byte {
	return f.Raw
}

// Payload returns the frame body without the length prefix.
func (f Frame) Payload() []byte {
	if f.PrefixLen >= len(f.Raw) {
		return nil
	}
	return f.Raw[f.PrefixLen:]
}

// Len returns the full frame length.
func (f Frame) Len() int {
	return len(f.Raw)
}

// IsKeepAlive reports whether the frame is exactly the sync marker.
func (f Frame) IsKeepAlive() bool {
	return isKeepAlive(f.Raw)
}

func isKeepAlive(b []byte) bool {
	return len(b) == len(SyncMarker) &&
		b[0] == SyncMarker[0] && b[1] == SyncMarker[1] && b[2] == SyncMarker[2]
}
