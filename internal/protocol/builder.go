package protocol

import (
	"bytes"
	"encoding/binary"
)

// DamageFields describes a damage record for FrameBuilder.
type DamageFields struct {
	TargetID     int
	SwitchValue  int
	Flag         int
	ActorID      int
	SkillCode    int
	DamageType   int
	SpecialFlags byte
	UnknownValue int
	Amount       int
	Trailer      []byte
}

// FrameBuilder constructs wire frames. It is used by replay tooling and
// tests to produce traffic in the same shape the game sends.
type FrameBuilder struct {
	buf bytes.Buffer
}

// NewFrameBuilder creates an empty builder.
func NewFrameBuilder() *FrameBuilder {
	return &FrameBuilder{}
}

// Reset clears the builder for reuse.
func (b *FrameBuilder) Reset() {
	b.buf.Reset()
}

// WriteByte writes a single byte.
func (b *FrameBuilder) WriteByte(v byte) *FrameBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteVarint writes a base-128 varint.
func (b *FrameBuilder) WriteVarint(v int) *FrameBuilder {
	b.buf.Write(EncodeVarint(uint32(v)))
	return b
}

// WriteUint32 writes a uint32 in little-endian order.
func (b *FrameBuilder) WriteUint32(v uint32) *FrameBuilder {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

// WriteBytes writes raw bytes.
func (b *FrameBuilder) WriteBytes(data []byte) *FrameBuilder {
	b.buf.Write(data)
	return b
}

// WriteDamageBody writes every field after the target id.
func (b *FrameBuilder) WriteDamageBody(f DamageFields) *FrameBuilder {
	b.WriteVarint(f.SwitchValue)
	b.WriteVarint(f.Flag)
	b.WriteVarint(f.ActorID)
	b.WriteUint32(uint32(f.SkillCode))
	b.WriteByte(0x00)
	b.WriteVarint(f.DamageType)

	block := make([]byte, specialBlockSizes[f.SwitchValue&0x0F])
	if len(block) > 8 {
		block[0] = f.SpecialFlags
	}
	b.WriteBytes(block)

	b.WriteVarint(f.UnknownValue)
	b.WriteVarint(f.Amount)
	b.WriteBytes(f.Trailer)
	return b
}

// Bytes returns the bytes written so far.
func (b *FrameBuilder) Bytes() []byte {
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

// Frame prefixes the written body with a varint length so that the framer
// derives exactly its size.
func (b *FrameBuilder) Frame() []byte {
	return PrefixFrame(b.buf.Bytes())
}

// PrefixFrame returns body with a length prefix whose derived frame size
// (value + prefix length - 4) covers prefix and body.
func PrefixFrame(body []byte) []byte {
	// value = len(body) + LengthBias regardless of prefix width, since the
	// prefix length term cancels out of size = value + n - bias.
	prefix := EncodeVarint(uint32(len(body) + LengthBias))
	out := make([]byte, 0, len(prefix)+len(body))
	out = append(out, prefix...)
	return append(out, body...)
}

// BuildDamageFrame builds a complete direct damage frame.
func BuildDamageFrame(f DamageFields) []byte {
	b := NewFrameBuilder()
	b.WriteByte(OpDamage1).WriteByte(OpDamage2)
	b.WriteVarint(f.TargetID)
	b.WriteDamageBody(f)
	return b.Frame()
}
