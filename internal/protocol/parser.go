package protocol

import (
	"encoding/hex"
	"time"

	"github.com/rs/zerolog"

	"github.com/aionmeter/aionmeter/internal/util"
)

// DecoderOptions configures a Decoder.
type DecoderOptions struct {
	// Diagnostics records field byte ranges on every decoded record.
	Diagnostics bool

	// Clock supplies event timestamps. Defaults to time.Now.
	Clock func() time.Time
}

// Decoder turns damage frames into DamageRecords. It holds no per-frame
// state and may be shared by a single consumer goroutine.
type Decoder struct {
	diagnostics bool
	clock       func() time.Time
	logger      zerolog.Logger
}

// NewDecoder creates a damage decoder.
func NewDecoder(opts DecoderOptions) *Decoder {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Decoder{
		diagnostics: opts.Diagnostics,
		clock:       clock,
		logger:      util.ComponentLogger("damage_decoder"),
	}
}

// DecodeDirect decodes a complete damage frame: header, target id and body.
func (d *Decoder) DecodeDirect(data []byte) (*DamageRecord, error) {
	r := NewDamageReader(data, 0, d.diagnostics)

	if err := r.ReadHeader(); err != nil {
		return nil, err
	}

	target, err := r.ReadTargetID()
	if err != nil {
		return nil, err
	}

	return d.finish(r, target)
}

// DecodeAt decodes a record embedded in a remainder segment whose actor id
// starts at actorIndex. The switch value and flag field occupy the two
// bytes before it; header and target are not present and targetID is
// supplied by the caller.
func (d *Decoder) DecodeAt(data []byte, actorIndex, targetID int) (*DamageRecord, error) {
	if actorIndex < 2 {
		return nil, &DecodeError{Field: "wrong_length", Offset: actorIndex, Err: ErrWrongLength}
	}
	r := NewDamageReader(data, actorIndex-2, d.diagnostics)
	return d.finish(r, targetID)
}

func (d *Decoder) finish(r *DamageReader, target int) (*DamageRecord, error) {
	rec := &DamageRecord{TargetID: target}
	if err := r.ReadBody(rec); err != nil {
		return nil, err
	}

	if rec.ActorID == target {
		return nil, r.fail("actor_equals_target", ErrSelfDamage)
	}

	rec.Timestamp = d.clock()
	rec.Diagnostics = r.Diagnostics()

	d.logger.Trace().
		Int("actor", rec.ActorID).
		Int("target", rec.TargetID).
		Int("skill", rec.SkillCode).
		Int64("amount", rec.Amount).
		Int("switch", rec.SwitchValue).
		Int("flags_offset", rec.FlagsOffset).
		Int("damage_offset", rec.DamageOffset).
		Bool("crit", rec.IsCritical).
		Bool("back", rec.IsBackAttack).
		Bool("parry", rec.IsParry).
		Bool("perfect", rec.IsPerfect).
		Bool("double", rec.IsDoubleDamage).
		Msg("damage decoded")

	return rec, nil
}

// HexDump formats bytes as lowercase hex for trace logs and diagnostics.
func HexDump(data []byte) string {
	return hex.EncodeToString(data)
}
