package protocol

import (
	"errors"
	"fmt"
	"time"
)

// Damage field decode failures. DecodeError wraps exactly one of these.
var (
	ErrWrongLength   = errors.New("protocol: frame too short")
	ErrHeader        = errors.New("protocol: bad damage header")
	ErrTargetID      = errors.New("protocol: bad target id")
	ErrSwitchValue   = errors.New("protocol: bad switch value")
	ErrFlagField     = errors.New("protocol: bad flag field")
	ErrActorID       = errors.New("protocol: bad actor id")
	ErrSkillCode     = errors.New("protocol: implausible skill code")
	ErrDamageType    = errors.New("protocol: bad damage type")
	ErrSpecialFlags  = errors.New("protocol: truncated special flags block")
	ErrUnknownField  = errors.New("protocol: bad unknown field")
	ErrDamage        = errors.New("protocol: bad damage amount")
	ErrSelfDamage    = errors.New("protocol: actor id equals target id")
	ErrNoTarget      = errors.New("protocol: no target entity for pattern decode")
	ErrUnknownDecode = errors.New("protocol: unknown decode failure")
)

// CriticalDamageType is the damage type value of a critical hit.
const CriticalDamageType = 3

// DecodeError reports the field at which a damage decode stopped.
type DecodeError struct {
	Field  string
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s at offset %d: %v", e.Field, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// FailureField returns the field label of a decode error, or "unknown".
func FailureField(err error) string {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Field
	}
	return "unknown"
}

// DamageRecord is one decoded damage event.
type DamageRecord struct {
	TargetID       int          `json:"target_id"`
	ActorID        int          `json:"actor_id"`
	SkillCode      int          `json:"skill_code"`
	DamageType     int          `json:"damage_type"`
	Amount         int64        `json:"amount"`
	IsCritical     bool         `json:"is_critical"`
	IsBackAttack   bool         `json:"is_back_attack"`
	IsParry        bool         `json:"is_parry"`
	IsPerfect      bool         `json:"is_perfect"`
	IsDoubleDamage bool         `json:"is_double_damage"`
	SwitchValue    int          `json:"switch_value"`
	FlagValue      int          `json:"flag_value"`
	UnknownValue   int64        `json:"unknown_value"`
	FlagsOffset    int          `json:"flags_offset"`
	DamageOffset   int          `json:"damage_offset"`
	Candidates     []int64      `json:"candidates,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
	Corrected      bool         `json:"corrected,omitempty"`
	OriginalAmount int64        `json:"original_amount,omitempty"`
	Diagnostics    *Diagnostics `json:"diagnostics,omitempty"`
}

// FieldRange is the byte span [Start, End) of one decoded field.
type FieldRange struct {
	Field string `json:"field"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Diagnostics records where each field sat in the frame. It is only
// populated by readers created with diagnostics enabled.
type Diagnostics struct {
	Ranges []FieldRange `json:"ranges"`
}

func (d *Diagnostics) add(field string, start, end int) {
	if d == nil || end <= start {
		return
	}
	d.Ranges = append(d.Ranges, FieldRange{Field: field, Start: start, End: end})
}

// specialBlockSizes maps a switch value to the size of its special block.
var specialBlockSizes = map[int]int{
	4: 8,
	5: 12,
	6: 10,
	7: 14,
}

// Special block flag bits.
const (
	flagBackAttack   = 0x01
	flagParry        = 0x04
	flagPerfect      = 0x08
	flagDoubleDamage = 0x10
)

// candidateWindowBefore and candidateWindowAfter bound the scan for
// alternative amount varints around the damage field.
const (
	candidateWindowBefore = 8
	candidateWindowAfter  = 4
)

// DamageReader is a forward-only cursor over one damage record.
type DamageReader struct {
	data []byte
	off  int
	diag *Diagnostics
}

// NewDamageReader creates a reader positioned at offset.
func NewDamageReader(data []byte, offset int, withDiagnostics bool) *DamageReader {
	r := &DamageReader{data: data, off: offset}
	if withDiagnostics {
		r.diag = &Diagnostics{}
	}
	return r
}

// Offset returns the number of bytes consumed so far, counted from the
// start of the data.
func (r *DamageReader) Offset() int {
	return r.off
}

// Diagnostics returns the recorded field ranges, or nil.
func (r *DamageReader) Diagnostics() *Diagnostics {
	return r.diag
}

func (r *DamageReader) has(n int) bool {
	return r.off+n <= len(r.data)
}

func (r *DamageReader) fail(field string, err error) error {
	return &DecodeError{Field: field, Offset: r.off, Err: err}
}

// varint reads the varint at the cursor and advances past it.
func (r *DamageReader) varint(field string) (int, bool) {
	v, n := ReadVarint(r.data, r.off)
	if n <= 0 {
		return 0, false
	}
	r.diag.add(field, r.off, r.off+n)
	r.off += n
	return v, true
}

// ReadHeader consumes the length prefix and the damage opcode.
func (r *DamageReader) ReadHeader() error {
	if !r.has(1) {
		return r.fail("header", ErrWrongLength)
	}

	_, n := ReadVarint(r.data, 0)
	if n < 0 {
		return r.fail("header", ErrHeader)
	}
	r.diag.add("header", 0, n)
	r.off = n

	if !r.has(2) || r.data[r.off] != OpDamage1 || r.data[r.off+1] != OpDamage2 {
		return r.fail("header", ErrHeader)
	}
	r.diag.add("opcode", r.off, r.off+2)
	r.off += 2

	if !r.has(1) {
		return r.fail("header", ErrHeader)
	}
	return nil
}

// ReadTargetID reads a positive target id.
func (r *DamageReader) ReadTargetID() (int, error) {
	id, ok := r.varint("target")
	if !ok || id <= 0 || !r.has(1) {
		return 0, r.fail("target_id", ErrTargetID)
	}
	return id, nil
}

// ReadBody decodes the fields after the target id into rec.
func (r *DamageReader) ReadBody(rec *DamageRecord) error {
	sw, ok := r.varint("switch")
	if !ok {
		return r.fail("switch_value", ErrSwitchValue)
	}
	sw &= 0x0F
	blockSize, known := specialBlockSizes[sw]
	if !known || !r.has(1) {
		return r.fail("switch_value", ErrSwitchValue)
	}
	rec.SwitchValue = sw

	flag, ok := r.varint("flag")
	if !ok || !r.has(1) {
		return r.fail("flag", ErrFlagField)
	}
	rec.FlagValue = flag

	actor, ok := r.varint("actor")
	if !ok || actor <= 0 {
		return r.fail("actor_id", ErrActorID)
	}
	rec.ActorID = actor

	if !r.has(5) {
		return r.fail("skill_code", ErrSkillCode)
	}
	rec.SkillCode = int(ReadUint32LE(r.data, r.off))
	r.diag.add("skill", r.off, r.off+4)
	r.diag.add("skill_extra", r.off+4, r.off+5)
	r.off += 5
	if !IsReasonableSkillCode(rec.SkillCode) || !r.has(1) {
		return r.fail("skill_code", ErrSkillCode)
	}

	dmgType, ok := r.varint("damage_type")
	if !ok || !r.has(1) {
		return r.fail("damage_type", ErrDamageType)
	}
	rec.DamageType = dmgType
	rec.IsCritical = dmgType == CriticalDamageType

	rec.FlagsOffset = r.off
	if !r.has(blockSize) {
		return r.fail("special_flags", ErrSpecialFlags)
	}
	r.readSpecialBlock(rec, blockSize)
	if !r.has(1) {
		return r.fail("special_flags", ErrSpecialFlags)
	}

	unknown, ok := r.varint("unknown")
	if !ok || !r.has(1) {
		return r.fail("unknown_field", ErrUnknownField)
	}
	rec.UnknownValue = int64(unknown)

	rec.DamageOffset = r.off
	amount, n := ReadVarint(r.data, r.off)
	if n <= 0 {
		return r.fail("damage", ErrDamage)
	}
	r.diag.add("damage", r.off, r.off+n)
	rec.Amount = int64(amount)
	rec.Candidates = scanCandidates(r.data, r.off, n)
	r.off += n

	r.diag.add("leftover", r.off, len(r.data))
	return nil
}

func (r *DamageReader) readSpecialBlock(rec *DamageRecord, size int) {
	start := r.off
	if size == 8 {
		r.diag.add("special_tail", start, start+size)
	} else {
		flags := r.data[start]
		rec.IsBackAttack = flags&flagBackAttack != 0
		rec.IsParry = flags&flagParry != 0
		rec.IsPerfect = flags&flagPerfect != 0
		rec.IsDoubleDamage = flags&flagDoubleDamage != 0
		r.diag.add("flag_byte", start, start+1)
		r.diag.add("special_unknown", start+1, start+2)
		r.diag.add("special_tail", start+2, start+size)
	}
	r.off += size
}

// scanCandidates collects every positive varint in a small window around
// the amount field, skipping the amount's own bytes.
func scanCandidates(data []byte, dmgOff, dmgLen int) []int64 {
	from := dmgOff - candidateWindowBefore
	if from < 0 {
		from = 0
	}
	to := dmgOff + candidateWindowAfter
	if to > len(data)-1 {
		to = len(data) - 1
	}
	ownEnd := dmgOff + dmgLen - 1

	var found []int64
	for i := from; i <= to; {
		if i >= dmgOff && i <= ownEnd {
			i = ownEnd + 1
			continue
		}
		v, n := ReadVarint(data, i)
		if n > 0 && v > 0 {
			found = append(found, int64(v))
			i += n
		} else {
			i++
		}
	}
	return found
}
