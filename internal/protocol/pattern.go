package protocol

// PatternActor is a known player entity the pattern scanner searches for.
type PatternActor struct {
	ID      int
	ClassID int
}

// SkillClassifier answers reference-table questions for the pattern scanner.
type SkillClassifier interface {
	// SkillClassID returns the owning class id of a known skill code.
	SkillClassID(code int) (int, bool)
}

// PatternScanner recovers damage records from remainder segments by
// locating a known actor id followed by a skill code of that actor's class.
type PatternScanner struct {
	decoder *Decoder
	skills  SkillClassifier
}

// NewPatternScanner creates a scanner that decodes hits with decoder.
func NewPatternScanner(decoder *Decoder, skills SkillClassifier) *PatternScanner {
	return &PatternScanner{decoder: decoder, skills: skills}
}

// PatternResult collects the outcome of one segment scan.
type PatternResult struct {
	Records  []*DamageRecord
	Failures []error
}

// Scan searches segment for every actor. Decoded records are attributed to
// targetID since remainder segments carry no target field.
func (p *PatternScanner) Scan(segment []byte, actors []PatternActor, targetID int) PatternResult {
	var result PatternResult
	if len(segment) == 0 || targetID <= 0 {
		return result
	}

	for _, actor := range actors {
		if actor.ID <= 0 || actor.ClassID == 0 {
			continue
		}
		p.scanActor(segment, actor, targetID, &result)
	}
	return result
}

func (p *PatternScanner) scanActor(segment []byte, actor PatternActor, targetID int, result *PatternResult) {
	idBytes := EncodeVarint(uint32(actor.ID))

	for from := 0; from < len(segment); {
		idx := p.findActor(segment, idBytes, from, actor.ClassID)
		// The switch value and flag field must fit between the previous
		// hit and this one.
		if idx < 0 || idx-from < 2 {
			return
		}

		rec, err := p.decoder.DecodeAt(segment, idx, targetID)
		if err != nil {
			result.Failures = append(result.Failures, err)
		} else {
			result.Records = append(result.Records, rec)
		}

		from = idx + 4
	}
}

// findActor returns the first index at or after from where idBytes is
// followed by a plausible skill code owned by classID. Only the first
// occurrence of idBytes is considered, matching a scan that restarts from
// the previous hit.
func (p *PatternScanner) findActor(segment, idBytes []byte, from, classID int) int {
	idx := IndexFrom(segment, idBytes, from)
	if idx < 0 {
		return -1
	}

	code := int(ReadUint32LE(segment, idx+len(idBytes)))
	if !IsReasonableSkillCode(code) {
		return -1
	}

	skillClass, ok := p.skills.SkillClassID(code)
	if !ok || skillClass != classID {
		return -1
	}
	return idx
}
