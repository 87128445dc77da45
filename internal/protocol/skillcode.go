package protocol

// Skill code ranges observed on the wire.
const (
	petSkillMin    = 100_000
	petSkillMax    = 200_000
	playerSkillMin = 11_000_000
	playerSkillMax = 19_000_000
)

// SkillCodeOffsets are the variant offsets added to canonical skill codes.
var SkillCodeOffsets = []int{0, 10, 20, 30, 40, 50, 120, 130, 140, 150, 230, 240, 250, 340, 350, 450}

func inSkillRange(code int) bool {
	return (code >= petSkillMin && code < petSkillMax) ||
		(code >= playerSkillMin && code < playerSkillMax)
}

// IsReasonableSkillCode reports whether code, or code minus one of the known
// variant offsets, falls in a pet or player skill range.
func IsReasonableSkillCode(code int) bool {
	if inSkillRange(code) {
		return true
	}
	for _, off := range SkillCodeOffsets {
		if inSkillRange(code - off) {
			return true
		}
	}
	return false
}
