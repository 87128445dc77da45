package protocol

import (
	"regexp"
	"unicode/utf8"
)

// Nickname is a display name bound to a player entity id.
type Nickname struct {
	EntityID int
	Name     string
}

type nicknamePattern struct {
	headerOffset int
	marker1      byte
	marker2      int // -1 when the pattern has a single marker byte
	nameOffset   int
}

var nicknamePatterns = []nicknamePattern{
	{headerOffset: 3, marker1: 0x01, marker2: 0x07, nameOffset: 6},
	{headerOffset: 1, marker1: 0x00, marker2: -1, nameOffset: 3},
	{headerOffset: 3, marker1: 0x00, marker2: 0x07, nameOffset: 6},
}

var (
	validNickname  = regexp.MustCompile(`^[가-힣a-zA-Z0-9\x{4e00}-\x{9fa5}]+$`)
	digitsOnly     = regexp.MustCompile(`^[0-9]+$`)
	singleASCIIAlp = regexp.MustCompile(`^[A-Za-z]$`)
)

// CanCarryNickname reports whether a frame may hold name records: its
// declared length runs past the frame and it is not a batch frame.
func CanCarryNickname(data []byte) bool {
	value, n := ReadVarint(data, 0)
	if n < 0 || value <= len(data) {
		return false
	}
	return len(data) < 4 || data[2] != OpBatch || data[3] != OpBatch
}

// DecodeNicknames scans every offset of data for an entity id followed by
// one of the known name record layouts.
func DecodeNicknames(data []byte) []Nickname {
	var names []Nickname

	for offset := 0; offset < len(data); offset++ {
		id, n := ReadVarint(data, offset)
		if n < 0 {
			break
		}
		inner := offset + n

		for _, p := range nicknamePatterns {
			if name, ok := p.match(data, inner); ok {
				names = append(names, Nickname{EntityID: id, Name: name})
			}
		}
	}
	return names
}

func (p nicknamePattern) match(data []byte, inner int) (string, bool) {
	markerIdx := inner + p.headerOffset
	lengthIdx := markerIdx + 2
	if lengthIdx >= len(data) {
		return "", false
	}

	if data[markerIdx] != p.marker1 {
		return "", false
	}
	if p.marker2 >= 0 && data[markerIdx+1] != byte(p.marker2) {
		return "", false
	}

	nameLen := int(data[lengthIdx])
	if nameLen == 0 {
		return "", false
	}

	start := inner + p.nameOffset
	if start+nameLen > len(data) {
		return "", false
	}

	raw := data[start : start+nameLen]
	if !utf8.Valid(raw) {
		return "", false
	}

	name := string(raw)
	if !IsLikelyNickname(name) {
		return "", false
	}
	return name, true
}

// IsLikelyNickname accepts Hangul, Latin letters, digits and CJK ideographs,
// rejecting all-digit names and single Latin letters.
func IsLikelyNickname(name string) bool {
	if name == "" {
		return false
	}
	if !validNickname.MatchString(name) {
		return false
	}
	if digitsOnly.MatchString(name) || singleASCIIAlp.MatchString(name) {
		return false
	}
	return true
}
