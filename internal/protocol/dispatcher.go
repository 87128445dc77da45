package protocol

import (
	"sort"
)

// Classify reads the length prefix and the two-byte type tag after it.
func Classify(data []byte) FrameKind {
	_, n := ReadVarint(data, 0)
	if n < 0 || len(data) < n+2 {
		return FrameMalformed
	}

	switch {
	case data[n] == OpDamage1 && data[n+1] == OpDamage2:
		return FrameDirectDamage
	case data[n] == OpBatch && data[n+1] == OpBatch:
		return FrameBatchDamage
	default:
		return FrameUnknown
	}
}

// BatchResult holds the sub-frames found inside a batch frame and the
// uncovered byte ranges between them.
type BatchResult struct {
	Frames     [][]byte
	Remainders [][]byte
}

type subFrame struct {
	start  int
	length int
}

// ExtractBatch scans data for embedded damage records. Every DamageSignature
// hit is a candidate whose varint length prefix is recovered by walking
// backward over continuation bytes. Valid, non-overlapping candidates are
// returned in offset order; the bytes not covered by any of them become
// remainder segments.
func ExtractBatch(data []byte) BatchResult {
	var result BatchResult
	if len(data) == 0 {
		return result
	}

	var candidates []subFrame
	for i := IndexFrom(data, DamageSignature, 0); i >= 0; i = IndexFrom(data, DamageSignature, i+1) {
		start := findLengthStart(data, i)
		if start < 0 {
			continue
		}

		value, n := ReadVarint(data, start)
		if n < 0 {
			continue
		}

		length := value + n - LengthBias
		if length > 0 && start+length <= len(data) {
			candidates = append(candidates, subFrame{start: start, length: length})
		}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].start < candidates[b].start
	})

	pos := 0
	for _, c := range candidates {
		if c.start < pos {
			continue
		}
		if c.start > pos {
			result.Remainders = append(result.Remainders, clone(data[pos:c.start]))
		}
		result.Frames = append(result.Frames, clone(data[c.start:c.start+c.length]))
		pos = c.start + c.length
	}

	if pos < len(data) {
		result.Remainders = append(result.Remainders, clone(data[pos:]))
	}

	return result
}

// findLengthStart walks back from the byte before a signature hit to the
// first byte of its varint prefix. The terminating prefix byte has no
// continuation bit; earlier ones do.
func findLengthStart(data []byte, sigIndex int) int {
	if sigIndex <= 0 {
		return -1
	}

	last := sigIndex - 1
	if data[last]&0x80 != 0 {
		return -1
	}

	start := last
	for start > 0 && last-start+1 < MaxVarintLen && data[start-1]&0x80 != 0 {
		start--
	}
	return start
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
