package protocol

import (
	"bytes"
	"testing"
)

func sampleFields() DamageFields {
	return DamageFields{
		TargetID:     1234,
		SwitchValue:  4,
		Flag:         0,
		ActorID:      567,
		SkillCode:    11020010,
		DamageType:   3,
		UnknownValue: 77,
		Amount:       15000,
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want FrameKind
	}{
		{"direct", BuildDamageFrame(sampleFields()), FrameDirectDamage},
		{"batch", PrefixFrame([]byte{0xFF, 0xFF, 0x01}), FrameBatchDamage},
		{"unknown", PrefixFrame([]byte{0x01, 0x02, 0x03}), FrameUnknown},
		{"short", []byte{0x05, 0x04}, FrameMalformed},
		{"bad prefix", []byte{0x80, 0x80}, FrameMalformed},
	}
	for _, tc := range cases {
		if got := Classify(tc.data); got != tc.want {
			t.Errorf("%s: Classify = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestExtractBatchFramesAndRemainders(t *testing.T) {
	a := BuildDamageFrame(sampleFields())
	second := sampleFields()
	second.ActorID = 890
	second.Amount = 4200
	b := BuildDamageFrame(second)

	var body []byte
	body = append(body, OpBatch, OpBatch, 0x11, 0x22)
	body = append(body, a...)
	body = append(body, 0x33)
	body = append(body, b...)
	body = append(body, 0x44, 0x55)
	outer := PrefixFrame(body)

	result := ExtractBatch(outer)
	if len(result.Frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(result.Frames))
	}
	if !bytes.Equal(result.Frames[0], a) || !bytes.Equal(result.Frames[1], b) {
		t.Fatalf("extracted frames mismatch")
	}

	wantRemainders := [][]byte{
		append(append([]byte{}, outer[0]), OpBatch, OpBatch, 0x11, 0x22),
		{0x33},
		{0x44, 0x55},
	}
	if len(result.Remainders) != len(wantRemainders) {
		t.Fatalf("got %d remainders, want %d", len(result.Remainders), len(wantRemainders))
	}
	for i, want := range wantRemainders {
		if !bytes.Equal(result.Remainders[i], want) {
			t.Fatalf("remainder %d = %x, want %x", i, result.Remainders[i], want)
		}
	}
}

func TestExtractBatchSkipsOverlappingCandidates(t *testing.T) {
	inner := BuildDamageFrame(sampleFields())
	wrapper := PrefixFrame(append([]byte{OpDamage1, OpDamage2, 0x01}, inner...))
	data := append([]byte{0x00}, wrapper...)

	result := ExtractBatch(data)
	if len(result.Frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(result.Frames))
	}
	if !bytes.Equal(result.Frames[0], wrapper) {
		t.Fatalf("expected the outer candidate to win")
	}
	if len(result.Remainders) != 1 || !bytes.Equal(result.Remainders[0], []byte{0x00}) {
		t.Fatalf("remainders = %x, want [00]", result.Remainders)
	}
}

func TestExtractBatchRejectsContinuationBeforeSignature(t *testing.T) {
	data := []byte{0x11, 0x85, 0x04, 0x38, 0x00}
	result := ExtractBatch(data)
	if len(result.Frames) != 0 {
		t.Fatalf("got %d frames, want 0", len(result.Frames))
	}
	if len(result.Remainders) != 1 || !bytes.Equal(result.Remainders[0], data) {
		t.Fatalf("whole input should be a remainder")
	}
}

func TestFindLengthStartMultiBytePrefix(t *testing.T) {
	data := []byte{0x00, 0x90, 0x01, 0x04, 0x38}
	if got := findLengthStart(data, 3); got != 1 {
		t.Fatalf("findLengthStart = %d, want 1", got)
	}
	if got := findLengthStart(data, 0); got != -1 {
		t.Fatalf("findLengthStart at 0 = %d, want -1", got)
	}
}
