package protocol

import (
	"math"
	"testing"
)

func TestVarintRoundTrip(t *testing.T) {
	values := []uint32{0, 1, 127, 128, 255, 300, 16383, 16384, 1<<21 - 1, 1 << 21, 1<<28 - 1, 1 << 28, math.MaxUint32}
	for _, v := range values {
		enc := EncodeVarint(v)
		got, n := ReadVarint(enc, 0)
		if n != len(enc) {
			t.Fatalf("value %d: read %d bytes, encoded %d", v, n, len(enc))
		}
		if uint32(got) != v {
			t.Fatalf("value %d: decoded %d", v, got)
		}
	}
}

func TestVarintBoundaryWidths(t *testing.T) {
	cases := []struct {
		value uint32
		width int
	}{
		{0, 1},
		{127, 1},
		{128, 2},
		{1<<28 - 1, 4},
		{1 << 28, 5},
	}
	for _, tc := range cases {
		if got := len(EncodeVarint(tc.value)); got != tc.width {
			t.Errorf("EncodeVarint(%d) width = %d, want %d", tc.value, got, tc.width)
		}
	}
}

func TestReadVarintAtOffset(t *testing.T) {
	data := []byte{0xFF, 0xAC, 0x02, 0x01}
	v, n := ReadVarint(data, 1)
	if v != 300 || n != 2 {
		t.Fatalf("ReadVarint = (%d, %d), want (300, 2)", v, n)
	}
}

func TestReadVarintTruncated(t *testing.T) {
	for _, data := range [][]byte{nil, {0x80}, {0xFF, 0xFF}} {
		if v, n := ReadVarint(data, 0); v != -1 || n != -1 {
			t.Fatalf("ReadVarint(%x) = (%d, %d), want (-1, -1)", data, v, n)
		}
	}
}

func TestReadVarintTooLong(t *testing.T) {
	data := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}
	if _, n := ReadVarint(data, 0); n != -1 {
		t.Fatalf("expected overlong varint to fail, read %d bytes", n)
	}
}

func TestReadUint32LE(t *testing.T) {
	data := []byte{0x00, 0xEA, 0x26, 0xA8, 0x00}
	if got := ReadUint32LE(data, 1); got != 11020010 {
		t.Fatalf("ReadUint32LE = %d, want 11020010", got)
	}
	if got := ReadUint32LE(data, 2); got != 0 {
		t.Fatalf("out of range read = %d, want 0", got)
	}
	if got := ReadUint32LE(data, -1); got != 0 {
		t.Fatalf("negative offset read = %d, want 0", got)
	}
}

func TestIndexFrom(t *testing.T) {
	data := []byte{0x04, 0x38, 0x00, 0x04, 0x38}
	if got := IndexFrom(data, DamageSignature, 0); got != 0 {
		t.Fatalf("first index = %d, want 0", got)
	}
	if got := IndexFrom(data, DamageSignature, 1); got != 3 {
		t.Fatalf("second index = %d, want 3", got)
	}
	if got := IndexFrom(data, DamageSignature, 4); got != -1 {
		t.Fatalf("index past last hit = %d, want -1", got)
	}
	if got := IndexFrom(data, nil, 0); got != -1 {
		t.Fatalf("empty pattern index = %d, want -1", got)
	}
}

func TestIsReasonableSkillCode(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{100000, true},
		{199999, true},
		{200000, true}, // 200000 - 10 is a pet code
		{200500, false},
		{11000000, true},
		{18999999, true},
		{19000100, true},
		{19000500, false},
		{5, false},
		{99999, false},
	}
	for _, tc := range cases {
		if got := IsReasonableSkillCode(tc.code); got != tc.want {
			t.Errorf("IsReasonableSkillCode(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}
