package main

import (
	"context"
	"errors"
	"testing"
)

func TestParseHexFrame(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"0a0438", 3, true},
		{"0A 04 38", 3, true},
		{"0a-04-38", 3, true},
		{"0x0a0438", 3, true},
		{"zz", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		data, err := parseHexFrame(tc.in)
		if tc.ok != (err == nil) {
			t.Errorf("parseHexFrame(%q) err = %v", tc.in, err)
			continue
		}
		if len(data) != tc.want {
			t.Errorf("parseHexFrame(%q) = %d bytes, want %d", tc.in, len(data), tc.want)
		}
	}
}

func TestStartWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := startWithRetry(ctx, "test", func(context.Context) error {
		calls++
		cancel()
		return errors.New("bind failed")
	}, 3)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
