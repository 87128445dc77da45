package capture

import "testing"

func TestPortDetectorLocksAfterThreshold(t *testing.T) {
	d := NewPortDetector(3)
	beat := []byte{0x10, 0x06, 0x00, 0x36, 0x20}

	for i := 0; i < 2; i++ {
		if _, ok := d.Observe(7777, beat); ok {
			t.Fatalf("locked after %d hits", i+1)
		}
	}
	if _, ok := d.Observe(8888, beat); ok {
		t.Fatalf("other port locked early")
	}
	port, ok := d.Observe(7777, beat)
	if !ok || port != 7777 || d.Port() != 7777 {
		t.Fatalf("detect = %d, %v", port, ok)
	}

	if _, ok := d.Observe(7777, beat); ok {
		t.Fatalf("detector reported a second lock")
	}

	d.Reset()
	if d.Port() != 0 {
		t.Fatalf("reset kept port %d", d.Port())
	}
}

func TestPortDetectorIgnoresOtherPayloads(t *testing.T) {
	d := NewPortDetector(1)
	if _, ok := d.Observe(7777, []byte{0x06, 0x00}); ok {
		t.Fatalf("short payload locked")
	}
	if _, ok := d.Observe(7777, []byte{0x01, 0x02, 0x03, 0x04}); ok {
		t.Fatalf("payload without heartbeat locked")
	}
}

func TestGameFilter(t *testing.T) {
	if got := GameFilter(7777); got != "tcp src port 7777" {
		t.Fatalf("GameFilter = %q", got)
	}
}
