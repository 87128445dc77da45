package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aionmeter/aionmeter/internal/capture"
	"github.com/aionmeter/aionmeter/internal/config"
	"github.com/aionmeter/aionmeter/internal/events"
	"github.com/aionmeter/aionmeter/internal/gamedata"
	"github.com/aionmeter/aionmeter/internal/pipeline"
	"github.com/aionmeter/aionmeter/internal/protocol"
)

func newTestCLI(t *testing.T, in string) (*CLI, *bytes.Buffer, *pipeline.Service) {
	t.Helper()
	tables, err := gamedata.Load(filepath.Join("..", "..", "data"))
	if err != nil {
		t.Fatalf("gamedata.Load: %v", err)
	}
	cfg := config.DefaultConfig()
	svc, err := pipeline.NewService(pipeline.Options{
		GameData: tables,
		Protocol: cfg.Protocol,
		Combat:   cfg.Combat,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	frame := protocol.BuildDamageFrame(protocol.DamageFields{
		TargetID:     1234,
		SwitchValue:  4,
		ActorID:      567,
		SkillCode:    11020010,
		DamageType:   3,
		UnknownValue: 77,
		Amount:       15000,
	})
	svc.ProcessPacket(capture.Packet{
		StreamKey: "Client:7777",
		Payload:   append(append([]byte{}, protocol.SyncMarker...), frame...),
		Timestamp: time.Now(),
		Ordered:   true,
	})

	out := &bytes.Buffer{}
	return NewCLI(svc, nil, 10, strings.NewReader(in), out), out, svc
}

func TestExecuteTables(t *testing.T) {
	c, out, _ := newTestCLI(t, "")
	ctx := context.Background()

	cases := []struct {
		line string
		want string
	}{
		{"stats", "15,000"},
		{"skills 567", "Ferocious Strike"},
		{"log 567 5", "crit"},
		{"entities", "Entity_1234"},
		{"status", "damage events"},
		{"help", "skills <player>"},
	}
	for _, tc := range cases {
		out.Reset()
		if err := c.Execute(ctx, tc.line); err != nil {
			t.Fatalf("Execute(%q): %v", tc.line, err)
		}
		if !strings.Contains(out.String(), tc.want) {
			t.Errorf("Execute(%q) output missing %q:\n%s", tc.line, tc.want, out.String())
		}
	}
}

func TestExecuteErrors(t *testing.T) {
	c, _, _ := newTestCLI(t, "")
	ctx := context.Background()

	for _, line := range []string{"skills", "skills abc", "skills 999", "log 567 0", "bogus"} {
		if err := c.Execute(ctx, line); err == nil {
			t.Errorf("Execute(%q) succeeded, want error", line)
		}
	}
	if err := c.Execute(ctx, "   "); err != nil {
		t.Fatalf("blank line: %v", err)
	}
}

func TestExecuteReset(t *testing.T) {
	c, _, svc := newTestCLI(t, "")
	if err := c.Execute(context.Background(), "reset"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n := len(svc.Manager().PlayerStats()); n != 0 {
		t.Fatalf("players after reset = %d", n)
	}
}

func TestQuitEmitsShutdown(t *testing.T) {
	c, _, _ := newTestCLI(t, "")
	bus := events.NewEventBus()
	defer bus.Stop()
	c.eventBus = bus

	got := make(chan string, 1)
	bus.Subscribe(events.EventShutdown, "test", func(_ context.Context, e events.Event) error {
		got <- e.Source
		return nil
	})

	if err := c.Execute(context.Background(), "quit"); err != nil {
		t.Fatalf("quit: %v", err)
	}
	select {
	case src := <-got:
		if src != "cli" {
			t.Fatalf("shutdown source = %q", src)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("shutdown event not emitted")
	}
}

func TestStartReadsUntilEOF(t *testing.T) {
	c, out, _ := newTestCLI(t, "stats\nentities\n")

	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Start did not return at end of input")
	}
	if !strings.Contains(out.String(), "Entity_1234") {
		t.Fatalf("entities output missing:\n%s", out.String())
	}
}

func TestFormatDamage(t *testing.T) {
	cases := map[int64]string{
		0:       "0",
		999:     "999",
		1000:    "1,000",
		15000:   "15,000",
		1234567: "1,234,567",
		-4500:   "-4,500",
	}
	for in, want := range cases {
		if got := formatDamage(in); got != want {
			t.Errorf("formatDamage(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderDecodeRanges(t *testing.T) {
	frame := protocol.BuildDamageFrame(protocol.DamageFields{
		TargetID:     1234,
		SwitchValue:  4,
		ActorID:      567,
		SkillCode:    11020010,
		DamageType:   3,
		UnknownValue: 77,
		Amount:       15000,
	})
	rec, err := protocol.NewDecoder(protocol.DecoderOptions{Diagnostics: true}).DecodeDirect(frame)
	if err != nil {
		t.Fatalf("DecodeDirect: %v", err)
	}

	var out bytes.Buffer
	RenderDecode(&out, frame, rec)
	for _, want := range []string{"actor_id", "567", "15,000", "Bytes"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("decode output missing %q:\n%s", want, out.String())
		}
	}
}
