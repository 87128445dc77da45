package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aionmeter/aionmeter/internal/capture"
	"github.com/aionmeter/aionmeter/internal/config"
	"github.com/aionmeter/aionmeter/internal/db"
	"github.com/aionmeter/aionmeter/internal/events"
	"github.com/aionmeter/aionmeter/internal/gamedata"
	"github.com/aionmeter/aionmeter/internal/protocol"
	"github.com/aionmeter/aionmeter/internal/telemetry"
)

var baseTime = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func loadTables(t *testing.T) *gamedata.Provider {
	t.Helper()
	p, err := gamedata.Load(filepath.Join("..", "..", "data"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return p
}

func newTestService(t *testing.T, mutate func(*Options)) *Service {
	t.Helper()
	cfg := config.DefaultConfig()
	opts := Options{
		GameData: loadTables(t),
		Protocol: cfg.Protocol,
		Combat:   cfg.Combat,
		Metrics:  telemetry.NewMetrics(),
	}
	opts.Protocol.DecodeNicknames = false
	if mutate != nil {
		mutate(&opts)
	}
	s, err := NewService(opts)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return s
}

func gladiatorHit() protocol.DamageFields {
	return protocol.DamageFields{
		TargetID:     1234,
		SwitchValue:  4,
		ActorID:      567,
		SkillCode:    11020010,
		DamageType:   3,
		UnknownValue: 77,
		Amount:       15000,
	}
}

func synced(frames ...[]byte) []byte {
	out := append([]byte{}, protocol.SyncMarker...)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

func ordered(payload []byte, ts time.Time) capture.Packet {
	return capture.Packet{StreamKey: "Client:7777", Payload: payload, Timestamp: ts, Ordered: true}
}

func TestDirectFrameAttributed(t *testing.T) {
	s := newTestService(t, nil)

	s.ProcessPacket(ordered(synced(protocol.BuildDamageFrame(gladiatorHit())), baseTime))

	players := s.Manager().PlayerStats()
	if len(players) != 1 {
		t.Fatalf("got %d players, want 1", len(players))
	}
	p := players[0]
	if p.PlayerID != 567 || p.TotalDamage != 15000 || p.CriticalHits != 1 {
		t.Fatalf("player stats = %+v", p)
	}

	player, ok := s.Tracker().Player(567)
	if !ok || player.Class == nil || player.Class.ID != 11 {
		t.Fatalf("tracked player = %+v", player)
	}
	if _, ok := s.Tracker().Target(1234); !ok {
		t.Fatalf("target not tracked")
	}

	st := s.Stats()
	if st.Damage != 1 || st.Frames["direct_damage"] != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestSplitFrameAcrossPackets(t *testing.T) {
	s := newTestService(t, nil)
	payload := synced(protocol.BuildDamageFrame(gladiatorHit()))

	s.ProcessPacket(ordered(payload[:7], baseTime))
	if s.Stats().Damage != 0 {
		t.Fatalf("partial frame produced damage")
	}
	s.ProcessPacket(ordered(payload[7:], baseTime))
	if s.Stats().Damage != 1 {
		t.Fatalf("frame not completed across packets")
	}
}

func TestSequencerDropsRetransmission(t *testing.T) {
	s := newTestService(t, nil)
	payload := synced(protocol.BuildDamageFrame(gladiatorHit()))

	pkt := capture.Packet{StreamKey: "Client:7777", Seq: 1000, Payload: payload, Timestamp: baseTime}
	s.ProcessPacket(pkt)
	s.ProcessPacket(pkt)

	st := s.Stats()
	if st.Duplicates != 1 || st.Damage != 1 {
		t.Fatalf("duplicates=%d damage=%d", st.Duplicates, st.Damage)
	}
	if got := testutil.ToFloat64(s.opts.Metrics.Duplicates); got != 1 {
		t.Fatalf("duplicate metric = %v", got)
	}
}

func TestLowDamageDropped(t *testing.T) {
	s := newTestService(t, func(o *Options) { o.Protocol.SmallAmountCorrection = false })

	hit := gladiatorHit()
	hit.Amount = 5
	s.ProcessPacket(ordered(synced(protocol.BuildDamageFrame(hit)), baseTime))

	st := s.Stats()
	if st.LowDamage != 1 || st.Damage != 0 {
		t.Fatalf("low=%d damage=%d", st.LowDamage, st.Damage)
	}
}

func TestSmallAmountCorrectedBeforeThreshold(t *testing.T) {
	s := newTestService(t, nil)

	hit := gladiatorHit()
	hit.Amount = 3
	hit.UnknownValue = 2200
	s.ProcessPacket(ordered(synced(protocol.BuildDamageFrame(hit)), baseTime))

	p, ok := s.Manager().Player(567)
	if !ok || p.TotalDamage != 2200 {
		t.Fatalf("corrected damage not attributed: %+v", p)
	}
	if got := testutil.ToFloat64(s.opts.Metrics.Corrections); got != 1 {
		t.Fatalf("corrections = %v", got)
	}
}

func TestUnknownSkillDropped(t *testing.T) {
	s := newTestService(t, nil)

	hit := gladiatorHit()
	hit.SkillCode = 18990000
	s.ProcessPacket(ordered(synced(protocol.BuildDamageFrame(hit)), baseTime))

	st := s.Stats()
	if st.Unresolved != 1 || st.Damage != 0 {
		t.Fatalf("unresolved=%d damage=%d", st.Unresolved, st.Damage)
	}
	if st.Entities.Players != 0 {
		t.Fatalf("unresolved hit created an entity")
	}
}

type memoryJournal struct {
	failures []db.DecodeFailure
}

func (j *memoryJournal) Record(f db.DecodeFailure) error {
	j.failures = append(j.failures, f)
	return nil
}

func TestDecodeFailureJournaled(t *testing.T) {
	journal := &memoryJournal{}
	s := newTestService(t, func(o *Options) { o.Journal = journal })

	hit := gladiatorHit()
	hit.SwitchValue = 9
	s.ProcessPacket(ordered(synced(protocol.BuildDamageFrame(hit)), baseTime))

	if len(journal.failures) != 1 {
		t.Fatalf("journaled %d failures, want 1", len(journal.failures))
	}
	f := journal.failures[0]
	if f.Field != "switch_value" || f.Kind != pathDirect || f.Stream != "Client:7777" {
		t.Fatalf("failure = %+v", f)
	}
	if got := testutil.ToFloat64(s.opts.Metrics.DecodeFailures.WithLabelValues("switch_value")); got != 1 {
		t.Fatalf("failure metric = %v", got)
	}
}

func TestBatchWithPatternRemainder(t *testing.T) {
	s := newTestService(t, nil)

	// The first hit teaches the tracker the actor's class and a target.
	s.ProcessPacket(ordered(synced(protocol.BuildDamageFrame(gladiatorHit())), baseTime))

	embedded := gladiatorHit()
	embedded.SwitchValue = 5
	embedded.Amount = 4321
	body := protocol.NewFrameBuilder().
		WriteBytes([]byte{protocol.OpBatch, protocol.OpBatch, 0x11, 0x22}).
		WriteDamageBody(embedded).
		Bytes()

	second := gladiatorHit()
	second.Amount = 1000
	direct := protocol.BuildDamageFrame(second)

	batch := protocol.PrefixFrame(append(append([]byte{}, body...), direct...))
	s.ProcessPacket(ordered(batch, baseTime.Add(time.Second)))

	p, ok := s.Manager().Player(567)
	if !ok {
		t.Fatalf("player missing")
	}
	if p.TotalDamage != 15000+4321+1000 {
		t.Fatalf("total = %d, want %d", p.TotalDamage, 15000+4321+1000)
	}
	if s.Stats().Frames["batch_damage"] != 1 {
		t.Fatalf("batch frame not classified")
	}
}

func TestNicknameRenamesPlayer(t *testing.T) {
	s := newTestService(t, func(o *Options) { o.Protocol.DecodeNicknames = true })
	s.ProcessPacket(ordered(synced(protocol.BuildDamageFrame(gladiatorHit())), baseTime))

	name := []byte{0xB7, 0x04, 0x10, 0x10, 0x10, 0x01, 0x07, 0x05}
	name = append(name, []byte("Hello")...)
	frame := protocol.PrefixFrame(append([]byte{0x10, 0x10}, name...))
	s.ProcessPacket(ordered(frame, baseTime))

	player, _ := s.Tracker().Player(567)
	if player.Name != "Hello" {
		t.Fatalf("player name = %q", player.Name)
	}
	p, _ := s.Manager().Player(567)
	if p.PlayerName != "Hello" {
		t.Fatalf("session name = %q", p.PlayerName)
	}
	if player.Class == nil || player.Class.ID != 11 {
		t.Fatalf("rename lost the class")
	}
}

func TestResetClearsState(t *testing.T) {
	s := newTestService(t, nil)
	s.ProcessPacket(ordered(synced(protocol.BuildDamageFrame(gladiatorHit())), baseTime))

	s.Reset()

	if len(s.Manager().PlayerStats()) != 0 {
		t.Fatalf("sessions survived reset")
	}
	if c := s.Tracker().Counts(); c.Players != 0 || c.Targets != 0 {
		t.Fatalf("entities survived reset: %+v", c)
	}
	if len(s.Stats().Streams) != 0 {
		t.Fatalf("streams survived reset")
	}
}

func writeReplay(t *testing.T, payloads ...[]byte) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("# test capture\n")
	for i, p := range payloads {
		ts := baseTime.Add(time.Duration(i) * time.Second).Format(time.RFC3339Nano)
		fmt.Fprintf(&b, "%s|Client:7777|%X\n", ts, p)
	}
	path := filepath.Join(t.TempDir(), "capture.log")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStartReplayToCompletion(t *testing.T) {
	second := gladiatorHit()
	second.Amount = 2500
	path := writeReplay(t,
		synced(protocol.BuildDamageFrame(gladiatorHit())),
		protocol.BuildDamageFrame(second),
	)

	bus := events.NewEventBus()
	defer bus.Stop()
	stopped := make(chan events.CapturePayload, 1)
	bus.Subscribe(events.EventCaptureStopped, "test", func(ctx context.Context, e events.Event) error {
		stopped <- e.Payload.(events.CapturePayload)
		return nil
	})

	s := newTestService(t, func(o *Options) {
		o.Source = capture.NewReplaySource(capture.ReplayConfig{File: path})
		o.BlockOnFull = true
		o.QueueSize = 1
		o.Bus = bus
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v", err)
	}
	if err := s.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	p, ok := s.Manager().Player(567)
	if !ok || p.TotalDamage != 17500 {
		t.Fatalf("player = %+v", p)
	}
	if s.Running() {
		t.Fatalf("still running after the replay ended")
	}

	select {
	case payload := <-stopped:
		if payload.Error != "" {
			t.Fatalf("stop payload error = %q", payload.Error)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("capture_stopped not emitted")
	}

	if err := s.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Stop after completion = %v", err)
	}
}

type blockingSource struct{}

func (blockingSource) Name() string { return "blocking" }

func (blockingSource) Run(ctx context.Context, out func(capture.Packet)) error {
	<-ctx.Done()
	return nil
}

func TestStopCancelsSource(t *testing.T) {
	s := newTestService(t, func(o *Options) { o.Source = blockingSource{} })

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.Running() {
		t.Fatalf("not running after Start")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Running() {
		t.Fatalf("running after Stop")
	}
}

func TestStartWithoutSource(t *testing.T) {
	s := newTestService(t, nil)
	if err := s.Start(context.Background()); !errors.Is(err, ErrNoSource) {
		t.Fatalf("Start = %v", err)
	}
}

func TestNewServiceRequiresTables(t *testing.T) {
	if _, err := NewService(Options{}); err == nil {
		t.Fatalf("NewService without tables succeeded")
	}
}
