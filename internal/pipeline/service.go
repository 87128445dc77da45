// Package pipeline wires a capture source through sequencing, framing,
// decoding and entity tracking into the combat manager.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aionmeter/aionmeter/internal/capture"
	"github.com/aionmeter/aionmeter/internal/combat"
	"github.com/aionmeter/aionmeter/internal/config"
	"github.com/aionmeter/aionmeter/internal/db"
	"github.com/aionmeter/aionmeter/internal/entity"
	"github.com/aionmeter/aionmeter/internal/events"
	"github.com/aionmeter/aionmeter/internal/gamedata"
	"github.com/aionmeter/aionmeter/internal/protocol"
	"github.com/aionmeter/aionmeter/internal/telemetry"
	"github.com/aionmeter/aionmeter/internal/util"
)

// StatsInterval is how often the consumer logs queue and stream state.
const StatsInterval = 5 * time.Second

var (
	ErrAlreadyRunning = errors.New("pipeline already running")
	ErrNotRunning     = errors.New("pipeline not running")
	ErrNoSource       = errors.New("no capture source configured")
)

// FailureJournal persists decode failures.
type FailureJournal interface {
	Record(f db.DecodeFailure) error
}

// Options configures a Service. GameData is required; everything else has
// a usable zero value.
type Options struct {
	Source   capture.Source
	GameData *gamedata.Provider
	Protocol config.ProtocolConfig
	Combat   config.CombatConfig

	QueueSize int
	// BlockOnFull makes the producer wait for queue space instead of
	// dropping. Used for replays, where the input can be read faster than
	// it is decoded.
	BlockOnFull bool

	Bus      *events.EventBus
	Metrics  *telemetry.Metrics
	Journal  FailureJournal
	Recorder *capture.Recorder
}

// Stats is a point-in-time view of the pipeline.
type Stats struct {
	Running        bool                  `json:"running"`
	Source         string                `json:"source"`
	StartedAt      time.Time             `json:"started_at,omitempty"`
	Packets        uint64                `json:"packets"`
	Duplicates     uint64                `json:"duplicates"`
	Gaps           uint64                `json:"gaps"`
	Frames         map[string]uint64     `json:"frames"`
	DecodeFailures uint64                `json:"decode_failures"`
	LowDamage      uint64                `json:"low_damage"`
	Unresolved     uint64                `json:"unresolved"`
	Damage         uint64                `json:"damage_events"`
	Rejected       uint64                `json:"rejected"`
	Nicknames      uint64                `json:"nicknames"`
	Queue          capture.QueueStats    `json:"queue"`
	Streams        []protocol.StreamInfo `json:"streams"`
	Entities       entity.Counts         `json:"entities"`
	LastError      string                `json:"last_error,omitempty"`
}

type counters struct {
	packets        atomic.Uint64
	duplicates     atomic.Uint64
	gaps           atomic.Uint64
	frames         [protocol.FrameUnknown + 1]atomic.Uint64
	decodeFailures atomic.Uint64
	lowDamage      atomic.Uint64
	unresolved     atomic.Uint64
	damage         atomic.Uint64
	rejected       atomic.Uint64
	nicknames      atomic.Uint64
}

// Service owns one capture-to-statistics pipeline.
type Service struct {
	opts   Options
	logger zerolog.Logger

	gamedata  *gamedata.Provider
	decoder   *protocol.Decoder
	scanner   *protocol.PatternScanner
	corrector protocol.Corrector
	sequencer *capture.Sequencer
	streams   *protocol.StreamBuffers
	tracker   *entity.Tracker
	manager   *combat.Manager
	queue     *capture.Queue

	// now is the timestamp of the packet being processed. It is only
	// touched by the consumer goroutine.
	now time.Time

	counters counters

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	lastErr   error
}

// NewService builds the pipeline stages. It does not start capturing.
func NewService(opts Options) (*Service, error) {
	if opts.GameData == nil {
		return nil, fmt.Errorf("failed to create pipeline: reference tables not loaded")
	}

	s := &Service{
		opts:     opts,
		logger:   util.ComponentLogger("pipeline"),
		gamedata: opts.GameData,
		tracker:  entity.NewTracker(),
	}

	s.decoder = protocol.NewDecoder(protocol.DecoderOptions{
		Diagnostics: opts.Protocol.Diagnostics,
		Clock:       s.clock,
	})
	s.scanner = protocol.NewPatternScanner(s.decoder, opts.GameData)
	if opts.Protocol.SmallAmountCorrection {
		s.corrector = protocol.CorrectorChain{protocol.NewSmallAmountCorrector()}
	}

	var seqObserver capture.SequencerObserver = countingObserver{s: s}
	var frameObserver protocol.FramerObserver
	if opts.Metrics != nil {
		seqObserver = countingObserver{s: s, next: opts.Metrics}
		frameObserver = opts.Metrics
	}
	s.sequencer = capture.NewSequencer(seqObserver)
	s.streams = protocol.NewStreamBuffers(frameObserver)

	s.manager = combat.NewManager(combat.Config{
		HardIdle:           time.Duration(opts.Combat.HardIdleSec) * time.Second,
		SoftIdle:           time.Duration(opts.Combat.SoftIdleSec) * time.Second,
		SanityLimit:        opts.Combat.SanityLimit,
		AdaptiveValidation: opts.Combat.AdaptiveValidation,
	}, s)

	var onDrop func()
	if opts.Metrics != nil {
		onDrop = opts.Metrics.Dropped.Inc
	}
	s.queue = capture.NewQueue(opts.QueueSize, onDrop)

	return s, nil
}

func (s *Service) clock() time.Time {
	if s.now.IsZero() {
		return time.Now()
	}
	return s.now
}

// Manager returns the combat manager for read access.
func (s *Service) Manager() *combat.Manager {
	return s.manager
}

// Tracker returns the entity tracker for read access.
func (s *Service) Tracker() *entity.Tracker {
	return s.tracker
}

// GameData returns the reference tables.
func (s *Service) GameData() *gamedata.Provider {
	return s.gamedata
}

// SetSource replaces the capture source. It takes effect on the next Start.
func (s *Service) SetSource(source capture.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.Source = source
}

// Running reports whether a capture is in progress.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start launches the capture source and the consumer. It returns once both
// goroutines are running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	if s.opts.Source == nil {
		return ErrNoSource
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.startedAt = time.Now()
	s.lastErr = nil

	source := s.opts.Source
	go s.run(runCtx, source, s.done)

	s.emit(events.EventCaptureStarted, events.CapturePayload{Source: source.Name()})
	s.logger.Info().Str("source", source.Name()).Msg("pipeline started")
	return nil
}

// Stop cancels the capture and waits for the consumer to exit.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Wait blocks until the current run ends, either because the source was
// exhausted and the queue drained or because Stop was called. It returns
// the source error, if any.
func (s *Service) Wait() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return ErrNotRunning
	}
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Reset clears stream state, entities and the combat window. It is safe to
// call while running.
func (s *Service) Reset() {
	s.streams.Clear()
	s.sequencer.Reset()
	s.tracker.Clear()
	s.manager.Reset()
	s.logger.Info().Msg("pipeline reset")
}

func (s *Service) run(ctx context.Context, source capture.Source, done chan struct{}) {
	popCtx, stopPop := context.WithCancel(ctx)
	defer stopPop()

	var srcErr error
	srcDone := make(chan struct{})
	go func() {
		defer close(srcDone)
		srcErr = source.Run(ctx, s.enqueue(ctx))
		stopPop()
	}()

	statsDone := make(chan struct{})
	go s.statsLoop(popCtx, statsDone)

	for {
		pkt, ok := s.queue.Pop(popCtx)
		if !ok {
			break
		}
		s.ProcessPacket(pkt)
	}

	<-srcDone
	<-statsDone

	// The source finished on its own: decode whatever it left queued.
	if ctx.Err() == nil {
		for {
			pkt, ok := s.queue.TryPop()
			if !ok {
				break
			}
			s.ProcessPacket(pkt)
		}
	} else {
		s.queue.Drain()
	}

	s.logStats()

	s.mu.Lock()
	s.running = false
	s.lastErr = srcErr
	s.mu.Unlock()

	payload := events.CapturePayload{Source: source.Name()}
	if srcErr != nil {
		payload.Error = srcErr.Error()
		s.logger.Error().Err(srcErr).Str("source", source.Name()).Msg("capture source failed")
	}
	s.emit(events.EventCaptureStopped, payload)
	s.logger.Info().Str("source", source.Name()).Msg("pipeline stopped")

	close(done)
}

func (s *Service) enqueue(ctx context.Context) func(capture.Packet) {
	return func(pkt capture.Packet) {
		if s.opts.Metrics != nil {
			s.opts.Metrics.Packets.Inc()
		}
		if s.opts.BlockOnFull {
			s.queue.Push(ctx, pkt)
			return
		}
		if err := s.queue.TryPush(pkt); err != nil {
			s.logger.Debug().Err(err).Str("stream", pkt.StreamKey).Msg("packet dropped")
		}
	}
}

func (s *Service) statsLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logStats()
		}
	}
}

func (s *Service) logStats() {
	q := s.queue.Stats()
	active := s.streams.ActiveStreams()
	counts := s.tracker.Counts()

	if m := s.opts.Metrics; m != nil {
		m.QueueDepth.Set(float64(q.Depth))
		m.ActiveStreams.Set(float64(active))
		m.CombatPlayers.Set(float64(s.manager.Summary().Players))
	}

	s.logger.Info().
		Int("queue_depth", q.Depth).
		Uint64("queue_dropped", q.Dropped).
		Int("streams", active).
		Uint64("packets", s.counters.packets.Load()).
		Uint64("damage_events", s.counters.damage.Load()).
		Uint64("decode_failures", s.counters.decodeFailures.Load()).
		Int("players", counts.Players).
		Int("targets", counts.Targets).
		Msg("pipeline stats")
}

// Stats returns a snapshot of counters and stream state.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		Running:   s.running,
		StartedAt: s.startedAt,
	}
	if s.opts.Source != nil {
		st.Source = s.opts.Source.Name()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	c := &s.counters
	st.Packets = c.packets.Load()
	st.Duplicates = c.duplicates.Load()
	st.Gaps = c.gaps.Load()
	st.DecodeFailures = c.decodeFailures.Load()
	st.LowDamage = c.lowDamage.Load()
	st.Unresolved = c.unresolved.Load()
	st.Damage = c.damage.Load()
	st.Rejected = c.rejected.Load()
	st.Nicknames = c.nicknames.Load()

	st.Frames = make(map[string]uint64, len(c.frames))
	for kind := range c.frames {
		st.Frames[protocol.FrameKind(kind).String()] = c.frames[kind].Load()
	}

	st.Queue = s.queue.Stats()
	st.Streams = s.streams.Snapshot()
	st.Entities = s.tracker.Counts()
	return st
}

func (s *Service) emit(t events.EventType, payload interface{}) {
	if s.opts.Bus == nil {
		return
	}
	s.opts.Bus.Emit(context.Background(), events.Event{Type: t, Source: "pipeline", Payload: payload})
}

// OnCombatReset implements combat.Observer.
func (s *Service) OnCombatReset(final combat.Summary, reason combat.ResetReason) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.CombatResets.WithLabelValues(string(reason)).Inc()
	}
	s.emit(events.EventCombatReset, events.CombatResetPayload{Final: final, Reason: reason})
}

// OnDamageRejected implements combat.Observer.
func (s *Service) OnDamageRejected(ev combat.DamageEvent, err error) {
	s.counters.rejected.Add(1)
	if s.opts.Metrics != nil {
		s.opts.Metrics.Rejections.Inc()
	}
}

// countingObserver keeps the service counters for sequencing anomalies and
// forwards to the metrics observer.
type countingObserver struct {
	s    *Service
	next capture.SequencerObserver
}

func (o countingObserver) OnGap(streamKey string, missing uint32) {
	o.s.counters.gaps.Add(1)
	if o.next != nil {
		o.next.OnGap(streamKey, missing)
	}
}

func (o countingObserver) OnDuplicate(streamKey string) {
	o.s.counters.duplicates.Add(1)
	if o.next != nil {
		o.next.OnDuplicate(streamKey)
	}
}
