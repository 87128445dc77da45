// Package health implements periodic health checks over the running meter:
// capture progress, queue pressure, decode failure rate and the disk that
// holds the diagnostics journal.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aionmeter/aionmeter/internal/events"
	"github.com/aionmeter/aionmeter/internal/pipeline"
	"github.com/aionmeter/aionmeter/internal/scheduler"
	"github.com/aionmeter/aionmeter/internal/util"
)

// Level is the outcome of a single check.
type Level string

const (
	LevelOK       Level = "ok"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Check names.
const (
	CheckCapture  = "capture"
	CheckQueue    = "queue"
	CheckDecoding = "decoding"
	CheckDisk     = "disk"
)

// Result is the latest outcome of one check.
type Result struct {
	Check     string    `json:"check"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CheckedAt time.Time `json:"checked_at"`
}

// StatsSource exposes pipeline counters.
type StatsSource interface {
	Stats() pipeline.Stats
}

// Options configures a Manager.
type Options struct {
	Pipeline StatsSource
	Bus      *events.EventBus
	// DiskPath is checked for free space. Empty disables the disk check.
	DiskPath string
	// StallAfter is how long a running pipeline may go without packets.
	StallAfter time.Duration
}

// Manager runs health checks and keeps the latest result of each.
type Manager struct {
	opts   Options
	logger zerolog.Logger

	mu           sync.Mutex
	results      map[string]Result
	lastPackets  uint64
	lastProgress time.Time
	lastDropped  uint64
	lastFrames   uint64
	lastFailures uint64

	now       func() time.Time
	diskUsage func(string) (*util.DiskUsage, error)
}

// NewManager creates a health check manager.
func NewManager(opts Options) *Manager {
	if opts.StallAfter <= 0 {
		opts.StallAfter = time.Minute
	}
	return &Manager{
		opts:      opts,
		logger:    util.ComponentLogger("health"),
		results:   make(map[string]Result),
		now:       time.Now,
		diskUsage: util.GetDiskUsage,
	}
}

// Tasks returns one scheduler task per enabled check.
func (m *Manager) Tasks(interval time.Duration) []scheduler.Task {
	checks := []struct {
		name string
		fn   func(context.Context) Result
	}{
		{CheckCapture, m.CheckCapture},
		{CheckQueue, m.CheckQueue},
		{CheckDecoding, m.CheckDecoding},
	}
	if m.opts.DiskPath != "" {
		checks = append(checks, struct {
			name string
			fn   func(context.Context) Result
		}{CheckDisk, m.CheckDisk})
	}

	tasks := make([]scheduler.Task, 0, len(checks))
	for _, c := range checks {
		fn := c.fn
		tasks = append(tasks, scheduler.Task{
			Name:     "health_" + c.name,
			Interval: interval,
			Run: func(ctx context.Context) error {
				fn(ctx)
				return nil
			},
		})
	}
	return tasks
}

// RunAll runs every enabled check once.
func (m *Manager) RunAll(ctx context.Context) []Result {
	out := []Result{m.CheckCapture(ctx), m.CheckQueue(ctx), m.CheckDecoding(ctx)}
	if m.opts.DiskPath != "" {
		out = append(out, m.CheckDisk(ctx))
	}
	return out
}

// Report returns the latest result of every check that has run, sorted by name.
func (m *Manager) Report() []Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Result, 0, len(m.results))
	for _, r := range m.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Check < out[j].Check })
	return out
}

// Overall returns the worst level across the latest results.
func (m *Manager) Overall() Level {
	level := LevelOK
	for _, r := range m.Report() {
		switch r.Level {
		case LevelCritical:
			return LevelCritical
		case LevelWarning:
			level = LevelWarning
		}
	}
	return level
}

// CheckCapture warns when a running pipeline has received no packets for StallAfter.
func (m *Manager) CheckCapture(ctx context.Context) Result {
	st := m.opts.Pipeline.Stats()
	now := m.now()

	m.mu.Lock()
	var level Level
	var msg string
	switch {
	case !st.Running:
		m.lastProgress = time.Time{}
		level, msg = LevelOK, "pipeline idle"
	case m.lastProgress.IsZero() || st.Packets != m.lastPackets:
		m.lastProgress = now
		level, msg = LevelOK, fmt.Sprintf("%d packets received", st.Packets)
	case now.Sub(m.lastProgress) >= m.opts.StallAfter:
		level = LevelWarning
		msg = fmt.Sprintf("no packets from %s for %s", st.Source, now.Sub(m.lastProgress).Truncate(time.Second))
	default:
		level, msg = LevelOK, "waiting for packets"
	}
	m.lastPackets = st.Packets
	m.mu.Unlock()

	return m.record(ctx, CheckCapture, level, msg)
}

// CheckQueue reports queue saturation and packets dropped since the last check.
func (m *Manager) CheckQueue(ctx context.Context) Result {
	q := m.opts.Pipeline.Stats().Queue

	m.mu.Lock()
	dropped := q.Dropped - m.lastDropped
	if q.Dropped < m.lastDropped {
		dropped = q.Dropped
	}
	m.lastDropped = q.Dropped
	m.mu.Unlock()

	fill := 0.0
	if q.Capacity > 0 {
		fill = float64(q.Depth) / float64(q.Capacity) * 100
	}

	level, msg := LevelOK, fmt.Sprintf("queue at %.0f%%", fill)
	switch {
	case fill >= 90:
		level = LevelCritical
		msg = fmt.Sprintf("queue at %.0f%% (%d/%d)", fill, q.Depth, q.Capacity)
	case dropped > 0:
		level = LevelWarning
		msg = fmt.Sprintf("%d packets dropped since last check", dropped)
	case fill >= 75:
		level = LevelWarning
	}
	return m.record(ctx, CheckQueue, level, msg)
}

// CheckDecoding warns when at least half of the frames since the last check failed to decode.
func (m *Manager) CheckDecoding(ctx context.Context) Result {
	st := m.opts.Pipeline.Stats()
	var frames uint64
	for _, n := range st.Frames {
		frames += n
	}

	m.mu.Lock()
	deltaFrames := frames - m.lastFrames
	deltaFailures := st.DecodeFailures - m.lastFailures
	if frames < m.lastFrames || st.DecodeFailures < m.lastFailures {
		deltaFrames, deltaFailures = frames, st.DecodeFailures
	}
	m.lastFrames = frames
	m.lastFailures = st.DecodeFailures
	m.mu.Unlock()

	level, msg := LevelOK, fmt.Sprintf("%d failures in %d frames", deltaFailures, deltaFrames)
	if deltaFrames >= 20 && deltaFailures*2 >= deltaFrames {
		level = LevelWarning
		msg = fmt.Sprintf("decode failure rate %.0f%% (%d of %d frames)",
			float64(deltaFailures)/float64(deltaFrames)*100, deltaFailures, deltaFrames)
	}
	return m.record(ctx, CheckDecoding, level, msg)
}

// CheckDisk monitors free space on the diagnostics journal's filesystem.
func (m *Manager) CheckDisk(ctx context.Context) Result {
	usage, err := m.diskUsage(m.opts.DiskPath)
	if err != nil {
		return m.record(ctx, CheckDisk, LevelWarning, fmt.Sprintf("disk check failed: %v", err))
	}

	level := LevelOK
	switch {
	case usage.UsedPercent >= 95:
		level = LevelCritical
	case usage.UsedPercent >= 90:
		level = LevelWarning
	}
	msg := fmt.Sprintf("disk usage at %.1f%% (%d GB free of %d GB total)",
		usage.UsedPercent, usage.Free, usage.Total)
	return m.record(ctx, CheckDisk, level, msg)
}

// record stores the result and emits an alert when the level changes.
func (m *Manager) record(ctx context.Context, check string, level Level, msg string) Result {
	r := Result{Check: check, Level: level, Message: msg, CheckedAt: m.now()}

	m.mu.Lock()
	prev, seen := m.results[check]
	m.results[check] = r
	m.mu.Unlock()

	changed := (!seen && level != LevelOK) || (seen && prev.Level != level)
	if !changed {
		return r
	}

	ev := m.logger.Info()
	if level != LevelOK {
		ev = m.logger.Warn()
	}
	ev.Str("check", check).Str("level", string(level)).Msg(msg)

	if m.opts.Bus != nil {
		m.opts.Bus.Emit(ctx, events.Event{
			Type:   events.EventHealthAlert,
			Source: "health_check",
			Payload: events.HealthAlertPayload{
				Check:   check,
				Level:   string(level),
				Message: msg,
			},
		})
	}
	return r
}
