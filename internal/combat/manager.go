package combat

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aionmeter/aionmeter/internal/util"
)

const (
	DefaultHardIdle = 40 * time.Second
	DefaultSoftIdle = 20 * time.Second
)

// State of the combat window.
type State string

const (
	StateIdle   State = "idle"
	StateActive State = "active"
)

// ResetReason explains why a combat window ended.
type ResetReason string

const (
	ResetHardIdle ResetReason = "hard_idle"
	ResetSoftIdle ResetReason = "soft_idle"
	ResetManual   ResetReason = "manual"
)

// Config tunes the manager.
type Config struct {
	HardIdle           time.Duration
	SoftIdle           time.Duration
	SanityLimit        int64
	AdaptiveValidation bool
}

// DefaultManagerConfig returns the standard idle thresholds and sanity limit.
func DefaultManagerConfig() Config {
	return Config{
		HardIdle:    DefaultHardIdle,
		SoftIdle:    DefaultSoftIdle,
		SanityLimit: DefaultSanityLimit,
	}
}

// Observer receives manager notifications. Callbacks run with the manager
// lock held and must not call back into the manager.
type Observer interface {
	OnCombatReset(final Summary, reason ResetReason)
	OnDamageRejected(ev DamageEvent, err error)
}

// Manager owns the player sessions of the current combat window.
type Manager struct {
	mu          sync.Mutex
	cfg         Config
	sessions    map[int]*PlayerSession
	seenTargets map[int]struct{}
	combatStart time.Time
	lastHit     time.Time
	state       State
	windowID    string
	observer    Observer
	logger      zerolog.Logger
}

// NewManager creates an idle manager. observer may be nil.
func NewManager(cfg Config, observer Observer) *Manager {
	def := DefaultManagerConfig()
	if cfg.HardIdle <= 0 {
		cfg.HardIdle = def.HardIdle
	}
	if cfg.SoftIdle <= 0 {
		cfg.SoftIdle = def.SoftIdle
	}
	if cfg.SanityLimit <= 0 {
		cfg.SanityLimit = def.SanityLimit
	}

	m := &Manager{
		cfg:      cfg,
		observer: observer,
		logger:   util.ComponentLogger("combat"),
	}
	m.clear()
	return m
}

func (m *Manager) clear() {
	m.sessions = make(map[int]*PlayerSession)
	m.seenTargets = make(map[int]struct{})
	m.combatStart = time.Time{}
	m.lastHit = time.Time{}
	m.state = StateIdle
	m.windowID = uuid.NewString()
}

// Process attributes one event. The returned error is non-nil when the hit
// was rejected; the window state is still advanced.
func (m *Manager) Process(ev DamageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkIdle(ev)

	if m.state == StateIdle {
		m.state = StateActive
		m.combatStart = ev.Timestamp
		m.logger.Info().Str("window", m.windowID).Msg("combat started")
	}
	m.lastHit = ev.Timestamp
	m.seenTargets[ev.Target.ID] = struct{}{}

	session := m.attribute(ev)
	if err := session.AddDamage(ev); err != nil {
		if session.HitCount() == 0 {
			delete(m.sessions, session.ID())
		}
		if m.observer != nil {
			m.observer.OnDamageRejected(ev, err)
		}
		return err
	}

	m.recalculate()
	return nil
}

func (m *Manager) checkIdle(ev DamageEvent) {
	if m.state != StateActive {
		return
	}

	gap := ev.Timestamp.Sub(m.lastHit)
	_, seen := m.seenTargets[ev.Target.ID]

	var reason ResetReason
	switch {
	case gap > m.cfg.HardIdle:
		reason = ResetHardIdle
	case gap > m.cfg.SoftIdle && !seen:
		reason = ResetSoftIdle
	default:
		return
	}

	m.logger.Info().
		Str("window", m.windowID).
		Str("reason", string(reason)).
		Dur("gap", gap).
		Msg("combat window ended")
	m.reset(reason)
}

// attribute picks the session for ev. Summon damage goes to the only
// session of the summoning class when exactly one exists.
func (m *Manager) attribute(ev DamageEvent) *PlayerSession {
	if ev.Skill != nil && ev.Skill.IsEntity {
		var match *PlayerSession
		count := 0
		for _, s := range m.sessions {
			if s.ClassID() == ev.Skill.ClassID {
				match = s
				count++
			}
		}
		if count == 1 {
			return match
		}
		m.logger.Debug().
			Int("source", ev.Source.ID).
			Int("class", ev.Skill.ClassID).
			Int("candidates", count).
			Msg("summon attribution ambiguous, tracking as own source")
	}

	s, ok := m.sessions[ev.Source.ID]
	if !ok {
		var validator *AdaptiveValidator
		if m.cfg.AdaptiveValidation {
			validator = NewAdaptiveValidator()
		}
		s = newPlayerSession(ev, m.cfg.SanityLimit, validator)
		m.sessions[ev.Source.ID] = s
	}
	return s
}

func (m *Manager) recalculate() {
	for _, s := range m.sessions {
		s.UpdateStats(0)
	}
	var total int64
	for _, s := range m.sessions {
		total += s.Stats().TotalDamage
	}
	for _, s := range m.sessions {
		s.UpdateStats(total)
	}
}

func (m *Manager) summary() Summary {
	sum := Summary{
		WindowID:  m.windowID,
		State:     string(m.state),
		StartedAt: m.combatStart,
		LastHit:   m.lastHit,
		Players:   len(m.sessions),
		Targets:   len(m.seenTargets),
	}
	for _, s := range m.sessions {
		sum.TotalDamage += s.Stats().TotalDamage
	}
	if m.state == StateActive {
		sum.DurationSec = m.lastHit.Sub(m.combatStart).Seconds()
		sum.TotalDPS = float64(sum.TotalDamage) / durationSeconds(m.combatStart, m.lastHit)
	}
	return sum
}

func (m *Manager) reset(reason ResetReason) {
	final := m.summary()
	m.clear()
	if m.observer != nil {
		m.observer.OnCombatReset(final, reason)
	}
}

// Reset ends the current window.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Info().Str("window", m.windowID).Msg("combat reset requested")
	m.reset(ResetManual)
}

// Rename updates the display name of a source session.
func (m *Manager) Rename(id int, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.Rename(name)
	}
}

// Summary returns the current window state.
func (m *Manager) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary()
}

// State returns whether a window is active.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PlayerStats returns every session snapshot sorted by damage descending.
func (m *Manager) PlayerStats() []PlayerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]PlayerStats, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Stats())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalDamage != out[j].TotalDamage {
			return out[i].TotalDamage > out[j].TotalDamage
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	return out
}

// Player returns the snapshot of one session.
func (m *Manager) Player(id int) (PlayerStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return PlayerStats{}, false
	}
	return s.Stats(), true
}

// SkillStats returns the per-skill rollup of one session.
func (m *Manager) SkillStats(id int) ([]SkillStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return s.SkillStats(), true
}

// CombatLog returns up to limit hits of one session, newest first. A
// non-positive limit returns all hits.
func (m *Manager) CombatLog(id int, limit int) ([]DamageEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}

	n := len(s.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]DamageEvent, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.history[i])
	}
	return out, true
}
