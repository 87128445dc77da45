package combat

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aionmeter/aionmeter/internal/gamedata"
	"github.com/aionmeter/aionmeter/internal/util"
)

// DefaultSanityLimit is the smallest single hit treated as a decode error.
const DefaultSanityLimit = 500_000

var (
	// ErrImplausibleDamage marks a hit at or above the sanity limit.
	ErrImplausibleDamage = errors.New("implausible damage amount")
	// ErrRejectedDamage marks a hit the adaptive validator could not repair.
	ErrRejectedDamage = errors.New("damage rejected by validator")
)

// PlayerSession holds one source's damage history for the current window.
type PlayerSession struct {
	id        int
	name      string
	icon      string
	classID   int
	className string
	classIcon string

	history     []DamageEvent
	stats       PlayerStats
	sanityLimit int64
	validator   *AdaptiveValidator
	logger      zerolog.Logger
}

func newPlayerSession(first DamageEvent, sanityLimit int64, validator *AdaptiveValidator) *PlayerSession {
	s := &PlayerSession{
		id:          first.Source.ID,
		name:        first.Source.Name,
		icon:        first.Source.Icon,
		sanityLimit: sanityLimit,
		validator:   validator,
		logger:      util.ComponentLogger("player_session"),
	}

	class := first.Class
	if class == nil {
		class = first.Source.Class
	}
	if class != nil {
		s.classID = class.ID
		s.className = class.Name
		s.classIcon = class.Icon
	}

	s.stats = s.baseStats()
	s.stats.FirstHit = first.Timestamp
	s.stats.LastHit = first.Timestamp
	return s
}

func (s *PlayerSession) baseStats() PlayerStats {
	return PlayerStats{
		PlayerID:   s.id,
		PlayerName: s.name,
		PlayerIcon: s.icon,
		ClassID:    s.classID,
		ClassName:  s.className,
		ClassIcon:  s.classIcon,
	}
}

// ID returns the source entity id.
func (s *PlayerSession) ID() int { return s.id }

// ClassID returns the class the session was created with.
func (s *PlayerSession) ClassID() int { return s.classID }

// AddDamage admits a hit into the history.
func (s *PlayerSession) AddDamage(ev DamageEvent) error {
	if ev.Amount >= s.sanityLimit {
		s.logger.Warn().
			Int("player", s.id).
			Str("skill", skillName(ev.Skill)).
			Int64("damage", ev.Amount).
			Msg("damage sanity check failed")
		return fmt.Errorf("%w: %d", ErrImplausibleDamage, ev.Amount)
	}

	if s.validator != nil {
		before := ev.Amount
		if !s.validator.Validate(&ev) {
			s.logger.Warn().
				Int("player", s.id).
				Str("skill", skillName(ev.Skill)).
				Int64("damage", ev.Amount).
				Msg("ignored invalid damage")
			return fmt.Errorf("%w: %d", ErrRejectedDamage, ev.Amount)
		}
		if ev.Amount != before {
			s.logger.Info().
				Int("player", s.id).
				Str("skill", skillName(ev.Skill)).
				Int64("previous", before).
				Int64("corrected", ev.Amount).
				Msg("corrected damage")
		}
		s.validator.Record(ev)
	}

	s.history = append(s.history, ev)
	return nil
}

// Rename changes the display name used in stats.
func (s *PlayerSession) Rename(name string) {
	s.name = name
	s.stats.PlayerName = name
}

// UpdateStats rebuilds the aggregate from the full history.
func (s *PlayerSession) UpdateStats(totalCombatDamage int64) {
	st := s.baseStats()
	st.FirstHit = s.stats.FirstHit
	st.LastHit = s.stats.FirstHit

	for _, ev := range s.history {
		st.hitCounts.add(ev)
		if ev.Timestamp.After(st.LastHit) {
			st.LastHit = ev.Timestamp
		}
	}

	st.DamagePerSecond = float64(st.TotalDamage) / durationSeconds(st.FirstHit, st.LastHit)
	if totalCombatDamage > 0 {
		st.DamagePercentage = float64(st.TotalDamage) / float64(totalCombatDamage) * 100
	}
	if st.LastHit.After(st.FirstHit) {
		st.CombatDuration = st.LastHit.Sub(st.FirstHit).Seconds()
	}
	st.Rates = st.hitCounts.rates()

	s.stats = st
}

// Stats returns the last computed snapshot.
func (s *PlayerSession) Stats() PlayerStats {
	return s.stats
}

// HitCount returns the number of admitted hits.
func (s *PlayerSession) HitCount() int {
	return len(s.history)
}

// History returns a copy of the admitted hits in arrival order.
func (s *PlayerSession) History() []DamageEvent {
	return append([]DamageEvent(nil), s.history...)
}

// SkillStats rolls the history up per skill, sorted by total damage descending.
func (s *PlayerSession) SkillStats() []SkillStats {
	bySkill := make(map[int]*SkillStats)
	var order []int

	for _, ev := range s.history {
		id := ev.skillID()
		sk, ok := bySkill[id]
		if !ok {
			sk = &SkillStats{
				SkillID:   id,
				SkillName: skillName(ev.Skill),
				MinHit:    math.MaxInt64,
			}
			if ev.Skill != nil {
				sk.SkillIcon = ev.Skill.Icon
			}
			bySkill[id] = sk
			order = append(order, id)
		}

		sk.hitCounts.add(ev)
		if ev.Amount < sk.MinHit {
			sk.MinHit = ev.Amount
		}
		if ev.Amount > sk.MaxHit {
			sk.MaxHit = ev.Amount
		}
	}

	duration := durationSeconds(s.stats.FirstHit, s.stats.LastHit)
	out := make([]SkillStats, 0, len(order))
	for _, id := range order {
		sk := bySkill[id]
		if s.stats.TotalDamage > 0 {
			sk.DamagePercentage = float64(sk.TotalDamage) / float64(s.stats.TotalDamage) * 100
		}
		sk.DamagePerSecond = float64(sk.TotalDamage) / duration
		sk.Rates = sk.hitCounts.rates()
		out = append(out, *sk)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalDamage > out[j].TotalDamage })
	return out
}

func skillName(sk *gamedata.Skill) string {
	if sk == nil {
		return ""
	}
	return sk.Name
}
