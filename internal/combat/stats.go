// Package combat aggregates damage events into per-player statistics for
// the current combat window.
package combat

import (
	"time"

	"github.com/aionmeter/aionmeter/internal/entity"
	"github.com/aionmeter/aionmeter/internal/gamedata"
)

// DamageEvent is one attributed hit.
type DamageEvent struct {
	Timestamp      time.Time       `json:"timestamp"`
	Source         entity.Entity   `json:"source"`
	Target         entity.Entity   `json:"target"`
	Skill          *gamedata.Skill `json:"skill"`
	Class          *gamedata.Class `json:"class,omitempty"`
	Amount         int64           `json:"amount"`
	IsCritical     bool            `json:"is_critical"`
	IsBackAttack   bool            `json:"is_back_attack"`
	IsPerfect      bool            `json:"is_perfect"`
	IsDoubleDamage bool            `json:"is_double_damage"`
	IsParry        bool            `json:"is_parry"`
	Candidates     []int64         `json:"candidates,omitempty"`
}

func (e DamageEvent) skillID() int {
	if e.Skill == nil {
		return 0
	}
	return e.Skill.ID
}

// hitCounts is shared between player and skill rollups.
type hitCounts struct {
	TotalDamage      int64 `json:"total_damage"`
	HitCount         int   `json:"hit_count"`
	CriticalHits     int   `json:"critical_hits"`
	BackAttacks      int   `json:"back_attacks"`
	PerfectHits      int   `json:"perfect_hits"`
	DoubleDamageHits int   `json:"double_damage_hits"`
	ParryHits        int   `json:"parry_hits"`
}

func (h *hitCounts) add(e DamageEvent) {
	h.TotalDamage += e.Amount
	h.HitCount++
	if e.IsCritical {
		h.CriticalHits++
	}
	if e.IsBackAttack {
		h.BackAttacks++
	}
	if e.IsPerfect {
		h.PerfectHits++
	}
	if e.IsDoubleDamage {
		h.DoubleDamageHits++
	}
	if e.IsParry {
		h.ParryHits++
	}
}

// Rates holds percentages of hits carrying each flag.
type Rates struct {
	CriticalRate     float64 `json:"critical_rate"`
	BackAttackRate   float64 `json:"back_attack_rate"`
	PerfectRate      float64 `json:"perfect_rate"`
	DoubleDamageRate float64 `json:"double_damage_rate"`
	ParryRate        float64 `json:"parry_rate"`
	AverageDamage    float64 `json:"average_damage"`
}

func (h hitCounts) rates() Rates {
	if h.HitCount == 0 {
		return Rates{}
	}
	n := float64(h.HitCount)
	return Rates{
		CriticalRate:     float64(h.CriticalHits) / n * 100,
		BackAttackRate:   float64(h.BackAttacks) / n * 100,
		PerfectRate:      float64(h.PerfectHits) / n * 100,
		DoubleDamageRate: float64(h.DoubleDamageHits) / n * 100,
		ParryRate:        float64(h.ParryHits) / n * 100,
		AverageDamage:    float64(h.TotalDamage) / n,
	}
}

// PlayerStats is a snapshot of one source's totals.
type PlayerStats struct {
	PlayerID   int    `json:"player_id"`
	PlayerName string `json:"player_name"`
	PlayerIcon string `json:"player_icon,omitempty"`
	ClassID    int    `json:"class_id"`
	ClassName  string `json:"class_name"`
	ClassIcon  string `json:"class_icon,omitempty"`

	hitCounts
	Rates

	DamagePerSecond  float64   `json:"dps"`
	DamagePercentage float64   `json:"damage_percentage"`
	FirstHit         time.Time `json:"first_hit"`
	LastHit          time.Time `json:"last_hit"`
	CombatDuration   float64   `json:"combat_duration_sec"`
}

// SkillStats is a per-skill rollup for one player.
type SkillStats struct {
	SkillID   int    `json:"skill_id"`
	SkillName string `json:"skill_name"`
	SkillIcon string `json:"skill_icon,omitempty"`

	hitCounts
	Rates

	MinHit           int64   `json:"min_hit"`
	MaxHit           int64   `json:"max_hit"`
	DamagePerSecond  float64 `json:"dps"`
	DamagePercentage float64 `json:"damage_percentage"`
}

// Summary describes the current combat window.
type Summary struct {
	WindowID    string    `json:"window_id"`
	State       string    `json:"state"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	LastHit     time.Time `json:"last_hit,omitempty"`
	DurationSec float64   `json:"duration_sec"`
	TotalDamage int64     `json:"total_damage"`
	Players     int       `json:"players"`
	Targets     int       `json:"targets"`
	TotalDPS    float64   `json:"total_dps"`
}

// minDuration is the DPS divisor floor, in seconds.
const minDuration = 0.1

func durationSeconds(first, last time.Time) float64 {
	d := last.Sub(first).Seconds()
	if d < minDuration {
		return minDuration
	}
	return d
}
