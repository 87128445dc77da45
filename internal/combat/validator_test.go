package combat

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestToleranceDecay(t *testing.T) {
	if got := Tolerance(1); got != 150 {
		t.Fatalf("Tolerance(1) = %v", got)
	}
	if got := Tolerance(10); math.Abs(got-3) > 1e-9 {
		t.Fatalf("Tolerance(10) = %v", got)
	}
	if got := Tolerance(50); got != 3 {
		t.Fatalf("Tolerance(50) = %v", got)
	}
	if a, b := Tolerance(3), Tolerance(4); !(a > b) {
		t.Fatalf("tolerance not decreasing: %v, %v", a, b)
	}
}

func TestValidatorFirstHitBounds(t *testing.T) {
	v := NewAdaptiveValidator()
	if v.Validate(&DamageEvent{Skill: strike, Amount: 200}) {
		t.Fatalf("200 accepted without history")
	}
	if !v.Validate(&DamageEvent{Skill: strike, Amount: 5000}) {
		t.Fatalf("5000 rejected without history")
	}
}

func TestValidatorReplacesOutlierWithCandidate(t *testing.T) {
	v := NewAdaptiveValidator()
	for i := 0; i < 12; i++ {
		v.Record(DamageEvent{Skill: strike, Amount: 4000})
	}

	ev := DamageEvent{Skill: strike, Amount: 90, Candidates: []int64{5, 120000, 4100}}
	if !v.Validate(&ev) {
		t.Fatalf("outlier with plausible candidate rejected")
	}
	if ev.Amount != 4100 {
		t.Fatalf("corrected amount = %d, want 4100", ev.Amount)
	}

	none := DamageEvent{Skill: strike, Amount: 90}
	if v.Validate(&none) {
		t.Fatalf("outlier without candidates accepted")
	}
}

func TestValidatorNormalizesFlags(t *testing.T) {
	v := NewAdaptiveValidator()
	v.Record(DamageEvent{Skill: strike, Amount: 8000, IsDoubleDamage: true})
	if got := v.history[strike.ID][0]; got != 4000 {
		t.Fatalf("normalized = %v, want 4000", got)
	}
	v.Reset()
	if len(v.history) != 0 {
		t.Fatalf("reset kept history")
	}
}

func TestManagerWithAdaptiveValidation(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.AdaptiveValidation = true
	m := NewManager(cfg, nil)

	if err := m.Process(hit(1, 100, gladiator, strike, 100, 0)); !errors.Is(err, ErrRejectedDamage) {
		t.Fatalf("expected ErrRejectedDamage, got %v", err)
	}
	if err := m.Process(hit(1, 100, gladiator, strike, 5000, time.Second)); err != nil {
		t.Fatalf("plausible hit rejected: %v", err)
	}
}
