package combat

import (
	"math"
)

const (
	// ValidatorMinDamage and ValidatorMaxDamage bound any accepted hit.
	ValidatorMinDamage = 300
	ValidatorMaxDamage = 1_000_000

	stableSamples    = 10
	targetTolerance  = 3.0
	initialTolerance = 150.0

	candidateMin = 10
	candidateMax = 1_000_000
)

// AdaptiveValidator learns the typical damage of each skill and replaces
// outliers with the most plausible candidate amount from the decoder.
type AdaptiveValidator struct {
	history map[int][]float64
}

// NewAdaptiveValidator returns an empty validator.
func NewAdaptiveValidator() *AdaptiveValidator {
	return &AdaptiveValidator{history: make(map[int][]float64)}
}

// Tolerance returns the allowed multiplicative deviation for a skill with
// sampleCount recorded hits. It decays from 150 on the first hit to 3
// once ten hits are known.
func Tolerance(sampleCount int) float64 {
	if sampleCount < 1 {
		sampleCount = 1
	}
	decay := math.Exp(-math.Log(initialTolerance/targetTolerance) *
		float64(sampleCount-1) / float64(stableSamples-1))
	tol := math.Max(targetTolerance, initialTolerance*decay)
	return math.Min(math.Max(tol, targetTolerance), initialTolerance)
}

// Validate checks ev against the learned profile of its skill. An outlier
// is rewritten in place with the best candidate; false means no plausible
// value exists.
func (v *AdaptiveValidator) Validate(ev *DamageEvent) bool {
	samples := v.history[ev.skillID()]

	if len(samples) == 0 {
		return ev.Amount > ValidatorMinDamage && ev.Amount < ValidatorMaxDamage
	}

	avg := adjustedAverage(samples, ev)
	tol := Tolerance(len(samples))

	minAllowed := math.Max(ValidatorMinDamage, avg/tol)
	maxAllowed := math.Min(ValidatorMaxDamage, avg*tol)
	if minAllowed > maxAllowed {
		minAllowed, maxAllowed = ValidatorMinDamage, ValidatorMaxDamage
	}

	amount := float64(ev.Amount)
	if amount >= minAllowed && amount <= maxAllowed {
		return true
	}

	best := bestCandidate(ev.Candidates, avg, tol)
	if best == 0 {
		return false
	}
	ev.Amount = best
	return true
}

// Record adds an admitted hit to the skill profile, normalized for its flags.
func (v *AdaptiveValidator) Record(ev DamageEvent) {
	n := float64(ev.Amount)
	if ev.IsParry {
		n *= 2
	}
	if ev.IsDoubleDamage {
		n *= 0.5
	}
	if ev.IsCritical {
		n *= 0.75
	}
	id := ev.skillID()
	v.history[id] = append(v.history[id], math.Trunc(n))
}

// Reset forgets every profile.
func (v *AdaptiveValidator) Reset() {
	v.history = make(map[int][]float64)
}

func adjustedAverage(samples []float64, ev *DamageEvent) float64 {
	var sum float64
	for _, s := range samples {
		sum += s
	}
	avg := sum / float64(len(samples))
	if ev.IsParry {
		avg *= 0.5
	}
	if ev.IsDoubleDamage {
		avg *= 2
	}
	if ev.IsCritical {
		avg *= 1.5
	}
	return avg
}

func bestCandidate(candidates []int64, avg, tol float64) int64 {
	if len(candidates) == 0 || avg == 0 {
		return 0
	}

	var best int64
	minDeviation := math.MaxFloat64
	for _, c := range candidates {
		if c <= candidateMin || c >= candidateMax {
			continue
		}
		deviation := math.Abs(float64(c)-avg) / avg
		if deviation <= tol && deviation < minDeviation {
			minDeviation = deviation
			best = c
		}
	}
	return best
}
