// Package confidence scores extraction outcomes and routes them for review.
package confidence

import (
	"math"

	"github.com/garyjia/vat-intake/internal/domain/entity"
)

// Scoring constants
const (
	TabularBase        = 0.80
	ConvergenceBonus   = 0.10
	ConvergenceCap     = 0.95
	EmergencyCeiling   = 0.30
	AgreementTolerance = 0.01
)

// priorityBase maps the best pattern priority to its base confidence
var priorityBase = map[int]float64{
	1: 0.75,
	2: 0.65,
	3: 0.50,
}

const lowPriorityBase = 0.40

// Aggregator turns strategy outcomes into a single confidence score
type Aggregator struct{}

// NewAggregator creates a new confidence aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Aggregate scores primary, counting agreement from secondaries and from
// extra rules inside primary that produced the same value.
func (a *Aggregator) Aggregate(primary entity.StrategyOutcome, secondaries []entity.StrategyOutcome) float64 {
	if !primary.Claimed() {
		return 0
	}

	base := a.base(primary)
	if primary.Strategy == entity.StrategyEmergency {
		return math.Min(base, EmergencyCeiling)
	}

	agreeing := primary.Agreements
	value := primary.Primary().Value
	for _, s := range secondaries {
		if s.Strategy == primary.Strategy || !s.Claimed() {
			continue
		}
		if math.Abs(s.Primary().Value-value) <= AgreementTolerance {
			agreeing++
		}
	}

	if agreeing == 0 {
		return entity.Clamp01(base)
	}
	boosted := math.Min(base+float64(agreeing)*ConvergenceBonus, ConvergenceCap)
	return entity.Clamp01(math.Max(base, boosted))
}

func (a *Aggregator) base(o entity.StrategyOutcome) float64 {
	switch o.Strategy {
	case entity.StrategyTabular:
		return TabularBase
	case entity.StrategyPattern:
		return PatternBase(o.Primary().Priority)
	case entity.StrategyEmergency:
		if o.Confidence > 0 {
			return o.Confidence
		}
		return EmergencyCeiling
	default:
		return entity.Clamp01(o.Confidence)
	}
}

// PatternBase returns the base confidence of a pattern match by rule priority
func PatternBase(priority int) float64 {
	if v, ok := priorityBase[priority]; ok {
		return v
	}
	if priority < 1 {
		return priorityBase[1]
	}
	return lowPriorityBase
}
