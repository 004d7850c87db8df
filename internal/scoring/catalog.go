// Package scoring implements the fraud risk scoring engine.
package scoring

import (
	"github.com/pesaguard/pesaguard/internal/domain"
)

// catalog holds the active pattern configuration the engine scores
// against. Built-in signals resolve to a weight by type; a signal with
// no active pattern is disabled. The catalog is immutable once built;
// reloads swap the whole value.
type catalog struct {
	weights map[domain.SignalType]float64
}

func buildCatalog(patterns []*domain.FraudPattern) catalog {
	c := catalog{
		weights: make(map[domain.SignalType]float64, len(domain.BuiltinSignals)),
	}
	for _, p := range patterns {
		if !p.Active || p.PatternType == domain.SignalCustom {
			continue
		}
		c.weights[p.PatternType] = p.Weight
	}
	return c
}

// weight returns the configured weight for a built-in signal and
// whether the signal is enabled at all.
func (c catalog) weight(t domain.SignalType) (float64, bool) {
	w, ok := c.weights[t]
	return w, ok
}
