package collect

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/rand/guesstimate/internal/estimate"
	"github.com/rand/guesstimate/internal/guardrail"
)

// HardConfig configures the physical-bound collector.
type HardConfig struct {
	// PaybackCeilingMonths caps payback-like durations.
	// Default: 60
	PaybackCeilingMonths float64

	// MaxWidthRatio discards bounds whose max/min exceeds it. The check
	// applies only when the lower bound is positive.
	// Default: 10000
	MaxWidthRatio float64
}

// DefaultHardConfig returns the defaults.
func DefaultHardConfig() HardConfig {
	return HardConfig{
		PaybackCeilingMonths: 60,
		MaxWidthRatio:        10_000,
	}
}

// Fact keys consulted for consumption bounds.
const (
	FactPopulation   = "population"
	FactMaxPerCapita = "max_per_capita"
	FactMinPerCapita = "min_per_capita"
)

// HardCollector derives bounds from the concept a question asks about. It
// never looks at sampled data.
type HardCollector struct {
	config HardConfig
	logger *slog.Logger
}

// NewHardCollector creates a collector.
func NewHardCollector(config HardConfig, logger *slog.Logger) *HardCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &HardCollector{config: config, logger: logger}
}

// Bounds implements BoundCollector.
func (h *HardCollector) Bounds(question string, ectx estimate.Context) []guardrail.Guardrail {
	concept := Classify(question)
	var gs []guardrail.Guardrail

	switch concept {
	case ConceptRate:
		gs = []guardrail.Guardrail{
			guardrail.New(guardrail.KindHardLower, 0, 1, "rates cannot be negative", "physics:rate"),
			guardrail.New(guardrail.KindHardUpper, 1, 1, "rates cannot exceed 100%", "physics:rate"),
		}
	case ConceptPayback:
		ceiling := h.config.PaybackCeilingMonths
		unit := "months"
		if strings.Contains(ectx.Granularity, "year") || containsWord(" "+estimate.Normalize(question)+" ", "years") {
			ceiling /= 12
			unit = "years"
		}
		gs = []guardrail.Guardrail{
			guardrail.New(guardrail.KindHardLower, 0, 1, "durations cannot be negative", "physics:payback"),
			guardrail.New(guardrail.KindHardUpper, ceiling, 0.9,
				fmt.Sprintf("payback beyond %g %s is not a realistic investment", ceiling, unit), "physics:payback"),
		}
	case ConceptConsumption:
		gs = h.consumption(ectx)
	case ConceptCount:
		gs = []guardrail.Guardrail{
			guardrail.New(guardrail.KindHardLower, 0, 1, "counts cannot be negative", "physics:count"),
		}
	}

	if len(gs) > 0 && h.tooWide(gs) {
		h.logger.Debug("discarding bounds too wide to be useful",
			"question", question, "concept", concept)
		return nil
	}
	return gs
}

func (h *HardCollector) consumption(ectx estimate.Context) []guardrail.Guardrail {
	pop, okPop := ectx.Fact(FactPopulation)
	maxPer, okMax := ectx.Fact(FactMaxPerCapita)
	if !okPop || !okMax {
		return nil
	}
	gs := []guardrail.Guardrail{
		guardrail.New(guardrail.KindHardLower, 0, 1, "consumption cannot be negative", "physics:consumption"),
		guardrail.New(guardrail.KindHardUpper, pop*maxPer, 0.95,
			fmt.Sprintf("population %g x max per capita %g", pop, maxPer), "physics:consumption"),
	}
	if minPer, ok := ectx.Fact(FactMinPerCapita); ok && minPer > 0 {
		gs[0] = guardrail.New(guardrail.KindHardLower, pop*minPer, 0.95,
			fmt.Sprintf("population %g x min per capita %g", pop, minPer), "physics:consumption")
	}
	return gs
}

func (h *HardCollector) tooWide(gs []guardrail.Guardrail) bool {
	c := guardrail.NewCollector()
	c.Add(gs...)
	b := c.HardBounds()
	if b.Min <= 0 || b.Unbounded() {
		return false
	}
	return b.WidthRatio() > h.config.MaxWidthRatio
}
