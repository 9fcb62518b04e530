// Package synthesize combines value estimates from independent sources into
// a single judgment.
package synthesize

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"

	"github.com/rand/guesstimate/internal/estimate"
	"github.com/rand/guesstimate/internal/guardrail"
)

// Config holds the strategy-selection policy.
type Config struct {
	// RangeCV is the coefficient of variation above which the range
	// strategy is used.
	// Default: 0.5
	RangeCV float64

	// SingleBestGap is how far the top confidence must lead the runner-up
	// for single-best to win.
	// Default: 0.3
	SingleBestGap float64

	// SingleBestFloor is the minimum top confidence for single-best.
	// Default: 0.9
	SingleBestFloor float64

	// ConservativeTopK is how many of the most confident estimates the
	// conservative strategy considers.
	// Default: 3
	ConservativeTopK int

	// ConservativeDiscount scales the best confidence under the
	// conservative strategy.
	// Default: 0.9
	ConservativeDiscount float64

	// RangeConfidence is the fixed confidence reported for ranges.
	// Default: 0.6
	RangeConfidence float64

	// DefaultUncertainty is used when nothing better is known.
	// Default: 0.3
	DefaultUncertainty float64
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		RangeCV:              0.5,
		SingleBestGap:        0.3,
		SingleBestFloor:      0.9,
		ConservativeTopK:     3,
		ConservativeDiscount: 0.9,
		RangeConfidence:      0.6,
		DefaultUncertainty:   0.3,
	}
}

// Judgment is the synthesized answer.
type Judgment struct {
	Value       float64
	Range       *estimate.Range
	Confidence  float64
	Uncertainty float64
	Strategy    estimate.Strategy
	Reasoning   string
	Warnings    []estimate.Warning
	// Conflict is set when the hard bounds were contradictory.
	Conflict bool
	// Used are the estimates that survived bound filtering.
	Used []estimate.ValueEstimate
}

// Synthesizer selects a combination strategy and applies it.
type Synthesizer struct {
	config     Config
	validators []estimate.Validator
	logger     *slog.Logger
}

// New creates a synthesizer. Validators run against every synthesized value.
func New(config Config, logger *slog.Logger, validators ...estimate.Validator) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{config: config, validators: validators, logger: logger}
}

// Synthesize combines estimates within bounds. Unset bounds filter nothing.
// It returns nil when there is nothing to combine.
func (s *Synthesizer) Synthesize(question string, estimates []estimate.ValueEstimate, ectx estimate.Context, bounds guardrail.Bounds) *Judgment {
	var warnings []estimate.Warning
	usable := estimates

	if bounds.Contradictory() {
		s.logger.Warn("hard bounds contradict",
			"question", question, "min", bounds.Min, "max", bounds.Max)
		warnings = append(warnings, estimate.Warning{
			Severity: estimate.SeverityCritical,
			Source:   "guardrail",
			Message:  fmt.Sprintf("hard lower bound %g exceeds hard upper bound %g; value not clamped", bounds.Min, bounds.Max),
			Range:    &estimate.Range{Min: bounds.Min, Max: bounds.Max},
		})
	} else if !bounds.Unset {
		usable = usable[:0:0]
		for _, e := range estimates {
			if bounds.Contains(e.Value) {
				usable = append(usable, e)
				continue
			}
			warnings = append(warnings, estimate.Warning{
				Severity: estimate.SeverityWarning,
				Source:   e.Source,
				Message:  fmt.Sprintf("estimate %g discarded: outside hard bounds", e.Value),
				Range:    &estimate.Range{Min: bounds.Min, Max: bounds.Max},
			})
		}
	}

	if len(usable) == 0 {
		return nil
	}

	j := s.choose(usable, ectx)
	j.Used = usable
	j.Conflict = bounds.Contradictory()

	if bounds.Enforced() {
		if clamped := bounds.Clamp(j.Value); clamped != j.Value {
			warnings = append(warnings, estimate.Warning{
				Severity: estimate.SeverityWarning,
				Source:   "guardrail",
				Message:  fmt.Sprintf("value %g clamped to %g", j.Value, clamped),
				Range:    &estimate.Range{Min: bounds.Min, Max: bounds.Max},
			})
			j.Value = clamped
		}
	}

	for _, v := range s.validators {
		if w := v.Validate(question, j.Value, ectx); w != nil {
			warnings = append(warnings, *w)
		}
	}
	j.Warnings = append(warnings, j.Warnings...)

	s.logger.Debug("synthesized",
		"question", question,
		"strategy", j.Strategy,
		"value", j.Value,
		"confidence", j.Confidence,
		"estimates", len(usable))
	return j
}

// choose applies the first matching strategy rule.
func (s *Synthesizer) choose(es []estimate.ValueEstimate, ectx estimate.Context) *Judgment {
	sorted := slices.Clone(es)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	if ectx.Intent == estimate.IntentDecisionMaking {
		return s.conservative(sorted)
	}
	if len(sorted) == 1 {
		return s.singleBest(sorted, "only one estimate available")
	}

	values := valuesOf(sorted)
	if cv := CoefficientOfVariation(values); cv > s.config.RangeCV {
		return s.rangeOf(values, cv)
	}

	top, second := sorted[0].Confidence, sorted[1].Confidence
	if top-second > s.config.SingleBestGap && top > s.config.SingleBestFloor {
		return s.singleBest(sorted, fmt.Sprintf("%s leads next source by %.2f confidence", sorted[0].Source, top-second))
	}
	return s.weightedAverage(sorted)
}

func (s *Synthesizer) conservative(sorted []estimate.ValueEstimate) *Judgment {
	k := min(s.config.ConservativeTopK, len(sorted))
	top := sorted[:k]
	lo, hi := top[0].Value, top[0].Value
	unc := 0.0
	for _, e := range top {
		lo = math.Min(lo, e.Value)
		hi = math.Max(hi, e.Value)
		unc = math.Max(unc, e.Uncertainty)
	}
	if unc == 0 {
		unc = s.config.DefaultUncertainty
	}
	j := &Judgment{
		Value:       lo,
		Confidence:  top[0].Confidence * s.config.ConservativeDiscount,
		Uncertainty: unc,
		Strategy:    estimate.StrategyConservative,
		Reasoning:   fmt.Sprintf("decision context: lowest of the %d most confident estimates", k),
	}
	if k > 1 {
		j.Range = &estimate.Range{Min: lo, Max: hi}
	}
	return j
}

func (s *Synthesizer) singleBest(sorted []estimate.ValueEstimate, why string) *Judgment {
	best := sorted[0]
	unc := best.Uncertainty
	if unc == 0 {
		unc = s.config.DefaultUncertainty
	}
	return &Judgment{
		Value:       best.Value,
		Confidence:  best.Confidence,
		Uncertainty: unc,
		Strategy:    estimate.StrategySingleBest,
		Reasoning:   fmt.Sprintf("single best from %s: %s", best.Source, why),
	}
}

func (s *Synthesizer) rangeOf(values []float64, cv float64) *Judgment {
	med := Median(values)
	lo, hi := slices.Min(values), slices.Max(values)
	unc := s.config.DefaultUncertainty
	if med != 0 {
		unc = (hi - lo) / 2 / math.Abs(med)
	}
	return &Judgment{
		Value:       med,
		Range:       &estimate.Range{Min: lo, Max: hi},
		Confidence:  s.config.RangeConfidence,
		Uncertainty: unc,
		Strategy:    estimate.StrategyRange,
		Reasoning:   fmt.Sprintf("sources disagree (cv %.2f): reporting median of range [%g, %g]", cv, lo, hi),
	}
}

func (s *Synthesizer) weightedAverage(sorted []estimate.ValueEstimate) *Judgment {
	var sum, weights float64
	for _, e := range sorted {
		sum += e.Value * e.Confidence
		weights += e.Confidence
	}
	values := valuesOf(sorted)
	value := Mean(values)
	if weights > 0 {
		value = sum / weights
	}
	unc := s.config.DefaultUncertainty
	if len(values) > 1 {
		unc = CoefficientOfVariation(values)
	}
	return &Judgment{
		Value:       value,
		Confidence:  math.Min(weights/float64(len(sorted)), 1.0),
		Uncertainty: unc,
		Strategy:    estimate.StrategyWeightedAverage,
		Reasoning:   fmt.Sprintf("confidence-weighted average of %d estimates", len(sorted)),
	}
}

func valuesOf(es []estimate.ValueEstimate) []float64 {
	out := make([]float64, len(es))
	for i, e := range es {
		out[i] = e.Value
	}
	return out
}

// Mean returns the arithmetic mean, or 0 for no values.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the sample standard deviation (n-1).
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := Mean(values)
	var ss float64
	for _, v := range values {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

// CoefficientOfVariation returns stdev/|mean|. A zero mean with any spread
// is infinitely variable.
func CoefficientOfVariation(values []float64) float64 {
	sd := StdDev(values)
	m := math.Abs(Mean(values))
	if m == 0 {
		if sd == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return sd / m
}

// Median returns the middle value, averaging the middle pair.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := slices.Clone(values)
	slices.Sort(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
