package collect

import (
	"fmt"
	"strings"

	"github.com/rand/guesstimate/internal/estimate"
	"github.com/rand/guesstimate/internal/guardrail"
)

// NormKind is the origin of a domain norm.
type NormKind string

const (
	NormLegal       NormKind = "legal"
	NormStatistical NormKind = "statistical"
	NormBehavioral  NormKind = "behavioral"
)

// SoftRule is a natural range for questions mentioning all of its keywords.
type SoftRule struct {
	Name     string            `yaml:"name" json:"name"`
	Kind     NormKind          `yaml:"kind" json:"kind"`
	Keywords []string          `yaml:"keywords" json:"keywords"`
	Min      float64           `yaml:"min" json:"min"`
	Max      float64           `yaml:"max" json:"max"`
	Severity estimate.Severity `yaml:"severity" json:"severity"`
	// Domain restricts the rule to one domain when set.
	Domain string `yaml:"domain,omitempty" json:"domain,omitempty"`
}

// Applies reports whether the rule covers question under ectx.
func (r SoftRule) Applies(question string, ectx estimate.Context) bool {
	if r.Domain != "" && ectx.Domain != "" && !strings.EqualFold(r.Domain, ectx.Domain) {
		return false
	}
	text := " " + estimate.Normalize(question) + " "
	for _, kw := range r.Keywords {
		if !containsWord(text, kw) {
			return false
		}
	}
	return len(r.Keywords) > 0
}

// DefaultSoftRules returns a small library of common norms.
func DefaultSoftRules() []SoftRule {
	return []SoftRule{
		{Name: "saas monthly churn", Kind: NormStatistical, Keywords: []string{"churn"}, Min: 0.005, Max: 0.15, Severity: estimate.SeverityWarning},
		{Name: "conversion rate", Kind: NormStatistical, Keywords: []string{"conversion"}, Min: 0.001, Max: 0.3, Severity: estimate.SeverityWarning},
		{Name: "consumer interest cap", Kind: NormLegal, Keywords: []string{"interest", "rate"}, Min: 0, Max: 0.36, Severity: estimate.SeverityCritical},
		{Name: "weekly working hours", Kind: NormLegal, Keywords: []string{"hours", "week"}, Min: 0, Max: 60, Severity: estimate.SeverityWarning},
		{Name: "gross margin", Kind: NormStatistical, Keywords: []string{"gross", "margin"}, Min: -0.5, Max: 0.95, Severity: estimate.SeverityWarning},
		{Name: "annual growth", Kind: NormBehavioral, Keywords: []string{"growth"}, Min: -0.5, Max: 3, Severity: estimate.SeverityInfo},
		{Name: "human age", Kind: NormStatistical, Keywords: []string{"age"}, Min: 0, Max: 122, Severity: estimate.SeverityCritical},
	}
}

// SoftCollector holds domain norms. It never produces estimates; it
// contributes soft guardrails and validates synthesized values.
type SoftCollector struct {
	rules []SoftRule
}

// NewSoftCollector creates a collector over rules.
func NewSoftCollector(rules []SoftRule) *SoftCollector {
	return &SoftCollector{rules: append([]SoftRule(nil), rules...)}
}

// Rules returns the configured rules.
func (s *SoftCollector) Rules() []SoftRule { return append([]SoftRule(nil), s.rules...) }

// Bounds implements BoundCollector with soft guardrails.
func (s *SoftCollector) Bounds(question string, ectx estimate.Context) []guardrail.Guardrail {
	var gs []guardrail.Guardrail
	for _, r := range s.rules {
		if !r.Applies(question, ectx) {
			continue
		}
		src := "norm:" + string(r.Kind)
		gs = append(gs,
			guardrail.New(guardrail.KindSoftLower, r.Min, 0.7, r.Name, src),
			guardrail.New(guardrail.KindSoftUpper, r.Max, 0.7, r.Name, src),
		)
	}
	return gs
}

// Validators returns one validator per rule.
func (s *SoftCollector) Validators() []estimate.Validator {
	out := make([]estimate.Validator, len(s.rules))
	for i, r := range s.rules {
		out[i] = r
	}
	return out
}

// Validate implements estimate.Validator. It returns nil when the rule does
// not apply or the value is inside the natural range.
func (r SoftRule) Validate(question string, value float64, ectx estimate.Context) *estimate.Warning {
	if !r.Applies(question, ectx) || (value >= r.Min && value <= r.Max) {
		return nil
	}
	sev := r.Severity
	if sev == "" {
		sev = estimate.SeverityWarning
	}
	return &estimate.Warning{
		Severity: sev,
		Source:   "norm:" + string(r.Kind),
		Message:  fmt.Sprintf("%g is outside the %s norm for %s", value, r.Kind, r.Name),
		Range:    &estimate.Range{Min: r.Min, Max: r.Max},
	}
}
