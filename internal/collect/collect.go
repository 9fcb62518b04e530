// Package collect gathers the constraints and evidence an estimate is built
// from. Collectors come in three families: hard collectors derive physical
// bounds from the kind of quantity asked about, soft collectors flag values
// outside domain norms, and value collectors produce candidate estimates.
package collect

import (
	"context"

	"github.com/rand/guesstimate/internal/estimate"
	"github.com/rand/guesstimate/internal/guardrail"
)

// BoundCollector derives guardrails for a question. Hard and soft
// collectors both implement it.
type BoundCollector interface {
	Bounds(question string, ectx estimate.Context) []guardrail.Guardrail
}

// ValueCollector produces candidate estimates. Errors are reported to the
// runner, which logs them and treats the collector as having found nothing.
type ValueCollector interface {
	Name() string
	Collect(ctx context.Context, question string, ectx estimate.Context) ([]estimate.ValueEstimate, error)
}

// Concept is the kind of quantity a question asks about.
type Concept string

const (
	ConceptRate        Concept = "rate"
	ConceptPayback     Concept = "payback"
	ConceptConsumption Concept = "consumption"
	ConceptCount       Concept = "count"
	ConceptUnknown     Concept = "unknown"
)

var conceptKeywords = []struct {
	concept  Concept
	keywords []string
}{
	{ConceptPayback, []string{"payback", "breakeven", "break-even", "recoup", "recovery period"}},
	{ConceptRate, []string{
		"churn", "conversion", "penetration", "retention", "attrition", "adoption",
		"interest rate", "default rate", "unemployment rate", "bounce rate", "open rate",
		"click through rate", "response rate", "success rate", "failure rate", "win rate",
		"market share", "share of", "percentage", "percent", "proportion", "fraction",
		"probability", "likelihood",
	}},
	{ConceptConsumption, []string{"consumption", "consumed", "consume", "usage", "demand", "volume used"}},
	{ConceptCount, []string{"number of", "how many", "count", "population", "headcount"}},
}

// notFractions name unit rates and prices, which are not bounded by 1 even
// when they also mention a rate keyword.
var notFractions = []string{
	"hourly", "per hour", "daily rate", "exchange", "currency", "heart", "price",
	"wage", "salary", "fee", "growth", "return", "inflation",
}

// Classify returns the concept a question asks about, or ConceptUnknown.
func Classify(question string) Concept {
	text := " " + estimate.Normalize(question) + " "
	if lower := " " + lowerRaw(question) + " "; containsWord(lower, "how many") {
		return ConceptCount
	}
	for _, ck := range conceptKeywords {
		if ck.concept == ConceptRate && containsAny(text, notFractions) {
			continue
		}
		for _, kw := range ck.keywords {
			if containsWord(text, kw) {
				return ck.concept
			}
		}
	}
	return ConceptUnknown
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if containsWord(text, w) {
			return true
		}
	}
	return false
}
