package collect

import (
	"context"
	"fmt"
	"sort"

	"github.com/rand/guesstimate/internal/estimate"
)

// FactCollector turns caller-supplied facts and inherited parent variables
// into estimates. An exact key match is fully trusted; a fact named inside a
// longer question is trusted slightly less.
type FactCollector struct{}

// Name implements ValueCollector.
func (FactCollector) Name() string { return "facts" }

// Collect implements ValueCollector.
func (FactCollector) Collect(_ context.Context, question string, ectx estimate.Context) ([]estimate.ValueEstimate, error) {
	key := estimate.Key(question)
	var out []estimate.ValueEstimate

	names := make([]string, 0, len(ectx.Facts))
	for k := range ectx.Facts {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, k := range names {
		v := ectx.Facts[k]
		switch {
		case estimate.Key(k) == key:
			out = append(out, factEstimate(k, v, 1.0, "exact"))
		case partialMatch(question, k):
			out = append(out, factEstimate(k, v, 0.95, "partial"))
		}
	}

	if in, ok := ectx.Inherited[key]; ok {
		out = append(out, estimate.ValueEstimate{
			Source:      "inherited",
			Value:       in.Value,
			Confidence:  in.Confidence,
			Uncertainty: 1 - in.Confidence,
			Relevance:   1,
			Reliability: in.Confidence,
			Recency:     1,
			Reasoning:   fmt.Sprintf("resolved by parent model (%s)", in.Source),
		})
	}
	return out, nil
}

func partialMatch(question, key string) bool {
	_, _, ok := estimate.MatchFact(question, map[string]float64{key: 0})
	return ok
}

func factEstimate(key string, v, conf float64, match string) estimate.ValueEstimate {
	return estimate.ValueEstimate{
		Source:      "fact",
		Value:       v,
		Confidence:  conf,
		Uncertainty: 1 - conf,
		Relevance:   conf,
		Reliability: 1,
		Recency:     1,
		Reasoning:   fmt.Sprintf("caller-supplied fact %q (%s match)", key, match),
		Raw:         map[string]any{"key": key, "match": match},
	}
}
