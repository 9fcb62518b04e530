package collect

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/rand/guesstimate/internal/estimate"
	"github.com/rand/guesstimate/internal/oracle"
)

// OracleConfig configures the knowledge-and-search collector.
type OracleConfig struct {
	// TrustThreshold is the self-reported certainty above which the
	// oracle's own answer is used without searching.
	// Default: 0.75
	TrustThreshold float64

	// MinConfidence and MaxConfidence clamp the confidence of produced
	// estimates.
	// Default: 0.55, 0.90
	MinConfidence float64
	MaxConfidence float64

	// SearchLimit is the number of documents retrieved.
	// Default: 5
	SearchLimit int

	// ConsensusBand is the relative tolerance for grouping numbers.
	// Default: 0.3
	ConsensusBand float64
}

// DefaultOracleConfig returns the defaults.
func DefaultOracleConfig() OracleConfig {
	return OracleConfig{
		TrustThreshold: 0.75,
		MinConfidence:  0.55,
		MaxConfidence:  0.90,
		SearchLimit:    5,
		ConsensusBand:  0.3,
	}
}

// OracleCollector asks an oracle first and falls back to ranked web
// retrieval with numeric consensus when the oracle is unsure.
type OracleCollector struct {
	config   OracleConfig
	oracle   oracle.Oracle
	searcher oracle.Searcher
	logger   *slog.Logger
}

// NewOracleCollector creates a collector. Nil capabilities are treated as
// knowing nothing.
func NewOracleCollector(o oracle.Oracle, s oracle.Searcher, config OracleConfig, logger *slog.Logger) *OracleCollector {
	if o == nil {
		o = oracle.Noop{}
	}
	if s == nil {
		s = oracle.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OracleCollector{config: config, oracle: o, searcher: s, logger: logger}
}

// Name implements ValueCollector.
func (c *OracleCollector) Name() string { return "oracle" }

// Collect implements ValueCollector.
func (c *OracleCollector) Collect(ctx context.Context, question string, ectx estimate.Context) ([]estimate.ValueEstimate, error) {
	answers, err := c.oracle.Ask(ctx, question, ectx)
	if err != nil {
		c.logger.Warn("oracle failed, falling back to search", "question", question, "error", err)
	}
	if best, ok := oracle.Best(answers); ok && best.Confidence >= c.config.TrustThreshold {
		return []estimate.ValueEstimate{{
			Source:      "oracle",
			Value:       best.Value,
			Confidence:  c.clamp(best.Confidence),
			Uncertainty: 1 - best.Confidence,
			Relevance:   1,
			Reliability: best.Confidence,
			Recency:     0.7,
			Unit:        best.Unit,
			Reasoning:   best.Reasoning,
			Raw:         map[string]any{"provenance": best.Provenance, "mode": "knowledge"},
		}}, nil
	}

	return c.search(ctx, question)
}

func (c *OracleCollector) search(ctx context.Context, question string) ([]estimate.ValueEstimate, error) {
	docs, err := c.searcher.Search(ctx, question, c.config.SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	keywords := estimate.Keywords(question)
	percentOnly := Classify(question) == ConceptRate
	var values []float64
	var urls []string
	for _, d := range docs {
		found := 0
		for _, text := range []string{d.Snippet, d.Text} {
			for _, sentence := range sentences(text) {
				if !mentionsAny(sentence, keywords) {
					continue
				}
				for _, n := range ExtractNumbers(sentence) {
					if percentOnly && !n.Percent {
						continue
					}
					values = append(values, n.Value)
					found++
				}
			}
		}
		if found > 0 {
			urls = append(urls, d.URL)
		}
	}

	agreement := Consensus(values, c.config.ConsensusBand)
	if agreement == nil {
		c.logger.Debug("no consensus in retrieved numbers",
			"question", question, "documents", len(docs), "numbers", len(values))
		return nil, nil
	}

	unc := 0.0
	if agreement.Value != 0 {
		unc = spread(agreement.Members) / 2 / math.Abs(agreement.Value)
	}
	return []estimate.ValueEstimate{{
		Source:      "web",
		Value:       agreement.Value,
		Confidence:  c.clamp(agreement.Confidence),
		Uncertainty: unc,
		Relevance:   0.8,
		Reliability: agreement.Confidence,
		Recency:     0.8,
		Reasoning:   fmt.Sprintf("%d of %d retrieved figures agree within ±%.0f%%", len(agreement.Members), len(values), c.config.ConsensusBand*100),
		Raw:         map[string]any{"members": agreement.Members, "sources": urls, "mode": "search"},
	}}, nil
}

func (c *OracleCollector) clamp(v float64) float64 {
	return math.Max(c.config.MinConfidence, math.Min(c.config.MaxConfidence, v))
}
