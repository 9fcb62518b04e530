package learning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rand/guesstimate/internal/estimate"
	"github.com/rand/guesstimate/internal/observability"
)

// WriterConfig holds the learning quality bar.
type WriterConfig struct {
	// MinConfidence is the lowest confidence ever learned.
	// Default: 0.80
	MinConfidence float64

	// MinEvidence is the evidence count normally required.
	// Default: 2
	MinEvidence int

	// SingleEvidenceConfidence is the confidence at which one piece of
	// evidence is enough.
	// Default: 0.90
	SingleEvidenceConfidence float64

	Logger *slog.Logger
}

// DefaultWriterConfig returns the defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		MinConfidence:            0.80,
		MinEvidence:              2,
		SingleEvidenceConfidence: 0.90,
	}
}

// Writer persists eligible results as learned rules. It only ever appends.
type Writer struct {
	store  Store
	config WriterConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewWriter creates a writer over store.
func NewWriter(store Store, config WriterConfig) *Writer {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{store: store, config: config, logger: logger, now: time.Now}
}

// Eligible reports whether r meets the quality bar, and why not when it
// does not. Results answered from the fact map or the rule store are never
// relearned.
func (w *Writer) Eligible(r *estimate.Result) (bool, string) {
	switch {
	case !r.Resolved():
		return false, "unresolved"
	case r.Tier != estimate.TierEvidence && r.Tier != estimate.TierDecomposition:
		return false, fmt.Sprintf("%s results are not relearned", r.Tier)
	case r.Conflict:
		return false, "guardrail conflict"
	case r.Confidence < w.config.MinConfidence:
		return false, fmt.Sprintf("confidence %.2f below %.2f", r.Confidence, w.config.MinConfidence)
	case r.EvidenceCount >= w.config.MinEvidence:
		return true, ""
	case r.EvidenceCount >= 1 && r.Confidence >= w.config.SingleEvidenceConfidence:
		return true, ""
	default:
		return false, fmt.Sprintf("evidence count %d insufficient at confidence %.2f", r.EvidenceCount, r.Confidence)
	}
}

// Write persists r when eligible. It returns the new rule, or nil when r
// was not eligible.
func (w *Writer) Write(ctx context.Context, r *estimate.Result) (*LearnedRule, error) {
	if ok, why := w.Eligible(r); !ok {
		w.logger.Debug("result not learned", "question", r.Question, "reason", why)
		return nil, nil
	}

	question, learnedUnder := r.Question, estimate.Context{}
	if r.Learn != nil {
		question = r.Learn.Question
		learnedUnder = r.Learn.Context
	}
	rule := LearnedRule{
		ID:       uuid.NewString(),
		Question: question,
		Context: estimate.Context{
			Intent:      learnedUnder.Intent,
			Domain:      learnedUnder.Domain,
			Granularity: learnedUnder.Granularity,
			Region:      learnedUnder.Region,
			TimePeriod:  learnedUnder.TimePeriod,
		},
		Value:         *r.Value,
		Range:         r.Range,
		Unit:          r.Unit,
		Confidence:    r.Confidence,
		TierOrigin:    r.Tier,
		PhaseOrigin:   r.Phase,
		EvidenceCount: r.EvidenceCount,
		Strategy:      r.Strategy,
		CreatedAt:     w.now(),
		LastVerified:  w.now(),
	}
	if err := w.store.Append(ctx, rule); err != nil {
		return nil, fmt.Errorf("learn rule: %w", err)
	}

	observability.RecordRuleLearned()
	w.logger.Info("learned rule",
		"id", rule.ID, "question", question, "value", rule.Value,
		"confidence", rule.Confidence, "tier", rule.TierOrigin)
	return &rule, nil
}
