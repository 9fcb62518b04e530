package escalate

import (
	"context"
	"fmt"
	"time"

	"github.com/rand/guesstimate/internal/estimate"
	"github.com/rand/guesstimate/internal/guardrail"
	"github.com/rand/guesstimate/internal/learning"
)

func (c *Controller) literal(_ context.Context, q string, ectx estimate.Context, _ *request) *estimate.Result {
	name, v, ok := estimate.MatchFact(q, ectx.Facts)
	if !ok {
		return nil
	}
	return &estimate.Result{
		Value:         estimate.Ptr(v),
		Tier:          estimate.TierRule,
		Phase:         estimate.PhaseLiteral,
		Confidence:    1.0,
		Strategy:      estimate.StrategyLiteral,
		Reasoning:     fmt.Sprintf("caller-supplied fact %q", name),
		EvidenceCount: 1,
	}
}

func (c *Controller) ruleSearch(ctx context.Context, q string, ectx estimate.Context, _ *request) *estimate.Result {
	matches, err := c.deps.Rules.Search(ctx, learning.Query{
		Question: q,
		Floor:    c.config.RuleSimilarity,
		TopK:     1,
	})
	if err != nil {
		c.logger.Warn("rule search failed", "question", q, "error", err)
		return nil
	}
	if len(matches) == 0 {
		return nil
	}

	// Only the nearest rule is eligible; a weaker match is never promoted
	// because the nearest one was learned under another context.
	m := matches[0]
	score := ContextMatch(m.Rule.Context, ectx)
	if score < c.config.ContextMatch {
		c.logger.Debug("rule context mismatch", "question", q, "rule", m.Rule.ID,
			"similarity", m.Similarity, "context_match", score)
		return nil
	}
	return c.fromRule(ctx, q, ectx, m, score)
}

func (c *Controller) fromRule(ctx context.Context, q string, ectx estimate.Context, m learning.Match, score float64) *estimate.Result {
	rule := m.Rule
	r := &estimate.Result{
		Value:         estimate.Ptr(rule.Value),
		Range:         rule.Range,
		Unit:          rule.Unit,
		Tier:          estimate.TierRule,
		Phase:         estimate.PhaseRuleSearch,
		Confidence:    rule.Confidence,
		Strategy:      estimate.StrategyCached,
		EvidenceCount: rule.EvidenceCount,
		RuleID:        rule.ID,
		Reasoning: fmt.Sprintf("learned rule %q (similarity %.2f, context match %.2f, originally %s)",
			rule.Question, m.Similarity, score, rule.PhaseOrigin),
	}

	if rule.Context.TimePeriod != "" && ectx.TimePeriod != "" && rule.Context.TimePeriod != ectx.TimePeriod {
		c.logger.Info("time adjustment skipped", "question", q, "rule", rule.ID,
			"learned_period", rule.Context.TimePeriod, "requested_period", ectx.TimePeriod)
		r.Warnings = append(r.Warnings, estimate.Warning{
			Severity: estimate.SeverityInfo,
			Source:   "escalate:time",
			Message: fmt.Sprintf("value learned for %s was not adjusted to %s",
				rule.Context.TimePeriod, ectx.TimePeriod),
		})
	}

	if err := c.deps.Rules.RecordHit(ctx, rule.ID, time.Now()); err != nil {
		c.logger.Warn("record rule hit failed", "rule", rule.ID, "error", err)
	}
	return r
}

func (c *Controller) authoritative(ctx context.Context, q string, ectx estimate.Context, req *request) *estimate.Result {
	answers, err := c.deps.Authority.Ask(ctx, q, ectx)
	if err != nil {
		c.logger.Warn("authoritative lookup failed", "question", q, "error", err)
		return nil
	}

	best := -1
	var agreeing []estimate.ValueEstimate
	for _, a := range answers {
		if a.Confidence < c.config.AuthoritativeConfidence {
			continue
		}
		ve := estimate.ValueEstimate{
			Source:      "authoritative",
			Value:       a.Value,
			Confidence:  a.Confidence,
			Uncertainty: 1 - a.Confidence,
			Unit:        a.Unit,
			Reasoning:   a.Reasoning,
			Raw:         map[string]any{"provenance": a.Provenance},
		}
		if best < 0 || ve.Confidence > agreeing[best].Confidence {
			best = len(agreeing)
		}
		agreeing = append(agreeing, ve)
	}
	if best < 0 {
		return nil
	}
	b := agreeing[best]

	req.gc.AddDefinite(guardrail.Definite{
		Key:    estimate.Key(q),
		Value:  b.Value,
		Source: fmt.Sprint(b.Raw["provenance"]),
	})

	reasoning := b.Reasoning
	if reasoning == "" {
		reasoning = "authoritative source"
	}
	return &estimate.Result{
		Value:         estimate.Ptr(b.Value),
		Unit:          b.Unit,
		Tier:          estimate.TierEvidence,
		Phase:         estimate.PhaseAuthoritative,
		Confidence:    b.Confidence,
		Uncertainty:   b.Uncertainty,
		Estimates:     agreeing,
		Strategy:      estimate.StrategyAuthoritative,
		Reasoning:     reasoning,
		EvidenceCount: len(agreeing),
	}
}

func (c *Controller) guestimate(ctx context.Context, q string, ectx estimate.Context, req *request) *estimate.Result {
	estimates := c.deps.Collectors.Collect(ctx, q, ectx, req.gc)
	if len(estimates) == 0 || ctx.Err() != nil {
		return nil
	}
	synth := c.deps.Synthesizer
	if synth == nil {
		return nil
	}

	j := synth.Synthesize(q, estimates, ectx, req.gc.HardBounds())
	if j == nil {
		return nil
	}
	return &estimate.Result{
		Value:         estimate.Ptr(j.Value),
		Range:         j.Range,
		Unit:          unitOf(j.Used),
		Tier:          estimate.TierEvidence,
		Phase:         estimate.PhaseGuestimate,
		Confidence:    j.Confidence,
		Uncertainty:   j.Uncertainty,
		Boundaries:    req.gc.Hard(),
		Guides:        req.gc.Soft(),
		Estimates:     j.Used,
		Strategy:      j.Strategy,
		Reasoning:     j.Reasoning,
		Warnings:      j.Warnings,
		Conflict:      j.Conflict,
		EvidenceCount: len(j.Used),
	}
}

func (c *Controller) decompose(ctx context.Context, q string, ectx estimate.Context, req *request) *estimate.Result {
	return c.fermi.Decompose(ctx, q, ectx, req.stack)
}

// unitOf returns the unit shared by every estimate, or "".
func unitOf(es []estimate.ValueEstimate) string {
	unit := ""
	for _, e := range es {
		switch {
		case e.Unit == "":
		case unit == "":
			unit = e.Unit
		case unit != e.Unit:
			return ""
		}
	}
	return unit
}
