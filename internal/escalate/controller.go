// Package escalate implements the escalation ladder: five stages attempted
// strictly in order, cheapest and most certain first, returning the first
// stage that produces a value.
package escalate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rand/guesstimate/internal/collect"
	"github.com/rand/guesstimate/internal/estimate"
	"github.com/rand/guesstimate/internal/fermi"
	"github.com/rand/guesstimate/internal/guardrail"
	"github.com/rand/guesstimate/internal/learning"
	"github.com/rand/guesstimate/internal/observability"
	"github.com/rand/guesstimate/internal/oracle"
	"github.com/rand/guesstimate/internal/synthesize"
)

// Timeouts bounds each stage. A zero timeout leaves only the caller's
// deadline. The literal stage is never bounded.
type Timeouts struct {
	// Default: 500ms
	RuleSearch time.Duration `yaml:"rule_search" json:"rule_search"`
	// Default: 3s
	Authoritative time.Duration `yaml:"authoritative" json:"authoritative"`
	// Default: 8s
	Guestimate time.Duration `yaml:"guestimate" json:"guestimate"`
	// Default: 30s
	Fermi time.Duration `yaml:"fermi" json:"fermi"`
}

// Config configures a Controller.
type Config struct {
	// RuleSimilarity is the minimum text similarity for a learned rule.
	// Default: 0.95
	RuleSimilarity float64

	// ContextMatch is the minimum context-match score for a learned rule.
	// Default: 0.80
	ContextMatch float64

	// AuthoritativeConfidence is the minimum oracle confidence for the
	// authoritative stage.
	// Default: 0.95
	AuthoritativeConfidence float64

	Timeouts Timeouts

	// Learn writes eligible results back to the rule store.
	// Default: true
	Learn bool

	Logger *slog.Logger
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		RuleSimilarity:          0.95,
		ContextMatch:            0.80,
		AuthoritativeConfidence: 0.95,
		Timeouts: Timeouts{
			RuleSearch:    500 * time.Millisecond,
			Authoritative: 3 * time.Second,
			Guestimate:    8 * time.Second,
			Fermi:         30 * time.Second,
		},
		Learn: true,
	}
}

// Deps are the collaborators a Controller consults. Any of them may be nil;
// a stage whose collaborator is missing is skipped.
type Deps struct {
	Rules       learning.Store
	Writer      *learning.Writer
	Authority   oracle.Oracle
	Collectors  *collect.Runner
	Synthesizer *synthesize.Synthesizer

	Fermi     fermi.Config
	Library   *fermi.Library
	Generator fermi.Generator
}

// Controller runs the escalation ladder. It is safe for concurrent use;
// each call owns its own guardrail collector and call stack.
type Controller struct {
	config Config
	deps   Deps
	fermi  *fermi.Decomposer
	logger *slog.Logger
}

// New creates a controller. The decomposer it builds recurses back into the
// controller for every unknown variable.
func New(config Config, deps Deps) *Controller {
	if config.RuleSimilarity <= 0 {
		config.RuleSimilarity = 0.95
	}
	if config.ContextMatch <= 0 {
		config.ContextMatch = 0.80
	}
	if config.AuthoritativeConfidence <= 0 {
		config.AuthoritativeConfidence = 0.95
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Fermi.Logger == nil {
		deps.Fermi.Logger = logger
	}
	c := &Controller{config: config, deps: deps, logger: logger}
	c.fermi = fermi.New(deps.Fermi, deps.Library, deps.Generator, c)
	return c
}

// stage is one rung of the ladder. run returns nil for "no opinion".
type stage struct {
	phase   estimate.Phase
	timeout time.Duration
	enabled bool
	run     func(ctx context.Context, q string, ectx estimate.Context, st *request) *estimate.Result
}

// request is the per-call state threaded through the stages.
type request struct {
	stack *estimate.CallStack
	gc    *guardrail.Collector
}

func (c *Controller) stages() []stage {
	return []stage{
		{phase: estimate.PhaseLiteral, enabled: true, run: c.literal},
		{phase: estimate.PhaseRuleSearch, timeout: c.config.Timeouts.RuleSearch, enabled: c.deps.Rules != nil, run: c.ruleSearch},
		{phase: estimate.PhaseAuthoritative, timeout: c.config.Timeouts.Authoritative, enabled: c.deps.Authority != nil, run: c.authoritative},
		{phase: estimate.PhaseGuestimate, timeout: c.config.Timeouts.Guestimate, enabled: c.deps.Collectors != nil, run: c.guestimate},
		{phase: estimate.PhaseFermi, timeout: c.config.Timeouts.Fermi, enabled: true, run: c.decompose},
	}
}

// Estimate answers a top-level question.
func (c *Controller) Estimate(ctx context.Context, question string, ectx estimate.Context) *estimate.Result {
	return c.EstimateWithStack(ctx, question, ectx, nil)
}

// EstimateWithStack answers question with stack holding the questions
// already in flight above it. It never returns nil.
func (c *Controller) EstimateWithStack(ctx context.Context, question string, ectx estimate.Context, stack *estimate.CallStack) *estimate.Result {
	ctx, span := observability.StartSpan(ctx, "escalate.estimate",
		"question", question, "depth", fmt.Sprint(ectx.Depth))
	defer span.End()

	if strings.TrimSpace(question) == "" || estimate.Normalize(question) == "" {
		c.logger.Warn("rejected malformed question", "question", question)
		return c.finish(ctx, question, ectx, estimate.Unresolved(question, "cannot process: empty question"))
	}
	if stack.Contains(question) {
		c.logger.Warn("cycle detected", "question", question, "stack", stack.Frames())
		return c.finish(ctx, question, ectx, estimate.Unresolved(question, "cycle detected: question is already being estimated"))
	}

	req := &request{stack: stack.Push(question), gc: guardrail.NewCollector()}
	for _, s := range c.stages() {
		if err := ctx.Err(); err != nil {
			observability.RecordStage(string(s.phase), observability.OutcomeAbandoned, 0)
			c.logger.Debug("estimation abandoned", "question", question, "stage", s.phase, "error", err)
			return c.finish(ctx, question, ectx, estimate.Unresolved(question, "abandoned: "+err.Error()))
		}
		if !s.enabled {
			observability.RecordStage(string(s.phase), observability.OutcomeSkipped, 0)
			continue
		}
		if r := c.attempt(ctx, s, question, ectx, req); r != nil {
			return c.finish(ctx, question, ectx, r)
		}
	}
	return c.finish(ctx, question, ectx, estimate.Unresolved(question, "no stage produced an estimate"))
}

// attempt runs one stage under its timeout. A timeout is a stage failure.
func (c *Controller) attempt(ctx context.Context, s stage, question string, ectx estimate.Context, req *request) *estimate.Result {
	sctx, span := observability.StartSpan(ctx, "escalate."+string(s.phase))
	if s.timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(sctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan *estimate.Result, 1)
	go func() {
		done <- s.run(sctx, question, ectx, req)
	}()

	var r *estimate.Result
	var err error
	select {
	case r = <-done:
	case <-sctx.Done():
		err = sctx.Err()
	}
	elapsed := time.Since(start)

	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		observability.RecordStage(string(s.phase), observability.OutcomeTimeout, elapsed)
		c.logger.Debug("stage timed out", "question", question, "stage", s.phase, "timeout", s.timeout)
	case err != nil:
		observability.RecordStage(string(s.phase), observability.OutcomeAbandoned, elapsed)
	case r.Resolved():
		observability.RecordStage(string(s.phase), observability.OutcomeHit, elapsed)
	default:
		observability.RecordStage(string(s.phase), observability.OutcomeMiss, elapsed)
		c.logger.Debug("stage fell through", "question", question, "stage", s.phase)
		r = nil
	}
	observability.EndSpan(span, err)
	return r
}

// finish stamps bookkeeping onto a result and writes it back when it is
// worth learning.
func (c *Controller) finish(ctx context.Context, question string, ectx estimate.Context, r *estimate.Result) *estimate.Result {
	r.Question = question
	if c.deps.Writer != nil && r.Resolved() {
		if ok, _ := c.deps.Writer.Eligible(r); ok {
			r.Learnable = true
			r.Learn = &estimate.LearnPayload{Question: question, Context: ectx}
		}
	}
	observability.RecordEstimation(r.Tier.String(), string(r.Phase))
	c.logger.Debug("estimated", "question", question, "tier", r.Tier, "phase", r.Phase,
		"confidence", r.Confidence, "depth", ectx.Depth)

	if r.Learnable && c.config.Learn {
		if _, err := c.deps.Writer.Write(context.WithoutCancel(ctx), r); err != nil {
			c.logger.Warn("learning write failed", "question", question, "error", err)
		}
	}
	return r
}
