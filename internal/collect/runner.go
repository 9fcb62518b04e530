package collect

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rand/guesstimate/internal/estimate"
	"github.com/rand/guesstimate/internal/guardrail"
)

// Runner runs every collector family for one question. Bound collectors
// run sequentially; value collectors run in parallel.
type Runner struct {
	bounds      []BoundCollector
	values      []ValueCollector
	maxParallel int
	perCall     time.Duration
	logger      *slog.Logger
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// MaxParallel caps concurrently running value collectors.
	// Default: 4
	MaxParallel int

	// PerCollectorTimeout bounds each value collector. Zero leaves only
	// the caller's deadline.
	PerCollectorTimeout time.Duration

	Logger *slog.Logger
}

// NewRunner creates a runner.
func NewRunner(config RunnerConfig, bounds []BoundCollector, values []ValueCollector) *Runner {
	if config.MaxParallel <= 0 {
		config.MaxParallel = 4
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		bounds:      bounds,
		values:      values,
		maxParallel: config.MaxParallel,
		perCall:     config.PerCollectorTimeout,
		logger:      logger,
	}
}

// Bounds adds every bound collector's guardrails to gc.
func (r *Runner) Bounds(question string, ectx estimate.Context, gc *guardrail.Collector) {
	for _, b := range r.bounds {
		gc.Add(b.Bounds(question, ectx)...)
	}
}

// Values runs the value collectors and returns their estimates in
// collector order. A failing or timed-out collector contributes nothing.
func (r *Runner) Values(ctx context.Context, question string, ectx estimate.Context) []estimate.ValueEstimate {
	results := make([][]estimate.ValueEstimate, len(r.values))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxParallel)
	for i, vc := range r.values {
		g.Go(func() error {
			cctx := gctx
			if r.perCall > 0 {
				var cancel context.CancelFunc
				cctx, cancel = context.WithTimeout(gctx, r.perCall)
				defer cancel()
			}

			start := time.Now()
			es, err := vc.Collect(cctx, question, ectx)
			if err != nil {
				r.logger.Warn("collector failed",
					"collector", vc.Name(), "question", question,
					"duration", time.Since(start), "error", err)
				return nil
			}
			results[i] = es
			return nil
		})
	}
	_ = g.Wait()

	var out []estimate.ValueEstimate
	for _, es := range results {
		out = append(out, es...)
	}
	return out
}

// Collect runs all families, adding guardrails to gc and returning the
// value estimates.
func (r *Runner) Collect(ctx context.Context, question string, ectx estimate.Context, gc *guardrail.Collector) []estimate.ValueEstimate {
	r.Bounds(question, ectx, gc)
	return r.Values(ctx, question, ectx)
}
