package oracle

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/rand/guesstimate/internal/estimate"
	"github.com/rand/guesstimate/internal/observability"
	"github.com/rand/guesstimate/internal/resilience"
)

// Guarded wraps an Oracle and a Searcher with a rate limit and a circuit
// breaker. A tripped breaker is reported as an empty answer.
type Guarded struct {
	name     string
	oracle   Oracle
	searcher Searcher
	limiter  *rate.Limiter
	breaker  *resilience.Breaker
	logger   *slog.Logger
}

// GuardConfig configures Guard.
type GuardConfig struct {
	Name              string
	RequestsPerSecond float64
	Burst             int
	Breaker           resilience.Config
	Logger            *slog.Logger
}

// Guard wraps o and s. Either may be nil.
func Guard(o Oracle, s Searcher, cfg GuardConfig) *Guarded {
	if o == nil {
		o = Noop{}
	}
	if s == nil {
		s = Noop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1))
	}
	bc := cfg.Breaker
	if bc.Name == "" {
		bc.Name = cfg.Name
	}
	if bc.Logger == nil {
		bc.Logger = logger
	}
	return &Guarded{
		name:     cfg.Name,
		oracle:   o,
		searcher: s,
		limiter:  limiter,
		breaker:  resilience.New(bc),
		logger:   logger,
	}
}

// Ask implements Oracle.
func (g *Guarded) Ask(ctx context.Context, question string, ectx estimate.Context) ([]Answer, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	answers, err := resilience.Call(ctx, g.breaker, func(ctx context.Context) ([]Answer, error) {
		return g.oracle.Ask(ctx, question, ectx)
	})
	return answers, g.outcome("ask", err)
}

// Search implements Searcher.
func (g *Guarded) Search(ctx context.Context, query string, limit int) ([]Document, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	docs, err := resilience.Call(ctx, g.breaker, func(ctx context.Context) ([]Document, error) {
		return g.searcher.Search(ctx, query, limit)
	})
	return docs, g.outcome("search", err)
}

func (g *Guarded) outcome(op string, err error) error {
	switch {
	case err == nil:
		observability.RecordOracleCall(g.name, "ok")
		return nil
	case errors.Is(err, resilience.ErrCircuitOpen):
		observability.RecordOracleCall(g.name, "rejected")
		g.logger.Debug("oracle circuit open", "backend", g.name, "op", op)
		return nil
	default:
		observability.RecordOracleCall(g.name, "error")
		return err
	}
}
