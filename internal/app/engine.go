// Package app assembles an estimation engine from configuration: the rule
// store, similarity provider, oracles, collectors, synthesizer and the
// escalation controller on top of them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/rand/guesstimate/internal/collect"
	"github.com/rand/guesstimate/internal/config"
	"github.com/rand/guesstimate/internal/escalate"
	"github.com/rand/guesstimate/internal/estimate"
	"github.com/rand/guesstimate/internal/fermi"
	"github.com/rand/guesstimate/internal/learning"
	"github.com/rand/guesstimate/internal/memory/embeddings"
	"github.com/rand/guesstimate/internal/oracle"
	"github.com/rand/guesstimate/internal/resilience"
	"github.com/rand/guesstimate/internal/synthesize"
)

// Engine is a ready-to-use estimation engine.
type Engine struct {
	Config     config.Config
	Controller *escalate.Controller
	Rules      learning.Store

	logger       *slog.Logger
	cleanupFuncs []func() error
}

// New builds an engine. Optional backends that cannot be initialized (no
// API key, for example) are logged and left out; only storage and data file
// errors are fatal.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{Config: cfg, logger: logger}

	provider, err := e.provider()
	if err != nil {
		return nil, err
	}

	rules, err := e.openStore(ctx, provider)
	if err != nil {
		return nil, err
	}
	e.Rules = rules
	e.cleanupFuncs = append(e.cleanupFuncs, rules.Close)

	completer := e.completer()
	authority, err := e.authority()
	if err != nil {
		e.Close()
		return nil, err
	}

	runner, validators, err := e.collectors(provider, completer)
	if err != nil {
		e.Close()
		return nil, err
	}

	library, err := e.library()
	if err != nil {
		e.Close()
		return nil, err
	}

	var generator fermi.Generator
	if completer != nil {
		generator = fermi.NewLLMGenerator(completer, 800, 3, logger)
	}

	writer := learning.NewWriter(rules, learning.WriterConfig{
		MinConfidence:            cfg.Learning.MinConfidence,
		MinEvidence:              cfg.Learning.MinEvidence,
		SingleEvidenceConfidence: cfg.Learning.SingleEvidenceConfidence,
		Logger:                   logger,
	})

	sc := cfg.Synthesis
	synth := synthesize.New(synthesize.Config{
		RangeCV:              sc.RangeCV,
		SingleBestGap:        sc.SingleBestGap,
		SingleBestFloor:      sc.SingleBestFloor,
		ConservativeTopK:     sc.ConservativeTopK,
		ConservativeDiscount: sc.ConservativeDiscount,
		RangeConfidence:      sc.RangeConfidence,
		DefaultUncertainty:   synthesize.DefaultConfig().DefaultUncertainty,
	}, logger, validators...)

	fc := fermi.DefaultConfig()
	fc.MaxDepth = cfg.Fermi.MaxDepth
	fc.MaxCandidates = cfg.Fermi.MaxCandidates
	fc.MaxParallel = cfg.Fermi.MaxParallel
	fc.Policy = fermi.VariablePolicy{
		Recommended: cfg.Fermi.RecommendedVariables,
		Max:         cfg.Fermi.MaxVariables,
	}
	fc.Logger = logger

	ec := cfg.Escalation
	e.Controller = escalate.New(escalate.Config{
		RuleSimilarity:          ec.RuleSimilarity,
		ContextMatch:            ec.ContextMatch,
		AuthoritativeConfidence: ec.AuthoritativeConfidence,
		Timeouts: escalate.Timeouts{
			RuleSearch:    ec.Timeouts.RuleSearch,
			Authoritative: ec.Timeouts.Authoritative,
			Guestimate:    ec.Timeouts.Guestimate,
			Fermi:         ec.Timeouts.Fermi,
		},
		Learn:  cfg.Learning.Enabled,
		Logger: logger,
	}, escalate.Deps{
		Rules:       rules,
		Writer:      writer,
		Authority:   authority,
		Collectors:  runner,
		Synthesizer: synth,
		Fermi:       fc,
		Library:     library,
		Generator:   generator,
	})

	logger.Debug("engine ready",
		"store", cfg.Store.Backend,
		"embeddings", provider.Model(),
		"llm", completer != nil,
		"authority", authority != nil,
		"templates", library.Len())
	return e, nil
}

// Estimate answers a top-level question.
func (e *Engine) Estimate(ctx context.Context, question string, ectx estimate.Context) *estimate.Result {
	return e.Controller.Estimate(ctx, question, ectx)
}

// Lister returns the rule store's listing capability, if it has one.
func (e *Engine) Lister() (learning.Lister, bool) {
	l, ok := e.Rules.(learning.Lister)
	return l, ok
}

// Close releases the engine's resources.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.cleanupFuncs) - 1; i >= 0; i-- {
		if err := e.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.cleanupFuncs = nil
	return errors.Join(errs...)
}

func (e *Engine) provider() (embeddings.Provider, error) {
	ec := e.Config.Embeddings
	var p embeddings.Provider
	switch ec.Provider {
	case config.EmbeddingsOpenAI:
		op, err := embeddings.NewOpenAIProvider(embeddings.OpenAIConfig{
			Model:      ec.Model,
			Dimensions: ec.Dimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider: %w", err)
		}
		p = op
	default:
		p = embeddings.NewHashingProvider(ec.Dimensions)
	}
	return embeddings.NewCachedProvider(p, ec.CacheSize), nil
}

func (e *Engine) openStore(ctx context.Context, provider embeddings.Provider) (learning.Store, error) {
	sc := e.Config.Store
	switch sc.Backend {
	case config.BackendMemory:
		return learning.NewMemoryStore(provider), nil
	case config.BackendBadger:
		s, err := learning.OpenBadger(learning.BadgerOptions{
			Path:       sc.Path,
			SyncWrites: true,
			Provider:   provider,
			Logger:     e.logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := learning.OpenSQLite(ctx, learning.SQLiteOptions{
			Path:     sc.Path,
			Provider: provider,
			Logger:   e.logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// completer returns the language model, or nil when none is configured.
func (e *Engine) completer() oracle.Completer {
	lc := e.Config.Oracle.LLM
	if !lc.Enabled {
		return nil
	}
	c, err := oracle.NewAnthropicCompleter(oracle.LLMConfig{
		APIKey:    os.Getenv(lc.APIKeyEnv),
		BaseURL:   lc.BaseURL,
		Model:     lc.Model,
		MaxTokens: lc.MaxTokens,
	})
	if err != nil {
		e.logger.Warn("language model unavailable", "error", err)
		return nil
	}
	return c
}

// authority returns the reference-data oracle, or nil when no reference
// file is configured.
func (e *Engine) authority() (oracle.Oracle, error) {
	path := e.Config.Oracle.Reference
	if path == "" {
		return nil, nil
	}
	s, err := oracle.LoadStatic(path)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("reference data loaded", "path", path, "questions", s.Len())
	return s, nil
}

func (e *Engine) collectors(provider embeddings.Provider, completer oracle.Completer) (*collect.Runner, []estimate.Validator, error) {
	cc := e.Config.Collect
	oc := e.Config.Oracle

	bounds := []collect.BoundCollector{
		collect.NewHardCollector(collect.HardConfig{
			PaybackCeilingMonths: cc.PaybackCeilingMonths,
			MaxWidthRatio:        cc.MaxWidthRatio,
		}, e.logger),
	}
	var validators []estimate.Validator
	if !cc.DisableSoftRules {
		soft := collect.NewSoftCollector(collect.DefaultSoftRules())
		bounds = append(bounds, soft)
		validators = soft.Validators()
	}

	values := []collect.ValueCollector{collect.FactCollector{}}

	var knower oracle.Oracle
	if completer != nil {
		knower = oracle.NewLLMOracle(completer, oracle.LLMConfig{MaxTokens: oc.LLM.MaxTokens, Logger: e.logger})
	}
	var searcher oracle.Searcher
	if oc.Web.Enabled {
		wc := oracle.DefaultWebConfig()
		wc.Endpoint = oc.Web.Endpoint
		wc.FetchPages = oc.Web.FetchPages
		wc.Timeout = oc.Web.Timeout
		wc.Logger = e.logger
		searcher = oracle.NewWebSearcher(wc)
	}
	if knower != nil || searcher != nil {
		breaker := resilience.DefaultConfig("oracle")
		breaker.FailureThreshold = oc.FailureThreshold
		breaker.Cooldown = oc.Cooldown
		guarded := oracle.Guard(knower, searcher, oracle.GuardConfig{
			Name:              "oracle",
			RequestsPerSecond: oc.RequestsPerSecond,
			Burst:             1,
			Breaker:           breaker,
			Logger:            e.logger,
		})
		occ := collect.DefaultOracleConfig()
		occ.TrustThreshold = cc.TrustThreshold
		occ.SearchLimit = cc.SearchLimit
		occ.ConsensusBand = cc.ConsensusBand
		values = append(values, collect.NewOracleCollector(guarded, guarded, occ, e.logger))
	}

	if cc.Benchmarks != "" {
		bms, err := collect.LoadBenchmarks(cc.Benchmarks)
		if err != nil {
			return nil, nil, err
		}
		values = append(values, collect.NewBenchmarkCollector(provider, bms, cc.BenchmarkFloor, 3))
	}
	if cc.Patterns != "" {
		ps, err := collect.LoadPatterns(cc.Patterns)
		if err != nil {
			return nil, nil, err
		}
		values = append(values, collect.NewPatternCollector(ps))
	}

	runner := collect.NewRunner(collect.RunnerConfig{
		MaxParallel:         cc.MaxParallel,
		PerCollectorTimeout: cc.PerCollectorTimeout,
		Logger:              e.logger,
	}, bounds, values)
	return runner, validators, nil
}

func (e *Engine) library() (*fermi.Library, error) {
	templates := fermi.DefaultTemplates()
	if path := e.Config.Fermi.Templates; path != "" {
		extra, err := fermi.LoadTemplates(path)
		if err != nil {
			return nil, err
		}
		templates = append(templates, extra...)
	}
	return fermi.NewLibrary(templates), nil
}
