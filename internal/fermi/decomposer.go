package fermi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rand/guesstimate/internal/estimate"
	"github.com/rand/guesstimate/internal/fermi/expr"
	"github.com/rand/guesstimate/internal/observability"
)

// Estimator resolves a sub-question through the full escalation ladder.
// stack holds the questions already in flight above it.
type Estimator interface {
	EstimateWithStack(ctx context.Context, question string, ectx estimate.Context, stack *estimate.CallStack) *estimate.Result
}

// Config configures a Decomposer.
type Config struct {
	// MaxDepth is the recursion depth at which decomposition is skipped.
	// Default: 4
	MaxDepth int

	// MaxCandidates caps the models considered per question.
	// Default: 5
	MaxCandidates int

	// MaxParallel caps concurrently estimated variables.
	// Default: 4
	MaxParallel int

	Policy  VariablePolicy
	Weights Weights

	// Constants are values every decomposition may use without estimating.
	Constants map[string]float64

	Logger *slog.Logger
}

// DefaultConstants returns unit conversions that need no estimation.
func DefaultConstants() map[string]float64 {
	return map[string]float64{
		"days_per_year":    365,
		"days_per_week":    7,
		"weeks_per_year":   52,
		"months_per_year":  12,
		"hours_per_day":    24,
		"minutes_per_hour": 60,
		"seconds_per_hour": 3600,
	}
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		MaxDepth:      4,
		MaxCandidates: 5,
		MaxParallel:   4,
		Policy:        DefaultVariablePolicy(),
		Weights:       DefaultWeights(),
		Constants:     DefaultConstants(),
	}
}

// Decomposer runs one decomposition per call:
// scan available values, generate candidates, estimate their variables,
// and execute the best candidate.
type Decomposer struct {
	config    Config
	library   *Library
	generator Generator
	estimator Estimator
	logger    *slog.Logger
}

// New creates a decomposer. generator may be nil.
func New(config Config, library *Library, generator Generator, estimator Estimator) *Decomposer {
	if config.MaxDepth <= 0 {
		config.MaxDepth = 4
	}
	if config.MaxCandidates <= 0 {
		config.MaxCandidates = 5
	}
	if config.MaxParallel <= 0 {
		config.MaxParallel = 4
	}
	if config.Policy == (VariablePolicy{}) {
		config.Policy = DefaultVariablePolicy()
	}
	if config.Weights == (Weights{}) {
		config.Weights = DefaultWeights()
	}
	if library == nil {
		library = NewLibrary(nil)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Decomposer{
		config:    config,
		library:   library,
		generator: generator,
		estimator: estimator,
		logger:    logger,
	}
}

type candidate struct {
	model    Model
	vars     []string
	warning  string
	rejected string
	resolved int
	confs    []float64
	score    float64
}

// Decompose estimates question by decomposition. It returns nil when no
// candidate can be executed, when the depth ceiling is reached, or when
// every candidate would recurse into a question already in flight.
func (d *Decomposer) Decompose(ctx context.Context, question string, ectx estimate.Context, stack *estimate.CallStack) *estimate.Result {
	if ectx.Depth >= d.config.MaxDepth {
		d.logger.Debug("depth ceiling reached, decomposition skipped",
			"question", question, "depth", ectx.Depth)
		return nil
	}

	available := d.scan(ectx)
	models := d.candidates(ctx, question, ectx)
	observability.RecordFermiCandidates(len(models))
	if len(models) == 0 {
		return nil
	}

	cands := make([]*candidate, len(models))
	for i, m := range models {
		c := &candidate{model: m, vars: m.Variables()}
		allowed, warn := d.config.Policy.Check(len(c.vars))
		c.warning = warn
		if !allowed {
			c.rejected = warn
		}
		for _, v := range c.vars {
			if c.rejected != "" {
				break
			}
			if _, ok := available[estimate.Key(v)]; ok {
				continue
			}
			if stack.Contains(estimate.SubQuestion(v)) {
				c.rejected = fmt.Sprintf("cycle: %s depends on a question already in flight", v)
				d.logger.Warn("decomposition cycle detected",
					"question", question, "model", m.Name, "variable", v, "stack", stack.Frames())
			}
		}
		cands[i] = c
	}

	resolved := d.feasibility(ctx, cands, available, ectx, stack)
	if ctx.Err() != nil {
		return nil
	}

	best := d.choose(cands, resolved, ectx.Depth)
	trace := &estimate.DecompositionTrace{Depth: ectx.Depth}
	for _, c := range cands {
		trace.Candidates = append(trace.Candidates, estimate.CandidateScore{
			Model:    c.model.Name,
			Formula:  c.model.Formula,
			Score:    c.score,
			Resolved: c.resolved,
			Total:    len(c.vars),
			Rejected: c.rejected,
		})
	}
	if best == nil {
		d.logger.Debug("no executable decomposition", "question", question, "candidates", len(cands))
		return nil
	}

	vars := make(map[string]Variable, len(best.vars))
	for _, name := range best.vars {
		if v, ok := resolved[estimate.Key(name)]; ok {
			v.Name = name
			vars[name] = v
			continue
		}
		vars[name] = Variable{Name: name}
	}
	exec, err := Execute(best.model.Formula, vars)
	if err != nil {
		d.logger.Debug("decomposition not executable",
			"question", question, "model", best.model.Name, "error", err)
		return nil
	}

	trace.Model = best.model.Name
	trace.Formula = best.model.Formula
	trace.Fallback = exec.Fallback
	trace.SubResults = make(map[string]*estimate.Result)
	for _, name := range best.vars {
		v := vars[name]
		trace.Variables = append(trace.Variables, estimate.TraceVariable{
			Name:       name,
			Value:      v.Value,
			Confidence: v.Confidence,
			Source:     v.Source,
			Resolved:   v.Resolved,
		})
		if v.Result != nil {
			trace.SubResults[name] = v.Result
		}
	}

	var warnings []estimate.Warning
	if best.warning != "" {
		warnings = append(warnings, estimate.Warning{
			Severity: estimate.SeverityWarning, Source: "fermi:policy", Message: best.warning,
		})
	}
	if exec.Fallback {
		warnings = append(warnings, estimate.Warning{
			Severity: estimate.SeverityWarning,
			Source:   "fermi:execute",
			Message:  fmt.Sprintf("formula %q not evaluable (%v); used product of known values", best.model.Formula, exec.Err),
		})
	}

	reasoning := fmt.Sprintf("%s via %s (%d/%d variables resolved, score %.2f)",
		best.model.Name, best.model.Formula, best.resolved, len(best.vars), best.score)
	d.logger.Debug("decomposition executed",
		"question", question, "model", best.model.Name, "value", exec.Value,
		"confidence", exec.Confidence, "fallback", exec.Fallback)

	return &estimate.Result{
		Question:      question,
		Value:         estimate.Ptr(exec.Value),
		Tier:          estimate.TierDecomposition,
		Phase:         estimate.PhaseFermi,
		Confidence:    exec.Confidence,
		Uncertainty:   exec.Uncertainty,
		Strategy:      estimate.StrategyFormula,
		Reasoning:     reasoning,
		Warnings:      warnings,
		EvidenceCount: exec.Used,
		Trace:         trace,
	}
}

// scan merges constants, inherited parent variables and caller facts, in
// increasing order of precedence.
func (d *Decomposer) scan(ectx estimate.Context) map[string]Variable {
	out := make(map[string]Variable)
	for k, v := range d.config.Constants {
		out[estimate.Key(k)] = Variable{Name: k, Value: v, Confidence: 1, Source: "constant", Resolved: true}
	}
	for k, in := range ectx.Inherited {
		out[estimate.Key(k)] = Variable{Name: k, Value: in.Value, Confidence: in.Confidence, Source: "inherited:" + in.Source, Resolved: true}
	}
	for k, v := range ectx.Facts {
		out[estimate.Key(k)] = Variable{Name: k, Value: v, Confidence: 1, Source: "fact", Resolved: true}
	}
	return out
}

// candidates returns template matches, else generated models, else a
// single trivial model.
func (d *Decomposer) candidates(ctx context.Context, question string, ectx estimate.Context) []Model {
	models := d.library.Match(question)
	if len(models) == 0 && d.generator != nil {
		generated, err := d.generator.Generate(ctx, question, ectx)
		if err != nil {
			d.logger.Warn("model generation failed", "question", question, "error", err)
		}
		models = generated
	}
	if len(models) == 0 {
		if m, ok := trivialModel(question); ok {
			models = []Model{m}
		}
	}
	if len(models) > d.config.MaxCandidates {
		models = models[:d.config.MaxCandidates]
	}
	return models
}

const baselineSuffix = "_baseline"

// trivialModel expresses the quantity as a single baseline variable. A
// baseline is never itself decomposed this way.
func trivialModel(question string) (Model, bool) {
	key := estimate.Key(question)
	if key == "" || strings.HasSuffix(key, baselineSuffix) {
		return Model{}, false
	}
	m := Model{
		Name:    key,
		Formula: fmt.Sprintf("%s = %s%s", key, key, baselineSuffix),
		Origin:  OriginTrivial,
	}
	if m.Validate() != nil {
		return Model{}, false
	}
	return m, true
}

// feasibility estimates every variable that some surviving candidate needs
// and that is not already available. Variables shared between candidates
// are estimated once.
func (d *Decomposer) feasibility(ctx context.Context, cands []*candidate, available map[string]Variable, ectx estimate.Context, stack *estimate.CallStack) map[string]Variable {
	resolved := maps.Clone(available)

	type job struct {
		name   string
		parent *estimate.ModelRef
	}
	var jobs []job
	seen := make(map[string]bool)
	for _, c := range cands {
		if c.rejected != "" {
			continue
		}
		for _, v := range c.vars {
			k := estimate.Key(v)
			if _, ok := available[k]; ok || seen[k] {
				continue
			}
			seen[k] = true
			jobs = append(jobs, job{name: v, parent: &estimate.ModelRef{Name: c.model.Name, Formula: c.model.Formula, Variable: v}})
		}
	}
	if len(jobs) == 0 || d.estimator == nil {
		return resolved
	}

	inherited := make(map[string]estimate.Inherited, len(available))
	for k, v := range available {
		inherited[k] = estimate.Inherited{Value: v.Value, Confidence: v.Confidence, Source: v.Source}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.config.MaxParallel)
	for _, j := range jobs {
		g.Go(func() error {
			child := ectx.Child(j.parent, inherited)
			r := d.estimator.EstimateWithStack(gctx, estimate.SubQuestion(j.name), child, stack)
			if !r.Resolved() {
				return nil
			}
			mu.Lock()
			resolved[estimate.Key(j.name)] = Variable{
				Name:       j.name,
				Value:      *r.Value,
				Confidence: r.Confidence,
				Source:     string(r.Phase),
				Resolved:   true,
				Result:     r,
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return resolved
}

// choose scores surviving candidates and returns the best. A candidate
// with nothing resolved wins only when it is the sole survivor.
func (d *Decomposer) choose(cands []*candidate, resolved map[string]Variable, depth int) *candidate {
	var survivors []*candidate
	for _, c := range cands {
		if c.rejected != "" {
			continue
		}
		c.resolved, c.confs = 0, nil
		for _, v := range c.vars {
			if r, ok := resolved[estimate.Key(v)]; ok {
				c.resolved++
				c.confs = append(c.confs, r.Confidence)
			}
		}
		c.score = d.config.Weights.Score(c.resolved, len(c.vars), c.confs, depth)
		survivors = append(survivors, c)
	}
	if len(survivors) == 0 {
		return nil
	}
	if len(survivors) > 1 {
		survivors = slices.DeleteFunc(survivors, func(c *candidate) bool { return c.resolved == 0 })
		if len(survivors) == 0 {
			return nil
		}
	}

	best := survivors[0]
	for _, c := range survivors[1:] {
		if c.score > best.score {
			best = c
		}
	}
	return best
}

// Execution is the outcome of evaluating a model.
type Execution struct {
	Value       float64
	Confidence  float64
	Uncertainty float64
	// Used is the number of resolved variables that contributed.
	Used int
	// Fallback is set when the formula could not be evaluated and the
	// product of known values was used; Err says why.
	Fallback bool
	Err      error
}

// ErrNothingKnown is returned when no variable of a model is resolved.
var ErrNothingKnown = errors.New("no resolved variables")

// Execute evaluates formula with the resolved variables substituted. When
// the substituted expression is rejected or divides by zero, the product
// of all resolved values is used instead. Confidence is the geometric mean
// of the resolved confidences; uncertainty adds relative uncertainties in
// quadrature.
func Execute(formula string, vars map[string]Variable) (Execution, error) {
	values := make(map[string]float64)
	var confs []float64
	var sumSq float64
	names := slices.Sorted(maps.Keys(vars))
	for _, name := range names {
		v := vars[name]
		if !v.Resolved {
			continue
		}
		values[name] = v.Value
		confs = append(confs, v.Confidence)
		u := 1 - v.Confidence
		if v.Result != nil && v.Result.Uncertainty > 0 {
			u = v.Result.Uncertainty
		}
		sumSq += u * u
	}
	if len(values) == 0 {
		return Execution{}, ErrNothingKnown
	}

	exec := Execution{
		Confidence:  GeometricMean(confs),
		Uncertainty: math.Sqrt(sumSq),
		Used:        len(values),
	}
	v, err := expr.Eval(expr.Substitute(formula, values))
	if err == nil {
		exec.Value = v
		return exec, nil
	}

	product := 1.0
	for _, name := range names {
		if x, ok := values[name]; ok {
			product *= x
		}
	}
	exec.Value = product
	exec.Fallback = true
	exec.Err = err
	return exec, nil
}
