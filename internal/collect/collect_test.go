package collect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"

	"github.com/rand/guesstimate/internal/estimate"
	"github.com/rand/guesstimate/internal/guardrail"
	"github.com/rand/guesstimate/internal/memory/embeddings"
	"github.com/rand/guesstimate/internal/oracle"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func values(ns []Number) []float64 {
	out := make([]float64, len(ns))
	for i, n := range ns {
		out[i] = n.Value
	}
	return out
}

func TestExtractNumbers(t *testing.T) {
	tests := []struct {
		text string
		want []float64
	}{
		{"churn is 5% monthly", []float64{0.05}},
		{"revenue of $1.2bn and 300k users", []float64{1.2e9, 300e3}},
		{"1,250,000 people", []float64{1250000}},
		{"about 3.5 million cars in 2023", []float64{3.5e6}},
		{"B2B firms see 7 percent", []float64{0.07}},
		{"€40 per month", []float64{40}},
		{"from 2020-2021 it fell", nil},
		{"ratio .25 overall", []float64{0.25}},
		{"-4.5 degrees", []float64{-4.5}},
		{"5minutes", nil},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := values(ExtractNumbers(tt.text))
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.InDelta(t, tt.want[i], got[i], 1e-9*max(1, tt.want[i]))
			}
		})
	}
}

func TestExtractNumbers_Metadata(t *testing.T) {
	ns := ExtractNumbers("$5 and 12%")
	require.Len(t, ns, 2)
	assert.Equal(t, "$", ns[0].Currency)
	assert.False(t, ns[0].Percent)
	assert.True(t, ns[1].Percent)
}

func TestConsensus(t *testing.T) {
	a := Consensus([]float64{5.0, 5.2, 5.1, 10.0, 2.0}, 0.3)
	require.NotNil(t, a)
	assert.ElementsMatch(t, []float64{5.0, 5.1, 5.2}, a.Members)
	assert.GreaterOrEqual(t, a.Value, 5.0)
	assert.LessOrEqual(t, a.Value, 5.2)
	assert.Equal(t, 0.70, a.Confidence)

	assert.Nil(t, Consensus([]float64{5.0, 50.0, 500.0}, 0.3))
	assert.Nil(t, Consensus([]float64{5.0}, 0.3))
	assert.Nil(t, Consensus(nil, 0.3))
}

func TestConsensus_ConfidenceScalesWithGroup(t *testing.T) {
	assert.Equal(t, 0.60, Consensus([]float64{10, 11}, 0.3).Confidence)
	assert.Equal(t, 0.80, Consensus([]float64{10, 11, 10.5, 10.2}, 0.3).Confidence)
	assert.Equal(t, 0.85, Consensus([]float64{10, 11, 10.5, 10.2, 10.1, 10.3}, 0.3).Confidence)
}

// TestProperty_ConsensusWithinBand verifies every member of the accepted
// group is within the band of the group value.
func TestProperty_ConsensusWithinBand(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 12).Draw(t, "n")
		vs := make([]float64, n)
		for i := range vs {
			vs[i] = rapid.Float64Range(0.1, 1000).Draw(t, "v")
		}
		a := Consensus(vs, 0.3)
		if a == nil {
			return
		}
		if len(a.Members) < 2 {
			t.Fatalf("group of %d accepted", len(a.Members))
		}
		lo, hi := a.Members[0], a.Members[len(a.Members)-1]
		if a.Value < lo || a.Value > hi {
			t.Fatalf("value %g outside members [%g, %g]", a.Value, lo, hi)
		}
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		q    string
		want Concept
	}{
		{"What is the monthly churn rate?", ConceptRate},
		{"conversion for landing pages", ConceptRate},
		{"CAC payback period", ConceptPayback},
		{"annual water consumption in Lyon", ConceptConsumption},
		{"How many piano tuners in Chicago?", ConceptCount},
		{"number of taxis in NYC", ConceptCount},
		{"average ticket price", ConceptUnknown},
		{"US unemployment rate", ConceptRate},
		{"smartphone market share in Korea", ConceptRate},
		{"average hourly rate for a freelance developer", ConceptUnknown},
		{"USD to KRW exchange rate", ConceptUnknown},
		{"Apple share price", ConceptUnknown},
		{"resting heart rate", ConceptUnknown},
		{"annual revenue growth rate", ConceptUnknown},
		{"debt to equity ratio", ConceptUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.q, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.q))
		})
	}
}

func boundsOf(gs []guardrail.Guardrail) guardrail.Bounds {
	c := guardrail.NewCollector()
	c.Add(gs...)
	return c.HardBounds()
}

func TestHardCollector_UnitRatesUnbounded(t *testing.T) {
	h := NewHardCollector(DefaultHardConfig(), nil)

	for _, q := range []string{
		"average hourly rate for a freelance developer",
		"USD to KRW exchange rate",
		"resting heart rate",
	} {
		assert.Empty(t, h.Bounds(q, estimate.Context{}), q)
	}
}

func TestHardCollector(t *testing.T) {
	h := NewHardCollector(DefaultHardConfig(), nil)

	b := boundsOf(h.Bounds("monthly churn rate", estimate.Context{}))
	assert.Equal(t, guardrail.Bounds{Min: 0, Max: 1}, b)

	b = boundsOf(h.Bounds("CAC payback", estimate.Context{}))
	assert.Equal(t, 60.0, b.Max)

	b = boundsOf(h.Bounds("CAC payback in years", estimate.Context{}))
	assert.Equal(t, 5.0, b.Max)

	assert.Empty(t, h.Bounds("average ticket price", estimate.Context{}))
}

func TestHardCollector_ConsumptionNeedsBothFacts(t *testing.T) {
	h := NewHardCollector(DefaultHardConfig(), nil)

	assert.Empty(t, h.Bounds("coffee consumption", estimate.Context{Facts: map[string]float64{"population": 1000}}))

	gs := h.Bounds("coffee consumption", estimate.Context{Facts: map[string]float64{
		"population": 1000, "max_per_capita": 5,
	}})
	assert.Equal(t, 5000.0, boundsOf(gs).Max)
}

func TestHardCollector_DiscardsTooWide(t *testing.T) {
	h := NewHardCollector(DefaultHardConfig(), nil)
	gs := h.Bounds("coffee consumption", estimate.Context{Facts: map[string]float64{
		"population": 1000, "max_per_capita": 1000, "min_per_capita": 0.01,
	}})
	assert.Empty(t, gs, "ratio 100000 exceeds 10000")

	gs = h.Bounds("coffee consumption", estimate.Context{Facts: map[string]float64{
		"population": 1000, "max_per_capita": 10, "min_per_capita": 1,
	}})
	assert.Equal(t, guardrail.Bounds{Min: 1000, Max: 10000}, boundsOf(gs))
}

func TestSoftCollector(t *testing.T) {
	s := NewSoftCollector(DefaultSoftRules())

	gs := s.Bounds("monthly churn rate", estimate.Context{})
	require.Len(t, gs, 2)
	for _, g := range gs {
		assert.False(t, g.IsHard())
	}

	var warns []*estimate.Warning
	for _, v := range s.Validators() {
		if w := v.Validate("monthly churn rate", 0.4, estimate.Context{}); w != nil {
			warns = append(warns, w)
		}
	}
	require.Len(t, warns, 1)
	assert.Equal(t, estimate.SeverityWarning, warns[0].Severity)
	assert.Equal(t, estimate.Range{Min: 0.005, Max: 0.15}, *warns[0].Range)

	for _, v := range s.Validators() {
		assert.Nil(t, v.Validate("monthly churn rate", 0.05, estimate.Context{}))
	}
}

func TestSoftRule_Domain(t *testing.T) {
	r := SoftRule{Name: "x", Keywords: []string{"churn"}, Min: 0, Max: 1, Domain: "saas"}
	assert.True(t, r.Applies("churn", estimate.Context{Domain: "SaaS"}))
	assert.True(t, r.Applies("churn", estimate.Context{}))
	assert.False(t, r.Applies("churn", estimate.Context{Domain: "telecom"}))
	assert.False(t, SoftRule{}.Applies("churn", estimate.Context{}))
}

func TestFactCollector(t *testing.T) {
	ectx := estimate.Context{
		Facts:     map[string]float64{"churn_rate": 0.05, "arpu": 100},
		Inherited: map[string]estimate.Inherited{"churn_rate": {Value: 0.04, Confidence: 0.7, Source: "parent"}},
	}

	es, err := FactCollector{}.Collect(context.Background(), "churn rate?", ectx)
	require.NoError(t, err)
	require.Len(t, es, 2)
	assert.Equal(t, 1.0, es[0].Confidence)
	assert.Equal(t, "inherited", es[1].Source)

	es, err = FactCollector{}.Collect(context.Background(), "X monthly churn rate", ectx)
	require.NoError(t, err)
	require.Len(t, es, 1)
	assert.Equal(t, 0.95, es[0].Confidence)
}

type stubOracle struct {
	answers []oracle.Answer
	err     error
}

func (s stubOracle) Ask(context.Context, string, estimate.Context) ([]oracle.Answer, error) {
	return s.answers, s.err
}

type stubSearcher struct {
	docs []oracle.Document
	err  error
}

func (s stubSearcher) Search(context.Context, string, int) ([]oracle.Document, error) {
	return s.docs, s.err
}

func TestOracleCollector_TrustsConfidentOracle(t *testing.T) {
	c := NewOracleCollector(stubOracle{answers: []oracle.Answer{{Value: 0.05, Confidence: 0.95}}},
		stubSearcher{err: errors.New("must not search")}, DefaultOracleConfig(), nil)

	es, err := c.Collect(context.Background(), "monthly churn rate", estimate.Context{})
	require.NoError(t, err)
	require.Len(t, es, 1)
	assert.Equal(t, 0.05, es[0].Value)
	assert.Equal(t, 0.90, es[0].Confidence, "clamped to max")
}

func TestOracleCollector_SearchConsensus(t *testing.T) {
	docs := []oracle.Document{
		{URL: "a", Snippet: "Average SaaS churn is 5% per month."},
		{URL: "b", Text: "Our study: churn hit 5.2%. Unrelated figure 90%.\nMonthly churn 4.9% in SMB"},
		{URL: "c", Snippet: "Founded in 2011 with 40 staff."},
	}
	c := NewOracleCollector(stubOracle{answers: []oracle.Answer{{Value: 0.2, Confidence: 0.3}}},
		stubSearcher{docs: docs}, DefaultOracleConfig(), nil)

	es, err := c.Collect(context.Background(), "monthly churn rate", estimate.Context{})
	require.NoError(t, err)
	require.Len(t, es, 1)
	assert.Equal(t, "web", es[0].Source)
	assert.InDelta(t, (0.05+0.052+0.049)/3, es[0].Value, 1e-9)
	assert.Equal(t, 0.70, es[0].Confidence)
}

func TestOracleCollector_NoConsensus(t *testing.T) {
	c := NewOracleCollector(nil, stubSearcher{docs: []oracle.Document{{Snippet: "churn 5% or 50%"}}}, DefaultOracleConfig(), nil)
	es, err := c.Collect(context.Background(), "churn rate", estimate.Context{})
	require.NoError(t, err)
	assert.Empty(t, es)
}

func TestOracleCollector_SearchError(t *testing.T) {
	c := NewOracleCollector(stubOracle{err: errors.New("down")}, stubSearcher{err: errors.New("down")}, DefaultOracleConfig(), nil)
	_, err := c.Collect(context.Background(), "churn rate", estimate.Context{})
	assert.Error(t, err)
}

func TestBenchmarkCollector(t *testing.T) {
	bms := []Benchmark{
		{Question: "monthly churn rate for SMB SaaS", Value: 0.045, Source: "survey", Domain: "saas"},
		{Question: "number of piano tuners in Chicago", Value: 125, Source: "census"},
	}
	c := NewBenchmarkCollector(embeddings.NewHashingProvider(0), bms, 0.5, 3)

	es, err := c.Collect(context.Background(), "monthly churn rate for SMB SaaS", estimate.Context{})
	require.NoError(t, err)
	require.Len(t, es, 1)
	assert.Equal(t, 0.045, es[0].Value)
	assert.InDelta(t, 0.8, es[0].Confidence, 1e-4)

	es, err = c.Collect(context.Background(), "monthly churn rate for SMB SaaS", estimate.Context{Domain: "retail"})
	require.NoError(t, err)
	assert.Empty(t, es)
}

// flakyProvider fails its first Embed call.
type flakyProvider struct {
	*embeddings.HashingProvider
	calls int
}

func (f *flakyProvider) Embed(ctx context.Context, texts []string) ([]embeddings.Vector, error) {
	f.calls++
	if f.calls == 1 {
		return nil, errors.New("transient 503")
	}
	return f.HashingProvider.Embed(ctx, texts)
}

func TestBenchmarkCollector_RetriesAfterEmbedFailure(t *testing.T) {
	bms := []Benchmark{{Question: "monthly churn rate for SMB SaaS", Value: 0.045, Source: "survey"}}
	p := &flakyProvider{HashingProvider: embeddings.NewHashingProvider(0)}
	c := NewBenchmarkCollector(p, bms, 0.5, 3)

	_, err := c.Collect(context.Background(), "monthly churn rate for SMB SaaS", estimate.Context{})
	require.ErrorContains(t, err, "transient 503")

	for range 2 {
		es, err := c.Collect(context.Background(), "monthly churn rate for SMB SaaS", estimate.Context{})
		require.NoError(t, err)
		require.Len(t, es, 1)
		assert.Equal(t, 0.045, es[0].Value)
	}
	assert.Equal(t, 4, p.calls, "benchmarks embedded once after the failure, question every call")
}

func TestBenchmarkCollector_ConfidenceRange(t *testing.T) {
	c := NewBenchmarkCollector(nil, nil, 0.6, 0)
	assert.Equal(t, 0.5, c.confidence(0.6))
	assert.InDelta(t, 0.65, c.confidence(0.8), 1e-9)
	assert.InDelta(t, 0.8, c.confidence(1), 1e-9)
}

func TestLoadBenchmarks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- question: arpu\n  value: 80\n  source: x\n"), 0o644))
	bms, err := LoadBenchmarks(path)
	require.NoError(t, err)
	require.Len(t, bms, 1)
	assert.Equal(t, 80.0, bms[0].Value)
}

func TestRepresentative(t *testing.T) {
	normal := []float64{9, 10, 11, 10, 9.5, 10.5}
	heavy := []float64{1, 1, 1, 2, 2, 3, 5, 100}

	assert.Equal(t, ShapeNormal, InferShape(normal))
	assert.InDelta(t, 10, Representative(normal, ""), 1e-9)

	assert.NotEqual(t, ShapeNormal, InferShape(heavy))
	assert.Equal(t, 2.0, Representative(heavy, ""))
	assert.Equal(t, 2.0, Representative(heavy, ShapePowerLaw))
	assert.Equal(t, 2.0, Representative(heavy, ShapeExponential))
	assert.InDelta(t, 14.375, Representative(heavy, ShapeNormal), 1e-9)
}

func TestPatternCollector(t *testing.T) {
	p := NewPatternCollector([]Pattern{
		{Name: "city size", Keywords: []string{"city", "population"}, Samples: []float64{1e4, 2e4, 3e4, 5e4, 1e6}},
		{Name: "empty", Keywords: []string{"city"}},
	})
	es, err := p.Collect(context.Background(), "typical city population", estimate.Context{})
	require.NoError(t, err)
	require.Len(t, es, 1)
	assert.Equal(t, 3e4, es[0].Value)
	assert.Equal(t, 0.5, es[0].Confidence)
}

type slowCollector struct{ delay time.Duration }

func (s slowCollector) Name() string { return "slow" }
func (s slowCollector) Collect(ctx context.Context, _ string, _ estimate.Context) ([]estimate.ValueEstimate, error) {
	select {
	case <-time.After(s.delay):
		return []estimate.ValueEstimate{{Source: "slow", Value: 1, Confidence: 0.5}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type errCollector struct{}

func (errCollector) Name() string { return "broken" }
func (errCollector) Collect(context.Context, string, estimate.Context) ([]estimate.ValueEstimate, error) {
	return nil, errors.New("boom")
}

func TestRunner(t *testing.T) {
	r := NewRunner(RunnerConfig{PerCollectorTimeout: 50 * time.Millisecond},
		[]BoundCollector{NewHardCollector(DefaultHardConfig(), nil), NewSoftCollector(DefaultSoftRules())},
		[]ValueCollector{FactCollector{}, errCollector{}, slowCollector{delay: time.Hour}, slowCollector{delay: time.Millisecond}},
	)
	gc := guardrail.NewCollector()
	es := r.Collect(context.Background(), "churn rate", estimate.Context{Facts: map[string]float64{"churn_rate": 0.05}}, gc)

	require.Len(t, es, 2)
	assert.Equal(t, "fact", es[0].Source)
	assert.Equal(t, "slow", es[1].Source)
	assert.Len(t, gc.Hard(), 2)
	assert.Len(t, gc.Soft(), 2)
}

func TestLoadPatterns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- name: deal size
  keywords: [deal size, contract value]
  shape: power_law
  samples: [5000, 8000, 12000, 90000]
  unit: USD
`), 0o644))

	ps, err := LoadPatterns(path)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "deal size", ps[0].Name)
	assert.Len(t, ps[0].Samples, 4)

	_, err = LoadPatterns(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
