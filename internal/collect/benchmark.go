package collect

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/rand/guesstimate/internal/estimate"
	"github.com/rand/guesstimate/internal/memory/embeddings"
)

// Benchmark is a published reference figure for a domain.
type Benchmark struct {
	Question string  `yaml:"question"`
	Value    float64 `yaml:"value"`
	Unit     string  `yaml:"unit,omitempty"`
	Domain   string  `yaml:"domain,omitempty"`
	Source   string  `yaml:"source,omitempty"`
}

// LoadBenchmarks reads a YAML list of benchmarks.
func LoadBenchmarks(path string) ([]Benchmark, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read benchmarks: %w", err)
	}
	var out []Benchmark
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse benchmarks: %w", err)
	}
	return out, nil
}

// BenchmarkCollector finds benchmarks similar to the question. Confidence
// rises from 0.5 at the similarity floor to 0.8 at an exact match.
type BenchmarkCollector struct {
	provider   embeddings.Provider
	benchmarks []Benchmark
	floor      float64
	topK       int

	mu      sync.Mutex
	vectors []embeddings.Vector // nil until embedding succeeds
}

// NewBenchmarkCollector creates a collector. floor is the minimum
// similarity considered; topK caps the number of estimates.
func NewBenchmarkCollector(provider embeddings.Provider, benchmarks []Benchmark, floor float64, topK int) *BenchmarkCollector {
	if topK <= 0 {
		topK = 3
	}
	return &BenchmarkCollector{provider: provider, benchmarks: benchmarks, floor: floor, topK: topK}
}

// benchmarkVectors embeds the benchmark questions on first success. A failed
// attempt is not cached; the next call retries.
func (b *BenchmarkCollector) benchmarkVectors(ctx context.Context) ([]embeddings.Vector, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.vectors != nil {
		return b.vectors, nil
	}
	texts := make([]string, len(b.benchmarks))
	for i, bm := range b.benchmarks {
		texts[i] = bm.Question
	}
	vectors, err := b.provider.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("provider returned %d vectors for %d benchmarks", len(vectors), len(texts))
	}
	b.vectors = vectors
	return vectors, nil
}

// Name implements ValueCollector.
func (b *BenchmarkCollector) Name() string { return "benchmark" }

// Collect implements ValueCollector.
func (b *BenchmarkCollector) Collect(ctx context.Context, question string, ectx estimate.Context) ([]estimate.ValueEstimate, error) {
	if len(b.benchmarks) == 0 {
		return nil, nil
	}
	vectors, err := b.benchmarkVectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("embed benchmarks: %w", err)
	}

	q, err := embeddings.EmbedOne(ctx, b.provider, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	type hit struct {
		bm  Benchmark
		sim float64
	}
	var hits []hit
	for i, v := range vectors {
		bm := b.benchmarks[i]
		if bm.Domain != "" && ectx.Domain != "" && !strings.EqualFold(bm.Domain, ectx.Domain) {
			continue
		}
		if sim := q.Similarity(v); sim >= b.floor {
			hits = append(hits, hit{bm: bm, sim: sim})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].sim > hits[j].sim })
	if len(hits) > b.topK {
		hits = hits[:b.topK]
	}

	out := make([]estimate.ValueEstimate, 0, len(hits))
	for _, h := range hits {
		conf := b.confidence(h.sim)
		out = append(out, estimate.ValueEstimate{
			Source:      "benchmark",
			Value:       h.bm.Value,
			Confidence:  conf,
			Uncertainty: 1 - h.sim,
			Relevance:   h.sim,
			Reliability: 0.8,
			Recency:     0.6,
			Unit:        h.bm.Unit,
			Reasoning:   fmt.Sprintf("benchmark %q (%s), similarity %.2f", h.bm.Question, h.bm.Source, h.sim),
			Raw:         map[string]any{"similarity": h.sim, "benchmark": h.bm.Question},
		})
	}
	return out, nil
}

func (b *BenchmarkCollector) confidence(sim float64) float64 {
	if b.floor >= 1 {
		return 0.8
	}
	t := (sim - b.floor) / (1 - b.floor)
	return 0.5 + 0.3*max(0, min(1, t))
}
