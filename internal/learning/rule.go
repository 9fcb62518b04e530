// Package learning turns high-quality estimation results into learned rules
// and stores them so later questions can be answered from cache.
package learning

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rand/guesstimate/internal/estimate"
	"github.com/rand/guesstimate/internal/memory/embeddings"
)

// ErrRuleNotFound is returned when a rule id does not exist.
var ErrRuleNotFound = errors.New("rule not found")

// LearnedRule is a cached answer.
type LearnedRule struct {
	ID         string   `json:"id"`
	Question   string   `json:"question"`
	Normalized string   `json:"normalized"`
	Keywords   []string `json:"keywords,omitempty"`

	// Context is the context the rule was learned under, without facts.
	Context estimate.Context `json:"context"`

	Value      float64         `json:"value"`
	Range      *estimate.Range `json:"range,omitempty"`
	Unit       string          `json:"unit,omitempty"`
	Confidence float64         `json:"confidence"`

	TierOrigin    estimate.Tier     `json:"tier_origin"`
	PhaseOrigin   estimate.Phase    `json:"phase_origin"`
	EvidenceCount int               `json:"evidence_count"`
	Strategy      estimate.Strategy `json:"strategy,omitempty"`

	UsageCount   int64     `json:"usage_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsed     time.Time `json:"last_used,omitzero"`
	LastVerified time.Time `json:"last_verified,omitzero"`

	// Embedding is the vector of Normalized under the store's provider.
	Embedding embeddings.Vector `json:"embedding,omitempty"`
}

// Match is a search hit.
type Match struct {
	Rule       LearnedRule
	Similarity float64
}

// Query selects rules similar to a question.
type Query struct {
	Question string
	// Floor is the minimum similarity returned.
	Floor float64
	// TopK caps the number of matches; zero means 5.
	TopK int
	// Filter, when set, drops rules it returns false for.
	Filter func(LearnedRule) bool
}

// Store is the learned-rule store. Implementations must apply RecordHit
// atomically so concurrent hits never corrupt a record.
type Store interface {
	Search(ctx context.Context, q Query) ([]Match, error)
	Append(ctx context.Context, rule LearnedRule) error
	RecordHit(ctx context.Context, id string, at time.Time) error
	Close() error
}

// Stats summarizes a store.
type Stats struct {
	Rules    int            `json:"rules"`
	Hits     int64          `json:"hits"`
	ByTier   map[string]int `json:"by_tier"`
	ByDomain map[string]int `json:"by_domain"`
}

// Lister is implemented by stores that can enumerate their rules.
type Lister interface {
	List(ctx context.Context, limit int) ([]LearnedRule, error)
	Stats(ctx context.Context) (Stats, error)
}

// prepare fills derived fields before a rule is persisted.
func prepare(ctx context.Context, p embeddings.Provider, rule *LearnedRule) error {
	if rule.ID == "" {
		return errors.New("rule has no id")
	}
	if rule.Normalized == "" {
		rule.Normalized = estimate.Normalize(rule.Question)
	}
	if len(rule.Keywords) == 0 {
		rule.Keywords = estimate.Keywords(rule.Question)
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	if len(rule.Embedding) == 0 {
		v, err := embeddings.EmbedOne(ctx, p, rule.Normalized)
		if err != nil {
			return fmt.Errorf("embed rule: %w", err)
		}
		rule.Embedding = v
	}
	return nil
}

// ranker accumulates search candidates against one query vector.
type ranker struct {
	q       Query
	vector  embeddings.Vector
	matches []Match
}

func newRanker(ctx context.Context, p embeddings.Provider, q Query) (*ranker, error) {
	if q.TopK <= 0 {
		q.TopK = 5
	}
	v, err := embeddings.EmbedOne(ctx, p, estimate.Normalize(q.Question))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return &ranker{q: q, vector: v}, nil
}

func (r *ranker) offer(rule LearnedRule) {
	if r.q.Filter != nil && !r.q.Filter(rule) {
		return
	}
	sim := r.vector.Similarity(rule.Embedding)
	if sim < r.q.Floor {
		return
	}
	r.matches = append(r.matches, Match{Rule: rule, Similarity: sim})
}

func (r *ranker) result() []Match {
	slices.SortStableFunc(r.matches, func(a, b Match) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		default:
			return b.Rule.CreatedAt.Compare(a.Rule.CreatedAt)
		}
	})
	if len(r.matches) > r.q.TopK {
		r.matches = r.matches[:r.q.TopK]
	}
	return r.matches
}

func tally(rules []LearnedRule) Stats {
	s := Stats{ByTier: make(map[string]int), ByDomain: make(map[string]int)}
	for _, r := range rules {
		s.Rules++
		s.Hits += r.UsageCount
		s.ByTier[r.TierOrigin.String()]++
		domain := r.Context.Domain
		if domain == "" {
			domain = "general"
		}
		s.ByDomain[domain]++
	}
	return s
}
