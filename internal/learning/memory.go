package learning

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rand/guesstimate/internal/memory/embeddings"
)

// MemoryStore keeps rules in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	rules    []LearnedRule
	index    map[string]int
	provider embeddings.Provider
}

// NewMemoryStore creates an empty store. A nil provider uses the hashing
// provider.
func NewMemoryStore(provider embeddings.Provider) *MemoryStore {
	if provider == nil {
		provider = embeddings.NewHashingProvider(0)
	}
	return &MemoryStore{index: make(map[string]int), provider: provider}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, rule LearnedRule) error {
	if err := prepare(ctx, s.provider, &rule); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[rule.ID]; ok {
		return fmt.Errorf("append rule %s: duplicate id", rule.ID)
	}
	s.index[rule.ID] = len(s.rules)
	s.rules = append(s.rules, rule)
	return nil
}

// Search implements Store.
func (s *MemoryStore) Search(ctx context.Context, q Query) ([]Match, error) {
	r, err := newRanker(ctx, s.provider, q)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rule := range s.rules {
		r.offer(rule)
	}
	return r.result(), nil
}

// RecordHit implements Store.
func (s *MemoryStore) RecordHit(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("record hit %s: %w", id, ErrRuleNotFound)
	}
	s.rules[i].UsageCount++
	s.rules[i].LastUsed = at
	return nil
}

// List implements Lister, newest first.
func (s *MemoryStore) List(_ context.Context, limit int) ([]LearnedRule, error) {
	s.mu.RLock()
	out := slices.Clone(s.rules)
	s.mu.RUnlock()
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats implements Lister.
func (s *MemoryStore) Stats(context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tally(s.rules), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
