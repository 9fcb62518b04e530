package learning

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rand/guesstimate/internal/estimate"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	sq, err := OpenSQLite(ctx, SQLiteOptions{Path: filepath.Join(t.TempDir(), "rules.db")})
	require.NoError(t, err)
	bg, err := OpenBadger(BadgerOptions{InMemory: true})
	require.NoError(t, err)

	out := map[string]Store{
		"memory": NewMemoryStore(nil),
		"sqlite": sq,
		"badger": bg,
	}
	t.Cleanup(func() {
		for _, s := range out {
			_ = s.Close()
		}
	})
	return out
}

func rule(id, question string, value float64, domain string) LearnedRule {
	return LearnedRule{
		ID:            id,
		Question:      question,
		Context:       estimate.Context{Domain: domain},
		Value:         value,
		Confidence:    0.85,
		TierOrigin:    estimate.TierEvidence,
		PhaseOrigin:   estimate.PhaseGuestimate,
		EvidenceCount: 3,
		Strategy:      estimate.StrategyWeightedAverage,
		CreatedAt:     time.Unix(1700000000, 0),
	}
}

func TestStores_SearchAndHits(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Append(ctx, rule("r1", "What is the monthly churn rate?", 0.05, "saas")))
			require.NoError(t, s.Append(ctx, rule("r2", "number of piano tuners in Chicago", 125, "")))
			assert.Error(t, s.Append(ctx, rule("r1", "dup", 1, "")))

			ms, err := s.Search(ctx, Query{Question: "monthly churn rate", Floor: 0.95})
			require.NoError(t, err)
			require.Len(t, ms, 1)
			assert.Equal(t, "r1", ms[0].Rule.ID)
			assert.Equal(t, 0.05, ms[0].Rule.Value)
			assert.Equal(t, "saas", ms[0].Rule.Context.Domain)
			assert.Equal(t, "monthly churn rate", ms[0].Rule.Normalized)
			assert.GreaterOrEqual(t, ms[0].Similarity, 0.95)

			ms, err = s.Search(ctx, Query{
				Question: "monthly churn rate",
				Filter:   func(r LearnedRule) bool { return r.Context.Domain == "telecom" },
			})
			require.NoError(t, err)
			assert.Empty(t, ms)

			ms, err = s.Search(ctx, Query{Question: "anything", TopK: 1})
			require.NoError(t, err)
			assert.LessOrEqual(t, len(ms), 1)

			at := time.Unix(1800000000, 0)
			var wg sync.WaitGroup
			for range 10 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					assert.NoError(t, s.RecordHit(ctx, "r1", at))
				}()
			}
			wg.Wait()
			assert.ErrorIs(t, s.RecordHit(ctx, "missing", at), ErrRuleNotFound)

			ms, err = s.Search(ctx, Query{Question: "monthly churn rate", Floor: 0.95})
			require.NoError(t, err)
			require.Len(t, ms, 1)
			assert.Equal(t, int64(10), ms[0].Rule.UsageCount)
			assert.True(t, at.Equal(ms[0].Rule.LastUsed))

			lister, ok := s.(Lister)
			require.True(t, ok)
			rules, err := lister.List(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, rules, 2)

			st, err := lister.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, st.Rules)
			assert.Equal(t, int64(10), st.Hits)
			assert.Equal(t, 1, st.ByDomain["saas"])
			assert.Equal(t, 1, st.ByDomain["general"])
			assert.Equal(t, 2, st.ByTier[estimate.TierEvidence.String()])
		})
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "rules.db")

	s, err := OpenSQLite(ctx, SQLiteOptions{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, rule("r1", "arpu", 80, "")))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, SQLiteOptions{Path: path})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, path, s.Path())
	rules, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 80.0, rules[0].Value)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, SQLiteOptions{})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Append(ctx, rule("r1", "arpu", 80, "")))
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Rules)
}

func TestOpenBadger_RequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerOptions{})
	assert.Error(t, err)
}

func resolved(tier estimate.Tier, conf float64, evidence int) *estimate.Result {
	return &estimate.Result{
		Question:      "monthly churn rate",
		Value:         estimate.Ptr(0.05),
		Tier:          tier,
		Phase:         estimate.PhaseGuestimate,
		Confidence:    conf,
		EvidenceCount: evidence,
	}
}

func TestWriter_Eligible(t *testing.T) {
	w := NewWriter(NewMemoryStore(nil), DefaultWriterConfig())
	conflict := resolved(estimate.TierEvidence, 0.95, 3)
	conflict.Conflict = true

	tests := []struct {
		name string
		r    *estimate.Result
		want bool
	}{
		{"two pieces at 0.8", resolved(estimate.TierEvidence, 0.80, 2), true},
		{"one piece at 0.9", resolved(estimate.TierDecomposition, 0.90, 1), true},
		{"one piece at 0.85", resolved(estimate.TierEvidence, 0.85, 1), false},
		{"low confidence", resolved(estimate.TierEvidence, 0.79, 5), false},
		{"no evidence", resolved(estimate.TierEvidence, 0.95, 0), false},
		{"conflict", conflict, false},
		{"tier 1", resolved(estimate.TierRule, 1, 1), false},
		{"unresolved", estimate.Unresolved("q", "none"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, why := w.Eligible(tt.r)
			assert.Equal(t, tt.want, ok)
			if !ok {
				assert.NotEmpty(t, why)
			}
		})
	}
}

func TestWriter_Write(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	w := NewWriter(store, DefaultWriterConfig())

	r := resolved(estimate.TierEvidence, 0.9, 2)
	r.Learn = &estimate.LearnPayload{
		Question: "What is the monthly churn rate?",
		Context: estimate.Context{
			Domain: "saas",
			Facts:  map[string]float64{"arpu": 80},
			Depth:  2,
		},
	}
	learned, err := w.Write(ctx, r)
	require.NoError(t, err)
	require.NotNil(t, learned)
	assert.NotEmpty(t, learned.ID)
	assert.Equal(t, "saas", learned.Context.Domain)
	assert.Nil(t, learned.Context.Facts)
	assert.Zero(t, learned.Context.Depth)

	rules, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "monthly churn rate", rules[0].Normalized)

	learned, err = w.Write(ctx, resolved(estimate.TierEvidence, 0.5, 1))
	require.NoError(t, err)
	assert.Nil(t, learned)
	rules, _ = store.List(ctx, 0)
	assert.Len(t, rules, 1, "existing rules are never touched")
}
