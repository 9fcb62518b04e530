package guardrail

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNew_HardnessFollowsKind(t *testing.T) {
	tests := []struct {
		kind Kind
		hard bool
	}{
		{KindHardUpper, true},
		{KindHardLower, true},
		{KindSoftUpper, false},
		{KindSoftLower, false},
		{KindExpected, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			g := New(tt.kind, 1, 0.9, "test", "unit")
			assert.Equal(t, tt.hard, g.IsHard())
		})
	}
}

func TestNew_ClampsConfidence(t *testing.T) {
	assert.Equal(t, 1.0, New(KindHardUpper, 1, 1.7, "", "").Confidence())
	assert.Equal(t, 0.0, New(KindHardUpper, 1, -2, "", "").Confidence())
}

func TestGuardrail_Allows(t *testing.T) {
	upper := New(KindHardUpper, 1, 1, "", "")
	lower := New(KindSoftLower, 0.2, 1, "", "")
	pin := New(KindExpected, 5, 1, "", "")

	assert.True(t, upper.Allows(1))
	assert.False(t, upper.Allows(1.01))
	assert.True(t, lower.Allows(0.2))
	assert.False(t, lower.Allows(0.1))
	assert.True(t, pin.Allows(-100))
}

func TestCollector_HardBoundsDefaults(t *testing.T) {
	c := NewCollector()
	b := c.HardBounds()

	assert.Equal(t, 0.0, b.Min)
	assert.True(t, math.IsInf(b.Max, 1))
	assert.False(t, b.Contradictory())
	assert.True(t, b.Unset)
	assert.False(t, b.Enforced())
}

func TestCollector_SoftOnlyLeavesBoundsUnset(t *testing.T) {
	c := NewCollector()
	c.Add(New(KindSoftLower, -0.5, 0.7, "", "norm"))

	assert.True(t, c.HardBounds().Unset)

	c.Add(New(KindHardUpper, 1, 1, "", "physics"))
	b := c.HardBounds()
	assert.False(t, b.Unset)
	assert.True(t, b.Enforced())
}

func TestCollector_HardBoundsTightest(t *testing.T) {
	c := NewCollector()
	c.Add(
		New(KindHardLower, 0.1, 1, "", "a"),
		New(KindHardLower, 0.3, 1, "", "b"),
		New(KindHardUpper, 0.9, 1, "", "c"),
		New(KindHardUpper, 0.7, 1, "", "d"),
		New(KindSoftUpper, 0.2, 1, "", "soft ignored"),
	)

	b := c.HardBounds()
	assert.Equal(t, 0.3, b.Min)
	assert.Equal(t, 0.7, b.Max)
	assert.Len(t, c.Hard(), 4)
	assert.Len(t, c.Soft(), 1)
	assert.Len(t, c.All(), 5)
}

func TestCollector_NegativeLowerReplacesDefault(t *testing.T) {
	c := NewCollector()
	c.Add(New(KindHardLower, -0.5, 1, "growth can shrink", "physics"))

	assert.Equal(t, -0.5, c.HardBounds().Min)
}

func TestCollector_Contradiction(t *testing.T) {
	c := NewCollector()
	c.Add(
		New(KindHardLower, 10, 1, "", ""),
		New(KindHardUpper, 5, 1, "", ""),
	)

	b := c.HardBounds()
	require.True(t, b.Contradictory())
	assert.True(t, c.HasContradiction())

	// An empty range never absorbs a value.
	assert.Equal(t, 7.0, b.Clamp(7))
}

func TestCollector_Definites(t *testing.T) {
	c := NewCollector()
	c.AddDefinite(Definite{Key: "population", Value: 100, Source: "census"})
	c.AddDefinite(Definite{Key: "population", Value: 120, Source: "census-2"})

	d, ok := c.Definite("population")
	require.True(t, ok)
	assert.Equal(t, 120.0, d.Value)

	_, ok = c.Definite("missing")
	assert.False(t, ok)
	assert.Len(t, c.Definites(), 2)
}

func TestCollector_ConcurrentAdd(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Add(New(KindHardUpper, float64(100+i), 1, "", ""))
		}(i)
	}
	wg.Wait()

	assert.Len(t, c.Hard(), 50)
	assert.Equal(t, 100.0, c.HardBounds().Max)
}

func TestBounds_WidthRatio(t *testing.T) {
	assert.Equal(t, 10.0, Bounds{Min: 1, Max: 10}.WidthRatio())
	assert.True(t, math.IsInf(Bounds{Min: 0, Max: 1}.WidthRatio(), 1))
}

// TestProperty_HardBoundsOrderedOrFlagged verifies min <= max unless the
// contradiction is reported.
func TestProperty_HardBoundsOrderedOrFlagged(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := NewCollector()
		n := rapid.IntRange(0, 8).Draw(t, "n")
		for i := 0; i < n; i++ {
			kind := rapid.SampledFrom([]Kind{KindHardLower, KindHardUpper, KindSoftLower, KindSoftUpper}).Draw(t, "kind")
			v := rapid.Float64Range(-1000, 1000).Draw(t, "value")
			c.Add(New(kind, v, 1, "", ""))
		}

		b := c.HardBounds()
		if b.Min > b.Max && !c.HasContradiction() {
			t.Fatalf("unflagged contradiction: [%g, %g]", b.Min, b.Max)
		}
		if b.Min <= b.Max && c.HasContradiction() {
			t.Fatalf("false contradiction: [%g, %g]", b.Min, b.Max)
		}
	})
}
