package embeddings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVector_Similarity(t *testing.T) {
	tests := []struct {
		name     string
		v1       Vector
		v2       Vector
		expected float64
		delta    float64
	}{
		{"identical vectors", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0, 0.001},
		{"orthogonal vectors", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0, 0.001},
		{"opposite vectors clamp to zero", Vector{1, 0, 0}, Vector{-1, 0, 0}, 0.0, 0.001},
		{"similar vectors", Vector{1, 1, 0}, Vector{1, 0, 0}, 0.707, 0.01},
		{"empty vectors", Vector{}, Vector{}, 0.0, 0.001},
		{"mismatched length", Vector{1, 0}, Vector{1, 0, 0}, 0.0, 0.001},
		{"zero vector", Vector{0, 0}, Vector{1, 0}, 0.0, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, tt.v1.Similarity(tt.v2), tt.delta)
		})
	}
}

func TestVector_Bytes(t *testing.T) {
	v := Vector{1.5, -2.25, 0, 3}
	assert.Equal(t, v, VectorFromBytes(v.ToBytes()))
	assert.Nil(t, VectorFromBytes([]byte{1, 2, 3}))
}

func TestVector_Normalize(t *testing.T) {
	n := Vector{3, 4}.Normalize()
	assert.InDelta(t, 0.6, n[0], 1e-6)
	assert.InDelta(t, 0.8, n[1], 1e-6)
	assert.Equal(t, Vector{0, 0}, Vector{0, 0}.Normalize())
}

func TestHashingProvider(t *testing.T) {
	p := NewHashingProvider(0)
	ctx := context.Background()
	vs, err := p.Embed(ctx, []string{
		"What is the monthly churn rate?",
		"monthly churn rate",
		"monthly churn rate for B2B SaaS",
		"number of piano tuners in Chicago",
	})
	require.NoError(t, err)
	require.Len(t, vs, 4)
	assert.Len(t, vs[0], 512)
	assert.Equal(t, 512, p.Dimensions())

	assert.InDelta(t, 1.0, vs[0].Similarity(vs[1]), 1e-6, "same normalized text")
	near := vs[1].Similarity(vs[2])
	far := vs[1].Similarity(vs[3])
	assert.Greater(t, near, far)
	assert.Less(t, near, 0.95)
}

func TestHashingProvider_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashingProvider(64).Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}

type countingProvider struct {
	calls int
	texts []string
	err   error
}

func (c *countingProvider) Embed(_ context.Context, texts []string) ([]Vector, error) {
	c.calls++
	c.texts = append(c.texts, texts...)
	if c.err != nil {
		return nil, c.err
	}
	out := make([]Vector, len(texts))
	for i, t := range texts {
		out[i] = Vector{float32(len(t))}
	}
	return out, nil
}
func (c *countingProvider) Dimensions() int { return 1 }
func (c *countingProvider) Model() string   { return "counting" }

func TestCachedProvider(t *testing.T) {
	inner := &countingProvider{}
	p := NewCachedProvider(inner, 2)
	ctx := context.Background()

	_, err := p.Embed(ctx, []string{"a", "bb"})
	require.NoError(t, err)
	vs, err := p.Embed(ctx, []string{"bb", "ccc"})
	require.NoError(t, err)

	assert.Equal(t, Vector{2}, vs[0])
	assert.Equal(t, Vector{3}, vs[1])
	assert.Equal(t, []string{"a", "bb", "ccc"}, inner.texts)

	// "a" was evicted when "ccc" arrived.
	_, err = p.Embed(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "bb", "ccc", "a"}, inner.texts)

	hits, misses := p.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 4, misses)
	assert.Equal(t, "counting", p.Model())
}

func TestCachedProvider_Error(t *testing.T) {
	p := NewCachedProvider(&countingProvider{err: errors.New("down")}, 0)
	_, err := p.Embed(context.Background(), []string{"x"})
	assert.Error(t, err)
}

func TestNewOpenAIProvider_RequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAIProvider(OpenAIConfig{})
	assert.Error(t, err)

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small", p.Model())
	assert.Equal(t, 1536, p.Dimensions())
}
