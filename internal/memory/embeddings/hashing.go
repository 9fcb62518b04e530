package embeddings

import (
	"context"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/rand/guesstimate/internal/estimate"
)

const defaultHashingDimensions = 512

// HashingProvider embeds text locally with the hashing trick over word
// unigrams, word bigrams and character trigrams of the normalized text.
// Identical normalized text always yields identical vectors, so an exact
// rephrasing scores 1.0. It needs no network and is deterministic.
type HashingProvider struct {
	dims int
}

// NewHashingProvider creates a hashing provider. Non-positive dims selects
// the default of 512.
func NewHashingProvider(dims int) *HashingProvider {
	if dims <= 0 {
		dims = defaultHashingDimensions
	}
	return &HashingProvider{dims: dims}
}

// Embed implements Provider.
func (p *HashingProvider) Embed(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.embed(text)
	}
	return out, nil
}

func (p *HashingProvider) embed(text string) Vector {
	v := make(Vector, p.dims)
	words := estimate.Tokens(text)

	add := func(feature string, weight float32) {
		h := xxh3.HashString(feature)
		idx := int(h % uint64(p.dims))
		// The top bit picks the sign so collisions tend to cancel.
		if h>>63 == 1 {
			v[idx] -= weight
		} else {
			v[idx] += weight
		}
	}

	for i, w := range words {
		add("w:"+w, 1)
		if i > 0 {
			add("b:"+words[i-1]+" "+w, 0.75)
		}
	}
	joined := " " + strings.Join(words, " ") + " "
	runes := []rune(joined)
	for i := 0; i+3 <= len(runes); i++ {
		add("c:"+string(runes[i:i+3]), 0.25)
	}
	return v.Normalize()
}

// Dimensions implements Provider.
func (p *HashingProvider) Dimensions() int { return p.dims }

// Model implements Provider.
func (p *HashingProvider) Model() string { return "hashing-xxh3" }
