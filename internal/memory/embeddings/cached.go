package embeddings

import (
	"container/list"
	"context"
	"sync"

	"github.com/rand/guesstimate/internal/observability"
)

const defaultCacheSize = 1000

// CachedProvider wraps a Provider with an LRU cache keyed by exact text.
type CachedProvider struct {
	provider Provider

	mu      sync.Mutex
	maxSize int
	order   *list.List // front is most recently used
	items   map[string]*list.Element
	hits    int
	misses  int
}

type cacheEntry struct {
	text string
	vec  Vector
}

// NewCachedProvider wraps provider. Non-positive size selects the default.
func NewCachedProvider(provider Provider, size int) *CachedProvider {
	if size <= 0 {
		size = defaultCacheSize
	}
	return &CachedProvider{
		provider: provider,
		maxSize:  size,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Embed implements Provider, only sending uncached texts to the wrapped
// provider.
func (p *CachedProvider) Embed(ctx context.Context, texts []string) ([]Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([]Vector, len(texts))
	var missing []string
	var missingIdx []int

	p.mu.Lock()
	for i, t := range texts {
		if el, ok := p.items[t]; ok {
			p.order.MoveToFront(el)
			out[i] = el.Value.(*cacheEntry).vec
			p.hits++
			observability.RecordEmbeddingCache(true)
			continue
		}
		p.misses++
		observability.RecordEmbeddingCache(false)
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	p.mu.Unlock()

	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := p.provider.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i, v := range vecs {
		out[missingIdx[i]] = v
		p.put(missing[i], v)
	}
	return out, nil
}

func (p *CachedProvider) put(text string, v Vector) {
	if el, ok := p.items[text]; ok {
		el.Value.(*cacheEntry).vec = v
		p.order.MoveToFront(el)
		return
	}
	for p.order.Len() >= p.maxSize {
		oldest := p.order.Back()
		p.order.Remove(oldest)
		delete(p.items, oldest.Value.(*cacheEntry).text)
	}
	p.items[text] = p.order.PushFront(&cacheEntry{text: text, vec: v})
}

// Dimensions implements Provider.
func (p *CachedProvider) Dimensions() int { return p.provider.Dimensions() }

// Model implements Provider.
func (p *CachedProvider) Model() string { return p.provider.Model() }

// Stats returns hit and miss counts.
func (p *CachedProvider) Stats() (hits, misses int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits, p.misses
}
