// Package oracle provides the external knowledge capabilities the estimation
// engine consults: a question-answering oracle and a web document searcher.
// Every backend must be safe to use with no network or model available; an
// unavailable backend answers with nothing rather than an error.
package oracle

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/rand/guesstimate/internal/estimate"
)

// Answer is one opinion returned by an oracle.
type Answer struct {
	Value      float64 `json:"value" yaml:"value"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Unit       string  `json:"unit,omitempty" yaml:"unit,omitempty"`
	Reasoning  string  `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	Provenance string  `json:"provenance,omitempty" yaml:"source,omitempty"`
}

// Oracle answers quantitative questions.
type Oracle interface {
	Ask(ctx context.Context, question string, ectx estimate.Context) ([]Answer, error)
}

// Document is a retrieved web page or snippet.
type Document struct {
	URL     string
	Title   string
	Snippet string
	Text    string
	Rank    int
}

// Searcher retrieves ranked documents for a query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Document, error)
}

// Noop is an oracle and searcher that knows nothing.
type Noop struct{}

// Ask implements Oracle.
func (Noop) Ask(context.Context, string, estimate.Context) ([]Answer, error) { return nil, nil }

// Search implements Searcher.
func (Noop) Search(context.Context, string, int) ([]Document, error) { return nil, nil }

// Best returns the most confident answer.
func Best(answers []Answer) (Answer, bool) {
	if len(answers) == 0 {
		return Answer{}, false
	}
	sorted := append([]Answer(nil), answers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })
	return sorted[0], true
}

// Static answers from a fixed table keyed by normalized question. It backs
// the authoritative lookup with curated reference data.
type Static struct {
	mu      sync.RWMutex
	entries map[string][]Answer
}

// NewStatic creates a table from question -> answers.
func NewStatic(entries map[string][]Answer) *Static {
	s := &Static{entries: make(map[string][]Answer, len(entries))}
	for q, as := range entries {
		s.Set(q, as...)
	}
	return s
}

// LoadStatic reads a YAML reference file of the form
//
//	"population of france":
//	  - value: 68000000
//	    confidence: 0.97
//	    source: INSEE 2024
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference data: %w", err)
	}
	var entries map[string][]Answer
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse reference data: %w", err)
	}
	return NewStatic(entries), nil
}

// Set replaces the answers for question.
func (s *Static) Set(question string, answers ...Answer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[estimate.Normalize(question)] = append([]Answer(nil), answers...)
}

// Len returns the number of questions known.
func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Ask implements Oracle.
func (s *Static) Ask(_ context.Context, question string, _ estimate.Context) ([]Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Answer(nil), s.entries[estimate.Normalize(question)]...), nil
}
