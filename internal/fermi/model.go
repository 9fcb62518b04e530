// Package fermi estimates a quantity by decomposing it into a formula over
// smaller quantities, estimating each of those recursively, and evaluating
// the best-scoring formula.
package fermi

import (
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"strings"

	"github.com/sahilm/fuzzy"
	"gopkg.in/yaml.v3"

	"github.com/rand/guesstimate/internal/estimate"
	"github.com/rand/guesstimate/internal/fermi/expr"
)

// Origin records where a candidate model came from.
type Origin string

const (
	OriginTemplate  Origin = "template"
	OriginGenerated Origin = "generated"
	OriginTrivial   Origin = "trivial"
)

// Model is a candidate decomposition: "name = expression over variables".
type Model struct {
	Name        string `yaml:"name" json:"name"`
	Formula     string `yaml:"formula" json:"formula"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Origin      Origin `yaml:"-" json:"origin,omitempty"`
}

// Variables returns the distinct variable names the formula references.
func (m Model) Variables() []string {
	return expr.Identifiers(m.Formula)
}

// sampleValues bind each variable to a distinct value, so a denominator such
// as (b - c) is non-zero under at least one assignment.
var sampleValues = []func(i int) float64{
	func(i int) float64 { return float64(i + 2) },
	func(i int) float64 { return math.Sqrt(float64(i + 2)) },
}

// Validate checks that the formula is well-formed arithmetic once every
// variable is bound. A formula that divides by zero under every sample
// assignment is rejected.
func (m Model) Validate() error {
	vars := m.Variables()
	if len(vars) == 0 {
		return fmt.Errorf("model %q: formula has no variables", m.Name)
	}
	var err error
	for _, sample := range sampleValues {
		values := make(map[string]float64, len(vars))
		for i, v := range vars {
			values[v] = sample(i)
		}
		if _, err = expr.Eval(expr.Substitute(m.Formula, values)); !errors.Is(err, expr.ErrDivisionByZero) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("model %q: %w", m.Name, err)
	}
	return nil
}

// Variable is one variable of a candidate, resolved or pending.
type Variable struct {
	Name       string
	Value      float64
	Confidence float64
	Source     string
	Resolved   bool
	// Result is the sub-estimation that resolved the variable, if any.
	Result *estimate.Result
}

// Template is a named formula with the phrases that select it.
type Template struct {
	Model   `yaml:",inline"`
	Aliases []string `yaml:"aliases"`
}

// DefaultTemplates returns the built-in formula library.
func DefaultTemplates() []Template {
	return []Template{
		{
			Model:   Model{Name: "ltv", Formula: "ltv = arpu / churn_rate", Description: "customer lifetime value from revenue per user and churn"},
			Aliases: []string{"ltv", "clv", "lifetime value", "customer lifetime value"},
		},
		{
			Model:   Model{Name: "cac_payback", Formula: "cac_payback = cac / (arpu * gross_margin)", Description: "months to recover acquisition cost"},
			Aliases: []string{"cac payback", "payback period"},
		},
		{
			Model:   Model{Name: "mrr", Formula: "mrr = customers * arpu", Description: "monthly recurring revenue"},
			Aliases: []string{"mrr", "monthly recurring revenue"},
		},
		{
			Model:   Model{Name: "arr", Formula: "arr = customers * arpu * months_per_year", Description: "annual recurring revenue"},
			Aliases: []string{"arr", "annual recurring revenue"},
		},
		{
			Model:   Model{Name: "market_size", Formula: "market_size = population * adoption_rate * annual_spend", Description: "top-down addressable market"},
			Aliases: []string{"market size", "tam", "total addressable market"},
		},
		{
			Model:   Model{Name: "annual_revenue", Formula: "annual_revenue = customers * average_order_value * orders_per_year", Description: "bottom-up revenue"},
			Aliases: []string{"annual revenue", "yearly revenue"},
		},
		{
			Model:   Model{Name: "total_consumption", Formula: "total_consumption = population * per_capita_consumption", Description: "aggregate consumption"},
			Aliases: []string{"total consumption", "consumption"},
		},
		{
			Model: Model{
				Name:        "piano_tuners",
				Formula:     "piano_tuners = population / household_size * piano_ownership_rate * tunings_per_year / tunings_per_tuner",
				Description: "classic service-provider count",
			},
			Aliases: []string{"piano tuners"},
		},
	}
}

// LoadTemplates reads a YAML list of templates, each with a name, a
// formula and its aliases. Any malformed formula fails the load.
func LoadTemplates(path string) ([]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	var out []Template
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	for i, t := range out {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("template %d: %w", i, err)
		}
	}
	return out, nil
}

// Library matches questions against templates. Matching tolerates small
// spelling differences ("life-time value", "lifetime  val").
type Library struct {
	templates []Template
}

// NewLibrary creates a library. Templates whose formula is malformed are
// dropped.
func NewLibrary(templates []Template) *Library {
	l := &Library{}
	for _, t := range templates {
		if t.Validate() != nil {
			continue
		}
		t.Origin = OriginTemplate
		l.templates = append(l.templates, t)
	}
	return l
}

// Len returns the number of templates.
func (l *Library) Len() int { return len(l.templates) }

type scored struct {
	model Model
	score int
}

// Match returns the models whose aliases occur in the question, best first.
func (l *Library) Match(question string) []Model {
	text := estimate.Normalize(question)
	if text == "" {
		return nil
	}
	padded := " " + text + " "

	var hits []scored
	for _, t := range l.templates {
		best, ok := 0, false
		for _, alias := range t.Aliases {
			a := estimate.Normalize(alias)
			if a == "" {
				continue
			}
			if strings.Contains(padded, " "+a+" ") {
				best, ok = max(best, 1000+len(a)), true
				continue
			}
			if s, found := fuzzyScore(a, text); found {
				best, ok = max(best, s), true
			}
		}
		if ok {
			hits = append(hits, scored{model: t.Model, score: best})
		}
	}
	slices.SortStableFunc(hits, func(a, b scored) int { return b.score - a.score })

	out := make([]Model, len(hits))
	for i, h := range hits {
		out[i] = h.model
	}
	return out
}

// fuzzyScore matches alias as a tight subsequence of text. Short aliases
// must match exactly, since almost any text contains three scattered
// letters.
func fuzzyScore(alias, text string) (int, bool) {
	if len(alias) < 6 {
		return 0, false
	}
	matches := fuzzy.Find(alias, []string{text})
	if len(matches) == 0 {
		return 0, false
	}
	m := matches[0]
	idx := m.MatchedIndexes
	span := idx[len(idx)-1] - idx[0] + 1
	if span > len(alias)+len(alias)/4 {
		return 0, false
	}
	return m.Score, true
}
