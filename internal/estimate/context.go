// Package estimate holds the value types shared by every stage of the
// estimation engine: the request context, evidence, and results.
package estimate

import (
	"maps"
	"weak"
)

// Intent classifies why the question is being asked.
type Intent string

const (
	IntentInformational  Intent = "informational"
	IntentDecisionMaking Intent = "decision_making"
	IntentPlanning       Intent = "planning"
)

// ModelRef describes the decomposition model that spawned a sub-question.
// It is display-only.
type ModelRef struct {
	Name     string
	Formula  string
	Variable string
}

// Inherited is a variable value handed down from a parent decomposition.
type Inherited struct {
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Context describes the circumstances of a question. It is passed by value;
// use Child to derive the context of a recursive sub-question so that maps
// are never shared between levels.
type Context struct {
	Intent      Intent `json:"intent,omitempty"`
	Domain      string `json:"domain,omitempty"`
	Granularity string `json:"granularity,omitempty"`
	Region      string `json:"region,omitempty"`
	TimePeriod  string `json:"time_period,omitempty"`

	// Facts are caller-supplied known values keyed by name.
	Facts map[string]float64 `json:"facts,omitempty"`

	// Inherited carries resolved variables from the parent model.
	Inherited map[string]Inherited `json:"inherited,omitempty"`

	// Depth is the recursion depth; zero for a top-level question.
	Depth int `json:"depth"`

	parent weak.Pointer[ModelRef]
}

// Child returns a copy of c for a sub-question spawned by parent, with depth
// incremented. The parent reference is weak and does not keep the model
// alive.
func (c Context) Child(parent *ModelRef, inherited map[string]Inherited) Context {
	child := c
	child.Facts = maps.Clone(c.Facts)
	child.Inherited = maps.Clone(c.Inherited)
	if child.Inherited == nil && len(inherited) > 0 {
		child.Inherited = make(map[string]Inherited, len(inherited))
	}
	for k, v := range inherited {
		child.Inherited[k] = v
	}
	child.Depth = c.Depth + 1
	if parent != nil {
		child.parent = weak.Make(parent)
	} else {
		child.parent = weak.Pointer[ModelRef]{}
	}
	return child
}

// Parent returns the model that spawned this sub-question, or nil when the
// question is top-level or the model has been discarded.
func (c Context) Parent() *ModelRef {
	return c.parent.Value()
}

// Fact looks up a caller-supplied fact by normalized key.
func (c Context) Fact(name string) (float64, bool) {
	key := Key(name)
	for k, v := range c.Facts {
		if Key(k) == key {
			return v, true
		}
	}
	return 0, false
}
