// Package guardrail models the numeric bounds that constrain an estimate.
package guardrail

import (
	"encoding/json"
	"fmt"
	"math"
)

// Kind is the direction of a guardrail.
type Kind string

const (
	KindHardUpper Kind = "hard_upper"
	KindHardLower Kind = "hard_lower"
	KindSoftUpper Kind = "soft_upper"
	KindSoftLower Kind = "soft_lower"
	// KindExpected pins an expected value rather than bounding one side.
	KindExpected Kind = "expected"
)

// IsUpper reports whether the kind bounds values from above.
func (k Kind) IsUpper() bool {
	return k == KindHardUpper || k == KindSoftUpper
}

// IsLower reports whether the kind bounds values from below.
func (k Kind) IsLower() bool {
	return k == KindHardLower || k == KindSoftLower
}

// Guardrail is an immutable directional bound or pinned value.
// Construct with New; the zero value is not meaningful.
type Guardrail struct {
	kind          Kind
	value         float64
	confidence    float64
	hard          bool
	justification string
	source        string
}

// New creates a guardrail. Hardness follows the kind; an expected-value pin
// is never hard.
func New(kind Kind, value, confidence float64, justification, source string) Guardrail {
	return Guardrail{
		kind:          kind,
		value:         value,
		confidence:    clamp01(confidence),
		hard:          kind == KindHardUpper || kind == KindHardLower,
		justification: justification,
		source:        source,
	}
}

// Kind returns the constraint kind.
func (g Guardrail) Kind() Kind { return g.kind }

// Value returns the bound or pinned value.
func (g Guardrail) Value() float64 { return g.value }

// Confidence returns the confidence in the constraint, in [0, 1].
func (g Guardrail) Confidence() float64 { return g.confidence }

// IsHard reports whether values violating the guardrail are discarded.
func (g Guardrail) IsHard() bool { return g.hard }

// Justification returns why the constraint holds.
func (g Guardrail) Justification() string { return g.justification }

// Source names the collector that produced the guardrail.
func (g Guardrail) Source() string { return g.source }

// Allows reports whether v satisfies this guardrail. Expected-value pins
// accept everything.
func (g Guardrail) Allows(v float64) bool {
	switch {
	case g.kind.IsUpper():
		return v <= g.value
	case g.kind.IsLower():
		return v >= g.value
	default:
		return true
	}
}

type guardrailJSON struct {
	Kind          Kind    `json:"kind"`
	Value         float64 `json:"value"`
	Confidence    float64 `json:"confidence"`
	Hard          bool    `json:"is_hard"`
	Justification string  `json:"justification,omitempty"`
	Source        string  `json:"source,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (g Guardrail) MarshalJSON() ([]byte, error) {
	return json.Marshal(guardrailJSON{
		Kind:          g.kind,
		Value:         g.value,
		Confidence:    g.confidence,
		Hard:          g.hard,
		Justification: g.justification,
		Source:        g.source,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (g *Guardrail) UnmarshalJSON(data []byte) error {
	var raw guardrailJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*g = New(raw.Kind, raw.Value, raw.Confidence, raw.Justification, raw.Source)
	return nil
}

func (g Guardrail) String() string {
	return fmt.Sprintf("%s %g (conf %.2f, %s)", g.kind, g.value, g.confidence, g.source)
}

// Bounds is a closed interval derived from hard guardrails.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`

	// Unset is true when no hard guardrail contributed, so Min and Max are
	// the defaults. Consumers must not filter or clamp against unset bounds.
	Unset bool `json:"unset,omitempty"`
}

// Enforced reports whether the bounds came from at least one hard guardrail
// and are consistent.
func (b Bounds) Enforced() bool {
	return !b.Unset && !b.Contradictory()
}

// Contradictory reports whether the lower bound exceeds the upper bound.
func (b Bounds) Contradictory() bool {
	return b.Min > b.Max
}

// Contains reports whether v lies inside the interval.
func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Unbounded reports whether the interval carries no upper information.
func (b Bounds) Unbounded() bool {
	return math.IsInf(b.Max, 1)
}

// Clamp moves v into the interval. It returns v unchanged if the bounds are
// contradictory; an empty range never absorbs a value.
func (b Bounds) Clamp(v float64) float64 {
	if b.Contradictory() {
		return v
	}
	return math.Max(b.Min, math.Min(b.Max, v))
}

// WidthRatio returns Max/Min, or +Inf when Min is not positive.
func (b Bounds) WidthRatio() float64 {
	if b.Min <= 0 {
		return math.Inf(1)
	}
	return b.Max / b.Min
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
