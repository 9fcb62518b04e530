package guardrail

import (
	"math"
	"sync"
)

// Definite is a fully certain value registered during one estimation.
type Definite struct {
	Key    string  `json:"key"`
	Value  float64 `json:"value"`
	Source string  `json:"source"`
}

// Collector accumulates guardrails and definite values for a single
// estimation request. It is append-only and safe for concurrent appends
// from parallel collectors. A Collector must never be shared between
// requests; recursive sub-estimations create their own.
type Collector struct {
	mu        sync.RWMutex
	hard      []Guardrail
	soft      []Guardrail
	definites []Definite
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Add appends guardrails, routing each to the hard or soft list.
func (c *Collector) Add(gs ...Guardrail) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, g := range gs {
		if g.IsHard() {
			c.hard = append(c.hard, g)
		} else {
			c.soft = append(c.soft, g)
		}
	}
}

// AddDefinite records a fully certain value.
func (c *Collector) AddDefinite(d Definite) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.definites = append(c.definites, d)
}

// Definite returns the definite value registered under key, if any.
func (c *Collector) Definite(key string) (Definite, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.definites) - 1; i >= 0; i-- {
		if c.definites[i].Key == key {
			return c.definites[i], true
		}
	}
	return Definite{}, false
}

// Definites returns a copy of all definite values.
func (c *Collector) Definites() []Definite {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Definite(nil), c.definites...)
}

// Hard returns a copy of the hard guardrails.
func (c *Collector) Hard() []Guardrail {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Guardrail(nil), c.hard...)
}

// Soft returns a copy of the soft guardrails and expected-value pins.
func (c *Collector) Soft() []Guardrail {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Guardrail(nil), c.soft...)
}

// All returns hard guardrails followed by soft ones.
func (c *Collector) All() []Guardrail {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Guardrail, 0, len(c.hard)+len(c.soft))
	out = append(out, c.hard...)
	return append(out, c.soft...)
}

// HardBounds returns [max(hard lowers, default 0), min(hard uppers, default
// +Inf)]. The result may be contradictory; callers must check. With no hard
// guardrails the defaults come back marked Unset.
func (c *Collector) HardBounds() Bounds {
	c.mu.RLock()
	defer c.mu.RUnlock()

	b := Bounds{Min: 0, Max: math.Inf(1), Unset: len(c.hard) == 0}
	lowerSeen := false
	for _, g := range c.hard {
		switch g.Kind() {
		case KindHardLower:
			if !lowerSeen || g.Value() > b.Min {
				b.Min = g.Value()
				lowerSeen = true
			}
		case KindHardUpper:
			if g.Value() < b.Max {
				b.Max = g.Value()
			}
		}
	}
	return b
}

// HasContradiction reports whether the hard bounds are empty.
func (c *Collector) HasContradiction() bool {
	return c.HardBounds().Contradictory()
}
