package fermi

import "fmt"

// VariablePolicy limits how many variables a model may have. Small models
// pass silently, larger ones pass with a warning, and anything beyond the
// ceiling is rejected.
type VariablePolicy struct {
	// Recommended is the largest count that passes without comment.
	// Default: 6
	Recommended int

	// Max is the largest count allowed at all.
	// Default: 10
	Max int
}

// DefaultVariablePolicy returns the default policy.
func DefaultVariablePolicy() VariablePolicy {
	return VariablePolicy{Recommended: 6, Max: 10}
}

// Check reports whether a model with n variables is allowed, and a warning
// when it is large or rejected. An empty warning means none.
func (p VariablePolicy) Check(n int) (allowed bool, warning string) {
	switch {
	case n > p.Max:
		return false, fmt.Sprintf("%d variables exceeds the ceiling of %d", n, p.Max)
	case n > p.Recommended:
		return true, fmt.Sprintf("%d variables is above the recommended %d; expect compounding error", n, p.Recommended)
	default:
		return true, ""
	}
}
