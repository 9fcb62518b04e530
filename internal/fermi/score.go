package fermi

import "math"

// Weights are the relative importance of the candidate scoring criteria.
type Weights struct {
	// Default: 0.5
	Resolved float64
	// Default: 0.3
	Confidence float64
	// Default: 0.2
	Complexity float64
	// Default: 0.1
	Depth float64
}

// DefaultWeights returns the default weights.
func DefaultWeights() Weights {
	return Weights{Resolved: 0.5, Confidence: 0.3, Complexity: 0.2, Depth: 0.1}
}

var complexityTable = map[int]float64{
	1: 1.0, 2: 1.0, 3: 0.9, 4: 0.7, 5: 0.5,
	6: 0.3, 7: 0.2, 8: 0.15, 9: 0.10, 10: 0.05,
}

// ComplexityScore rates a model by its variable count; fewer is better.
func ComplexityScore(n int) float64 {
	if s, ok := complexityTable[n]; ok {
		return s
	}
	return 0
}

// DepthPenalty rates a model by how deep in the recursion it was built.
func DepthPenalty(depth int) float64 {
	switch {
	case depth <= 0:
		return 1.0
	case depth == 1:
		return 0.8
	case depth == 2:
		return 0.6
	case depth == 3:
		return 0.4
	default:
		return 0.2
	}
}

// GeometricMean returns the geometric mean of xs, or 0 when xs is empty or
// contains a non-positive value.
func GeometricMean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var logSum float64
	for _, x := range xs {
		if x <= 0 {
			return 0
		}
		logSum += math.Log(x)
	}
	return math.Exp(logSum / float64(len(xs)))
}

// Score combines the criteria for a candidate with resolved of total
// variables resolved at the given confidences.
func (w Weights) Score(resolved, total int, confidences []float64, depth int) float64 {
	frac := 0.0
	if total > 0 {
		frac = float64(resolved) / float64(total)
	}
	return w.Resolved*frac +
		w.Confidence*GeometricMean(confidences) +
		w.Complexity*ComplexityScore(total) +
		w.Depth*DepthPenalty(depth)
}
