package collect

import (
	"math"
	"slices"
)

// Agreement is the largest group of values that agree within a band.
type Agreement struct {
	Value      float64
	Members    []float64
	Confidence float64
}

// Consensus groups values lying within ±band of the running group average
// and returns the largest group, or nil when no group has at least two
// members. Ties go to the tighter group.
func Consensus(values []float64, band float64) *Agreement {
	if len(values) < 2 {
		return nil
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	var best, cur []float64
	var curSum float64
	flush := func() {
		if len(cur) > len(best) || (len(cur) == len(best) && len(cur) > 0 && spread(cur) < spread(best)) {
			best = cur
		}
	}
	for _, v := range sorted {
		if len(cur) > 0 {
			avg := curSum / float64(len(cur))
			if math.Abs(v-avg) <= band*math.Abs(avg) {
				cur = append(cur, v)
				curSum += v
				continue
			}
			flush()
		}
		cur = []float64{v}
		curSum = v
	}
	flush()

	if len(best) < 2 {
		return nil
	}
	var sum float64
	for _, v := range best {
		sum += v
	}
	return &Agreement{
		Value:      sum / float64(len(best)),
		Members:    best,
		Confidence: consensusConfidence(len(best)),
	}
}

func consensusConfidence(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 0.60
	case n == 3:
		return 0.70
	case n == 4:
		return 0.80
	default:
		return 0.85
	}
}

func spread(vs []float64) float64 {
	if len(vs) == 0 {
		return math.Inf(1)
	}
	return slices.Max(vs) - slices.Min(vs)
}
