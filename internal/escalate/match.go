package escalate

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rand/guesstimate/internal/estimate"
)

const generalDomain = "general"

// ContextMatch scores how well the context a rule was learned under fits
// the request context. It averages the applicable checks and is 1 when no
// check applies.
//
//	domain:  equal 1.0, one side general or absent 0.5, different 0
//	region:  equal 1.0, one side absent 0.5, different 0
//	period:  equal 1.0, one unit apart 0.8, two 0.6, otherwise 0.5
func ContextMatch(rule, req estimate.Context) float64 {
	var sum float64
	n := 0

	if rule.Domain != "" || req.Domain != "" {
		n++
		rd, qd := domainOf(rule.Domain), domainOf(req.Domain)
		switch {
		case strings.EqualFold(rd, qd):
			sum += 1.0
		case rd == generalDomain || qd == generalDomain:
			sum += 0.5
		}
	}

	if rule.Region != "" || req.Region != "" {
		n++
		switch {
		case strings.EqualFold(rule.Region, req.Region):
			sum += 1.0
		case rule.Region == "" || req.Region == "":
			sum += 0.5
		}
	}

	if rule.TimePeriod != "" && req.TimePeriod != "" {
		n++
		sum += periodScore(rule.TimePeriod, req.TimePeriod)
	}

	if n == 0 {
		return 1.0
	}
	return sum / float64(n)
}

func domainOf(d string) string {
	if d == "" {
		return generalDomain
	}
	return strings.ToLower(d)
}

func periodScore(a, b string) float64 {
	if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) {
		return 1.0
	}
	d, ok := PeriodDistance(a, b)
	switch {
	case !ok:
		return 0.5
	case d == 0:
		return 1.0
	case d == 1:
		return 0.8
	case d == 2:
		return 0.6
	default:
		return 0.5
	}
}

// Period granularities.
const (
	grainYear = iota
	grainQuarter
	grainMonth
)

var (
	yearRe       = regexp.MustCompile(`^(?:fy\s?)?(\d{4})$`)
	monthRe      = regexp.MustCompile(`^(\d{4})-(\d{1,2})$`)
	quarterRe    = regexp.MustCompile(`^(\d{4})[-\s]?q([1-4])$`)
	quarterPreRe = regexp.MustCompile(`^q([1-4])[-\s]?(\d{4})$`)
)

type period struct {
	grain int
	year  int
	// index is the quarter or month within the year, zero-based.
	index int
}

func parsePeriod(s string) (period, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if m := yearRe.FindStringSubmatch(s); m != nil {
		y, _ := strconv.Atoi(m[1])
		return period{grain: grainYear, year: y}, true
	}
	if m := monthRe.FindStringSubmatch(s); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		if mo < 1 || mo > 12 {
			return period{}, false
		}
		return period{grain: grainMonth, year: y, index: mo - 1}, true
	}
	if m := quarterRe.FindStringSubmatch(s); m != nil {
		y, _ := strconv.Atoi(m[1])
		q, _ := strconv.Atoi(m[2])
		return period{grain: grainQuarter, year: y, index: q - 1}, true
	}
	if m := quarterPreRe.FindStringSubmatch(s); m != nil {
		q, _ := strconv.Atoi(m[1])
		y, _ := strconv.Atoi(m[2])
		return period{grain: grainQuarter, year: y, index: q - 1}, true
	}
	return period{}, false
}

// PeriodDistance returns how many units apart two time periods are. Periods
// of the same granularity are compared in that unit ("2024-Q1" and
// "2024-Q3" are 2 apart); mixed granularities are compared in years.
func PeriodDistance(a, b string) (int, bool) {
	pa, okA := parsePeriod(a)
	pb, okB := parsePeriod(b)
	if !okA || !okB {
		return 0, false
	}
	if pa.grain != pb.grain {
		return abs(pa.year - pb.year), true
	}
	switch pa.grain {
	case grainMonth:
		return abs((pa.year*12 + pa.index) - (pb.year*12 + pb.index)), true
	case grainQuarter:
		return abs((pa.year*4 + pa.index) - (pb.year*4 + pb.index)), true
	default:
		return abs(pa.year - pb.year), true
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
