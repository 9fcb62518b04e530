// Package report renders results for downstream consumers. Only the public
// fields of a result are exposed: value, range, unit, confidence, reasoning
// and warnings. Decomposition traces and evidence lists stay internal.
package report

import (
	"fmt"
	"math"
	"strconv"

	"github.com/tidwall/sjson"

	"github.com/rand/guesstimate/internal/estimate"
)

// JSON returns the consumer document for r.
//
//	{"question":"…","value":0.05,"range":{"min":…,"max":…},"unit":"",
//	 "confidence":1,"reasoning":"…","resolved":true,"source":"tier1/literal",
//	 "warnings":[{"severity":"…","message":"…"}]}
func JSON(r *estimate.Result) ([]byte, error) {
	doc := []byte(`{}`)
	set := func(path string, v any) {
		if doc == nil {
			return
		}
		var err error
		if doc, err = sjson.SetBytes(doc, path, v); err != nil {
			doc = nil
		}
	}

	set("question", r.Question)
	if r.Resolved() {
		set("value", *r.Value)
	} else {
		set("value", nil)
	}
	if r.Range != nil {
		set("range.min", r.Range.Min)
		set("range.max", r.Range.Max)
	}
	if r.Unit != "" {
		set("unit", r.Unit)
	}
	set("confidence", round(r.Confidence, 4))
	set("resolved", r.Resolved())
	set("source", Source(r))
	set("reasoning", r.Reasoning)
	for i, w := range r.Warnings {
		prefix := "warnings." + strconv.Itoa(i)
		set(prefix+".severity", string(w.Severity))
		set(prefix+".message", w.Message)
		if w.Range != nil {
			set(prefix+".range.min", w.Range.Min)
			set(prefix+".range.max", w.Range.Max)
		}
	}
	if doc == nil {
		return nil, fmt.Errorf("build report for %q", r.Question)
	}
	return doc, nil
}

// Source names the stage that produced r, e.g. "tier2/guestimate".
func Source(r *estimate.Result) string {
	return r.Tier.String() + "/" + string(r.Phase)
}

// FormatValue prints v compactly: 1600000 -> "1.6M", 0.05 -> "0.05".
func FormatValue(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1e12:
		return trim(v/1e12) + "T"
	case abs >= 1e9:
		return trim(v/1e9) + "B"
	case abs >= 1e6:
		return trim(v/1e6) + "M"
	case abs >= 1e4:
		return trim(v/1e3) + "k"
	default:
		return strconv.FormatFloat(v, 'g', 4, 64)
	}
}

func trim(v float64) string {
	return strconv.FormatFloat(round(v, 2), 'f', -1, 64)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
