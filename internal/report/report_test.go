package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/rand/guesstimate/internal/estimate"
)

func ltvResult() *estimate.Result {
	return &estimate.Result{
		Question:   "customer lifetime value",
		Value:      estimate.Ptr(1.6e6),
		Range:      &estimate.Range{Min: 1.2e6, Max: 2e6},
		Tier:       estimate.TierDecomposition,
		Phase:      estimate.PhaseFermi,
		Confidence: 0.6928,
		Reasoning:  "ltv via ltv = arpu / churn_rate",
		Warnings: []estimate.Warning{{
			Severity: estimate.SeverityWarning,
			Source:   "soft:churn",
			Message:  "outside natural range",
			Range:    &estimate.Range{Min: 0.005, Max: 0.15},
		}},
		Estimates: []estimate.ValueEstimate{{Source: "internal", Value: 1}},
		Trace: &estimate.DecompositionTrace{
			Formula: "ltv = arpu / churn_rate",
			Variables: []estimate.TraceVariable{
				{Name: "arpu", Value: 80000, Confidence: 0.8, Source: "fact", Resolved: true},
				{Name: "churn_rate", Value: 0.05, Confidence: 0.6, Source: "guestimate", Resolved: true},
			},
		},
	}
}

func TestJSON_PublicFieldsOnly(t *testing.T) {
	doc, err := JSON(ltvResult())
	require.NoError(t, err)

	js := string(doc)
	assert.Equal(t, "customer lifetime value", gjson.Get(js, "question").String())
	assert.Equal(t, 1.6e6, gjson.Get(js, "value").Float())
	assert.Equal(t, 1.2e6, gjson.Get(js, "range.min").Float())
	assert.Equal(t, 0.6928, gjson.Get(js, "confidence").Float())
	assert.Equal(t, "tier3/fermi", gjson.Get(js, "source").String())
	assert.True(t, gjson.Get(js, "resolved").Bool())
	assert.Equal(t, "warning", gjson.Get(js, "warnings.0.severity").String())
	assert.Equal(t, 0.15, gjson.Get(js, "warnings.0.range.max").Float())

	assert.False(t, gjson.Get(js, "trace").Exists())
	assert.False(t, gjson.Get(js, "estimates").Exists())
	assert.False(t, gjson.Get(js, "unit").Exists())
}

func TestJSON_Unresolved(t *testing.T) {
	doc, err := JSON(estimate.Unresolved("zorbs", "no stage produced an estimate"))
	require.NoError(t, err)

	js := string(doc)
	assert.Equal(t, gjson.Null, gjson.Get(js, "value").Type)
	assert.False(t, gjson.Get(js, "resolved").Bool())
	assert.Equal(t, "unresolved/unresolved", gjson.Get(js, "source").String())
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0.05, "0.05"},
		{42, "42"},
		{9999, "9999"},
		{25_000, "25k"},
		{1.6e6, "1.6M"},
		{2.5e9, "2.5B"},
		{7e12, "7T"},
		{-3e6, "-3M"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatValue(tt.in), "%v", tt.in)
	}
}

func TestText_Plain(t *testing.T) {
	out := Text(ltvResult(), TextOptions{Plain: true, Trace: true})

	assert.Contains(t, out, "customer lifetime value")
	assert.Contains(t, out, "1.6M")
	assert.Contains(t, out, "69%")
	assert.Contains(t, out, "tier3/fermi")
	assert.Contains(t, out, "outside natural range [0.005, 0.15]")
	assert.Contains(t, out, "churn_rate = 0.05")
	assert.NotContains(t, out, "\x1b[")
}

func TestText_Unresolved(t *testing.T) {
	out := Text(estimate.Unresolved("zorbs", "nothing known"), TextOptions{Plain: true})
	assert.Contains(t, out, "unresolved")
	assert.Contains(t, out, "nothing known")
}

func TestText_Styled(t *testing.T) {
	out := Text(ltvResult(), TextOptions{})
	assert.Contains(t, out, "1.6M")
	assert.Contains(t, out, "customer lifetime value")
}
