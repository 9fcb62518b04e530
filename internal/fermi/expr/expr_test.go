package expr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEval(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"10 / 4", 2.5},
		{"-3 + 5", 2},
		{"-(2 * 3)", -6},
		{"2 * -3", -6},
		{"(80000) / (0.05)", 1600000},
		{"  .5 + 0.5 ", 1},
		{"8 - 2 - 1", 5},
		{"16 / 4 / 2", 2},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Eval(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestEval_Rejects(t *testing.T) {
	inputs := []string{
		"",
		"__import__('os')",
		"2 ** 3",
		"1e5",
		"abs(-1)",
		"1 +",
		"(1 + 2",
		"1 + 2)",
		"1..2",
		"x * 2",
		"2 % 3",
		"1; 2",
		"+1",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := Eval(in)
			assert.ErrorIs(t, err, ErrRejected)
		})
	}
}

func TestEval_DivisionByZero(t *testing.T) {
	_, err := Eval("1 / (2 - 2)")
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestEval_NestingLimit(t *testing.T) {
	deep := strings.Repeat("(", maxNesting+1) + "1" + strings.Repeat(")", maxNesting+1)
	_, err := Eval(deep)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestIdentifiers(t *testing.T) {
	assert.Equal(t, []string{"arpu", "churn_rate"}, Identifiers("ltv = arpu / churn_rate"))
	assert.Equal(t, []string{"a", "b"}, Identifiers("a * b + a"))
}

func TestSubstitute(t *testing.T) {
	got := Substitute("ltv = arpu / churn_rate", map[string]float64{"arpu": 80000, "churn_rate": 0.05})
	assert.Equal(t, "(80000) / (0.05)", got)

	v, err := Eval(got)
	require.NoError(t, err)
	assert.InDelta(t, 1600000, v, 1e-6)
}

func TestSubstitute_NoExponentForms(t *testing.T) {
	got := Substitute("a * b", map[string]float64{"a": 1e-9, "b": 3e21})
	assert.NotContains(t, got, "e")
	_, err := Eval(got)
	assert.NoError(t, err)
}

func TestSubstitute_NegativeValue(t *testing.T) {
	v, err := Eval(Substitute("a - b", map[string]float64{"a": 1, "b": -2}))
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)
}

func TestSubstitute_UnknownLeftInPlace(t *testing.T) {
	got := Substitute("a * missing", map[string]float64{"a": 2})
	_, err := Eval(got)
	assert.ErrorIs(t, err, ErrRejected)
}

// TestProperty_OnlyArithmeticAccepted checks that any input containing a
// character outside the grammar is rejected.
func TestProperty_OnlyArithmeticAccepted(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.StringOf(rapid.RuneFrom([]rune("0123456789+-*/(). abcxyz_;'\"%^"))).Draw(t, "expr")
		_, err := Eval(s)
		if strings.ContainsAny(s, "abcxyz_;'\"%^") && err == nil {
			t.Fatalf("accepted non-arithmetic input %q", s)
		}
	})
}

// TestProperty_SubstitutedProductsEvaluate checks that substituted finite
// values always produce an evaluable expression.
func TestProperty_SubstitutedProductsEvaluate(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Float64Range(-1e12, 1e12).Draw(t, "a")
		b := rapid.Float64Range(-1e12, 1e12).Draw(t, "b")
		got, err := Eval(Substitute("x = a * b", map[string]float64{"a": a, "b": b}))
		if err != nil {
			t.Fatalf("eval: %v", err)
		}
		want := a * b
		if diff := got - want; diff > 1e-6*(1+abs(want)) || diff < -1e-6*(1+abs(want)) {
			t.Fatalf("got %g want %g", got, want)
		}
	})
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
