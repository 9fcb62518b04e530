package collect

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Number is a numeric token found in free text, normalized to a plain value.
type Number struct {
	Value    float64
	Raw      string
	Percent  bool
	Currency string
}

var numberRe = regexp.MustCompile(`(?i)(?:([$€£¥₩])\s?)?(-?\d{1,3}(?:,\d{3})+(?:\.\d+)?|-?\d*\.?\d+)(?:\s?(%|percent\b|thousand\b|k\b|million\b|mn\b|m\b|billion\b|bn\b|b\b|trillion\b|t\b))?`)

var magnitudes = map[string]float64{
	"k": 1e3, "thousand": 1e3,
	"m": 1e6, "mn": 1e6, "million": 1e6,
	"b": 1e9, "bn": 1e9, "billion": 1e9,
	"t": 1e12, "trillion": 1e12,
}

// ExtractNumbers finds numbers in text, applying percentage and magnitude
// suffixes and stripping currency symbols: "5%" is 0.05, "$1.2bn" is 1.2e9.
// Bare four-digit integers between 1900 and 2100 are taken to be years and
// skipped, as are digits embedded in words ("B2B").
func ExtractNumbers(text string) []Number {
	var out []Number
	for _, m := range numberRe.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[0], m[1]
		if start > 0 {
			r, _ := utf8.DecodeLastRuneInString(text[:start])
			if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' {
				continue
			}
		}
		if end < len(text) && m[7] < 0 {
			r, _ := utf8.DecodeRuneInString(text[end:])
			if unicode.IsLetter(r) {
				continue
			}
		}

		numText := strings.ReplaceAll(text[m[4]:m[5]], ",", "")
		v, err := strconv.ParseFloat(numText, 64)
		if err != nil {
			continue
		}

		n := Number{Raw: strings.TrimSpace(text[start:end])}
		if m[2] >= 0 {
			n.Currency = text[m[2]:m[3]]
		}
		suffix := ""
		if m[6] >= 0 {
			suffix = strings.ToLower(text[m[6]:m[7]])
		}

		switch {
		case suffix == "%" || suffix == "percent":
			n.Percent = true
			v /= 100
		case suffix != "":
			v *= magnitudes[suffix]
		case n.Currency == "" && !strings.Contains(numText, ".") && v >= 1900 && v <= 2100:
			continue
		}
		n.Value = v
		out = append(out, n)
	}
	return out
}
