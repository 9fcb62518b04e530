package estimate

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/zeebo/xxh3"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// interrogative openers carry no meaning for lookup or cycle detection.
var leadIns = [][]string{
	{"what", "is", "the"},
	{"what", "are", "the"},
	{"what", "is"},
	{"what", "are"},
	{"whats"},
	{"how", "much", "is"},
	{"how", "many"},
	{"how", "much"},
	{"estimate", "the"},
	{"estimate"},
}

// Normalize canonicalizes question text: NFKC, case folding, diacritics
// stripped, punctuation and underscores collapsed to single spaces, and
// leading interrogatives removed. "What is Churn_Rate?" and "churn rate"
// normalize identically.
func Normalize(s string) string {
	return strings.Join(Tokens(s), " ")
}

// Tokens returns the normalized words of s.
func Tokens(s string) []string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFKC)
	clean, _, err := transform.String(t, s)
	if err != nil {
		clean = s
	}
	clean = folder.String(clean)

	words := strings.FieldsFunc(clean, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '%'
	})
	out := words[:0]
	for _, w := range words {
		w = strings.Trim(w, ".")
		if w != "" {
			out = append(out, w)
		}
	}
	return stripLeadIn(out)
}

func stripLeadIn(words []string) []string {
	for _, lead := range leadIns {
		if len(words) <= len(lead) {
			continue
		}
		match := true
		for i, w := range lead {
			if words[i] != w {
				match = false
				break
			}
		}
		if match {
			return words[len(lead):]
		}
	}
	return words
}

// Key returns the snake_case fact key for s: "Monthly churn rate" -> "monthly_churn_rate".
func Key(s string) string {
	return strings.Join(Tokens(s), "_")
}

// Hash returns a stable hex digest of the normalized text, used for ids.
func Hash(s string) string {
	return strconv.FormatUint(xxh3.HashString(Normalize(s)), 16)
}

// SubQuestion returns the question posed for a decomposition variable.
func SubQuestion(variable string) string {
	return variable + "?"
}

// conditioning words introduce inputs, not the quantity being asked for.
var conditioning = map[string]bool{
	"given": true, "assuming": true, "if": true, "when": true,
	"based": true, "using": true, "from": true, "with": true,
}

// subject returns the words before the first conditioning word.
func subject(words []string) []string {
	for i, w := range words {
		if conditioning[w] {
			return words[:i]
		}
	}
	return words
}

// MatchFact finds the caller-supplied fact that a question names verbatim.
// The question matches a fact when the fact key equals the question key or
// when the fact's words appear contiguously in the question's subject, the
// words before any "given", "assuming" or similar clause. The longest such
// key wins; ties break lexically so lookups are deterministic.
func MatchFact(question string, facts map[string]float64) (string, float64, bool) {
	qTokens := Tokens(question)
	if len(qTokens) == 0 {
		return "", 0, false
	}
	qKey := strings.Join(qTokens, "_")
	subj := subject(qTokens)

	var (
		bestKey string
		bestLen int
		bestVal float64
		found   bool
	)
	for k, v := range facts {
		fTokens := Tokens(k)
		if len(fTokens) == 0 {
			continue
		}
		if strings.Join(fTokens, "_") != qKey && !containsRun(subj, fTokens) {
			continue
		}
		if !found || len(fTokens) > bestLen || (len(fTokens) == bestLen && k < bestKey) {
			bestKey, bestLen, bestVal, found = k, len(fTokens), v, true
		}
	}
	return bestKey, bestVal, found
}

func containsRun(haystack, needle []string) bool {
	if len(needle) > len(haystack) {
		return false
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, w := range needle {
			if haystack[i+j] != w {
				continue outer
			}
		}
		return true
	}
	return false
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "in": true, "for": true,
	"to": true, "and": true, "or": true, "per": true, "on": true, "at": true,
	"by": true, "with": true, "is": true, "are": true, "what": true, "how": true,
}

// Keywords returns the distinct content words of s in order of appearance.
func Keywords(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range Tokens(s) {
		if stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
