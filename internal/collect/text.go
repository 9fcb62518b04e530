package collect

import (
	"strings"

	"github.com/rand/guesstimate/internal/estimate"
)

func lowerRaw(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// containsWord reports whether phrase occurs in padded text on word
// boundaries. Both are expected lower case; text is padded with spaces.
func containsWord(text, phrase string) bool {
	phrase = strings.Join(estimate.Tokens(phrase), " ")
	if phrase == "" {
		return false
	}
	return strings.Contains(text, " "+phrase+" ")
}

// sentences splits text on sentence punctuation and line breaks.
func sentences(text string) []string {
	text = strings.ReplaceAll(text, ". ", "\n")
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == '!' || r == '?' || r == ';'
	})
}

// mentionsAny reports whether any keyword appears in text.
func mentionsAny(text string, keywords []string) bool {
	padded := " " + estimate.Normalize(text) + " "
	for _, k := range keywords {
		if strings.Contains(padded, " "+k+" ") {
			return true
		}
	}
	return false
}
