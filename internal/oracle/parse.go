package oracle

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractJSON returns the outermost JSON object or array in a model reply,
// tolerating prose and code fences around it.
func ExtractJSON(text string) string {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if text[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(text, closer)
	if end <= start {
		return ""
	}
	candidate := text[start : end+1]
	if !gjson.Valid(candidate) {
		return ""
	}
	return candidate
}

// parseAnswers reads {"certainty": c, "answers": [{value, confidence, unit,
// reasoning}]} from a model reply. Answers without a numeric value are
// skipped. A missing answer confidence defaults to the reply certainty.
func parseAnswers(text, provenance string) (answers []Answer, certainty float64) {
	doc := ExtractJSON(text)
	if doc == "" {
		return nil, 0
	}
	root := gjson.Parse(doc)
	certainty = root.Get("certainty").Float()

	items := root.Get("answers")
	if root.IsArray() {
		items = root
	}
	items.ForEach(func(_, item gjson.Result) bool {
		v := item.Get("value")
		if v.Type != gjson.Number {
			return true
		}
		conf := certainty
		if c := item.Get("confidence"); c.Exists() {
			conf = c.Float()
		}
		answers = append(answers, Answer{
			Value:      v.Float(),
			Confidence: conf,
			Unit:       item.Get("unit").String(),
			Reasoning:  item.Get("reasoning").String(),
			Provenance: provenance,
		})
		return true
	})
	return answers, certainty
}
