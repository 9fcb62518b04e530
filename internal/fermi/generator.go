package fermi

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/rand/guesstimate/internal/estimate"
	"github.com/rand/guesstimate/internal/oracle"
)

// Generator proposes candidate models for a question no template covers.
type Generator interface {
	Generate(ctx context.Context, question string, ectx estimate.Context) ([]Model, error)
}

// LLMGenerator asks a language model for candidate formulas.
type LLMGenerator struct {
	completer     oracle.Completer
	maxTokens     int
	maxCandidates int
	logger        *slog.Logger
}

// NewLLMGenerator creates a generator. A nil completer generates nothing.
func NewLLMGenerator(completer oracle.Completer, maxTokens, maxCandidates int, logger *slog.Logger) *LLMGenerator {
	if maxTokens <= 0 {
		maxTokens = 800
	}
	if maxCandidates <= 0 {
		maxCandidates = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMGenerator{completer: completer, maxTokens: maxTokens, maxCandidates: maxCandidates, logger: logger}
}

// Generate implements Generator.
func (g *LLMGenerator) Generate(ctx context.Context, question string, ectx estimate.Context) ([]Model, error) {
	if g.completer == nil {
		return nil, nil
	}
	reply, err := g.completer.Complete(ctx, generatePrompt(question, ectx, g.maxCandidates), g.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("generate models: %w", err)
	}
	models := parseCandidates(reply)
	if len(models) > g.maxCandidates {
		models = models[:g.maxCandidates]
	}
	g.logger.Debug("generated models", "question", question, "count", len(models))
	return models, nil
}

func generatePrompt(question string, ectx estimate.Context, n int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Propose up to %d Fermi decompositions for the quantity below.\n", n)
	sb.WriteString("Each formula must be `name = expression` using only snake_case variable names, numbers, + - * / and parentheses.\n")
	sb.WriteString("Prefer few variables that are each easier to estimate than the whole.\n\n")
	fmt.Fprintf(&sb, "Quantity: %s\n", question)
	if ectx.Domain != "" {
		fmt.Fprintf(&sb, "Domain: %s\n", ectx.Domain)
	}
	if ectx.Region != "" {
		fmt.Fprintf(&sb, "Region: %s\n", ectx.Region)
	}
	if ectx.TimePeriod != "" {
		fmt.Fprintf(&sb, "Period: %s\n", ectx.TimePeriod)
	}
	sb.WriteString("\nReply with JSON only: {\"models\": [{\"name\": \"...\", \"formula\": \"...\", \"description\": \"...\"}]}")
	return sb.String()
}

// parseCandidates reads {"models": [...]} or a bare array from a reply,
// keeping only models whose formulas pass validation.
func parseCandidates(reply string) []Model {
	raw := oracle.ExtractJSON(reply)
	if raw == "" {
		return nil
	}
	list := gjson.Get(raw, "models")
	if !list.Exists() {
		list = gjson.Parse(raw)
	}
	if !list.IsArray() {
		return nil
	}

	var out []Model
	list.ForEach(func(_, item gjson.Result) bool {
		m := Model{
			Name:        item.Get("name").String(),
			Formula:     strings.TrimSpace(item.Get("formula").String()),
			Description: item.Get("description").String(),
			Origin:      OriginGenerated,
		}
		if m.Name == "" {
			m.Name = estimate.Key(strings.SplitN(m.Formula, "=", 2)[0])
		}
		if m.Validate() == nil {
			out = append(out, m)
		}
		return true
	})
	return out
}
