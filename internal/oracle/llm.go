package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/anthropic"

	"github.com/rand/guesstimate/internal/estimate"
)

// LLMConfig configures an LLM-backed oracle.
type LLMConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Logger    *slog.Logger
}

// DefaultLLMConfig returns defaults suitable for short numeric answers.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:     "claude-haiku-4-5",
		MaxTokens: 600,
	}
}

// Completer produces a text completion. It is the narrow seam between the
// oracle and a language model.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// FantasyCompleter completes prompts through a fantasy provider.
type FantasyCompleter struct {
	provider fantasy.Provider
	model    string
}

// NewAnthropicCompleter builds a completer on the Anthropic provider.
func NewAnthropicCompleter(cfg LLMConfig) (*FantasyCompleter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: no API key")
	}
	opts := []anthropic.Option{anthropic.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	provider, err := anthropic.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create anthropic provider: %w", err)
	}
	return &FantasyCompleter{provider: provider, model: cfg.Model}, nil
}

// Complete implements Completer.
func (c *FantasyCompleter) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	lm, err := c.provider.LanguageModel(ctx, c.model)
	if err != nil {
		return "", fmt.Errorf("get language model: %w", err)
	}

	maxTokens64 := int64(maxTokens)
	resp, err := lm.Generate(ctx, fantasy.Call{
		Prompt:          fantasy.Prompt{fantasy.NewUserMessage(prompt)},
		MaxOutputTokens: &maxTokens64,
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	text := resp.Content.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from %s", c.model)
	}
	return text, nil
}

// LLMOracle asks a language model for its own numeric belief.
type LLMOracle struct {
	completer Completer
	maxTokens int
	logger    *slog.Logger
}

// NewLLMOracle creates an oracle over completer. A nil completer yields an
// oracle that answers with nothing.
func NewLLMOracle(completer Completer, cfg LLMConfig) *LLMOracle {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultLLMConfig().MaxTokens
	}
	return &LLMOracle{completer: completer, maxTokens: cfg.MaxTokens, logger: logger}
}

// Ask implements Oracle. Each answer's confidence is the model's self-reported
// certainty.
func (o *LLMOracle) Ask(ctx context.Context, question string, ectx estimate.Context) ([]Answer, error) {
	if o.completer == nil {
		return nil, nil
	}

	text, err := o.completer.Complete(ctx, askPrompt(question, ectx), o.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("llm oracle: %w", err)
	}

	answers, certainty := parseAnswers(text, "llm")
	o.logger.Debug("llm oracle answered",
		"question", question, "answers", len(answers), "certainty", certainty)
	return answers, nil
}

func askPrompt(question string, ectx estimate.Context) string {
	var sb strings.Builder
	sb.WriteString("Estimate the following quantity from your own knowledge.\n\n")
	fmt.Fprintf(&sb, "Question: %s\n", question)
	writeContext(&sb, ectx)
	sb.WriteString(`
Reply with JSON only:
{"certainty": <0..1 how sure you are>, "answers": [{"value": <number>, "unit": "<unit>", "confidence": <0..1>, "reasoning": "<one sentence>"}]}
Use plain numbers (0.05 not 5%). Return an empty answers list if you do not know.`)
	return sb.String()
}

func writeContext(sb *strings.Builder, ectx estimate.Context) {
	if ectx.Domain != "" {
		fmt.Fprintf(sb, "Domain: %s\n", ectx.Domain)
	}
	if ectx.Region != "" {
		fmt.Fprintf(sb, "Region: %s\n", ectx.Region)
	}
	if ectx.TimePeriod != "" {
		fmt.Fprintf(sb, "Time period: %s\n", ectx.TimePeriod)
	}
	if ectx.Granularity != "" {
		fmt.Fprintf(sb, "Granularity: %s\n", ectx.Granularity)
	}
}
