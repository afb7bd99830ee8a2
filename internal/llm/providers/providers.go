// Package providers builds the configured llm.Model.
package providers

import (
	"context"
	"fmt"

	"github.com/amma-stories/amma/internal/config"
	"github.com/amma-stories/amma/internal/llm"
	"github.com/amma-stories/amma/internal/llm/anthropic"
	"github.com/amma-stories/amma/internal/llm/google"
	"github.com/amma-stories/amma/internal/llm/openai"
)

// New returns the model named by cfg.Spec, wrapped with the configured
// per-call timeout.
func New(ctx context.Context, cfg config.ModelConfig) (llm.Model, llm.ModelSpec, error) {
	spec, err := llm.ParseModelSpec(cfg.Spec)
	if err != nil {
		return nil, llm.ModelSpec{}, err
	}

	var m llm.Model
	switch spec.Provider {
	case llm.ProviderOpenAI:
		m, err = openai.New(openai.Config{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       spec.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	case llm.ProviderAnthropic:
		m, err = anthropic.New(anthropic.Config{
			APIKey:      cfg.AnthropicAPIKey,
			BaseURL:     cfg.AnthropicBaseURL,
			Model:       spec.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	case llm.ProviderGoogle:
		m, err = google.New(ctx, google.Config{
			APIKey:      cfg.GoogleAPIKey,
			Model:       spec.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	default:
		err = fmt.Errorf("unsupported model provider %q", spec.Provider)
	}
	if err != nil {
		return nil, spec, err
	}

	return llm.WithTimeout(m, cfg.Timeout), spec, nil
}
