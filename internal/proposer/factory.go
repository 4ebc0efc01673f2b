package proposer

import (
	"context"
	"fmt"
	"time"
)

// Providers recognized by NewClient.
const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
)

// ClientConfig selects and configures a completion backend.
type ClientConfig struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
}

// NewClient builds the backend named by the config.
func NewClient(ctx context.Context, cfg ClientConfig) (Client, error) {
	switch cfg.Provider {
	case ProviderOpenRouter, "":
		return NewOpenRouterClient(OpenRouterConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}), nil
	case ProviderGemini:
		return NewGeminiClient(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown proposer provider %q", cfg.Provider)
	}
}
