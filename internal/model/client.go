// Package model talks to language model endpoints and routes requests
// between them by capability tier. Backends are single-shot; the retry
// and timeout policy lives in the Router so it is applied uniformly no
// matter which provider serves a tier.
package model

import (
	"context"
	"fmt"
	"time"
)

// Client is one model endpoint.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Name() string
}

// EndpointConfig describes a single model endpoint.
type EndpointConfig struct {
	Provider string // genai or openai
	Model    string
	APIKey   string
	BaseURL  string // empty uses the provider default
	Timeout  time.Duration
}

// NewClient builds a client for the configured provider.
func NewClient(cfg EndpointConfig) (Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	switch cfg.Provider {
	case "genai":
		return NewGenAIClient(cfg)
	case "openai":
		return NewOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unknown model provider: %q", cfg.Provider)
	}
}
