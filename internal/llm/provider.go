package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownProvider is returned by NewClient for an unsupported provider.
var ErrUnknownProvider = errors.New("unknown LLM provider")

// DefaultTimeout bounds one completion call.
const DefaultTimeout = 30 * time.Second

type ProviderConfig struct {
	Provider  string
	APIKey    string
	AuthToken string // OAuth token (Bearer auth)
	Model     string
	BaseURL   string
	Timeout   time.Duration // zero means DefaultTimeout
}

func NewClient(cfg ProviderConfig) (Client, error) {
	var c Client
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "anthropic":
		if cfg.APIKey == "" && cfg.AuthToken == "" {
			return nil, errors.New("anthropic: ANTHROPIC_API_KEY or ANTHROPIC_AUTH_TOKEN is required")
		}
		c = NewAnthropicClient(cfg.APIKey, cfg.AuthToken, cfg.Model)
	case "openai":
		if cfg.APIKey == "" {
			return nil, errors.New("openai: OPENAI_API_KEY is required")
		}
		c = NewOpenAIClient(cfg.APIKey, cfg.Model, "")
	case "ollama":
		if cfg.Model == "" {
			cfg.Model = "llama3.1"
		}
		c = NewOpenAIClient("ollama", cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &timeoutClient{next: c, timeout: cfg.Timeout}, nil
}

// timeoutClient gives each call its own deadline so a hung provider
// cannot stall a webhook or a scheduled run.
type timeoutClient struct {
	next    Client
	timeout time.Duration
}

func (t *timeoutClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Complete(ctx, systemPrompt, userPrompt)
}
