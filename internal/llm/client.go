// Package llm provides completion clients for the language models that
// drive formulation generation, trajectory judging, and experience
// extraction. Anthropic and OpenAI backends are supported behind a single
// Client interface; callers tune temperature and token limits per call
// because the reasoning components want very different sampling behavior.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Default configuration values.
const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-sonnet-20241022"
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultMaxTokens        = 2048
	defaultTemperature      = 0.2
	defaultTimeout          = 60 * time.Second
	defaultMaxRetries       = 3
	defaultBaseBackoff      = 1 * time.Second
)

// Rate limiter defaults: 50 requests per minute for both APIs.
const (
	defaultRateLimit = 50.0 / 60.0 // ~0.83 requests per second
	defaultBurst     = 5           // Allow bursts of up to 5 requests
)

var (
	// ErrAPIKeyRequired is returned when a client is constructed without credentials.
	ErrAPIKeyRequired = errors.New("API key required")
	// ErrUnknownProvider is returned for a provider name the factory does not recognize.
	ErrUnknownProvider = errors.New("unknown LLM provider")
	// ErrEmptyCompletion is returned when the API answers successfully but with no text.
	ErrEmptyCompletion = errors.New("empty completion from API")
)

// Client generates text completions. Implementations must be safe for
// concurrent use; parallel candidate generation calls Complete from
// multiple goroutines against a shared client.
type Client interface {
	Complete(ctx context.Context, prompt string, opts ...CompleteOption) (string, error)
}

// Func adapts an ordinary function to the Client interface. Handy for tests
// and for wrapping completion sources that do not need a full HTTP client.
type Func func(ctx context.Context, prompt string, opts ...CompleteOption) (string, error)

// Complete implements Client.
func (f Func) Complete(ctx context.Context, prompt string, opts ...CompleteOption) (string, error) {
	return f(ctx, prompt, opts...)
}

// completeOptions carries the per-call sampling parameters.
type completeOptions struct {
	temperature float64
	maxTokens   int
	system      string
}

// CompleteOption adjusts a single Complete call.
type CompleteOption func(*completeOptions)

// WithTemperature sets the sampling temperature. Zero is a valid value and
// requests deterministic output.
func WithTemperature(t float64) CompleteOption {
	return func(o *completeOptions) {
		o.temperature = t
	}
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) CompleteOption {
	return func(o *completeOptions) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// WithSystemPrompt sets the system prompt for the call.
func WithSystemPrompt(system string) CompleteOption {
	return func(o *completeOptions) {
		o.system = system
	}
}

func resolveOptions(opts []CompleteOption) completeOptions {
	resolved := completeOptions{
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&resolved)
	}
	return resolved
}

// Config holds provider selection and credentials for NewClient.
type Config struct {
	// Provider selects the backend: "anthropic" or "openai".
	Provider string `koanf:"provider"`
	// Model overrides the provider's default model.
	Model string `koanf:"model"`
	// APIKey authenticates against the provider.
	APIKey string `koanf:"api_key"`
	// BaseURL overrides the provider endpoint, mainly for tests and proxies.
	BaseURL string `koanf:"base_url"`
	// Timeout is the per-request HTTP timeout in seconds.
	Timeout int `koanf:"timeout"`
}

// NewClient builds a completion client for the configured provider.
func NewClient(cfg Config) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "anthropic", "claude", "":
		return newAnthropicClient(cfg)
	case "openai", "gpt":
		return newOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
