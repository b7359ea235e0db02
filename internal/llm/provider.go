package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrProviderDisabled is returned when no inference provider is configured
	ErrProviderDisabled = errors.New("inference provider disabled")

	// ErrMalformedResponse means the model output could not be parsed as the expected JSON
	ErrMalformedResponse = errors.New("malformed inference response")
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete sends one system+user exchange and returns the raw model text
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// CompletionRequest contains the input for one inference call
type CompletionRequest struct {
	// Stage labels the call for logs and rate limiting (e.g. "analyst", "citation")
	Stage string

	// System is the role instruction
	System string

	// Prompt is the user message
	Prompt string

	// JSON asks the provider for a JSON object response where supported
	JSON bool

	// Model overrides the configured model
	Model string

	// MaxTokens limits the response length
	MaxTokens int
}

// CompletionResponse contains the model's raw output
type CompletionResponse struct {
	// Content is the generated text
	Content string

	// Model is the model that generated the response
	Model string

	// TokensUsed tracks token consumption
	TokensUsed int
}

// StatusError is a non-200 reply from a provider's HTTP API
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// Transient reports whether retrying may succeed
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "ollama", ""
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI/Anthropic
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	// Timeout for each inference call
	Timeout int // seconds

	// MaxTokens for response generation
	MaxTokens int

	// MaxRetries for transient failures
	MaxRetries int

	// RequestsPerSecond and Burst bound calls to the provider
	RequestsPerSecond float64
	Burst             int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:          "", // Disabled by default
		Model:             "",
		Timeout:           30,
		MaxTokens:         2000,
		MaxRetries:        2,
		RequestsPerSecond: 2,
		Burst:             2,
	}
}

func (c Config) maxTokens(override int) int {
	if override > 0 {
		return override
	}
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 2000
}
