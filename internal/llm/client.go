package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/ppiankov/evidencegate/internal/logging"
)

// Completer is the JSON inference surface used by the adjudication stages
type Completer interface {
	// CompleteJSON decodes the model's JSON object into out and returns the raw text
	CompleteJSON(ctx context.Context, req CompletionRequest, out any) (string, error)
}

// Waiter throttles calls per key
type Waiter interface {
	Wait(ctx context.Context, key string) error
}

// Client wraps a Provider with per-call timeouts, rate limiting and bounded retries
type Client struct {
	provider   Provider
	limiter    Waiter
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// NewClient creates a client around provider. A nil provider yields a disabled client.
func NewClient(provider Provider, config Config, limiter Waiter) *Client {
	timeout := time.Duration(config.Timeout) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(DefaultConfig().Timeout) * time.Second
	}
	retries := config.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return &Client{
		provider:   provider,
		limiter:    limiter,
		timeout:    timeout,
		maxRetries: retries,
		backoff:    time.Second,
		logger:     logging.New("llm"),
	}
}

// NewClientFromConfig builds the configured provider and wraps it
func NewClientFromConfig(config Config, limiter Waiter) (*Client, error) {
	provider, err := NewProvider(config)
	if err != nil {
		return nil, err
	}
	return NewClient(provider, config, limiter), nil
}

// IsEnabled returns true if a provider is configured
func (c *Client) IsEnabled() bool {
	return c != nil && c.provider != nil
}

// ProviderName returns the configured provider name, or empty when disabled
func (c *Client) ProviderName() string {
	if !c.IsEnabled() {
		return ""
	}
	return c.provider.Name()
}

// Complete calls the provider, retrying transient failures with exponential backoff
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if !c.IsEnabled() {
		return nil, ErrProviderDisabled
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff << (attempt - 1)
			c.logger.Warn("retrying inference call", "stage", req.Stage, "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, c.provider.Name()); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		start := time.Now()
		resp, err := c.provider.Complete(callCtx, req)
		cancel()
		if err == nil {
			c.logger.Debug("inference call complete", "stage", req.Stage, "model", resp.Model,
				"tokens", resp.TokensUsed, "duration", time.Since(start))
			return resp, nil
		}

		lastErr = err
		if ctx.Err() != nil || !IsTransient(err) {
			break
		}
	}
	return nil, lastErr
}

// CompleteJSON requests a JSON object and decodes it into out.
// Malformed output is returned as ErrMalformedResponse and is not retried.
func (c *Client) CompleteJSON(ctx context.Context, req CompletionRequest, out any) (string, error) {
	req.JSON = true
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if err := DecodeJSON(resp.Content, out); err != nil {
		return resp.Content, err
	}
	return resp.Content, nil
}

// DecodeJSON extracts the JSON object from raw model text and decodes it into out
func DecodeJSON(raw string, out any) error {
	obj, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// ExtractJSON returns the outermost JSON object in text, tolerating code fences and prose
func ExtractJSON(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON object found", ErrMalformedResponse)
	}
	obj := text[start : end+1]
	if !json.Valid([]byte(obj)) {
		return "", fmt.Errorf("%w: invalid JSON object", ErrMalformedResponse)
	}
	return obj, nil
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
