package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/evidencegate/internal/logging"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaProvider talks to a local Ollama server through its chat endpoint
type OllamaProvider struct {
	baseURL    string
	httpClient *http.Client
	config     Config
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  ollamaOptions   `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"` // max tokens
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

type ollamaError struct {
	Error string `json:"error"`
}

// NewOllamaProvider creates a new Ollama provider
func NewOllamaProvider(config Config) (*OllamaProvider, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}

	return &OllamaProvider{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: newHTTPClient(config, 120*time.Second), // local models are slower
		config:     config,
	}, nil
}

// Name returns the provider name
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// IsAvailable checks that the server answers and the configured model is pulled
func (p *OllamaProvider) IsAvailable(ctx context.Context) bool {
	logger := logging.New("llm")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		logger.Warn("ollama availability check failed", "error", err)
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		logger.Warn("ollama availability check failed", "url", p.baseURL, "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		logger.Warn("ollama availability check failed", "url", p.baseURL, "status", resp.StatusCode)
		return false
	}
	if p.config.Model == "" {
		return true
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		logger.Warn("ollama availability check failed", "error", err)
		return false
	}
	for _, m := range tags.Models {
		if m.Name == p.config.Model || strings.TrimSuffix(m.Name, ":latest") == p.config.Model {
			return true
		}
	}
	logger.Warn("ollama model not pulled", "model", p.config.Model)
	return false
}

// Complete runs one non-streaming chat exchange
func (p *OllamaProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	if model == "" {
		return nil, fmt.Errorf("ollama model must be specified (e.g., llama3.1:8b, mistral)")
	}

	apiReq := ollamaChatRequest{
		Model:  model,
		Stream: false,
		Options: ollamaOptions{
			Temperature: 0.1,
			NumPredict:  p.config.maxTokens(req.MaxTokens),
		},
	}
	if req.System != "" {
		apiReq.Messages = append(apiReq.Messages, ollamaMessage{Role: "system", Content: req.System})
	}
	apiReq.Messages = append(apiReq.Messages, ollamaMessage{Role: "user", Content: req.Prompt})
	if req.JSON {
		apiReq.Format = "json"
	}

	resp, err := p.chat(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("ollama API error: %w", err)
	}

	content := strings.TrimSpace(resp.Message.Content)
	tokensUsed := resp.PromptEvalCount + resp.EvalCount
	if tokensUsed == 0 {
		// about 4 characters per token
		tokensUsed = (len(req.System) + len(req.Prompt) + len(content)) / 4
	}

	return &CompletionResponse{
		Content:    content,
		Model:      resp.Model,
		TokensUsed: tokensUsed,
	}, nil
}

func (p *OllamaProvider) chat(ctx context.Context, apiReq ollamaChatRequest) (*ollamaChatResponse, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var apiErr ollamaError
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return nil, &StatusError{Provider: "ollama", StatusCode: httpResp.StatusCode, Message: msg}
	}

	var resp ollamaChatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if !resp.Done {
		return nil, fmt.Errorf("ollama returned a partial response")
	}
	return &resp, nil
}
