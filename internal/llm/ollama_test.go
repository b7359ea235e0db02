package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestOllamaProvider_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("Expected path /api/chat, got %s", r.URL.Path)
		}

		var req ollamaChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Format != "json" {
			t.Errorf("Expected json format, got %q", req.Format)
		}
		if req.Stream {
			t.Error("Expected non-streaming request")
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "x" {
			t.Errorf("Expected system and user messages, got %+v", req.Messages)
		}

		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:           "llama3.1:8b",
			Message:         ollamaMessage{Role: "assistant", Content: `{"overallValid": true}`},
			Done:            true,
			PromptEvalCount: 20,
			EvalCount:       10,
		})
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(Config{BaseURL: server.URL, Model: "llama3.1:8b", Timeout: 5})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	resp, err := provider.Complete(context.Background(), CompletionRequest{System: "skeptic", Prompt: "x", JSON: true})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Content != `{"overallValid": true}` {
		t.Errorf("Unexpected content: %s", resp.Content)
	}
	if resp.TokensUsed != 30 {
		t.Errorf("Expected 30 tokens, got %d", resp.TokensUsed)
	}
}

func TestOllamaProvider_Complete_NotDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model": "llama3.1:8b", "message": {"role": "assistant", "content": "{\"a\""}, "done": false}`))
	}))
	defer server.Close()

	provider, _ := NewOllamaProvider(Config{BaseURL: server.URL, Model: "llama3.1:8b", Timeout: 5})
	if _, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "x"}); err == nil {
		t.Fatal("Expected error for a partial response")
	}
}

func TestOllamaProvider_Complete_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": "model not found"}`))
	}))
	defer server.Close()

	provider, _ := NewOllamaProvider(Config{BaseURL: server.URL, Model: "missing", Timeout: 5})

	_, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "x"})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if IsTransient(err) {
		t.Error("Expected 404 not to be transient")
	}
}

func TestOllamaProvider_Complete_NoModel(t *testing.T) {
	provider, _ := NewOllamaProvider(Config{})
	if _, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "x"}); err == nil {
		t.Error("Expected error when no model is configured")
	}
}

func TestOllamaProvider_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("Expected path /api/tags, got %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"models": [{"name": "llama3.1:8b"}, {"name": "mistral:latest"}]}`))
	}))
	defer server.Close()

	tests := []struct {
		model string
		want  bool
	}{
		{"", true},
		{"llama3.1:8b", true},
		{"mistral", true},
		{"qwen2:7b", false},
	}
	for _, tt := range tests {
		provider, _ := NewOllamaProvider(Config{BaseURL: server.URL, Model: tt.model, Timeout: 5})
		if got := provider.IsAvailable(context.Background()); got != tt.want {
			t.Errorf("IsAvailable with model %q = %v, want %v", tt.model, got, tt.want)
		}
	}
}

func TestProxyFunc_NoProxyBypass(t *testing.T) {
	proxy := proxyFunc(Config{HTTPProxy: "http://proxy:3128", NoProxy: "localhost,.internal"})

	for _, host := range []string{"gpu.internal:11434", "internal", "localhost:11434"} {
		req := &http.Request{URL: &url.URL{Scheme: "http", Host: host}}
		got, err := proxy(req)
		if err != nil || got != nil {
			t.Errorf("Expected bypass for %s, got %v, %v", host, got, err)
		}
	}

	req := &http.Request{URL: &url.URL{Scheme: "http", Host: "ollama.example.com"}}
	got, err := proxy(req)
	if err != nil || got == nil || got.Host != "proxy:3128" {
		t.Errorf("Expected proxy for other hosts, got %v, %v", got, err)
	}
}

func TestProxyFunc_HTTPSProxy(t *testing.T) {
	proxy := proxyFunc(Config{HTTPProxy: "http://plain:3128", HTTPSProxy: "http://secure:3129"})

	req := &http.Request{URL: &url.URL{Scheme: "https", Host: "api.openai.com"}}
	got, err := proxy(req)
	if err != nil || got == nil || got.Host != "secure:3129" {
		t.Errorf("Expected https proxy, got %v, %v", got, err)
	}
}
