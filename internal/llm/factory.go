package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/evidencegate/internal/model"
)

type providerFactory func(Config) (Provider, error)

var providers = map[string]providerFactory{
	"openai":    func(c Config) (Provider, error) { return NewOpenAIProvider(c) },
	"anthropic": func(c Config) (Provider, error) { return NewAnthropicProvider(c) },
	"ollama":    func(c Config) (Provider, error) { return NewOllamaProvider(c) },
}

var providerAliases = map[string]string{
	"claude": "anthropic",
	"gpt":    "openai",
	"local":  "ollama",
}

// SupportedProviders lists the canonical provider names
func SupportedProviders() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewProvider creates the configured provider.
// An empty provider, or "none", disables inference and returns nil.
func NewProvider(config Config) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(config.Provider))
	if canonical, ok := providerAliases[name]; ok {
		name = canonical
	}
	if name == "" || name == "none" {
		return nil, nil
	}

	factory, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: %s)", config.Provider, strings.Join(SupportedProviders(), ", "))
	}
	return factory(config)
}

// ConfigFromModel converts model.LLMConfig to llm.Config
func ConfigFromModel(modelConfig model.LLMConfig) Config {
	return Config{
		Provider:          modelConfig.Provider,
		Model:             modelConfig.Model,
		APIKey:            modelConfig.APIKey,
		BaseURL:           modelConfig.BaseURL,
		Timeout:           modelConfig.Timeout,
		MaxTokens:         modelConfig.MaxTokens,
		MaxRetries:        modelConfig.MaxRetries,
		RequestsPerSecond: modelConfig.RequestsPerSecond,
		Burst:             modelConfig.Burst,
		HTTPProxy:         modelConfig.HTTPProxy,
		HTTPSProxy:        modelConfig.HTTPSProxy,
		NoProxy:           modelConfig.NoProxy,
	}
}
