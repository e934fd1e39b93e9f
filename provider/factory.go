package provider

import (
	"fmt"

	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go/v3/option"

	"convo/model"
	"convo/ollama"
)

// NewProvider creates a provider based on configuration.
//
// Returns an error if the provider type is unknown or the provider-specific
// constructor fails (missing API key, invalid URL).
//
// Example:
//
//	p, err := provider.NewProvider(provider.Config{
//	    Type:    provider.ProviderTypeOllama,
//	    BaseURL: "http://localhost:11434",
//	    Model:   "llama3.1",
//	})
func NewProvider(cfg Config) (model.Provider, error) {
	switch cfg.Type {
	case ProviderTypeOllama:
		if cfg.HTTPClient != nil {
			client, err := ollama.NewClientWithHTTP(cfg.BaseURL, cfg.Model, cfg.HTTPClient)
			if err != nil {
				return nil, fmt.Errorf("failed to create Ollama client: %w", err)
			}
			return &OllamaProvider{client: client}, nil
		}
		return NewOllamaProvider(cfg.BaseURL, cfg.Model)

	case ProviderTypeOpenRouter:
		return NewOpenRouterProvider(cfg.BaseURL, cfg.APIKey, cfg.Model, openAIOptions(cfg)...)

	case ProviderTypeOpenAI:
		return NewOpenAIProvider(cfg.BaseURL, cfg.APIKey, cfg.Model, openAIOptions(cfg)...)

	case ProviderTypeAnthropic:
		var opts []anthropicoption.RequestOption
		if cfg.HTTPClient != nil {
			opts = append(opts, anthropicoption.WithHTTPClient(cfg.HTTPClient))
		}
		return NewAnthropicProvider(cfg.BaseURL, cfg.APIKey, cfg.Model, opts...)

	case ProviderTypeAzure:
		return NewAzureProvider(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.APIVersion, cfg.HTTPClient)

	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}

func openAIOptions(cfg Config) []option.RequestOption {
	if cfg.HTTPClient == nil {
		return nil
	}
	return []option.RequestOption{option.WithHTTPClient(cfg.HTTPClient)}
}

// MapProviderIDToType converts a config provider ID to a ProviderType.
//
// For unknown IDs, returns the ID cast as ProviderType (factory will error).
func MapProviderIDToType(id string) ProviderType {
	switch id {
	case "ollama":
		return ProviderTypeOllama
	case "openrouter":
		return ProviderTypeOpenRouter
	case "openai":
		return ProviderTypeOpenAI
	case "anthropic", "claude":
		return ProviderTypeAnthropic
	case "azure", "azure-openai":
		return ProviderTypeAzure
	default:
		return ProviderType(id)
	}
}
