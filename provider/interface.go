// Package provider implements model.Provider for the supported chat
// services.
//
// Each provider turns a model.Request snapshot into its SDK's request,
// maps the reply back to model.Result and reports failures as
// *model.TransportError, so that the conversation package can recognize a
// context-length overflow whatever the service.
//
// # Providers
//
//   - OllamaProvider: local Ollama server (github.com/ollama/ollama/api)
//   - OpenAIProvider: OpenAI (github.com/openai/openai-go/v3)
//   - OpenRouterProvider: OpenRouter, OpenAI-compatible
//   - AnthropicProvider: Claude (github.com/anthropics/anthropic-sdk-go)
//   - AzureProvider: Azure OpenAI deployments (github.com/sashabaranov/go-openai)
//
// # Usage
//
//	p, err := provider.NewProvider(provider.Config{
//	    Type:   provider.ProviderTypeOpenAI,
//	    APIKey: "sk-...",
//	    Model:  "gpt-4o-mini",
//	})
//	if err != nil {
//	    // handle error
//	}
//	conv := conversation.New(p)
package provider

import "net/http"

// Note: The Provider and Transport interfaces are defined in the model package
// (model/provider.go) to avoid import cycles. This package implements them.

// ProviderType identifies the provider implementation.
type ProviderType string

const (
	ProviderTypeOllama     ProviderType = "ollama"
	ProviderTypeOpenRouter ProviderType = "openrouter"
	ProviderTypeOpenAI     ProviderType = "openai"
	ProviderTypeAnthropic  ProviderType = "anthropic"
	ProviderTypeAzure      ProviderType = "azure"
)

// Config holds provider-specific configuration.
type Config struct {
	Type       ProviderType
	BaseURL    string
	Model      string
	APIKey     string       // Unused for Ollama
	APIVersion string       // Azure only
	HTTPClient *http.Client // Optional, mainly for tests
}
