package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3/option"

	"convo/ollama"
)

// OpenRouterProvider talks to OpenRouter, which is OpenAI-compatible apart
// from tool naming rules and vendor-prefixed model ids.
type OpenRouterProvider struct {
	*OpenAIProvider
}

// NewOpenRouterProvider creates a new OpenRouter provider instance.
//
// Parameters:
//   - baseURL: OpenRouter API base URL ("https://openrouter.ai/api/v1")
//   - apiKey: OpenRouter API key
//   - model: Default model, with its vendor prefix
func NewOpenRouterProvider(baseURL, apiKey, model string, opts ...option.RequestOption) (*OpenRouterProvider, error) {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenRouter API key is required")
	}
	if model == "" {
		model = "meta-llama/llama-3.2-90b-instruct"
	}

	p := newOpenAICompatible(string(ProviderTypeOpenRouter), baseURL, apiKey, model, opts...)
	p.encodeTools = encodeToolNames
	p.decodeTool = decodeToolName

	return &OpenRouterProvider{OpenAIProvider: p}, nil
}

// ListModels implements model.Provider with vendor prefixes stripped from
// display names.
func (p *OpenRouterProvider) ListModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	models, err := p.OpenAIProvider.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	for i := range models {
		models[i].Name = stripProviderPrefix(models[i].InternalName)
	}
	return models, nil
}

// stripProviderPrefix removes vendor prefixes from OpenRouter model names.
// "meta-llama/llama-3.2-90b-instruct" → "llama-3.2-90b-instruct"
func stripProviderPrefix(modelName string) string {
	if idx := strings.Index(modelName, "/"); idx != -1 {
		return modelName[idx+1:]
	}
	return modelName
}
