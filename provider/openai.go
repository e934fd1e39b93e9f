package provider

import (
	"context"
	"fmt"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"

	"convo/config"
	"convo/model"
	"convo/ollama"
)

// OpenAIProvider implements model.Provider using OpenAI's official Go SDK.
// OpenRouterProvider reuses it against OpenRouter's compatible endpoint.
type OpenAIProvider struct {
	client  openai.Client
	name    string
	model   string
	baseURL string

	// Tool name rewriting for endpoints with stricter naming rules.
	encodeTools func([]mcptypes.Tool) []mcptypes.Tool
	decodeTool  func(string) string
}

// NewOpenAIProvider creates a new OpenAI provider instance.
//
// Parameters:
//   - baseURL: OpenAI API base URL (default: "https://api.openai.com/v1")
//   - apiKey: OpenAI API key (required)
//   - model: Default model (default: "gpt-4o-mini")
//
// Returns an error if the API key is missing.
func NewOpenAIProvider(baseURL, apiKey, model string, opts ...option.RequestOption) (*OpenAIProvider, error) {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	return newOpenAICompatible(string(ProviderTypeOpenAI), baseURL, apiKey, model, opts...), nil
}

func newOpenAICompatible(name, baseURL, apiKey, model string, opts ...option.RequestOption) *OpenAIProvider {
	opts = append([]option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	}, opts...)

	return &OpenAIProvider{
		client:  openai.NewClient(opts...),
		name:    name,
		model:   model,
		baseURL: baseURL,
	}
}

func (p *OpenAIProvider) buildParams(req model.Request) openai.ChatCompletionNewParams {
	if req.Params.Model == "" {
		req.Params.Model = p.model
	}

	params := openAIParams(req, req.Messages)

	if len(req.Tools) > 0 {
		tools := req.Tools
		if p.encodeTools != nil {
			tools = p.encodeTools(tools)
		}
		params.Tools = ConvertToolsToOpenAI(tools)
	}

	if req.Stream {
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}
	}

	return params
}

// Send implements model.Transport.
func (p *OpenAIProvider) Send(ctx context.Context, req model.Request) (*model.Result, error) {
	if config.DebugLog != nil {
		config.DebugLog.Printf("[%s] Send: model=%s messages=%d tools=%d", p.name, req.Params.Model, len(req.Messages), len(req.Tools))
	}

	completion, err := p.client.Chat.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, mapError(p.name, err)
	}

	res := fromOpenAICompletion(p.name, completion)
	if p.decodeTool != nil {
		for _, ch := range res.Choices {
			for i := range ch.Message.ToolCalls {
				ch.Message.ToolCalls[i].Name = p.decodeTool(ch.Message.ToolCalls[i].Name)
			}
		}
	}
	return res, nil
}

// Stream implements model.Transport.
func (p *OpenAIProvider) Stream(ctx context.Context, req model.Request) (model.ResultStream, error) {
	if config.DebugLog != nil {
		config.DebugLog.Printf("[%s] Stream: model=%s messages=%d", p.name, req.Params.Model, len(req.Messages))
	}

	return &openAIStream{
		name:   p.name,
		stream: p.client.Chat.Completions.NewStreaming(ctx, p.buildParams(req)),
	}, nil
}

// openAIStream adapts the SDK's SSE stream to model.ResultStream.
type openAIStream struct {
	name   string
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	cur    *model.Result
}

func (s *openAIStream) Next() bool {
	if !s.stream.Next() {
		return false
	}
	s.cur = fromOpenAIChunk(s.name, s.stream.Current())
	return true
}

func (s *openAIStream) Current() *model.Result { return s.cur }

func (s *openAIStream) Err() error {
	return mapStreamError(s.name, s.stream.Err())
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

// ListModels implements model.Provider.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	modelsPage, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s models: %w", p.name, mapError(p.name, err))
	}

	result := make([]ollama.ModelInfo, 0, len(modelsPage.Data))
	for _, m := range modelsPage.Data {
		result = append(result, ollama.ModelInfo{
			Name:         m.ID,
			InternalName: m.ID,
			Provider:     p.name,
		})
	}

	return result, nil
}

// Ping implements model.Provider by attempting to list models.
func (p *OpenAIProvider) Ping(ctx context.Context) error {
	if _, err := p.client.Models.List(ctx); err != nil {
		return fmt.Errorf("%s ping failed: %w", p.name, mapError(p.name, err))
	}
	return nil
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) DefaultModel() string {
	return p.model
}
