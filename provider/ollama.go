package provider

import (
	"context"
	"fmt"

	"github.com/ollama/ollama/api"

	"convo/config"
	"convo/model"
	"convo/ollama"
)

// OllamaProvider wraps ollama.Client to implement model.Provider.
//
// It converts between model types and Ollama's API types: model.Message to
// api.Message, mcptypes.Tool to api.Tool and api.ChatResponse to
// model.Result.
type OllamaProvider struct {
	client *ollama.Client
}

// NewOllamaProvider creates a new Ollama provider instance.
//
// Parameters:
//   - baseURL: The Ollama server URL. Defaults to "http://localhost:11434".
//   - model: The default model. Defaults to "llama3.1:latest".
//
// Returns an error if the baseURL is invalid.
func NewOllamaProvider(baseURL, model string) (*OllamaProvider, error) {
	client, err := ollama.NewClient(baseURL, model)
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama client: %w", err)
	}

	return &OllamaProvider{
		client: client,
	}, nil
}

func (p *OllamaProvider) buildRequest(req model.Request) *api.ChatRequest {
	chatReq := &api.ChatRequest{
		Model:    req.Params.Model,
		Messages: ConvertToOllamaMessages(req.Messages),
		Options:  ollamaOptions(req.Params),
	}
	if chatReq.Model == "" {
		chatReq.Model = p.client.GetModel()
	}

	if len(req.Tools) > 0 {
		if ollama.ModelSupportsToolCalling(chatReq.Model) {
			chatReq.Tools = ConvertToolsToOllama(req.Tools)
		} else if config.DebugLog != nil {
			config.DebugLog.Printf("[Ollama] Model %s has no tool support, dropping %d tools", chatReq.Model, len(req.Tools))
		}
	}

	return chatReq
}

// Send implements model.Transport.
func (p *OllamaProvider) Send(ctx context.Context, req model.Request) (*model.Result, error) {
	resp, err := p.client.Chat(ctx, p.buildRequest(req))
	if err != nil {
		return nil, mapError(p.Name(), err)
	}
	return fromOllamaResponse(resp, false), nil
}

// Stream implements model.Transport.
func (p *OllamaProvider) Stream(ctx context.Context, req model.Request) (model.ResultStream, error) {
	return &ollamaStream{
		stream: p.client.ChatStream(ctx, p.buildRequest(req)),
	}, nil
}

type ollamaStream struct {
	stream *ollama.ChatStream
	cur    *model.Result
}

func (s *ollamaStream) Next() bool {
	if !s.stream.Next() {
		return false
	}
	resp := s.stream.Current()
	s.cur = fromOllamaResponse(&resp, true)
	return true
}

func (s *ollamaStream) Current() *model.Result { return s.cur }

func (s *ollamaStream) Err() error {
	return mapStreamError(string(ProviderTypeOllama), s.stream.Err())
}

func (s *ollamaStream) Close() error {
	return s.stream.Close()
}

// ListModels implements model.Provider (direct passthrough).
func (p *OllamaProvider) ListModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	return p.client.ListModels(ctx)
}

// Ping implements model.Provider (direct passthrough).
func (p *OllamaProvider) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *OllamaProvider) Name() string {
	return string(ProviderTypeOllama)
}

func (p *OllamaProvider) DefaultModel() string {
	return p.client.GetModel()
}
