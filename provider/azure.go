package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"convo/config"
	"convo/model"
	"convo/ollama"
)

const defaultAzureAPIVersion = "2024-10-21"

// AzureProvider talks to an Azure OpenAI resource, where the model name in
// a request selects the deployment.
type AzureProvider struct {
	client     *goopenai.Client
	model      string
	baseURL    string
	apiVersion string
}

// NewAzureProvider creates an Azure OpenAI provider.
//
// Parameters:
//   - baseURL: resource endpoint, e.g. "https://my-resource.openai.azure.com" (required)
//   - apiKey: resource key (required)
//   - model: deployment name (required)
//   - apiVersion: API version (default: "2024-10-21")
func NewAzureProvider(baseURL, apiKey, model, apiVersion string, httpClient *http.Client) (*AzureProvider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("Azure OpenAI endpoint is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("Azure OpenAI API key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("Azure OpenAI deployment name is required")
	}
	if apiVersion == "" {
		apiVersion = defaultAzureAPIVersion
	}

	cfg := goopenai.DefaultAzureConfig(apiKey, baseURL)
	cfg.APIVersion = apiVersion
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}

	return &AzureProvider{
		client:     goopenai.NewClientWithConfig(cfg),
		model:      model,
		baseURL:    baseURL,
		apiVersion: apiVersion,
	}, nil
}

func (p *AzureProvider) buildRequest(req model.Request) goopenai.ChatCompletionRequest {
	rp := req.Params
	out := goopenai.ChatCompletionRequest{
		Model:    rp.Model,
		Messages: convertToAzureMessages(req.Messages),
		Stop:     rp.Stop,
		N:        rp.N,
		User:     rp.User,
		Stream:   req.Stream,
		Tools:    ConvertToolsToAzure(req.Tools),
	}
	if out.Model == "" {
		out.Model = p.model
	}
	if rp.Temperature != nil {
		out.Temperature = float32(*rp.Temperature)
	}
	if rp.TopP != nil {
		out.TopP = float32(*rp.TopP)
	}
	if rp.MaxTokens != nil {
		out.MaxTokens = *rp.MaxTokens
	}
	if rp.FrequencyPenalty != nil {
		out.FrequencyPenalty = float32(*rp.FrequencyPenalty)
	}
	if rp.PresencePenalty != nil {
		out.PresencePenalty = float32(*rp.PresencePenalty)
	}
	if len(rp.LogitBias) > 0 {
		out.LogitBias = make(map[string]int, len(rp.LogitBias))
		for tok, bias := range rp.LogitBias {
			out.LogitBias[tok] = int(bias)
		}
	}
	if req.Stream {
		out.StreamOptions = &goopenai.StreamOptions{IncludeUsage: true}
	}
	return out
}

// Send implements model.Transport.
func (p *AzureProvider) Send(ctx context.Context, req model.Request) (*model.Result, error) {
	if config.DebugLog != nil {
		config.DebugLog.Printf("[Azure] Send: deployment=%s messages=%d", req.Params.Model, len(req.Messages))
	}

	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req))
	if err != nil {
		return nil, mapError(p.Name(), err)
	}

	res := &model.Result{
		ID:       resp.ID,
		Provider: p.Name(),
		Model:    resp.Model,
		Created:  time.Unix(resp.Created, 0),
	}
	for _, ch := range resp.Choices {
		msg := &model.Message{
			Role:    model.ParseRole(ch.Message.Role),
			Content: ch.Message.Content,
		}
		for _, tc := range ch.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: ParseToolArguments(tc.Function.Arguments),
			})
		}
		res.Choices = append(res.Choices, model.Choice{
			Index:        ch.Index,
			Message:      msg,
			FinishReason: string(ch.FinishReason),
		})
	}
	if resp.Usage.TotalTokens > 0 {
		res.Usage = &model.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	return res, nil
}

// Stream implements model.Transport. go-openai opens the connection up
// front, so request failures surface here rather than on Next.
func (p *AzureProvider) Stream(ctx context.Context, req model.Request) (model.ResultStream, error) {
	req.Stream = true
	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(req))
	if err != nil {
		return nil, mapStreamError(p.Name(), err)
	}
	return &azureStream{stream: stream}, nil
}

type azureStream struct {
	stream *goopenai.ChatCompletionStream
	cur    *model.Result
	err    error
}

func (s *azureStream) Next() bool {
	if s.err != nil {
		return false
	}

	resp, err := s.stream.Recv()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.err = mapStreamError(string(ProviderTypeAzure), err)
		}
		return false
	}

	res := &model.Result{
		ID:       resp.ID,
		Provider: string(ProviderTypeAzure),
		Model:    resp.Model,
		Created:  time.Unix(resp.Created, 0),
	}
	for _, ch := range resp.Choices {
		res.Choices = append(res.Choices, model.Choice{
			Index: ch.Index,
			Delta: &model.Message{
				Role:    model.ParseRole(ch.Delta.Role),
				Content: ch.Delta.Content,
			},
			FinishReason: string(ch.FinishReason),
		})
	}
	if resp.Usage != nil {
		res.Usage = &model.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	s.cur = res
	return true
}

func (s *azureStream) Current() *model.Result { return s.cur }

func (s *azureStream) Err() error { return s.err }

func (s *azureStream) Close() error {
	return s.stream.Close()
}

// ListModels implements model.Provider.
func (p *AzureProvider) ListModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list Azure models: %w", mapError(p.Name(), err))
	}

	result := make([]ollama.ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		result = append(result, ollama.ModelInfo{
			Name:         m.ID,
			InternalName: m.ID,
			Provider:     p.Name(),
		})
	}
	return result, nil
}

// Ping implements model.Provider by attempting to list models.
func (p *AzureProvider) Ping(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return fmt.Errorf("Azure ping failed: %w", mapError(p.Name(), err))
	}
	return nil
}

func (p *AzureProvider) Name() string {
	return string(ProviderTypeAzure)
}

func (p *AzureProvider) DefaultModel() string {
	return p.model
}

func convertToAzureMessages(messages []model.Message) []goopenai.ChatCompletionMessage {
	result := make([]goopenai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		out := goopenai.ChatCompletionMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}
		for _, call := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, goopenai.ToolCall{
				ID:   call.ID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      call.Name,
					Arguments: marshalToolArguments(call.Arguments),
				},
			})
		}
		result[i] = out
	}
	return result
}
