package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"convo/config"
	"convo/model"
	"convo/ollama"
)

// defaultAnthropicMaxTokens is sent when the conversation sets no limit;
// the Messages API requires one.
const defaultAnthropicMaxTokens = 4096

// AnthropicProvider implements model.Provider using Anthropic's official API.
type AnthropicProvider struct {
	client  *anthropic.Client
	model   anthropic.Model
	baseURL string
}

// NewAnthropicProvider creates a new Anthropic provider instance.
//
// Parameters:
//   - baseURL: Anthropic API base URL (default: "https://api.anthropic.com")
//   - apiKey: Anthropic API key (required)
//   - model: Default model (default: "claude-sonnet-4-5-20250929")
//
// Returns an error if the API key is missing.
func NewAnthropicProvider(baseURL, apiKey, model string, opts ...option.RequestOption) (*AnthropicProvider, error) {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}

	anthropicModel := anthropic.ModelClaudeSonnet4_5_20250929
	if model != "" {
		anthropicModel = anthropic.Model(model)
	}

	opts = append([]option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	}, opts...)
	client := anthropic.NewClient(opts...)

	return &AnthropicProvider{
		client:  &client,
		model:   anthropicModel,
		baseURL: baseURL,
	}, nil
}

func (p *AnthropicProvider) buildParams(req model.Request) anthropic.MessageNewParams {
	messages, system := convertToAnthropicMessages(req.Messages)

	params := anthropic.MessageNewParams{
		Model:     p.model,
		Messages:  messages,
		MaxTokens: defaultAnthropicMaxTokens,
	}
	if req.Params.Model != "" {
		params.Model = anthropic.Model(req.Params.Model)
	}
	if len(system) > 0 {
		params.System = system
	}

	rp := req.Params
	if rp.MaxTokens != nil {
		params.MaxTokens = int64(*rp.MaxTokens)
	}
	if rp.Temperature != nil {
		params.Temperature = anthropic.Float(*rp.Temperature)
	}
	if rp.TopP != nil {
		params.TopP = anthropic.Float(*rp.TopP)
	}
	if len(rp.Stop) > 0 {
		params.StopSequences = rp.Stop
	}
	if rp.User != "" {
		params.Metadata = anthropic.MetadataParam{UserID: anthropic.String(rp.User)}
	}

	if len(req.Tools) > 0 {
		params.Tools = ConvertToolsToAnthropic(req.Tools)
	}

	return params
}

// Send implements model.Transport.
func (p *AnthropicProvider) Send(ctx context.Context, req model.Request) (*model.Result, error) {
	if config.DebugLog != nil {
		config.DebugLog.Printf("[Anthropic] Send: model=%s messages=%d", req.Params.Model, len(req.Messages))
	}

	msg, err := p.client.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, mapError(p.Name(), err)
	}

	reply := &model.Message{Role: model.RoleAssistant}
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			reply.Content += v.Text
		case anthropic.ToolUseBlock:
			var args map[string]any
			if err := json.Unmarshal(v.Input, &args); err != nil {
				continue
			}
			reply.ToolCalls = append(reply.ToolCalls, model.ToolCall{
				ID:        v.ID,
				Name:      v.Name,
				Arguments: args,
			})
		}
	}

	return &model.Result{
		ID:       msg.ID,
		Provider: p.Name(),
		Model:    string(msg.Model),
		Created:  time.Now(),
		Choices: []model.Choice{{
			Message:      reply,
			FinishReason: string(msg.StopReason),
		}},
		Usage: &model.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}

// Stream implements model.Transport.
func (p *AnthropicProvider) Stream(ctx context.Context, req model.Request) (model.ResultStream, error) {
	return &anthropicStream{
		stream: p.client.Messages.NewStreaming(ctx, p.buildParams(req)),
	}, nil
}

// anthropicStream maps Messages API events onto streamed results. The
// message_start event carries the role; text deltas carry content. Block
// boundaries and message_stop carry nothing and are skipped, so the last
// result seen holds the usage from message_delta.
type anthropicStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	cur    *model.Result
	id     string
	model  string
	input  int64
}

func (s *anthropicStream) Next() bool {
	for s.stream.Next() {
		if res := s.convert(s.stream.Current()); res != nil {
			s.cur = res
			return true
		}
	}
	return false
}

func (s *anthropicStream) convert(event anthropic.MessageStreamEventUnion) *model.Result {
	res := &model.Result{ID: s.id, Provider: string(ProviderTypeAnthropic), Model: s.model}

	switch ev := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		s.id = ev.Message.ID
		s.model = string(ev.Message.Model)
		s.input = ev.Message.Usage.InputTokens
		res.ID, res.Model = s.id, s.model
		res.Created = time.Now()
		res.Choices = []model.Choice{{Delta: &model.Message{Role: model.ParseRole(string(ev.Message.Role))}}}

	case anthropic.ContentBlockDeltaEvent:
		text, ok := ev.Delta.AsAny().(anthropic.TextDelta)
		if !ok {
			return nil
		}
		res.Choices = []model.Choice{{Delta: &model.Message{Content: text.Text}}}

	case anthropic.MessageDeltaEvent:
		res.Choices = []model.Choice{{
			Delta:        &model.Message{},
			FinishReason: string(ev.Delta.StopReason),
		}}
		res.Usage = &model.Usage{
			PromptTokens:     int(s.input),
			CompletionTokens: int(ev.Usage.OutputTokens),
			TotalTokens:      int(s.input + ev.Usage.OutputTokens),
		}

	default:
		return nil
	}

	return res
}

func (s *anthropicStream) Current() *model.Result { return s.cur }

func (s *anthropicStream) Err() error {
	return mapStreamError(string(ProviderTypeAnthropic), s.stream.Err())
}

func (s *anthropicStream) Close() error {
	return s.stream.Close()
}

// ListModels implements model.Provider.
//
// Returns a curated list of known Claude models.
func (p *AnthropicProvider) ListModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	models := []anthropic.Model{
		anthropic.ModelClaudeSonnet4_5_20250929,
		anthropic.ModelClaude3_5Haiku20241022,
		anthropic.ModelClaude_3_Opus_20240229,
		anthropic.ModelClaude_3_Haiku_20240307,
	}

	result := make([]ollama.ModelInfo, 0, len(models))
	for _, m := range models {
		result = append(result, ollama.ModelInfo{
			Name:         string(m),
			InternalName: string(m),
			Provider:     "anthropic",
		})
	}

	return result, nil
}

// Ping implements model.Provider with a minimal one-token request, since
// Anthropic has no health endpoint.
func (p *AnthropicProvider) Ping(ctx context.Context) error {
	_, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return fmt.Errorf("Anthropic ping failed: %w", mapError(p.Name(), err))
	}
	return nil
}

func (p *AnthropicProvider) Name() string {
	return string(ProviderTypeAnthropic)
}

func (p *AnthropicProvider) DefaultModel() string {
	return string(p.model)
}

// convertToAnthropicMessages splits system messages out into the separate
// system parameter and maps tool traffic onto tool_use/tool_result blocks.
func convertToAnthropicMessages(messages []model.Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	var systemBlocks []anthropic.TextBlockParam
	anthropicMsgs := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			systemBlocks = append(systemBlocks, anthropic.TextBlockParam{
				Text: msg.Content,
			})

		case model.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, call.Arguments, call.Name))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(""))
			}
			anthropicMsgs = append(anthropicMsgs, anthropic.NewAssistantMessage(blocks...))

		case model.RoleTool:
			anthropicMsgs = append(anthropicMsgs,
				anthropic.NewUserMessage(anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false)),
			)

		default:
			anthropicMsgs = append(anthropicMsgs,
				anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)),
			)
		}
	}

	return anthropicMsgs, systemBlocks
}
