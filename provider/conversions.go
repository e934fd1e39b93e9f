package provider

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"

	"convo/model"
)

// ParseToolArguments parses JSON arguments string into a map.
// Used by OpenAI-compatible providers for tool call parsing.
func ParseToolArguments(argsJSON string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return make(map[string]any)
	}
	return args
}

// marshalToolArguments is the inverse of ParseToolArguments.
func marshalToolArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// newToolCallID names a tool call for services that do not assign ids,
// so that tool results can still be linked back.
func newToolCallID() string {
	return "call_" + uuid.NewString()
}

// ===== Ollama =====

// ConvertToOllamaMessages converts model.Message to Ollama api.Message.
//
// Timestamps are not sent; the Ollama API has no field for them.
func ConvertToOllamaMessages(messages []model.Message) []api.Message {
	result := make([]api.Message, len(messages))
	for i, msg := range messages {
		result[i] = api.Message{
			Role:      string(msg.Role),
			Content:   msg.Content,
			ToolCalls: ConvertFromProviderToolCalls(msg.ToolCalls),
		}
	}
	return result
}

// ConvertFromOllamaMessages converts Ollama api.Message to model.Message.
// The Timestamp field is left zero.
func ConvertFromOllamaMessages(messages []api.Message) []model.Message {
	result := make([]model.Message, len(messages))
	for i, msg := range messages {
		result[i] = model.Message{
			Role:      model.ParseRole(msg.Role),
			Content:   msg.Content,
			ToolCalls: ConvertToProviderToolCalls(msg.ToolCalls),
		}
	}
	return result
}

// ConvertToProviderToolCalls converts Ollama api.ToolCall to model.ToolCall.
// Ollama does not assign call ids, so fresh ones are generated.
//
// Returns nil if the input is nil or empty.
func ConvertToProviderToolCalls(ollamaCalls []api.ToolCall) []model.ToolCall {
	if len(ollamaCalls) == 0 {
		return nil
	}

	result := make([]model.ToolCall, len(ollamaCalls))
	for i, call := range ollamaCalls {
		result[i] = model.ToolCall{
			ID:        newToolCallID(),
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		}
	}
	return result
}

// ConvertFromProviderToolCalls converts model.ToolCall to Ollama api.ToolCall.
//
// Returns nil if the input is nil or empty.
func ConvertFromProviderToolCalls(providerCalls []model.ToolCall) []api.ToolCall {
	if len(providerCalls) == 0 {
		return nil
	}

	result := make([]api.ToolCall, len(providerCalls))
	for i, call := range providerCalls {
		result[i] = api.ToolCall{
			Function: api.ToolCallFunction{
				Index:     i,
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		}
	}
	return result
}

// ollamaOptions maps sampling parameters onto Ollama's runner options.
func ollamaOptions(p model.Params) map[string]any {
	opts := make(map[string]any)
	if p.Temperature != nil {
		opts["temperature"] = *p.Temperature
	}
	if p.TopP != nil {
		opts["top_p"] = *p.TopP
	}
	if p.MaxTokens != nil {
		opts["num_predict"] = *p.MaxTokens
	}
	if len(p.Stop) > 0 {
		opts["stop"] = p.Stop
	}
	if p.FrequencyPenalty != nil {
		opts["frequency_penalty"] = *p.FrequencyPenalty
	}
	if p.PresencePenalty != nil {
		opts["presence_penalty"] = *p.PresencePenalty
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

func fromOllamaResponse(resp *api.ChatResponse, stream bool) *model.Result {
	msg := &model.Message{
		Role:      model.ParseRole(resp.Message.Role),
		Content:   resp.Message.Content,
		ToolCalls: ConvertToProviderToolCalls(resp.Message.ToolCalls),
	}

	choice := model.Choice{FinishReason: resp.DoneReason}
	if stream {
		choice.Delta = msg
	} else {
		choice.Message = msg
	}

	res := &model.Result{
		Provider: string(ProviderTypeOllama),
		Model:    resp.Model,
		Created:  resp.CreatedAt,
		Choices:  []model.Choice{choice},
	}
	if resp.Done {
		res.Usage = &model.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		}
	}
	return res
}

// ===== OpenAI-compatible =====

// ConvertToOpenAIMessages converts model messages to OpenAI format.
func ConvertToOpenAIMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, len(messages))

	for i, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result[i] = openai.SystemMessage(msg.Content)

		case model.RoleAssistant:
			if len(msg.ToolCalls) == 0 && msg.Name == "" {
				result[i] = openai.AssistantMessage(msg.Content)
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			if msg.Name != "" {
				assistant.Name = openai.String(msg.Name)
			}
			for _, call := range msg.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: call.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      call.Name,
							Arguments: marshalToolArguments(call.Arguments),
						},
					},
				})
			}
			result[i] = openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}

		case model.RoleTool:
			result[i] = openai.ToolMessage(msg.Content, msg.ToolCallID)

		default:
			if msg.Name == "" {
				result[i] = openai.UserMessage(msg.Content)
				continue
			}
			user := openai.ChatCompletionUserMessageParam{
				Name: openai.String(msg.Name),
			}
			user.Content.OfString = openai.String(msg.Content)
			result[i] = openai.ChatCompletionMessageParamUnion{OfUser: &user}
		}
	}

	return result
}

// openAIParams builds the SDK request from a snapshot.
func openAIParams(req model.Request, messages []model.Message) openai.ChatCompletionNewParams {
	p := req.Params
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.Model),
		Messages: ConvertToOpenAIMessages(messages),
	}

	if p.Temperature != nil {
		params.Temperature = openai.Float(*p.Temperature)
	}
	if p.TopP != nil {
		params.TopP = openai.Float(*p.TopP)
	}
	if p.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*p.MaxTokens))
	}
	if p.FrequencyPenalty != nil {
		params.FrequencyPenalty = openai.Float(*p.FrequencyPenalty)
	}
	if p.PresencePenalty != nil {
		params.PresencePenalty = openai.Float(*p.PresencePenalty)
	}
	if p.N > 0 {
		params.N = openai.Int(int64(p.N))
	}
	if p.User != "" {
		params.User = openai.String(p.User)
	}

	switch len(p.Stop) {
	case 0:
	case 1:
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfString: openai.String(p.Stop[0])}
	default:
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: p.Stop}
	}

	if len(p.LogitBias) > 0 {
		params.LogitBias = make(map[string]int64, len(p.LogitBias))
		for tok, bias := range p.LogitBias {
			params.LogitBias[tok] = int64(bias)
		}
	}

	return params
}

func fromOpenAICompletion(providerName string, c *openai.ChatCompletion) *model.Result {
	res := &model.Result{
		ID:       c.ID,
		Provider: providerName,
		Model:    c.Model,
		Created:  time.Unix(c.Created, 0),
	}

	for _, ch := range c.Choices {
		msg := &model.Message{
			Role:    model.RoleAssistant,
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
			Index:        int(ch.Index),
			Message:      msg,
			FinishReason: ch.FinishReason,
		})
	}

	if c.Usage.TotalTokens > 0 {
		res.Usage = &model.Usage{
			PromptTokens:     int(c.Usage.PromptTokens),
			CompletionTokens: int(c.Usage.CompletionTokens),
			TotalTokens:      int(c.Usage.TotalTokens),
		}
	}

	return res
}

func fromOpenAIChunk(providerName string, c openai.ChatCompletionChunk) *model.Result {
	res := &model.Result{
		ID:       c.ID,
		Provider: providerName,
		Model:    c.Model,
		Created:  time.Unix(c.Created, 0),
	}

	for _, ch := range c.Choices {
		res.Choices = append(res.Choices, model.Choice{
			Index: int(ch.Index),
			Delta: &model.Message{
				Role:    model.ParseRole(string(ch.Delta.Role)),
				Content: ch.Delta.Content,
			},
			FinishReason: ch.FinishReason,
		})
	}

	if c.Usage.TotalTokens > 0 {
		res.Usage = &model.Usage{
			PromptTokens:     int(c.Usage.PromptTokens),
			CompletionTokens: int(c.Usage.CompletionTokens),
			TotalTokens:      int(c.Usage.TotalTokens),
		}
	}

	return res
}
