package testutil

import (
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"convo/model"
)

// TestMessages returns a sample conversation for testing
func TestMessages() []model.Message {
	return []model.Message{
		{
			Role:      model.RoleUser,
			Content:   "Hello, how are you?",
			Timestamp: time.Now(),
		},
		{
			Role:      model.RoleAssistant,
			Content:   "I'm doing well, thank you!",
			Timestamp: time.Now(),
		},
		{
			Role:      model.RoleUser,
			Content:   "Can you help me with a task?",
			Timestamp: time.Now(),
		},
	}
}

// SystemMessage returns a system message for testing
func SystemMessage(content string) model.Message {
	return model.Message{
		Role:      model.RoleSystem,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// MessageResult returns a complete single-choice result.
func MessageResult(role model.Role, content string) *model.Result {
	return &model.Result{
		ID:      "chatcmpl-mock",
		Model:   "mock-model",
		Created: time.Now(),
		Choices: []model.Choice{{
			Message:      &model.Message{Role: role, Content: content},
			FinishReason: "stop",
		}},
		Usage: &model.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

// ToolCallResult returns a result whose message requests tool calls.
func ToolCallResult(calls ...model.ToolCall) *model.Result {
	return &model.Result{
		ID: "chatcmpl-tools",
		Choices: []model.Choice{{
			Message:      &model.Message{Role: model.RoleAssistant, ToolCalls: calls},
			FinishReason: "tool_calls",
		}},
	}
}

// EmptyResult returns a result with no choices.
func EmptyResult() *model.Result {
	return &model.Result{ID: "chatcmpl-empty"}
}

// DeltaResult returns a single streamed element. role may be empty.
func DeltaResult(role model.Role, content string) *model.Result {
	return &model.Result{
		ID: "chatcmpl-stream",
		Choices: []model.Choice{{
			Delta: &model.Message{Role: role, Content: content},
		}},
	}
}

// DeltaResults returns a role marker followed by one element per fragment,
// the shape chat-completion services stream.
func DeltaResults(role model.Role, fragments ...string) []*model.Result {
	out := []*model.Result{DeltaResult(role, "")}
	for _, f := range fragments {
		out = append(out, DeltaResult("", f))
	}
	return out
}

// OverflowError returns the error a service reports when the transcript
// does not fit the context window.
func OverflowError() error {
	return &model.TransportError{
		Provider:   "mock",
		StatusCode: 400,
		Code:       model.CodeContextLengthExceeded,
		Message:    "This model's maximum context length is 4097 tokens.",
	}
}

// TestMCPTools returns sample MCP tools for testing
func TestMCPTools() []mcptypes.Tool {
	return []mcptypes.Tool{
		{
			Name:        "get_weather",
			Description: "Get the current weather for a location",
			InputSchema: mcptypes.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"location": map[string]any{
						"type":        "string",
						"description": "The city and state, e.g. San Francisco, CA",
					},
				},
				Required: []string{"location"},
			},
		},
		{
			Name:        "calculate",
			Description: "Perform a mathematical calculation",
			InputSchema: mcptypes.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"expression": map[string]any{
						"type":        "string",
						"description": "The mathematical expression to evaluate",
					},
				},
				Required: []string{"expression"},
			},
		},
	}
}
