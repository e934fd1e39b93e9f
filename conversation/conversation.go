// Package conversation manages a stateful chat session on top of a
// chat-completion Transport.
//
// A Conversation owns the message history and the active request
// parameters. Each exchange snapshots both into a model.Request, sends it
// through the Transport and appends the reply to the history. When the
// remote service rejects a request because the transcript no longer fits
// the model's context window, the conversation drops the oldest non-system
// message and retries until the request fits or nothing is left to drop.
//
// # Usage
//
//	conv := conversation.New(p, conversation.WithModel("gpt-4o-mini"))
//	conv.AppendSystemMessage("You are terse.")
//	conv.AppendUserInput("Hello!")
//
//	reply, err := conv.Exchange(ctx)
//
//	// or stream it
//	s := conv.StreamResponse(ctx)
//	defer s.Close()
//	for s.Next() {
//	    fmt.Print(s.Current())
//	}
//	if err := s.Err(); err != nil { ... }
//
// # Concurrency
//
// A Conversation is not safe for concurrent use. At most one exchange may be
// in flight at a time; callers serialize access themselves.
package conversation

import (
	"slices"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"convo/model"
)

// Conversation is the session state: history, active params, declared
// tools and the most recent raw result.
type Conversation struct {
	transport  model.Transport
	params     model.Params
	history    []model.Message
	tools      []mcptypes.Tool
	lastResult *model.Result
	truncator  Truncator

	// truncations counts successful truncation passes over the lifetime
	// of the conversation.
	truncations int

	// AutoTruncate enables the built-in oldest-non-system truncation when
	// the service reports a context length overflow. When false and no
	// Truncator is registered, overflow is returned as ErrAutoTruncateDisabled.
	AutoTruncate bool
}

// Option configures a Conversation at construction time.
type Option func(*Conversation)

// WithModel sets the model used for requests.
func WithModel(name string) Option {
	return func(c *Conversation) {
		c.params.Model = name
	}
}

// WithParams sets the default request parameters. The model from params
// is kept unless it is empty.
func WithParams(p model.Params) Option {
	return func(c *Conversation) {
		name := c.params.Model
		c.params = p.Clone()
		if c.params.Model == "" {
			c.params.Model = name
		}
	}
}

// WithTruncator registers a custom overflow handler in place of the
// built-in heuristic.
func WithTruncator(t Truncator) Option {
	return func(c *Conversation) {
		c.truncator = t
	}
}

// WithHistory seeds the conversation with an existing transcript.
func WithHistory(messages []model.Message) Option {
	return func(c *Conversation) {
		c.history = slices.Clone(messages)
	}
}

// WithTruncations seeds the truncation counter of a resumed transcript.
func WithTruncations(n int) Option {
	return func(c *Conversation) {
		c.truncations = n
	}
}

// New creates a conversation that sends its requests through transport.
//
// When no model is configured and the transport knows a default model
// (as every provider does), that model is used.
func New(transport model.Transport, opts ...Option) *Conversation {
	c := &Conversation{
		transport:    transport,
		AutoTruncate: true,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.params.Model == "" {
		if d, ok := transport.(interface{ DefaultModel() string }); ok {
			c.params.Model = d.DefaultModel()
		}
	}
	c.params.N = 1

	return c
}

// AppendMessage appends a message to the history.
func (c *Conversation) AppendMessage(msg model.Message) {
	c.history = append(c.history, msg)
}

// AppendRoleMessage creates and appends a message with the given role.
func (c *Conversation) AppendRoleMessage(role model.Role, content string) {
	c.AppendMessage(model.NewMessage(role, content))
}

// AppendSystemMessage appends a behavior-shaping instruction.
// System messages are never removed by truncation.
func (c *Conversation) AppendSystemMessage(content string) {
	c.AppendRoleMessage(model.RoleSystem, content)
}

// AppendUserInput appends a user message.
func (c *Conversation) AppendUserInput(content string) {
	c.AppendRoleMessage(model.RoleUser, content)
}

// AppendUserInputWithName appends a user message tagged with the author's
// name, for chats with several end users.
func (c *Conversation) AppendUserInputWithName(name, content string) {
	msg := model.NewMessage(model.RoleUser, content)
	msg.Name = name
	c.AppendMessage(msg)
}

// AppendExampleChatbotOutput appends an assistant message written by the
// caller, typically as an example of the desired behavior.
func (c *Conversation) AppendExampleChatbotOutput(content string) {
	c.AppendRoleMessage(model.RoleAssistant, content)
}

// AppendToolMessage appends the result of a tool call. toolCallID links it
// to the assistant's ToolCall.
func (c *Conversation) AppendToolMessage(toolCallID, content string) {
	msg := model.NewMessage(model.RoleTool, content)
	msg.ToolCallID = toolCallID
	c.AppendMessage(msg)
}

// AppendTool declares a tool the model may call on subsequent requests.
func (c *Conversation) AppendTool(tool mcptypes.Tool) {
	c.tools = append(c.tools, tool)
}

// Tools returns a copy of the declared tools.
func (c *Conversation) Tools() []mcptypes.Tool {
	return slices.Clone(c.tools)
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []model.Message {
	return slices.Clone(c.history)
}

// Len returns the number of messages in the history.
func (c *Conversation) Len() int {
	return len(c.history)
}

// Params returns a copy of the active request parameters.
func (c *Conversation) Params() model.Params {
	return c.params.Clone()
}

// SetParams replaces the active request parameters. Requests already in
// flight are unaffected.
func (c *Conversation) SetParams(p model.Params) {
	c.params = p.Clone()
	c.params.N = 1
}

// Model returns the model used for requests.
func (c *Conversation) Model() string {
	return c.params.Model
}

// SetModel changes the model for subsequent requests.
func (c *Conversation) SetModel(name string) {
	c.params.Model = name
}

// SetTruncator registers a custom overflow handler. Passing nil restores
// the built-in behavior.
func (c *Conversation) SetTruncator(t Truncator) {
	c.truncator = t
}

// LastResult returns the most recent raw result, including interim
// results received while streaming. It is nil before the first exchange.
func (c *Conversation) LastResult() *model.Result {
	return c.lastResult
}

// Truncations returns how many truncation passes have succeeded so far.
func (c *Conversation) Truncations() int {
	return c.truncations
}

// Reset clears the history, keeping system messages, and zeroes the
// truncation counter.
func (c *Conversation) Reset() {
	c.history = slices.DeleteFunc(c.history, func(m model.Message) bool {
		return !m.IsSystem()
	})
	c.lastResult = nil
	c.truncations = 0
}

// RemoveLastUserInput removes the final message when it is user input and
// returns it.
func (c *Conversation) RemoveLastUserInput() (model.Message, bool) {
	n := len(c.history)
	if n == 0 || c.history[n-1].Role != model.RoleUser {
		return model.Message{}, false
	}
	last := c.history[n-1]
	c.history = slices.Delete(c.history, n-1, n)
	return last, true
}
