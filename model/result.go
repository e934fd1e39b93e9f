package model

import "time"

// Result is a provider-agnostic chat completion result.
//
// Single-shot results carry Choice.Message; streamed elements carry
// Choice.Delta with whatever fragment arrived in that element.
type Result struct {
	ID       string
	Provider string
	Model    string
	Created  time.Time
	Choices  []Choice
	Usage    *Usage // nil when the provider did not report usage
}

// Choice is one candidate completion within a Result.
type Choice struct {
	Index        int
	Message      *Message
	Delta        *Message
	FinishReason string
}

// Usage reports token accounting for a request.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// FirstMessage returns the first choice's message, or nil.
func (r *Result) FirstMessage() *Message {
	if r == nil || len(r.Choices) == 0 {
		return nil
	}
	return r.Choices[0].Message
}

// FirstDelta returns the first choice's delta, or nil.
func (r *Result) FirstDelta() *Message {
	if r == nil || len(r.Choices) == 0 {
		return nil
	}
	return r.Choices[0].Delta
}

// FinishReason returns the first choice's finish reason, if any.
func (r *Result) FinishReason() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].FinishReason
}
