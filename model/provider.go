package model

import (
	"context"

	"convo/ollama"
)

// Transport performs the network call for a conversation.
//
// This interface is defined in the model package (not provider package) to
// avoid import cycles: provider implementations import model, and the
// conversation engine depends only on this contract.
type Transport interface {
	// Send submits a complete request and returns one aggregated result.
	Send(ctx context.Context, req Request) (*Result, error)

	// Stream submits a complete request and returns its partial results.
	// Failures may surface here or on the first call to ResultStream.Next.
	Stream(ctx context.Context, req Request) (ResultStream, error)
}

// ResultStream is a forward-only sequence of streamed results.
//
// Usage mirrors the SDK streams:
//
//	for s.Next() {
//	    r := s.Current()
//	}
//	if err := s.Err(); err != nil { ... }
//
// Close releases the underlying connection and is safe to call more than once.
type ResultStream interface {
	Next() bool
	Current() *Result
	Err() error
	Close() error
}

// Provider is a Transport bound to a concrete LLM service.
type Provider interface {
	Transport

	// Name returns the provider ID ("openai", "anthropic", ...).
	Name() string

	// DefaultModel returns the model used when the conversation names none.
	DefaultModel() string

	// ListModels returns available models for this provider.
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
