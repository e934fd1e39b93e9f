package model

import (
	"maps"
	"slices"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// Params holds the sampling and request settings applied to every exchange.
//
// Optional numeric settings are pointers; nil means "provider default".
type Params struct {
	Model            string
	Temperature      *float64
	TopP             *float64
	MaxTokens        *int
	Stop             []string
	FrequencyPenalty *float64
	PresencePenalty  *float64
	LogitBias        map[string]float64
	User             string // End-user identifier forwarded for abuse monitoring
	N                int    // Choices per request
}

// SetStop replaces the stop sequences with a single sequence.
// An empty string clears them.
func (p *Params) SetStop(stop string) {
	if stop == "" {
		p.Stop = nil
		return
	}
	p.Stop = []string{stop}
}

// Clone returns a deep copy so the result shares no mutable state with p.
func (p Params) Clone() Params {
	out := p
	out.Temperature = clonePtr(p.Temperature)
	out.TopP = clonePtr(p.TopP)
	out.MaxTokens = clonePtr(p.MaxTokens)
	out.FrequencyPenalty = clonePtr(p.FrequencyPenalty)
	out.PresencePenalty = clonePtr(p.PresencePenalty)
	out.Stop = slices.Clone(p.Stop)
	if p.LogitBias != nil {
		out.LogitBias = maps.Clone(p.LogitBias)
	}
	return out
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Float returns a pointer to v, for filling optional Params fields.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for filling optional Params fields.
func Int(v int) *int { return &v }

// Request is a point-in-time snapshot sent to a Transport.
//
// It owns its own copy of the history and params, so later changes to the
// conversation never reach a request that is already in flight.
type Request struct {
	Params   Params
	Messages []Message
	Tools    []mcptypes.Tool // nil when no tools are declared
	Stream   bool
}
