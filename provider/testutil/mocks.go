package testutil

import (
	"context"
	"sync"

	"convo/model"
	"convo/ollama"
)

// MockProvider implements model.Provider for testing.
//
// Every call is recorded in Requests before the configurable func runs, so
// tests can inspect exactly what the conversation sent.
type MockProvider struct {
	// Configurable responses
	SendFunc       func(ctx context.Context, req model.Request) (*model.Result, error)
	StreamFunc     func(ctx context.Context, req model.Request) (model.ResultStream, error)
	ListModelsFunc func(ctx context.Context) ([]ollama.ModelInfo, error)
	PingFunc       func(ctx context.Context) error

	mu       sync.Mutex
	requests []model.Request

	// State
	currentModel string
}

// NewMockProvider creates a mock provider with default implementations
func NewMockProvider(modelName string) *MockProvider {
	mock := &MockProvider{
		currentModel: modelName,
	}
	mock.SendFunc = mock.defaultSend
	mock.StreamFunc = mock.defaultStream
	mock.ListModelsFunc = mock.defaultListModels
	mock.PingFunc = mock.defaultPing
	return mock
}

func (m *MockProvider) defaultSend(ctx context.Context, req model.Request) (*model.Result, error) {
	return MessageResult(model.RoleAssistant, "Mock response"), nil
}

func (m *MockProvider) defaultStream(ctx context.Context, req model.Request) (model.ResultStream, error) {
	return NewScriptedStream(DeltaResults(model.RoleAssistant, "Mock ", "response")...), nil
}

func (m *MockProvider) defaultListModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	return []ollama.ModelInfo{
		{Name: "mock-model-1", Size: 1000, Provider: "mock", InternalName: "mock-model-1"},
		{Name: "mock-model-2", Size: 2000, Provider: "mock", InternalName: "mock-model-2"},
	}, nil
}

func (m *MockProvider) defaultPing(ctx context.Context) error {
	return nil
}

func (m *MockProvider) record(req model.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
}

// Requests returns every request received so far, in order.
func (m *MockProvider) Requests() []model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockProvider) Send(ctx context.Context, req model.Request) (*model.Result, error) {
	m.record(req)
	return m.SendFunc(ctx, req)
}

func (m *MockProvider) Stream(ctx context.Context, req model.Request) (model.ResultStream, error) {
	m.record(req)
	return m.StreamFunc(ctx, req)
}

func (m *MockProvider) ListModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	return m.ListModelsFunc(ctx)
}

func (m *MockProvider) Ping(ctx context.Context) error {
	return m.PingFunc(ctx)
}

func (m *MockProvider) Name() string {
	return "mock"
}

func (m *MockProvider) DefaultModel() string {
	return m.currentModel
}

// ScriptedStream replays a fixed list of results, then ends with Failure.
type ScriptedStream struct {
	results []*model.Result
	pos     int
	cur     *model.Result

	// Failure is reported by Err once the results are used up.
	Failure error

	// FailAfter, when positive, ends the stream with Failure after that many
	// results even if more remain.
	FailAfter int

	Closed bool
}

// NewScriptedStream creates a stream that yields results in order.
func NewScriptedStream(results ...*model.Result) *ScriptedStream {
	return &ScriptedStream{results: results}
}

// FailingStream returns a stream whose first Next fails with err.
func FailingStream(err error) *ScriptedStream {
	return &ScriptedStream{Failure: err}
}

func (s *ScriptedStream) Next() bool {
	if s.Closed {
		return false
	}
	if s.FailAfter > 0 && s.pos >= s.FailAfter {
		return false
	}
	if s.pos >= len(s.results) {
		return false
	}
	s.cur = s.results[s.pos]
	s.pos++
	return true
}

func (s *ScriptedStream) Current() *model.Result {
	return s.cur
}

func (s *ScriptedStream) Err() error {
	if s.Closed {
		return nil
	}
	if s.FailAfter > 0 && s.pos >= s.FailAfter {
		return s.Failure
	}
	if s.pos >= len(s.results) {
		return s.Failure
	}
	return nil
}

func (s *ScriptedStream) Close() error {
	s.Closed = true
	return nil
}

// Consumed returns how many results have been pulled.
func (s *ScriptedStream) Consumed() int {
	return s.pos
}
