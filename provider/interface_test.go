package provider_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"convo/conversation"
	"convo/model"
	"convo/provider"
	"convo/provider/testutil"
)

// contractCase wires one provider to its fake service.
type contractCase struct {
	name      string
	newServer func(*testing.T, *scenario) *httptest.Server
	config    func(url string) provider.Config
}

var contractCases = []contractCase{
	{
		name:      "OpenAI",
		newServer: newOpenAIServer,
		config: func(url string) provider.Config {
			return provider.Config{Type: provider.ProviderTypeOpenAI, BaseURL: url + "/v1", APIKey: "test-key", Model: "gpt-4o"}
		},
	},
	{
		name:      "OpenRouter",
		newServer: newOpenAIServer,
		config: func(url string) provider.Config {
			return provider.Config{Type: provider.ProviderTypeOpenRouter, BaseURL: url + "/api/v1", APIKey: "test-key", Model: "vendor/model-a"}
		},
	},
	{
		name:      "Azure",
		newServer: newOpenAIServer,
		config: func(url string) provider.Config {
			return provider.Config{Type: provider.ProviderTypeAzure, BaseURL: url, APIKey: "test-key", Model: "gpt-4o", APIVersion: "2024-10-21"}
		},
	},
	{
		name:      "Ollama",
		newServer: newOllamaServer,
		config: func(url string) provider.Config {
			return provider.Config{Type: provider.ProviderTypeOllama, BaseURL: url, Model: "llama3.1:latest"}
		},
	},
	{
		name:      "Anthropic",
		newServer: newAnthropicServer,
		config: func(url string) provider.Config {
			return provider.Config{Type: provider.ProviderTypeAnthropic, BaseURL: url, APIKey: "test-key", Model: "claude-fake"}
		},
	},
}

func newContractProvider(t *testing.T, tc contractCase, sc *scenario) model.Provider {
	t.Helper()

	srv := tc.newServer(t, sc)
	t.Cleanup(srv.Close)

	p, err := provider.NewProvider(tc.config(srv.URL))
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	return p
}

// seededConversation holds a system prompt and three turns.
func seededConversation(p model.Provider) *conversation.Conversation {
	conv := conversation.New(p)
	conv.AppendSystemMessage("You are terse.")
	for _, m := range testutil.TestMessages() {
		conv.AppendMessage(m)
	}
	return conv
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestProviderContract defines the contract all providers must satisfy.
// Each provider runs against a fake of its own service, so the real SDK
// encodes requests and decodes replies.
func TestProviderContract(t *testing.T) {
	fragments := []string{"Hel", "lo", " there"}

	for _, tc := range contractCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Run("Send", func(t *testing.T) {
				sc := &scenario{fragments: fragments}
				p := newContractProvider(t, tc, sc)

				res, err := p.Send(testContext(t), model.Request{Messages: testutil.TestMessages()})
				if err != nil {
					t.Fatalf("Send() error = %v", err)
				}
				msg := res.FirstMessage()
				if msg == nil {
					t.Fatal("Send() returned no message")
				}
				if msg.Role != model.RoleAssistant || msg.Content != "Hello there" {
					t.Errorf("message = %+v", msg)
				}
				if res.Usage == nil || res.Usage.TotalTokens != 12 {
					t.Errorf("Usage = %+v, want 12 total tokens", res.Usage)
				}
			})

			t.Run("Exchange", func(t *testing.T) {
				sc := &scenario{fragments: fragments}
				conv := seededConversation(newContractProvider(t, tc, sc))

				reply, err := conv.ExchangeContent(testContext(t))
				if err != nil {
					t.Fatalf("ExchangeContent() error = %v", err)
				}
				if reply != "Hello there" {
					t.Errorf("reply = %q", reply)
				}
				if conv.Len() != 5 {
					t.Errorf("Len() = %d, want 5", conv.Len())
				}
			})

			t.Run("StreamConsolidates", func(t *testing.T) {
				sc := &scenario{fragments: fragments}
				conv := seededConversation(newContractProvider(t, tc, sc))

				var got []string
				for _, f := range conv.StreamResponse(testContext(t)).All() {
					got = append(got, f)
				}
				if !slices.Equal(got, fragments) {
					t.Errorf("fragments = %q, want %q", got, fragments)
				}

				msgs := conv.Messages()
				last := msgs[len(msgs)-1]
				if last.Role != model.RoleAssistant || last.Content != "Hello there" {
					t.Errorf("consolidated message = %+v", last)
				}
				if reqs := sc.Requests(); len(reqs) != 1 || !reqs[0].Stream {
					t.Errorf("requests = %+v, want one streaming request", reqs)
				}
			})

			t.Run("OverflowIsRecognized", func(t *testing.T) {
				sc := &scenario{fragments: fragments, maxTurns: 1}
				p := newContractProvider(t, tc, sc)

				_, err := p.Send(testContext(t), model.Request{Messages: testutil.TestMessages()})
				if !model.IsContextLengthExceeded(err) {
					t.Fatalf("Send() error = %v, want context length exceeded", err)
				}
				var te *model.TransportError
				if !errors.As(err, &te) || te.Provider != string(tc.config("").Type) {
					t.Errorf("error = %#v, want TransportError from %s", err, tc.config("").Type)
				}
			})

			t.Run("ExchangeTruncates", func(t *testing.T) {
				sc := &scenario{fragments: fragments, maxTurns: 2}
				conv := seededConversation(newContractProvider(t, tc, sc))

				if _, err := conv.Exchange(testContext(t)); err != nil {
					t.Fatalf("Exchange() error = %v", err)
				}
				if conv.Truncations() != 1 {
					t.Errorf("Truncations() = %d, want 1", conv.Truncations())
				}

				msgs := conv.Messages()
				if msgs[0].Role != model.RoleSystem || msgs[1].Content != "I'm doing well, thank you!" {
					t.Errorf("history after truncation = %+v", msgs)
				}
			})

			t.Run("StreamTruncates", func(t *testing.T) {
				sc := &scenario{fragments: fragments, maxTurns: 2}
				conv := seededConversation(newContractProvider(t, tc, sc))

				if err := conv.StreamResponseFunc(testContext(t), func(string) error { return nil }); err != nil {
					t.Fatalf("StreamResponseFunc() error = %v", err)
				}
				if conv.Truncations() != 1 {
					t.Errorf("Truncations() = %d, want 1", conv.Truncations())
				}
				if got := conv.Messages()[conv.Len()-1].Content; got != "Hello there" {
					t.Errorf("last message = %q", got)
				}
			})

			t.Run("ContextExhausted", func(t *testing.T) {
				sc := &scenario{fragments: fragments, maxTurns: -1}
				conv := seededConversation(newContractProvider(t, tc, sc))

				_, err := conv.Exchange(testContext(t))
				if !errors.Is(err, conversation.ErrContextExhausted) {
					t.Fatalf("Exchange() error = %v, want ErrContextExhausted", err)
				}
				if !model.IsContextLengthExceeded(err) {
					t.Error("exhaustion should keep the overflow as its cause")
				}
			})

			t.Run("MalformedStreamFallsBack", func(t *testing.T) {
				sc := &scenario{fragments: fragments, malformed: true}
				conv := seededConversation(newContractProvider(t, tc, sc))

				s := conv.StreamResponse(testContext(t))
				var got []string
				for s.Next() {
					got = append(got, s.Current())
				}
				if err := s.Err(); err != nil {
					t.Fatalf("Err() = %v", err)
				}
				if len(got) != 1 || got[0] != "Hello there" {
					t.Errorf("fragments = %q, want the whole reply once", got)
				}

				reqs := sc.Requests()
				if len(reqs) != 2 || !reqs[0].Stream || reqs[1].Stream {
					t.Errorf("requests = %+v, want streaming then non-streaming", reqs)
				}
				if conv.Len() != 5 {
					t.Errorf("Len() = %d, want 5", conv.Len())
				}
			})

			t.Run("ListModels", func(t *testing.T) {
				p := newContractProvider(t, tc, &scenario{})

				models, err := p.ListModels(testContext(t))
				if err != nil {
					t.Fatalf("ListModels() error = %v", err)
				}
				if len(models) == 0 {
					t.Fatal("ListModels() returned nothing")
				}
				for _, m := range models {
					if m.Name == "" || m.Provider != p.Name() {
						t.Errorf("model = %+v", m)
					}
				}
			})
		})
	}
}

// TestMockProviderContract keeps the test double honest.
func TestMockProviderContract(t *testing.T) {
	p := testutil.NewMockProvider("test-model")
	ctx := testContext(t)

	res, err := p.Send(ctx, model.Request{Messages: testutil.TestMessages()})
	if err != nil || res.FirstMessage() == nil {
		t.Fatalf("Send() = %+v, %v", res, err)
	}

	conv := conversation.New(p)
	conv.AppendUserInput("hi")
	var text string
	if err := conv.StreamResponseFunc(ctx, func(f string) error { text += f; return nil }); err != nil {
		t.Fatalf("StreamResponseFunc() error = %v", err)
	}
	if text != "Mock response" {
		t.Errorf("streamed = %q", text)
	}

	if err := p.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	if p.DefaultModel() != "test-model" {
		t.Errorf("DefaultModel() = %q", p.DefaultModel())
	}
	if len(p.Requests()) != 2 {
		t.Errorf("recorded %d requests, want 2", len(p.Requests()))
	}
}
