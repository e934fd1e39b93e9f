package conversation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"convo/model"
	"convo/provider/testutil"
)

// overflowThen returns a SendFunc failing with overflow n times before
// answering with reply.
func overflowThen(n int, reply string) func(context.Context, model.Request) (*model.Result, error) {
	calls := 0
	return func(ctx context.Context, req model.Request) (*model.Result, error) {
		calls++
		if calls <= n {
			return nil, testutil.OverflowError()
		}
		return testutil.MessageResult(model.RoleAssistant, reply), nil
	}
}

func contents(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestExchangeAppendsReply(t *testing.T) {
	mock := testutil.NewMockProvider("mock-model")
	mock.SendFunc = func(ctx context.Context, req model.Request) (*model.Result, error) {
		return testutil.MessageResult(model.RoleAssistant, "hello"), nil
	}

	conv := New(mock)
	conv.AppendSystemMessage("be terse")
	conv.AppendUserInput("hi")

	reply, err := conv.Exchange(context.Background())
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if reply == nil || reply.Content != "hello" || reply.Role != model.RoleAssistant {
		t.Fatalf("Exchange() = %+v, want assistant hello", reply)
	}

	msgs := conv.Messages()
	if len(msgs) != 3 {
		t.Fatalf("history length = %d, want 3", len(msgs))
	}
	last := msgs[2]
	if last.Role != model.RoleAssistant || last.Content != "hello" {
		t.Errorf("last message = %+v", last)
	}
	if last.Timestamp.IsZero() {
		t.Error("appended reply should carry a timestamp")
	}
	if conv.LastResult() == nil || conv.LastResult().ID != "chatcmpl-mock" {
		t.Errorf("LastResult() = %+v", conv.LastResult())
	}
}

func TestExchangeTruncatesOnOverflow(t *testing.T) {
	mock := testutil.NewMockProvider("mock-model")
	mock.SendFunc = overflowThen(1, "ok")

	conv := New(mock)
	conv.AppendSystemMessage("sys")
	for i := 1; i <= 5; i++ {
		conv.AppendUserInput(fmt.Sprintf("m%d", i))
	}
	before := conv.Len()

	if _, err := conv.Exchange(context.Background()); err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	if got, want := conv.Len(), before-1+1; got != want {
		t.Errorf("history length = %d, want %d", got, want)
	}

	reqs := mock.Requests()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	if len(reqs[1].Messages) != len(reqs[0].Messages)-1 {
		t.Errorf("retry sent %d messages, want %d", len(reqs[1].Messages), len(reqs[0].Messages)-1)
	}

	got := contents(conv.Messages())
	want := []string{"sys", "m2", "m3", "m4", "m5", "ok"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("history = %v, want %v", got, want)
	}
	if conv.Truncations() != 1 {
		t.Errorf("Truncations() = %d, want 1", conv.Truncations())
	}
}

func TestTruncationRemovesOldestNonSystemEachRetry(t *testing.T) {
	tests := []struct {
		name      string
		history   []model.Message
		overflows int
		want      []string
	}{
		{
			name: "system first",
			history: []model.Message{
				model.NewMessage(model.RoleSystem, "s"),
				model.NewMessage(model.RoleUser, "u1"),
				model.NewMessage(model.RoleAssistant, "a1"),
				model.NewMessage(model.RoleUser, "u2"),
			},
			overflows: 2,
			want:      []string{"s", "u2", "reply"},
		},
		{
			name: "system in the middle survives",
			history: []model.Message{
				model.NewMessage(model.RoleUser, "u1"),
				model.NewMessage(model.RoleSystem, "s"),
				model.NewMessage(model.RoleUser, "u2"),
				model.NewMessage(model.RoleTool, "t1"),
			},
			overflows: 2,
			want:      []string{"s", "t1", "reply"},
		},
		{
			name: "removes down to systems only",
			history: []model.Message{
				model.NewMessage(model.RoleSystem, "s1"),
				model.NewMessage(model.RoleUser, "u1"),
				model.NewMessage(model.RoleSystem, "s2"),
			},
			overflows: 1,
			want:      []string{"s1", "s2", "reply"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockProvider("mock-model")
			mock.SendFunc = overflowThen(tt.overflows, "reply")

			conv := New(mock, WithHistory(tt.history))
			if _, err := conv.Exchange(context.Background()); err != nil {
				t.Fatalf("Exchange() error = %v", err)
			}

			reqs := mock.Requests()
			if len(reqs) != tt.overflows+1 {
				t.Fatalf("requests = %d, want %d", len(reqs), tt.overflows+1)
			}
			for i := 1; i < len(reqs); i++ {
				if len(reqs[i].Messages) != len(reqs[i-1].Messages)-1 {
					t.Errorf("retry %d removed %d messages, want 1", i, len(reqs[i-1].Messages)-len(reqs[i].Messages))
				}
			}

			if got := contents(conv.Messages()); fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("history = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExchangeContextExhausted(t *testing.T) {
	mock := testutil.NewMockProvider("mock-model")
	mock.SendFunc = func(ctx context.Context, req model.Request) (*model.Result, error) {
		return nil, testutil.OverflowError()
	}

	conv := New(mock)
	conv.AppendSystemMessage("be terse")

	reply, err := conv.Exchange(context.Background())
	if reply != nil {
		t.Errorf("Exchange() reply = %+v, want nil", reply)
	}
	if !errors.Is(err, ErrContextExhausted) {
		t.Fatalf("Exchange() error = %v, want ErrContextExhausted", err)
	}
	if !IsFatal(err) {
		t.Error("IsFatal() = false, want true")
	}
	if !model.IsContextLengthExceeded(err) {
		t.Error("fatal error should still wrap the transport overflow")
	}

	msgs := conv.Messages()
	if len(msgs) != 1 || msgs[0].Role != model.RoleSystem {
		t.Errorf("history = %+v, want only the system message", msgs)
	}
	if len(mock.Requests()) != 1 {
		t.Errorf("requests = %d, want 1", len(mock.Requests()))
	}
}

func TestExchangeAutoTruncateDisabled(t *testing.T) {
	mock := testutil.NewMockProvider("mock-model")
	mock.SendFunc = overflowThen(1, "never")

	conv := New(mock)
	conv.AutoTruncate = false
	conv.AppendUserInput("a")
	conv.AppendUserInput("b")

	_, err := conv.Exchange(context.Background())
	if !errors.Is(err, ErrAutoTruncateDisabled) {
		t.Fatalf("Exchange() error = %v, want ErrAutoTruncateDisabled", err)
	}
	if conv.Len() != 2 {
		t.Errorf("history length = %d, want 2", conv.Len())
	}
}

func TestExchangeCustomTruncator(t *testing.T) {
	tests := []struct {
		name       string
		auto       bool
		truncator  TruncatorFunc
		wantErr    error
		wantHist   []string
		wantCalled int
	}{
		{
			name: "hook replaces heuristic",
			auto: true,
			truncator: func(h []model.Message) ([]model.Message, bool) {
				// drop the two most recent instead
				return h[:len(h)-2], true
			},
			wantHist:   []string{"u1", "reply"},
			wantCalled: 1,
		},
		{
			name: "hook runs with auto truncate off",
			auto: false,
			truncator: func(h []model.Message) ([]model.Message, bool) {
				return h[1:], true
			},
			wantHist:   []string{"u2", "u3", "reply"},
			wantCalled: 1,
		},
		{
			name: "hook gives up",
			auto: true,
			truncator: func(h []model.Message) ([]model.Message, bool) {
				return h, false
			},
			wantErr:    ErrContextExhausted,
			wantHist:   []string{"u1", "u2", "u3"},
			wantCalled: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockProvider("mock-model")
			mock.SendFunc = overflowThen(1, "reply")

			called := 0
			hook := TruncatorFunc(func(h []model.Message) ([]model.Message, bool) {
				called++
				return tt.truncator(h)
			})

			conv := New(mock, WithTruncator(hook))
			conv.AutoTruncate = tt.auto
			conv.AppendUserInput("u1")
			conv.AppendUserInput("u2")
			conv.AppendUserInput("u3")

			_, err := conv.Exchange(context.Background())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Exchange() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("Exchange() error = %v", err)
			}

			if called != tt.wantCalled {
				t.Errorf("hook called %d times, want %d", called, tt.wantCalled)
			}
			if got := contents(conv.Messages()); fmt.Sprint(got) != fmt.Sprint(tt.wantHist) {
				t.Errorf("history = %v, want %v", got, tt.wantHist)
			}
		})
	}
}

func TestSetTruncatorNilRestoresHeuristic(t *testing.T) {
	mock := testutil.NewMockProvider("mock-model")
	mock.SendFunc = overflowThen(1, "reply")

	conv := New(mock, WithTruncator(TruncatorFunc(func(h []model.Message) ([]model.Message, bool) {
		t.Error("removed hook was called")
		return h, false
	})))
	conv.SetTruncator(nil)
	conv.AppendSystemMessage("sys")
	conv.AppendUserInput("u1")
	conv.AppendUserInput("u2")

	if _, err := conv.Exchange(context.Background()); err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if got := contents(conv.Messages()); fmt.Sprint(got) != fmt.Sprint([]string{"sys", "u2", "reply"}) {
		t.Errorf("history = %v", got)
	}
}

func TestExchangePropagatesOtherErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"plain error", errors.New("connection refused")},
		{"rate limited", &model.TransportError{Provider: "mock", StatusCode: 429, Code: "rate_limit_exceeded", Message: "slow down"}},
		{"server error", &model.TransportError{Provider: "mock", StatusCode: 500, Message: "boom"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockProvider("mock-model")
			mock.SendFunc = func(ctx context.Context, req model.Request) (*model.Result, error) {
				return nil, tt.err
			}

			conv := New(mock)
			conv.AppendUserInput("hi")

			_, err := conv.Exchange(context.Background())
			if err != tt.err {
				t.Errorf("Exchange() error = %v, want %v unchanged", err, tt.err)
			}
			if IsFatal(err) {
				t.Error("non-overflow errors should not be fatal truncation errors")
			}
			if conv.Len() != 1 {
				t.Errorf("history length = %d, want 1", conv.Len())
			}
			if len(mock.Requests()) != 1 {
				t.Errorf("requests = %d, want no retry", len(mock.Requests()))
			}
		})
	}
}

func TestExchangeZeroChoices(t *testing.T) {
	mock := testutil.NewMockProvider("mock-model")
	mock.SendFunc = func(ctx context.Context, req model.Request) (*model.Result, error) {
		return testutil.EmptyResult(), nil
	}

	conv := New(mock)
	conv.AppendUserInput("hi")

	reply, err := conv.Exchange(context.Background())
	if err != nil || reply != nil {
		t.Fatalf("Exchange() = %+v, %v, want nil, nil", reply, err)
	}
	if conv.Len() != 1 {
		t.Errorf("history length = %d, want 1", conv.Len())
	}
	if conv.LastResult() == nil || conv.LastResult().ID != "chatcmpl-empty" {
		t.Errorf("LastResult() = %+v, want the empty result", conv.LastResult())
	}

	content, err := conv.ExchangeContent(context.Background())
	if err != nil || content != "" {
		t.Errorf("ExchangeContent() = %q, %v", content, err)
	}
}

func TestExchangeWithTools(t *testing.T) {
	call := model.ToolCall{ID: "call_1", Name: "get_weather", Arguments: map[string]any{"location": "Paris"}}

	mock := testutil.NewMockProvider("mock-model")
	mock.SendFunc = func(ctx context.Context, req model.Request) (*model.Result, error) {
		if len(req.Tools) != 2 {
			t.Errorf("request tools = %d, want 2", len(req.Tools))
		}
		return testutil.ToolCallResult(call), nil
	}

	conv := New(mock)
	for _, tool := range testutil.TestMCPTools() {
		conv.AppendTool(tool)
	}
	conv.AppendUserInput("weather in Paris?")

	content, calls, err := conv.ExchangeWithTools(context.Background())
	if err != nil {
		t.Fatalf("ExchangeWithTools() error = %v", err)
	}
	if content != "" {
		t.Errorf("content = %q, want empty", content)
	}
	if len(calls) != 1 || calls[0].ID != "call_1" || calls[0].Arguments["location"] != "Paris" {
		t.Errorf("calls = %+v", calls)
	}

	conv.AppendToolMessage("call_1", "18C and sunny")
	msgs := conv.Messages()
	last := msgs[len(msgs)-1]
	if last.Role != model.RoleTool || last.ToolCallID != "call_1" {
		t.Errorf("tool message = %+v", last)
	}
	if len(msgs[1].ToolCalls) != 1 {
		t.Errorf("assistant message should keep its tool calls, got %+v", msgs[1])
	}
}

func TestExchangeCancelledContext(t *testing.T) {
	mock := testutil.NewMockProvider("mock-model")
	conv := New(mock)
	conv.AppendUserInput("hi")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := conv.Exchange(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Exchange() error = %v, want context.Canceled", err)
	}
	if len(mock.Requests()) != 0 {
		t.Error("no request should be sent with a cancelled context")
	}
	if conv.Len() != 1 {
		t.Errorf("history length = %d, want 1", conv.Len())
	}
}
