package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"convo/model"
	"convo/provider/testutil"
)

func streamOf(results ...*model.Result) func(context.Context, model.Request) (model.ResultStream, error) {
	return func(ctx context.Context, req model.Request) (model.ResultStream, error) {
		return testutil.NewScriptedStream(results...), nil
	}
}

func collect(t *testing.T, s *ResponseStream) []string {
	t.Helper()
	var out []string
	for s.Next() {
		if s.Index() != len(out) {
			t.Errorf("Index() = %d, want %d", s.Index(), len(out))
		}
		out = append(out, s.Current())
	}
	return out
}

func TestStreamConsolidatesFragments(t *testing.T) {
	mock := testutil.NewMockProvider("m")
	mock.StreamFunc = streamOf(testutil.DeltaResults(model.RoleAssistant, "Hel", "lo", " there")...)

	conv := New(mock)
	conv.AppendUserInput("hi")

	s := conv.StreamResponse(context.Background())
	got := collect(t, s)
	if err := s.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}

	if fmt.Sprint(got) != fmt.Sprint([]string{"Hel", "lo", " there"}) {
		t.Errorf("fragments = %q", got)
	}

	msgs := conv.Messages()
	if len(msgs) != 2 {
		t.Fatalf("history length = %d, want 2 (no partial messages)", len(msgs))
	}
	if msgs[1].Role != model.RoleAssistant || msgs[1].Content != "Hello there" {
		t.Errorf("consolidated message = %+v", msgs[1])
	}
	if msgs[1].Content != strings.Join(got, "") {
		t.Error("consolidated content should equal the concatenated fragments")
	}
	if s.Text() != "Hello there" {
		t.Errorf("Text() = %q", s.Text())
	}
	if !mock.Requests()[0].Stream {
		t.Error("request should be marked as streaming")
	}
}

func TestStreamRoleAndEmptyFragments(t *testing.T) {
	tests := []struct {
		name      string
		results   []*model.Result
		wantFrags []string
		wantRole  model.Role
		wantAdded bool
	}{
		{
			name: "empty deltas are skipped",
			results: []*model.Result{
				testutil.DeltaResult(model.RoleAssistant, ""),
				testutil.DeltaResult("", "a"),
				testutil.DeltaResult("", ""),
				{ID: "no-choices"},
				testutil.DeltaResult("", "b"),
			},
			wantFrags: []string{"a", "b"},
			wantRole:  model.RoleAssistant,
			wantAdded: true,
		},
		{
			name: "last role marker wins",
			results: []*model.Result{
				testutil.DeltaResult(model.RoleUser, "x"),
				testutil.DeltaResult(model.RoleAssistant, "y"),
			},
			wantFrags: []string{"x", "y"},
			wantRole:  model.RoleAssistant,
			wantAdded: true,
		},
		{
			name: "no role means nothing appended",
			results: []*model.Result{
				testutil.DeltaResult("", "orphan"),
			},
			wantFrags: []string{"orphan"},
			wantAdded: false,
		},
		{
			name:      "empty stream",
			results:   nil,
			wantFrags: nil,
			wantAdded: false,
		},
		{
			name: "role with no content appends empty message",
			results: []*model.Result{
				testutil.DeltaResult(model.RoleAssistant, ""),
			},
			wantFrags: nil,
			wantRole:  model.RoleAssistant,
			wantAdded: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockProvider("m")
			mock.StreamFunc = streamOf(tt.results...)

			conv := New(mock)
			conv.AppendUserInput("hi")

			s := conv.StreamResponse(context.Background())
			got := collect(t, s)
			if err := s.Err(); err != nil {
				t.Fatalf("Err() = %v", err)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.wantFrags) {
				t.Errorf("fragments = %q, want %q", got, tt.wantFrags)
			}

			msgs := conv.Messages()
			if !tt.wantAdded {
				if len(msgs) != 1 {
					t.Errorf("history length = %d, want 1", len(msgs))
				}
				return
			}
			if len(msgs) != 2 {
				t.Fatalf("history length = %d, want 2", len(msgs))
			}
			if msgs[1].Role != tt.wantRole || msgs[1].Content != strings.Join(tt.wantFrags, "") {
				t.Errorf("appended = %+v", msgs[1])
			}
		})
	}
}

func TestStreamLastResultTracksEveryElement(t *testing.T) {
	results := testutil.DeltaResults(model.RoleAssistant, "a", "b")
	tail := &model.Result{ID: "final", Usage: &model.Usage{TotalTokens: 7}}
	results = append(results, tail)

	mock := testutil.NewMockProvider("m")
	mock.StreamFunc = streamOf(results...)

	conv := New(mock)
	s := conv.StreamResponse(context.Background())
	for s.Next() {
		if conv.LastResult() == nil {
			t.Fatal("LastResult() should be set while streaming")
		}
	}
	if conv.LastResult() != tail {
		t.Errorf("LastResult() = %+v, want the final element", conv.LastResult())
	}
}

func TestStreamIsLazy(t *testing.T) {
	mock := testutil.NewMockProvider("m")
	conv := New(mock)

	s := conv.StreamResponse(context.Background())
	conv.AppendUserInput("added after StreamResponse")
	if len(mock.Requests()) != 0 {
		t.Fatal("StreamResponse should not send before Next")
	}

	collect(t, s)
	reqs := mock.Requests()
	if len(reqs) != 1 || len(reqs[0].Messages) != 1 {
		t.Errorf("request should include history appended before Next, got %+v", reqs)
	}
}

func TestStreamEarlyStopAppendsNothing(t *testing.T) {
	t.Run("Close", func(t *testing.T) {
		src := testutil.NewScriptedStream(testutil.DeltaResults(model.RoleAssistant, "a", "b", "c")...)
		mock := testutil.NewMockProvider("m")
		mock.StreamFunc = func(ctx context.Context, req model.Request) (model.ResultStream, error) {
			return src, nil
		}

		conv := New(mock)
		conv.AppendUserInput("hi")

		s := conv.StreamResponse(context.Background())
		if !s.Next() || s.Current() != "a" {
			t.Fatalf("first fragment = %q", s.Current())
		}
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}
		if s.Next() {
			t.Error("Next() after Close should return false")
		}
		if !src.Closed {
			t.Error("underlying stream should be closed")
		}
		if conv.Len() != 1 {
			t.Errorf("history length = %d, want 1", conv.Len())
		}
	})

	t.Run("break out of All", func(t *testing.T) {
		mock := testutil.NewMockProvider("m")
		mock.StreamFunc = streamOf(testutil.DeltaResults(model.RoleAssistant, "a", "b", "c")...)

		conv := New(mock)
		conv.AppendUserInput("hi")

		for i, frag := range conv.StreamResponse(context.Background()).All() {
			if i == 1 {
				if frag != "b" {
					t.Errorf("fragment %d = %q", i, frag)
				}
				break
			}
		}
		if conv.Len() != 1 {
			t.Errorf("history length = %d, want 1", conv.Len())
		}
	})

	t.Run("callback error", func(t *testing.T) {
		mock := testutil.NewMockProvider("m")
		mock.StreamFunc = streamOf(testutil.DeltaResults(model.RoleAssistant, "a", "b")...)

		conv := New(mock)
		stop := errors.New("stop")
		seen := 0
		err := conv.StreamResponseFunc(context.Background(), func(string) error {
			seen++
			return stop
		})
		if err != stop {
			t.Errorf("StreamResponseFunc() = %v, want callback error", err)
		}
		if seen != 1 || conv.Len() != 0 {
			t.Errorf("seen = %d, history = %d, want 1 and 0", seen, conv.Len())
		}
	})
}

func TestStreamMidStreamFailure(t *testing.T) {
	boom := errors.New("connection reset")
	src := testutil.NewScriptedStream(testutil.DeltaResults(model.RoleAssistant, "a", "b", "c")...)
	src.FailAfter = 2
	src.Failure = boom

	mock := testutil.NewMockProvider("m")
	mock.StreamFunc = func(ctx context.Context, req model.Request) (model.ResultStream, error) {
		return src, nil
	}

	conv := New(mock)
	conv.AppendUserInput("hi")

	s := conv.StreamResponse(context.Background())
	got := collect(t, s)
	if fmt.Sprint(got) != "[a]" {
		t.Errorf("fragments = %q, want [a]", got)
	}
	if !errors.Is(s.Err(), boom) {
		t.Errorf("Err() = %v, want %v", s.Err(), boom)
	}
	if conv.Len() != 1 {
		t.Errorf("history length = %d, want 1", conv.Len())
	}
}

func TestStreamTruncatesOnOverflow(t *testing.T) {
	tests := []struct {
		name     string
		overflow func() (model.ResultStream, error)
	}{
		{
			name: "on first pull",
			overflow: func() (model.ResultStream, error) {
				return testutil.FailingStream(testutil.OverflowError()), nil
			},
		},
		{
			name: "when opening",
			overflow: func() (model.ResultStream, error) {
				return nil, testutil.OverflowError()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			mock := testutil.NewMockProvider("m")
			mock.StreamFunc = func(ctx context.Context, req model.Request) (model.ResultStream, error) {
				calls++
				if calls == 1 {
					return tt.overflow()
				}
				return testutil.NewScriptedStream(testutil.DeltaResults(model.RoleAssistant, "fits")...), nil
			}

			conv := New(mock)
			conv.AppendSystemMessage("sys")
			conv.AppendUserInput("old")
			conv.AppendUserInput("new")

			s := conv.StreamResponse(context.Background())
			got := collect(t, s)
			if err := s.Err(); err != nil {
				t.Fatalf("Err() = %v", err)
			}
			if fmt.Sprint(got) != "[fits]" {
				t.Errorf("fragments = %q", got)
			}

			want := []string{"sys", "new", "fits"}
			if h := contents(conv.Messages()); fmt.Sprint(h) != fmt.Sprint(want) {
				t.Errorf("history = %v, want %v", h, want)
			}
			if conv.Truncations() != 1 {
				t.Errorf("Truncations() = %d, want 1", conv.Truncations())
			}
		})
	}
}

func TestStreamContextExhausted(t *testing.T) {
	mock := testutil.NewMockProvider("m")
	mock.StreamFunc = func(ctx context.Context, req model.Request) (model.ResultStream, error) {
		return testutil.FailingStream(testutil.OverflowError()), nil
	}

	conv := New(mock)
	conv.AppendSystemMessage("sys")
	conv.AppendUserInput("u")

	s := conv.StreamResponse(context.Background())
	if s.Next() {
		t.Fatal("Next() should fail")
	}
	if !errors.Is(s.Err(), ErrContextExhausted) {
		t.Errorf("Err() = %v, want ErrContextExhausted", s.Err())
	}
	if len(mock.Requests()) != 2 {
		t.Errorf("requests = %d, want 2", len(mock.Requests()))
	}
	if h := contents(conv.Messages()); fmt.Sprint(h) != "[sys]" {
		t.Errorf("history = %v, want [sys]", h)
	}
}

func TestStreamMalformedFallsBackToExchange(t *testing.T) {
	malformed := fmt.Errorf("decode chunk: %w", model.ErrMalformedStream)

	tests := []struct {
		name      string
		reply     *model.Result
		wantFrags []string
		wantLen   int
	}{
		{
			name:      "single fragment",
			reply:     testutil.MessageResult(model.RoleAssistant, "whole reply"),
			wantFrags: []string{"whole reply"},
			wantLen:   2,
		},
		{
			name:      "empty content yields nothing",
			reply:     testutil.MessageResult(model.RoleAssistant, ""),
			wantFrags: nil,
			wantLen:   2,
		},
		{
			name:      "no choices",
			reply:     testutil.EmptyResult(),
			wantFrags: nil,
			wantLen:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockProvider("m")
			mock.StreamFunc = func(ctx context.Context, req model.Request) (model.ResultStream, error) {
				return testutil.FailingStream(malformed), nil
			}
			mock.SendFunc = func(ctx context.Context, req model.Request) (*model.Result, error) {
				if req.Stream {
					t.Error("fallback request should not stream")
				}
				return tt.reply, nil
			}

			conv := New(mock)
			conv.AppendUserInput("hi")

			s := conv.StreamResponse(context.Background())
			got := collect(t, s)
			if err := s.Err(); err != nil {
				t.Fatalf("Err() = %v", err)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.wantFrags) {
				t.Errorf("fragments = %q, want %q", got, tt.wantFrags)
			}
			if conv.Len() != tt.wantLen {
				t.Errorf("history length = %d, want %d", conv.Len(), tt.wantLen)
			}
		})
	}
}

func TestStreamPropagatesOtherErrors(t *testing.T) {
	boom := &model.TransportError{Provider: "mock", StatusCode: 401, Message: "bad key"}

	mock := testutil.NewMockProvider("m")
	mock.StreamFunc = func(ctx context.Context, req model.Request) (model.ResultStream, error) {
		return nil, boom
	}

	conv := New(mock)
	conv.AppendUserInput("hi")

	err := conv.StreamResponseFunc(context.Background(), func(string) error { return nil })
	if err != boom {
		t.Errorf("StreamResponseFunc() = %v, want %v", err, boom)
	}
	if conv.Len() != 1 {
		t.Errorf("history length = %d, want 1", conv.Len())
	}
}

func TestStreamResponseIndexedFunc(t *testing.T) {
	mock := testutil.NewMockProvider("m")
	conv := New(mock)

	var idx []int
	var b strings.Builder
	err := conv.StreamResponseIndexedFunc(context.Background(), func(i int, frag string) error {
		idx = append(idx, i)
		b.WriteString(frag)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(idx) != "[0 1]" || b.String() != "Mock response" {
		t.Errorf("indexes = %v, text = %q", idx, b.String())
	}
	if conv.Len() != 1 || conv.Messages()[0].Content != "Mock response" {
		t.Errorf("history = %v", contents(conv.Messages()))
	}
}
