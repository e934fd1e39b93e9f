package provider_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// scenario scripts a fake chat service.
type scenario struct {
	fragments []string // reply, streamed fragment by fragment or joined

	// maxTurns rejects requests carrying more non-system messages with the
	// service's context-length error. Zero accepts everything, negative
	// accepts nothing.
	maxTurns int

	// malformed makes the first streamed payload undecodable.
	malformed bool

	mu       sync.Mutex
	requests []fakeRequest
}

type fakeRequest struct {
	Path   string
	Stream bool
	Turns  int
}

func (s *scenario) reply() string {
	return strings.Join(s.fragments, "")
}

func (s *scenario) Requests() []fakeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fakeRequest(nil), s.requests...)
}

// decode records the request and reports whether it fits maxTurns.
func (s *scenario) decode(t *testing.T, r *http.Request) (fakeRequest, bool) {
	t.Helper()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Errorf("read body: %v", err)
	}

	var payload struct {
		Stream   bool `json:"stream"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Errorf("decode body: %v", err)
	}

	req := fakeRequest{Path: r.URL.Path, Stream: payload.Stream}
	for _, m := range payload.Messages {
		if m.Role != "system" {
			req.Turns++
		}
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	return req, s.maxTurns == 0 || req.Turns <= s.maxTurns
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func writeSSE(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, e := range events {
		io.WriteString(w, e)
		io.WriteString(w, "\n\n")
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// ===== OpenAI-compatible (OpenAI, OpenRouter, Azure) =====

const openAIOverflow = `{"error":{"message":"This model's maximum context length is 16 tokens.","type":"invalid_request_error","param":"messages","code":"context_length_exceeded"}}`

func newOpenAIServer(t *testing.T, sc *scenario) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/models"):
			writeJSON(w, http.StatusOK, `{"object":"list","data":[{"id":"vendor/model-a","object":"model","created":1,"owned_by":"x"},{"id":"model-b","object":"model","created":1,"owned_by":"x"}]}`)
			return
		case !strings.HasSuffix(r.URL.Path, "/chat/completions"):
			http.NotFound(w, r)
			return
		}

		req, fits := sc.decode(t, r)
		if !fits {
			writeJSON(w, http.StatusBadRequest, openAIOverflow)
			return
		}

		if !req.Stream {
			writeJSON(w, http.StatusOK, fmt.Sprintf(`{"id":"chatcmpl-1","object":"chat.completion","created":1700000000,"model":"fake","choices":[{"index":0,"message":{"role":"assistant","content":%s},"finish_reason":"stop"}],"usage":{"prompt_tokens":9,"completion_tokens":3,"total_tokens":12}}`, quote(sc.reply())))
			return
		}

		if sc.malformed {
			writeSSE(w, "data: {not json")
			return
		}

		chunk := func(delta, finish string) string {
			return fmt.Sprintf(`data: {"id":"chatcmpl-1","object":"chat.completion.chunk","created":1700000000,"model":"fake","choices":[{"index":0,"delta":%s,"finish_reason":%s}]}`, delta, finish)
		}
		events := []string{chunk(`{"role":"assistant","content":""}`, "null")}
		for _, f := range sc.fragments {
			events = append(events, chunk(fmt.Sprintf(`{"content":%s}`, quote(f)), "null"))
		}
		events = append(events, chunk(`{}`, `"stop"`), "data: [DONE]")
		writeSSE(w, events...)
	}))
}

// ===== Ollama =====

func newOllamaServer(t *testing.T, sc *scenario) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			writeJSON(w, http.StatusOK, `{"models":[{"name":"llama3.1:latest","size":4700000000},{"name":"qwen2.5:7b","size":4400000000}]}`)
			return
		case "/api/chat":
		default:
			http.NotFound(w, r)
			return
		}

		req, fits := sc.decode(t, r)
		if !fits {
			writeJSON(w, http.StatusBadRequest, `{"error":"input length exceeds maximum context length"}`)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		line := func(content string, done bool) string {
			s := fmt.Sprintf(`{"model":"llama3.1:latest","created_at":"2025-01-01T00:00:00Z","message":{"role":"assistant","content":%s},"done":%t`, quote(content), done)
			if done {
				s += `,"done_reason":"stop","prompt_eval_count":9,"eval_count":3`
			}
			return s + "}\n"
		}

		if !req.Stream {
			io.WriteString(w, line(sc.reply(), true))
			return
		}
		if sc.malformed {
			io.WriteString(w, "{not json\n")
			return
		}
		for _, f := range sc.fragments {
			io.WriteString(w, line(f, false))
		}
		io.WriteString(w, line("", true))
	}))
}

// ===== Anthropic =====

const anthropicOverflow = `{"type":"error","error":{"type":"invalid_request_error","message":"prompt is too long: 210000 tokens > 200000 maximum"}}`

func newAnthropicServer(t *testing.T, sc *scenario) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}

		req, fits := sc.decode(t, r)
		if !fits {
			writeJSON(w, http.StatusBadRequest, anthropicOverflow)
			return
		}

		if !req.Stream {
			writeJSON(w, http.StatusOK, fmt.Sprintf(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-fake","content":[{"type":"text","text":%s}],"stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":9,"output_tokens":3}}`, quote(sc.reply())))
			return
		}

		if sc.malformed {
			writeSSE(w, "event: message_start\ndata: {not json")
			return
		}

		events := []string{
			`event: message_start` + "\n" + `data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-fake","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":9,"output_tokens":1}}}`,
			`event: content_block_start` + "\n" + `data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		}
		for _, f := range sc.fragments {
			events = append(events, `event: content_block_delta`+"\n"+fmt.Sprintf(`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":%s}}`, quote(f)))
		}
		events = append(events,
			`event: content_block_stop`+"\n"+`data: {"type":"content_block_stop","index":0}`,
			`event: message_delta`+"\n"+`data: {"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":3}}`,
			`event: message_stop`+"\n"+`data: {"type":"message_stop"}`,
		)
		writeSSE(w, events...)
	}))
}
