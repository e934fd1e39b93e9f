package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.1:latest"
)

// Client is a thin wrapper over the Ollama API client that remembers the
// server URL and the active model.
type Client struct {
	client  *api.Client
	model   string
	baseURL string
}

func NewClient(baseURL, model string) (*Client, error) {
	return NewClientWithHTTP(baseURL, model, http.DefaultClient)
}

// NewClientWithHTTP is NewClient with a caller-supplied HTTP client.
func NewClientWithHTTP(baseURL, model string, httpClient *http.Client) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}

	return &Client{
		client:  api.NewClient(parsedURL, httpClient),
		model:   model,
		baseURL: baseURL,
	}, nil
}

// Chat sends req without streaming and returns the single response.
func (c *Client) Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	c.prepare(req, false)

	var final *api.ChatResponse
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		final = &resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	if final == nil {
		return nil, fmt.Errorf("ollama returned no response")
	}
	return final, nil
}

// ChatStream sends req with streaming enabled. The returned stream must be
// closed by the caller.
func (c *Client) ChatStream(ctx context.Context, req *api.ChatRequest) *ChatStream {
	c.prepare(req, true)

	ctx, cancel := context.WithCancel(ctx)
	s := &ChatStream{
		ch:     make(chan api.ChatResponse),
		cancel: cancel,
	}

	go func() {
		defer close(s.ch)
		s.err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			select {
			case s.ch <- resp:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	return s
}

func (c *Client) prepare(req *api.ChatRequest, stream bool) {
	if req.Model == "" {
		req.Model = c.model
	}
	req.Stream = &stream
}

// ChatStream turns the callback-based Ollama chat into a pull iterator.
//
// Err is only meaningful after Next has returned false.
type ChatStream struct {
	ch     chan api.ChatResponse
	cancel context.CancelFunc
	cur    api.ChatResponse
	err    error
	closed bool
}

func (s *ChatStream) Next() bool {
	if s.closed {
		return false
	}
	resp, ok := <-s.ch
	if !ok {
		return false
	}
	s.cur = resp
	return true
}

func (s *ChatStream) Current() api.ChatResponse {
	return s.cur
}

func (s *ChatStream) Err() error {
	if s.closed {
		return nil
	}
	return s.err
}

// Close cancels the request and waits for the reader goroutine to exit.
func (s *ChatStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	for range s.ch {
	}
	return nil
}

type ModelInfo struct {
	Name         string // Display name (stripped for OpenRouter)
	Size         int64
	Provider     string // Provider ID: "ollama", "openrouter", "anthropic"
	InternalName string // Full API name (e.g., "meta-llama/llama-3.2-90b" for OpenRouter)
}

func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := c.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	models := make([]ModelInfo, len(resp.Models))
	for i, model := range resp.Models {
		models[i] = ModelInfo{
			Name:         model.Name,
			Size:         model.Size,
			Provider:     "ollama",
			InternalName: model.Name,
		}
	}

	return models, nil
}

func (c *Client) GetModel() string {
	return c.model
}

func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := c.client.List(ctx); err != nil {
		return fmt.Errorf("failed to reach Ollama at %s: %w", c.baseURL, err)
	}
	return nil
}

// toolCallingModels tracks which model families support tool calling.
var toolCallingModels = map[string]bool{
	"qwen":      true,
	"llama3.1":  true,
	"llama3.2":  true,
	"mistral":   true,
	"command-r": true,
	"nemotron":  true,
	"granite3":  true,
	"llama3.3":  true,

	"llama3-gradient": false,
	"llama3":          false, // Original llama3 (not 3.1/3.2/3.3)
	"phi":             false,
	"gemma":           false,
	"codellama":       false,
	"deepseek":        false,
}

// orderedPrefixes must list the most specific prefixes first so that
// "llama3.2" is not matched as generic "llama3".
var orderedPrefixes = []string{
	"llama3.3", "llama3.2", "llama3.1",
	"llama3-gradient",
	"command-r", "qwen", "mistral", "nemotron", "granite3",
	"codellama",
	"llama3",
	"deepseek", "phi", "gemma",
}

// ModelSupportsToolCalling reports whether modelName belongs to a family
// known to support Ollama's tool calling API. Unknown models report false.
func ModelSupportsToolCalling(modelName string) bool {
	modelName = strings.ToLower(modelName)

	for _, prefix := range orderedPrefixes {
		if strings.HasPrefix(modelName, prefix) {
			if supported, exists := toolCallingModels[prefix]; exists {
				return supported
			}
		}
	}

	return false
}
