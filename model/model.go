package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single provider-agnostic chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseSchema asks the provider for machine-checkable output. Schema is a
// JSON Schema object. Providers without native support may ignore it; the
// caller parses the reply either way.
type ResponseSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema"`
	Strict      bool           `json:"strict"`
}

// Request captures the normalized model input produced by flows.
type Request struct {
	Instructions string          `json:"instructions"` // system prompt
	Messages     []Message       `json:"messages"`
	Schema       *ResponseSchema `json:"schema,omitempty"`
	MaxTokens    int             `json:"max_tokens,omitempty"`
	Temperature  *float64        `json:"temperature,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the final completion returned by a provider.
type Response struct {
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", "tool_use", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name           string `json:"name"`
	Provider       string `json:"provider"` // "openai", "anthropic", "gemini", "mock"
	SupportsSchema bool   `json:"supports_schema"`
}

// Model is the minimal interface the decide stage needs from a provider.
// Implementations must honor ctx cancellation and deadlines.
type Model interface {
	Generate(ctx context.Context, req Request) (Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// ErrEmptyResponse is returned by providers that received no usable content.
var ErrEmptyResponse = errors.New("empty model response")

// MockModel is a scripted in‑memory Model useful for tests & examples.
// Queued replies are consumed in order; once the queue is empty the fallback
// reply is returned. Every request is captured for inspection.
type MockModel struct {
	info Info

	mu       sync.Mutex
	queue    []mockReply
	fallback mockReply
	requests []Request
}

type mockReply struct {
	text string
	err  error
	fn   func(ctx context.Context, req Request) (string, error)
}

// NewMockModel constructs a MockModel whose fallback reply is a none decision.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:     Info{Name: name, Provider: "mock", SupportsSchema: true},
		fallback: mockReply{text: `{"action":"none","text":"","reply_to_id":0,"target_id":0,"reaction_id":0,"reason":"mock"}`},
	}
}

// AddResponse queues a canned completion text.
func (m *MockModel) AddResponse(text string) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockReply{text: text})
	return m
}

// AddError queues a provider failure.
func (m *MockModel) AddError(err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockReply{err: err})
	return m
}

// AddFunc queues a dynamic reply computed from the request.
func (m *MockModel) AddFunc(fn func(ctx context.Context, req Request) (string, error)) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockReply{fn: fn})
	return m
}

// SetFallback replaces the reply used once the queue is drained.
func (m *MockModel) SetFallback(text string, err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = mockReply{text: text, err: err}
	return m
}

// Requests returns a copy of all captured requests.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	reply := m.fallback
	if len(m.queue) > 0 {
		reply = m.queue[0]
		m.queue = m.queue[1:]
	}
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	if reply.fn != nil {
		text, err := reply.fn(ctx, req)
		if err != nil {
			return Response{}, err
		}
		return Response{Text: text, FinishReason: "stop"}, nil
	}
	if reply.err != nil {
		return Response{}, fmt.Errorf("mock model: %w", reply.err)
	}
	return Response{Text: reply.text, FinishReason: "stop"}, nil
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
