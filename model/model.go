package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// Request captures the normalized model input.
type Request struct {
	Instructions string    `json:"instructions"` // System instructions for the model
	Messages     []Message `json:"messages"`
	Stream       bool      `json:"stream,omitempty"`
}

// NewPromptRequest builds a single-turn request.
func NewPromptRequest(instructions, prompt string) Request {
	return Request{
		Instructions: instructions,
		Messages:     []Message{{Role: "user", Content: prompt}},
	}
}

// LastUserText returns the content of the last user message.
func (r Request) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates other into u. A nil other is ignored.
func (u *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Response is a (partial or final) chunk emitted by a model.
type Response struct {
	ID           string      `json:"id"`
	Partial      bool        `json:"partial"` // Indicates if this is a partial response
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Model is the minimal interface required to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// ErrNoResponse is returned by Collect when the model closed its stream
// without emitting anything.
var ErrNoResponse = errors.New("model returned no response")

// Collect drains a Generate call and returns the final response. When the
// stream only carried partial chunks their text is concatenated.
func Collect(ctx context.Context, m Model, req Request) (*Response, error) {
	respCh, errCh := m.Generate(ctx, req)

	var (
		final   *Response
		partial strings.Builder
		last    Response
		seen    bool
	)
	for r := range respCh {
		seen = true
		last = r
		if r.Partial {
			partial.WriteString(r.Text)
			continue
		}
		r := r
		final = &r
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if final != nil {
		return final, nil
	}
	if !seen {
		return nil, ErrNoResponse
	}
	last.Partial = false
	last.Text = partial.String()
	return &last, nil
}

// MockModel is a lightweight in-memory Model useful for tests and examples.
type MockModel struct {
	info Info

	mu        sync.RWMutex
	responses map[string]string
	errs      map[string]error
	requests  []Request
}

// NewMockModel constructs a MockModel.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: provider},
		responses: make(map[string]string),
		errs:      make(map[string]error),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// AddError makes generation for prompt fail with err.
func (m *MockModel) AddError(prompt string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[prompt] = err
}

// Requests returns a copy of every request received.
func (m *MockModel) Requests() []Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Request{}, m.requests...)
}

// Generate implements Model; emits optional streaming char chunks then the
// final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)
		if len(req.Messages) == 0 {
			errCh <- fmt.Errorf("no messages provided")
			return
		}
		input := req.LastUserText()

		m.mu.RLock()
		full, err := m.responses[input], m.errs[input]
		m.mu.RUnlock()

		if err != nil {
			errCh <- err
			return
		}
		if full == "" {
			full = fmt.Sprintf("Mock response to: %s", input)
		}
		if req.Stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: string(r)}:
				}
			}
		}
		respCh <- Response{
			Partial:      false,
			Text:         full,
			FinishReason: "stop",
			Usage: &TokenUsage{
				PromptTokens:     len(strings.Fields(input)),
				CompletionTokens: len(strings.Fields(full)),
				TotalTokens:      len(strings.Fields(input)) + len(strings.Fields(full)),
			},
		}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
