// Package testutil holds test doubles for provider consumers.
package testutil

import (
	"context"
	"sync"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"miku/model"
	"miku/provider"
)

// MockProvider implements provider.Provider with scripted replies.
type MockProvider struct {
	// ChatFunc overrides the default behaviour of streaming Chunks.
	ChatFunc func(ctx context.Context, messages []model.Message, callback provider.StreamCallback) error
	PingFunc func(ctx context.Context) error

	// Chunks is streamed by the default Chat.
	Chunks []string

	// ToolCalls is handed out in order, one entry per call that offered
	// tools. Calls beyond the list return none.
	ToolCalls [][]provider.ToolCall

	mu    sync.Mutex
	calls [][]model.Message
	tools [][]string
	model string
}

// NewMockProvider creates a mock that streams chunks.
func NewMockProvider(modelName string, chunks ...string) *MockProvider {
	return &MockProvider{model: modelName, Chunks: chunks}
}

func (m *MockProvider) Chat(ctx context.Context, messages []model.Message, callback provider.StreamCallback) error {
	_, err := m.ChatWithTools(ctx, messages, nil, callback)
	return err
}

func (m *MockProvider) ChatWithTools(ctx context.Context, messages []model.Message, tools []mcptypes.Tool, callback provider.StreamCallback) ([]provider.ToolCall, error) {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	m.mu.Lock()
	m.calls = append(m.calls, model.CloneMessages(messages))
	m.tools = append(m.tools, names)
	var calls []provider.ToolCall
	if len(tools) > 0 && len(m.ToolCalls) > 0 {
		calls, m.ToolCalls = m.ToolCalls[0], m.ToolCalls[1:]
	}
	m.mu.Unlock()

	if err := m.stream(ctx, messages, callback); err != nil {
		return nil, err
	}
	return calls, nil
}

func (m *MockProvider) stream(ctx context.Context, messages []model.Message, callback provider.StreamCallback) error {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, messages, callback)
	}
	for _, c := range m.Chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := callback(c); err != nil {
			return err
		}
	}
	return nil
}

// Tools returns, per call, the names of the tools offered.
func (m *MockProvider) Tools() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.tools...)
}

// Calls returns the message lists received so far.
func (m *MockProvider) Calls() [][]model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]model.Message(nil), m.calls...)
}

func (m *MockProvider) Name() string {
	return "mock"
}

func (m *MockProvider) Model() string {
	return m.model
}

func (m *MockProvider) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

var _ provider.Provider = (*MockProvider)(nil)
