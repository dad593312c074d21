package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/ollama/ollama/api"

	"miku/model"
)

// OllamaProvider streams from an Ollama server.
type OllamaProvider struct {
	client *api.Client
	model  string
}

// NewOllamaProvider creates a provider for baseURL (default
// http://localhost:11434) and model (default llama3.1:latest).
func NewOllamaProvider(baseURL, model string) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.1:latest"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}
	return &OllamaProvider{client: api.NewClient(u, http.DefaultClient), model: model}, nil
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []model.Message, callback StreamCallback) error {
	_, err := p.ChatWithTools(ctx, messages, nil, callback)
	return err
}

// ChatWithTools streams a chat offering tools. Ollama reports tool calls
// on the streamed responses themselves.
func (p *OllamaProvider) ChatWithTools(ctx context.Context, messages []model.Message, tools []mcptypes.Tool, callback StreamCallback) ([]ToolCall, error) {
	stream := true
	req := &api.ChatRequest{
		Model:    p.model,
		Messages: ConvertToOllamaMessages(withToolInstructions(messages, tools)),
		Tools:    ConvertToolsToOllama(tools),
		Stream:   &stream,
	}
	var calls []ToolCall
	err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		calls = append(calls, ConvertFromOllamaToolCalls(resp.Message.ToolCalls)...)
		if callback == nil || resp.Message.Content == "" {
			return nil
		}
		return callback(resp.Message.Content)
	})
	if err != nil {
		return calls, fmt.Errorf("ollama chat failed: %w", err)
	}
	return calls, nil
}

func (p *OllamaProvider) Name() string {
	return string(ProviderTypeOllama)
}

func (p *OllamaProvider) Model() string {
	return p.model
}

// Ping lists local models with a short timeout.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := p.client.List(ctx); err != nil {
		return fmt.Errorf("ollama ping failed: %w", err)
	}
	return nil
}
