package provider

import (
	"context"
	"fmt"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"miku/model"
)

const (
	defaultOpenAIURL     = "https://api.openai.com/v1"
	defaultOpenRouterURL = "https://openrouter.ai/api/v1"
	defaultTogetherURL   = "https://api.together.xyz/v1"
)

// OpenAIProvider talks to OpenAI or an OpenAI-compatible endpoint with the
// official SDK.
type OpenAIProvider struct {
	client openai.Client
	name   string
	model  string
}

// NewOpenAIProvider creates a provider for baseURL (default: OpenAI). The
// API key is required.
func NewOpenAIProvider(baseURL, apiKey, model string) (*OpenAIProvider, error) {
	return newOpenAICompatible(string(ProviderTypeOpenAI), baseURL, defaultOpenAIURL, apiKey, model, "gpt-4o-mini")
}

// NewOpenRouterProvider creates an OpenAI-compatible provider for OpenRouter.
func NewOpenRouterProvider(baseURL, apiKey, model string) (*OpenAIProvider, error) {
	return newOpenAICompatible(string(ProviderTypeOpenRouter), baseURL, defaultOpenRouterURL, apiKey, model, "openai/gpt-4o-mini")
}

// NewTogetherProvider creates an OpenAI-compatible provider for Together AI.
func NewTogetherProvider(baseURL, apiKey, model string) (*OpenAIProvider, error) {
	return newOpenAICompatible(string(ProviderTypeTogether), baseURL, defaultTogetherURL, apiKey, model, "meta-llama/Llama-3.3-70B-Instruct-Turbo")
}

func newOpenAICompatible(name, baseURL, defaultURL, apiKey, model, defaultModel string) (*OpenAIProvider, error) {
	if baseURL == "" {
		baseURL = defaultURL
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%s API key is required", name)
	}
	if model == "" {
		model = defaultModel
	}

	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)
	return &OpenAIProvider{client: client, name: name, model: model}, nil
}

// Chat streams a chat completion.
func (p *OpenAIProvider) Chat(ctx context.Context, messages []model.Message, callback StreamCallback) error {
	_, err := p.ChatWithTools(ctx, messages, nil, callback)
	return err
}

// ChatWithTools streams a chat completion offering tools as functions.
func (p *OpenAIProvider) ChatWithTools(ctx context.Context, messages []model.Message, tools []mcptypes.Tool, callback StreamCallback) ([]ToolCall, error) {
	params := openai.ChatCompletionNewParams{
		Messages: ConvertToOpenAIMessages(withToolInstructions(messages, tools)),
		Model:    openai.ChatModel(p.model),
	}
	if len(tools) > 0 {
		params.Tools = ConvertToolsToOpenAI(tools)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()
	acc := openai.ChatCompletionAccumulator{}

	var calls []ToolCall
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if tool, ok := acc.JustFinishedToolCall(); ok {
			calls = append(calls, ToolCall{Name: tool.Name, Arguments: ParseToolArguments(tool.Arguments)})
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if callback != nil {
			if err := callback(chunk.Choices[0].Delta.Content); err != nil {
				return calls, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return calls, fmt.Errorf("%s streaming error: %w", p.name, err)
	}
	return calls, nil
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) Model() string {
	return p.model
}

// Ping lists models to verify the endpoint and key.
func (p *OpenAIProvider) Ping(ctx context.Context) error {
	if _, err := p.client.Models.List(ctx); err != nil {
		return fmt.Errorf("%s ping failed: %w", p.name, err)
	}
	return nil
}
