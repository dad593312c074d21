// Package provider streams completions from the language model services the
// relay can sit in front of.
//
// Every backend implements Provider: a chat call that hands each text delta
// to a callback, the same call with tools offered to the model, plus
// identification and a reachability check.
//
// # Backends
//
//   - OpenAIProvider: OpenAI and any OpenAI-compatible endpoint (Together AI,
//     OpenRouter) selected by base URL
//   - AnthropicProvider: Anthropic Messages API
//   - OllamaProvider: a local or remote Ollama server
//
// # Usage
//
//	p, err := provider.NewProvider(provider.Config{
//	    Type:   provider.ProviderTypeOpenAI,
//	    APIKey: key,
//	    Model:  "gpt-4o-mini",
//	})
//	if err != nil {
//	    // handle error
//	}
//	err = p.Chat(ctx, messages, func(chunk string) error {
//	    fmt.Print(chunk)
//	    return nil
//	})
package provider

import (
	"context"
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"miku/model"
)

// StreamCallback receives each text delta. Returning an error stops the stream.
type StreamCallback func(chunk string) error

// Provider is a streaming chat completion backend.
type Provider interface {
	// Chat sends messages and streams the reply through callback.
	Chat(ctx context.Context, messages []model.Message, callback StreamCallback) error

	// ChatWithTools is Chat with tools offered to the model. The calls the
	// model made are returned once the reply has finished streaming.
	ChatWithTools(ctx context.Context, messages []model.Message, tools []mcptypes.Tool, callback StreamCallback) ([]ToolCall, error)

	// Name identifies the backend ("openai", "anthropic", "ollama").
	Name() string

	// Model returns the model used for requests.
	Model() string

	// Ping checks that the backend is reachable with the configured credentials.
	Ping(ctx context.Context) error
}

// ProviderType identifies the provider implementation.
type ProviderType string

const (
	ProviderTypeOllama     ProviderType = "ollama"
	ProviderTypeOpenRouter ProviderType = "openrouter"
	ProviderTypeTogether   ProviderType = "together"
	ProviderTypeOpenAI     ProviderType = "openai"
	ProviderTypeAnthropic  ProviderType = "anthropic"
)

// Config holds provider-specific configuration.
type Config struct {
	Type    ProviderType
	BaseURL string
	Model   string
	APIKey  string // unused for Ollama
}

// Complete runs a chat call and returns the whole reply.
func Complete(ctx context.Context, p Provider, messages []model.Message) (string, error) {
	var b strings.Builder
	err := p.Chat(ctx, messages, func(chunk string) error {
		b.WriteString(chunk)
		return nil
	})
	return b.String(), err
}
