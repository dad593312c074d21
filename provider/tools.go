package provider

import (
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"

	"miku/model"
)

// ToolCall is a function call the model asked for.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// StringArg returns the string argument name, or "" when it is missing or
// not a string.
func (c ToolCall) StringArg(name string) string {
	s, _ := c.Arguments[name].(string)
	return s
}

// ParseToolArguments parses a JSON arguments string. Malformed input gives
// an empty map.
func ParseToolArguments(argsJSON string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil || args == nil {
		return make(map[string]any)
	}
	return args
}

// withToolInstructions prepends the tool guidance as a system message.
func withToolInstructions(messages []model.Message, tools []mcptypes.Tool) []model.Message {
	if len(tools) == 0 {
		return messages
	}
	out := make([]model.Message, 0, len(messages)+1)
	out = append(out, model.Message{Role: model.RoleSystem, Content: buildToolInstructions(tools)})
	return append(out, messages...)
}

func buildToolInstructions(tools []mcptypes.Tool) string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return strings.Join([]string{
		"TOOLS: " + strings.Join(names, ", "),
		"",
		"Call a tool only when the answer depends on information you do not have,",
		"such as recent events, prices, releases or anything time sensitive.",
		"Answer directly when you already know the answer.",
		"",
		"DO NOT:",
		"- List available tools",
		"- Explain that you are about to call a tool",
	}, "\n")
}

// ConvertToolsToOpenAI maps tool definitions onto function tools.
func ConvertToolsToOpenAI(tools []mcptypes.Tool) []openai.ChatCompletionToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.ChatCompletionToolUnionParam, len(tools))
	for i, tool := range tools {
		params := openai.FunctionParameters{
			"type":       tool.InputSchema.Type,
			"properties": tool.InputSchema.Properties,
		}
		if len(tool.InputSchema.Required) > 0 {
			params["required"] = tool.InputSchema.Required
		}
		result[i] = openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: openai.String(tool.Description),
			Parameters:  params,
		})
	}
	return result
}

// ConvertToolsToAnthropic maps tool definitions onto Anthropic tools. The
// schema type defaults to object.
func ConvertToolsToAnthropic(tools []mcptypes.Tool) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	result := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		schema := anthropic.ToolInputSchemaParam{Properties: tool.InputSchema.Properties}
		if len(tool.InputSchema.Required) > 0 {
			schema.Required = tool.InputSchema.Required
		}
		result[i] = anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if tool.Description != "" {
			result[i].OfTool.Description = anthropic.String(tool.Description)
		}
	}
	return result
}

// ConvertToolsToOllama maps tool definitions onto Ollama function tools.
func ConvertToolsToOllama(tools []mcptypes.Tool) []api.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]api.Tool, 0, len(tools))
	for _, tool := range tools {
		params := api.ToolFunctionParameters{
			Type:       tool.InputSchema.Type,
			Required:   tool.InputSchema.Required,
			Properties: make(map[string]api.ToolProperty),
		}
		for name, prop := range tool.InputSchema.Properties {
			params.Properties[name] = convertOllamaProperty(prop)
		}
		result = append(result, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return result
}

func convertOllamaProperty(value any) api.ToolProperty {
	prop := api.ToolProperty{}
	m, ok := value.(map[string]any)
	if !ok {
		data, err := json.Marshal(value)
		if err != nil || json.Unmarshal(data, &m) != nil {
			return prop
		}
	}
	switch t := m["type"].(type) {
	case string:
		prop.Type = api.PropertyType{t}
	case []string:
		prop.Type = api.PropertyType(t)
	}
	if desc, ok := m["description"].(string); ok {
		prop.Description = desc
	}
	if enum, ok := m["enum"].([]any); ok {
		prop.Enum = enum
	}
	return prop
}

// ConvertFromOllamaToolCalls maps Ollama tool calls onto ToolCall.
func ConvertFromOllamaToolCalls(calls []api.ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	result := make([]ToolCall, len(calls))
	for i, call := range calls {
		result[i] = ToolCall{
			Name:      call.Function.Name,
			Arguments: map[string]any(call.Function.Arguments),
		}
	}
	return result
}

// extractAnthropicToolCalls collects the tool_use blocks of a finished
// message. Blocks with unparsable input are skipped.
func extractAnthropicToolCalls(content []anthropic.ContentBlockUnion) []ToolCall {
	var calls []ToolCall
	for _, block := range content {
		use, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok {
			continue
		}
		var args map[string]any
		if err := json.Unmarshal(use.Input, &args); err != nil {
			continue
		}
		calls = append(calls, ToolCall{Name: use.Name, Arguments: args})
	}
	return calls
}
