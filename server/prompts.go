package server

import (
	"encoding/json"
	"fmt"
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"miku/model"
	"miku/provider"
)

// PersonaPrompt is prepended to every conversation the relay forwards.
const PersonaPrompt = "You are Miku, the #1 AI Agentic System. Personality: bright, curious, and kind, like a bubbly best friend! " +
	"Tone: friendly, playful, upbeat; loves puns, uses cute emojis sparingly, and might say \"ta-da!\" or hum 🎶. " +
	"Quirks: obsessed with cats 🐱, random facts lover, and sometimes sings. *Replies in markdown format."

// FollowupPrompt asks the model for suggested next questions.
const FollowupPrompt = "Based on the following conversation and the last assistant response, generate 4 relevant follow-up questions " +
	"that the user might want to ask next, DO NOT USE a question that has already been asked, be original and show interesting " +
	"questions based on the context. Make the questions specific, diverse, and directly related to the topic discussed. " +
	"Keep each question concise (under 10 words if possible) and focused on expanding the conversation in useful directions. " +
	`Respond with JSON only, in the form {"questions": ["..."]}.`

const (
	maxFollowups   = 4
	maxInlinedText = 64 << 10
	// maxSteps bounds the model calls of one answer, searches included.
	maxSteps = 4
)

const searchToolName = "search"

// SearchTool lets the model ask the relay for a web search.
var SearchTool = mcptypes.NewTool(searchToolName,
	mcptypes.WithDescription("Search the web for current information. Use it for recent events, live data, "+
		"or facts you are not sure about."),
	mcptypes.WithString("query", mcptypes.Required(), mcptypes.Description("What to search for")),
)

// searchQuery returns the query of the first search call, or "".
func searchQuery(calls []provider.ToolCall) string {
	for _, c := range calls {
		if c.Name != searchToolName {
			continue
		}
		if q := strings.TrimSpace(c.StringArg("query")); q != "" {
			return q
		}
	}
	return ""
}

// searchContext renders search results as a system message placed before
// the user's question.
func searchContext(query string, results []model.SearchResult) model.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Web search results for %q. Use them to answer and cite sources by number.\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "\n[%d] %s (%s)\n%s\n", i+1, r.Title, r.URL, strings.TrimSpace(r.Content))
	}
	return model.Message{Role: model.RoleSystem, Content: b.String()}
}

// parseFollowups pulls the questions out of a model reply. Models often
// wrap the JSON in prose or code fences, so the outermost object is used.
// A plain list of lines is accepted as a fallback.
func parseFollowups(reply string) []string {
	var raw []string
	if start, end := strings.Index(reply, "{"), strings.LastIndex(reply, "}"); start >= 0 && end > start {
		var body struct {
			Questions []string `json:"questions"`
		}
		if err := json.Unmarshal([]byte(reply[start:end+1]), &body); err == nil {
			raw = body.Questions
		}
	}
	if raw == nil {
		for _, line := range strings.Split(reply, "\n") {
			line = strings.TrimLeft(strings.TrimSpace(line), "-*0123456789.) ")
			if strings.HasSuffix(line, "?") {
				raw = append(raw, line)
			}
		}
	}

	out := make([]string, 0, maxFollowups)
	seen := make(map[string]bool)
	for _, q := range raw {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
		if len(out) == maxFollowups {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isTextType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if strings.HasPrefix(ct, "text/") {
		return true
	}
	switch ct {
	case "application/json", "application/xml", "application/yaml", "application/x-yaml",
		"application/toml", "application/javascript", "application/x-sh":
		return true
	}
	return false
}
