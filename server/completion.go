package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"miku/chat"
	"miku/model"
	"miku/provider"
	"miku/stream"
	"miku/websearch"
)

// StreamFailureText is appended to the reply when the provider fails after
// the stream has started.
const StreamFailureText = "\n\nSorry, something went wrong while generating this response."

const searchMaxResults = 6

// Step types recorded in turn actions.
const (
	stepAnalyze  = "analyze"
	stepSearch   = "search"
	stepGenerate = "generate"
	stepFollowup = "followup"
	stepComplete = "complete"
)

// turnWriter streams the events of one turn and keeps its action log and
// the citations gathered so far.
type turnWriter struct {
	w       *stream.Writer
	s       *Server
	actions []model.Action
	sources []model.SearchResult
	images  []model.SearchImage
}

func (t *turnWriter) step(status model.Status, stepType, message string) error {
	t.actions = append(t.actions, model.Action{
		Status:    status,
		StepType:  stepType,
		Message:   message,
		Timestamp: t.s.opts.Now().UnixMilli(),
	})
	return t.w.Write(stream.Event{
		CurrentAction: status,
		Actions:       stream.Ptr(append([]model.Action(nil), t.actions...)),
	})
}

func (t *turnWriter) write(ev stream.Event) error {
	return t.w.Write(ev)
}

// handleCompletion streams one assistant turn.
func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	req, err := chat.DecodeRequest(r, MaxFormMemory)
	if err != nil {
		if chat.IsValidation(err) {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request", Details: err.Error()})
			return
		}
		s.logger.Error("failed to read completion form", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal Server Error", Details: err.Error()})
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	ctx := r.Context()
	messages := buildMessages(req)
	query := lastUserText(req.Messages)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	t := &turnWriter{w: stream.NewWriter(w), s: s}
	if err := s.runTurn(ctx, t, req, messages, query); err != nil {
		if ctx.Err() != nil {
			s.logger.Debug("client went away", zap.Error(err))
			return
		}
		s.logger.Warn("completion stream ended early", zap.Error(err))
	}
}

// runTurn writes the event sequence of a turn. Errors returned here are
// write failures; provider trouble is reported in-band.
func (s *Server) runTurn(ctx context.Context, t *turnWriter, req chat.Request, messages []model.Message, query string) error {
	if err := t.step(model.StatusThinking, stepAnalyze, "Understanding your question"); err != nil {
		return err
	}

	var err error
	if s.shouldSearch(req, query) {
		if messages, err = s.search(ctx, t, req, messages, query); err != nil {
			return err
		}
	}

	if err := t.step(model.StatusTyping, stepGenerate, "Writing the answer"); err != nil {
		return err
	}

	// The model may search on its own; the last step is offered no tools so
	// it has to answer.
	var reply strings.Builder
	for step := 1; ; step++ {
		var tools []mcptypes.Tool
		if s.opts.Searcher != nil && step < maxSteps {
			tools = []mcptypes.Tool{SearchTool}
		}

		start := reply.Len()
		var writeErr error
		calls, err := s.opts.Provider.ChatWithTools(ctx, messages, tools, func(chunk string) error {
			if chunk == "" {
				return nil
			}
			reply.WriteString(chunk)
			if err := t.write(stream.Event{Content: chunk}); err != nil {
				writeErr = err
				return err
			}
			return nil
		})
		if writeErr != nil {
			return writeErr
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("provider failed mid-stream",
				zap.String("provider", s.opts.Provider.Name()),
				zap.Int("step", step),
				zap.Int("received", reply.Len()),
				zap.Error(err))
			if err := t.write(stream.Event{Content: StreamFailureText}); err != nil {
				return err
			}
			return t.step(model.StatusDone, stepComplete, "Finished with an error")
		}

		q := searchQuery(calls)
		if q == "" || len(tools) == 0 {
			break
		}
		s.logger.Debug("model requested a search", zap.Int("step", step), zap.String("query", q))
		if text := reply.String()[start:]; strings.TrimSpace(text) != "" {
			messages = append(messages, model.Message{Role: model.RoleAssistant, Content: text})
		}
		if messages, err = s.search(ctx, t, req, messages, q); err != nil {
			return err
		}
		if err := t.step(model.StatusTyping, stepGenerate, "Writing the answer"); err != nil {
			return err
		}
	}

	if questions := s.followups(ctx, messages, reply.String()); len(questions) > 0 {
		t.actions = append(t.actions, model.Action{
			Status:    model.StatusTyping,
			StepType:  stepFollowup,
			Message:   "Suggested follow-up questions",
			Timestamp: s.opts.Now().UnixMilli(),
		})
		if err := t.write(stream.Event{FollowupQuestions: stream.Ptr(questions)}); err != nil {
			return err
		}
	}
	return t.step(model.StatusDone, stepComplete, "Done")
}

// search runs one web search and adds its results to the turn. A failed
// search is logged and the turn goes on without it.
func (s *Server) search(ctx context.Context, t *turnWriter, req chat.Request, messages []model.Message, query string) ([]model.Message, error) {
	if err := t.step(model.StatusSearching, stepSearch, fmt.Sprintf("Searching the web for %q", truncate(query, 80))); err != nil {
		return messages, err
	}
	res, err := s.opts.Searcher.Search(ctx, websearch.Request{
		Query:          query,
		MaxResults:     searchMaxResults,
		IncludeDomains: req.Preferences.IncludeDomains,
		ExcludeDomains: req.Preferences.ExcludeDomains,
	})
	if err != nil {
		s.logger.Warn("web search failed", zap.String("query", query), zap.Error(err))
		return messages, nil
	}

	t.sources = append(t.sources, res.Results...)
	t.images = append(t.images, res.Images...)
	if err := t.write(stream.Event{
		SearchResults: stream.Ptr(append([]model.SearchResult{}, t.sources...)),
		SearchImages:  stream.Ptr(append([]model.SearchImage{}, t.images...)),
	}); err != nil {
		return messages, err
	}
	if len(res.Results) > 0 {
		messages = insertBeforeLastUser(messages, searchContext(query, res.Results))
	}
	return messages, nil
}

// shouldSearch searches up front when the client forced it. Otherwise the
// model decides through the search tool.
func (s *Server) shouldSearch(req chat.Request, query string) bool {
	if s.opts.Searcher == nil || strings.TrimSpace(query) == "" {
		return false
	}
	return req.SearchRequested()
}

func (s *Server) followups(ctx context.Context, messages []model.Message, reply string) []string {
	if strings.TrimSpace(reply) == "" {
		return nil
	}
	prompt := make([]model.Message, 0, len(messages)+2)
	prompt = append(prompt, model.Message{Role: model.RoleSystem, Content: FollowupPrompt})
	prompt = append(prompt, messages...)
	prompt = append(prompt, model.Message{Role: model.RoleAssistant, Content: reply})

	out, err := provider.Complete(ctx, s.opts.Provider, prompt)
	if err != nil {
		s.logger.Warn("follow-up generation failed", zap.Error(err))
		return nil
	}
	return parseFollowups(out)
}

// buildMessages prepends the persona and folds attachments into the last
// user message.
func buildMessages(req chat.Request) []model.Message {
	out := make([]model.Message, 0, len(req.Messages)+1)
	out = append(out, model.Message{Role: model.RoleSystem, Content: PersonaPrompt})
	for _, m := range req.Messages {
		out = append(out, model.Message{Role: m.Role, Content: m.Content})
	}
	if len(req.Files) == 0 {
		return out
	}
	idx := model.LastIndexOf(out, model.RoleUser)
	if idx < 0 {
		out = append(out, model.Message{Role: model.RoleUser})
		idx = len(out) - 1
	}
	var b strings.Builder
	b.WriteString(out[idx].Content)
	for _, f := range req.Files {
		b.WriteString("\n\n")
		if isTextType(f.Type) && utf8.Valid(f.Data) {
			fmt.Fprintf(&b, "Attached file %s:\n```\n%s\n```", f.Name, truncate(string(f.Data), maxInlinedText))
			continue
		}
		fmt.Fprintf(&b, "[Attached file %s (%s, %d bytes) cannot be read as text]", f.Name, f.Type, len(f.Data))
	}
	out[idx].Content = strings.TrimSpace(b.String())
	return out
}

func insertBeforeLastUser(messages []model.Message, m model.Message) []model.Message {
	idx := model.LastIndexOf(messages, model.RoleUser)
	if idx < 0 {
		return append(messages, m)
	}
	out := make([]model.Message, 0, len(messages)+1)
	out = append(out, messages[:idx]...)
	out = append(out, m)
	return append(out, messages[idx:]...)
}

func lastUserText(messages []model.Message) string {
	if idx := model.LastIndexOf(messages, model.RoleUser); idx >= 0 {
		return strings.TrimSpace(messages[idx].Content)
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
