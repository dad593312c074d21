package ui

import (
	"fmt"
	"regexp"
	"strings"

	markdown "github.com/MichaelMure/go-term-markdown"
	"github.com/charmbracelet/lipgloss"
	gomarkdown "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/parser"

	"miku/chat"
	"miku/model"
)

var (
	inlineCodeRegex = regexp.MustCompile(`(?s)\x1b\[44;3m(.*?)\x1b\[0m`)
	mdLinkRegex     = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\)]+)\)`)
	urlRegex        = regexp.MustCompile(`(https?://[^\s]+)`)
)

const (
	codeBar      = "┃"
	streamCursor = "▋"
	maxFollowups = 4
)

// streaming reports whether the last assistant message of the open chat is
// still being written.
func (a AppView) streaming() bool {
	switch a.status {
	case model.StatusThinking, model.StatusSearching, model.StatusTyping:
		return true
	}
	return false
}

func (a *AppView) refreshViewport(gotoBottom bool) {
	width := max(a.mainWidth()-2, 20)
	visible := visibleMessages(a.messages)
	if len(visible) == 0 {
		if a.streaming() {
			a.viewport.SetContent(a.spinner.View() + " " + statusLabel(a.status))
		} else {
			a.viewport.SetContent(DimStyle.Render("No messages yet. Ask anything, or press F1 for help."))
		}
		return
	}

	lastAssistant := model.LastIndexOf(a.messages, model.RoleAssistant)

	var content strings.Builder
	for i, msg := range a.messages {
		if msg.Role == model.RoleSystem {
			continue
		}
		if a.cursor.active && i == a.cursor.index {
			content.WriteString(selectionBanner(msg.Role) + "\n")
		}
		if msg.Role == model.RoleUser {
			content.WriteString(formatUserMessage(UserStyle.Render("You"), msg, width))
			continue
		}
		live := i == lastAssistant && i == len(a.messages)-1 && a.streaming()
		content.WriteString(a.formatAssistantMessage(msg, width, live, i == lastAssistant))
	}
	// The reply has not started yet.
	if a.streaming() && visible[len(visible)-1].Role == model.RoleUser {
		content.WriteString(a.spinner.View() + " " + statusLabel(a.status) + "\n")
	}

	a.viewport.SetContent(content.String())
	if gotoBottom {
		a.viewport.GotoBottom()
	}
}

func visibleMessages(messages []model.Message) []model.Message {
	out := make([]model.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != model.RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

func formatUserMessage(role string, msg model.Message, width int) string {
	greenBold := "\x1b[32;1m"
	reset := "\x1b[0m"
	bar := greenBold + codeBar + reset

	var result strings.Builder
	result.WriteString(fmt.Sprintf("%s %s\n", bar, role))
	for _, line := range strings.Split(wrap(msg.Content, width-2), "\n") {
		result.WriteString(fmt.Sprintf("%s %s\n", bar, line))
	}
	for _, f := range msg.Files {
		result.WriteString(fmt.Sprintf("%s %s\n", bar, DimStyle.Render(fmt.Sprintf("📎 %s (%s, %d bytes)", f.Name, f.Type, f.Size))))
	}
	result.WriteString("\n")
	return result.String()
}

func (a *AppView) formatAssistantMessage(msg model.Message, width int, live, last bool) string {
	var b strings.Builder
	b.WriteString(AssistantStyle.Render("Miku") + "\n")

	if len(msg.Actions) > 0 {
		b.WriteString(renderActions(msg.Actions, live) + "\n")
	}

	switch {
	case live && msg.Content == "":
		b.WriteString(a.spinner.View() + " " + statusLabel(a.status) + "\n")
	case live:
		// Markdown is rendered once the turn settles.
		b.WriteString(wrap(msg.Content, width) + streamCursor + "\n")
	default:
		b.WriteString(a.renderMarkdownCached(msg.Content, width) + "\n")
	}

	if len(msg.Sources) > 0 {
		b.WriteString("\n" + renderSources(msg.Sources, width))
	}
	if len(msg.SearchImages) > 0 {
		b.WriteString("\n" + renderImages(msg.SearchImages, width))
	}
	if last && !live && len(msg.FollowupQuestions) > 0 {
		b.WriteString("\n" + renderFollowups(msg.FollowupQuestions, width))
	}
	b.WriteString("\n")
	return b.String()
}

func (a *AppView) renderMarkdownCached(content string, width int) string {
	key := fmt.Sprintf("%d:%s", width, content)
	if out, ok := a.rendered[key]; ok {
		return out
	}
	out := renderMarkdown(content, width)
	a.rendered[key] = out
	return out
}

// renderMarkdown renders content for the terminal. Autolink stays off so URLs
// remain plain text the terminal can detect.
func renderMarkdown(content string, width int) string {
	content = mdLinkRegex.ReplaceAllString(content, "$2")

	ext := markdown.Extensions() &^ parser.Autolink
	p := parser.NewWithExtensions(ext)
	r := markdown.NewRenderer(width, 0)
	rendered := gomarkdown.Render(p.Parse([]byte(content)), r)
	return strings.TrimRight(postProcessMarkdown(string(rendered), width), "\n")
}

func postProcessMarkdown(rendered string, width int) string {
	rendered = fixInlineCode(rendered)
	rendered = colorURLs(rendered)
	return frameCodeBlocks(rendered, width)
}

func fixInlineCode(s string) string {
	return inlineCodeRegex.ReplaceAllString(s, "\x1b[31m$1\x1b[0m")
}

func colorURLs(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if !strings.Contains(line, codeBar) {
			lines[i] = urlRegex.ReplaceAllString(line, "\x1b[31m$1\x1b[0m")
		}
	}
	return strings.Join(lines, "\n")
}

// frameCodeBlocks replaces the renderer's bar prefix on code lines with a
// labelled border above and below the block.
func frameCodeBlocks(s string, width int) string {
	darkGray := "\x1b[90m"
	reset := "\x1b[0m"
	lineLen := max(width-4, 8)

	top := func() string {
		label := "[code]"
		left := (lineLen - len(label)) / 2
		right := lineLen - len(label) - left
		return darkGray + strings.Repeat("━", left) + reset + label + darkGray + strings.Repeat("━", right) + reset
	}
	bottom := darkGray + strings.Repeat("━", lineLen) + reset

	var result []string
	inCode := false
	for _, line := range strings.Split(s, "\n") {
		if strings.Contains(line, codeBar) {
			if !inCode {
				inCode = true
				result = append(result, "", top(), "")
			}
			result = append(result, stripCodeBlockPrefix(line))
			continue
		}
		if inCode {
			result = append(result, "", bottom, "")
			inCode = false
		}
		result = append(result, line)
	}
	if inCode {
		result = append(result, "", bottom, "")
	}
	return strings.Join(result, "\n")
}

func stripCodeBlockPrefix(line string) string {
	idx := strings.Index(line, codeBar)
	if idx < 0 {
		return line
	}
	rest := line[idx+len(codeBar):]
	return strings.TrimPrefix(rest, " ")
}

func renderActions(actions []model.Action, live bool) string {
	var lines []string
	for i, act := range actions {
		mark := "✓"
		if live && i == len(actions)-1 {
			mark = "…"
		}
		lines = append(lines, DimStyle.Render(fmt.Sprintf("%s %s", mark, act.Message)))
	}
	return strings.Join(lines, "\n")
}

func renderSources(sources []model.SearchResult, width int) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Sources") + "\n")
	for i, s := range sources {
		title := s.Title
		if strings.TrimSpace(title) == "" {
			title = s.URL
		}
		b.WriteString(fmt.Sprintf("[%d] %s\n", i+1, oneLine(title, width-6)))
		b.WriteString("    " + DimStyle.Render(oneLine(s.URL, width-4)) + "\n")
	}
	return b.String()
}

func renderImages(images []model.SearchImage, width int) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Images (%d)", len(images))) + DimStyle.Render("  alt+d to save") + "\n")
	for _, img := range images {
		line := img.URL
		if img.Description != "" {
			line = img.Description + " " + img.URL
		}
		b.WriteString("  " + DimStyle.Render(oneLine(line, width-2)) + "\n")
	}
	return b.String()
}

func renderFollowups(questions []string, width int) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Related") + "\n")
	for i, q := range questions {
		if i >= maxFollowups {
			break
		}
		b.WriteString(fmt.Sprintf("%s %s\n", HighlightStyle.Render(fmt.Sprintf("alt+%d", i+1)), oneLine(q, width-7)))
	}
	return b.String()
}

func statusLabel(s model.Status) string {
	switch s {
	case model.StatusThinking:
		return "Thinking..."
	case model.StatusSearching:
		return "Searching the web..."
	case model.StatusTyping:
		return "Writing..."
	case model.StatusDone:
		return "Done"
	default:
		return "Ready"
	}
}

func (a AppView) renderHeader() string {
	title := TitleStyle.Render(oneLine(a.currentTitle(), a.mainWidth()-24))
	quota := DimStyle.Render(fmt.Sprintf("%d questions left", a.remaining))
	gap := max(a.mainWidth()-lipgloss.Width(title)-lipgloss.Width(quota), 1)
	return title + strings.Repeat(" ", gap) + quota
}

func (a AppView) renderComposer() string {
	var lines []string
	if a.errorText != "" {
		lines = append(lines, ErrorBannerStyle.Render("✗ "+a.errorText))
	}
	if len(a.files) > 0 {
		names := make([]string, len(a.files))
		for i, f := range a.files {
			names[i] = f.Name
		}
		lines = append(lines, DimStyle.Render("📎 "+strings.Join(names, ", ")))
	}
	if a.attachMode {
		lines = append(lines, a.attachInput.View())
	}
	if a.cursor.editing {
		lines = append(lines, DimStyle.Render(fmt.Sprintf("Editing message %d (Enter saves, Esc cancels)", a.cursor.index+1)))
		lines = append(lines, a.cursor.input.View())
	} else {
		lines = append(lines, a.textarea.View())
	}

	mode := chat.DetectMode(a.textarea.Value(), a.mode)
	indicator := ModeStyle.Render(modeLabel(mode))
	if a.notice != "" {
		indicator += "  " + DimStyle.Render(a.notice)
	}
	lines = append(lines, indicator)
	return strings.Join(lines, "\n")
}

func modeLabel(m chat.Mode) string {
	switch m {
	case chat.ModeSearch:
		return "[web search]"
	case chat.ModeImage:
		return "[image]"
	default:
		return "[chat]"
	}
}

func (a AppView) renderStatusBar() string {
	status := StatusStyle.Render(statusLabel(a.status))
	if a.streaming() {
		status = a.spinner.View() + " " + status
	}
	keys := FormatFooter("Enter", "Send", "Tab", "Chats", "Ctrl+S", "Search", "F1", "Help")
	return status + "  " + HelpStyle.Render(keys)
}
