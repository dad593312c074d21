package ui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"miku/bus"
	"miku/chat"
	"miku/model"
	"miku/session"
	"miku/storage"
)

const errorBannerTimeout = 5 * time.Second

// listen reads one event from the bus subscription. The handler re-arms it.
func (a AppView) listen() tea.Cmd {
	events := a.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return busClosedMsg{}
		}
		return busEventMsg{event: ev}
	}
}

// submit starts a turn in the background. The view follows it through
// conversation.updated events; the command's result only reports errors.
func (a *AppView) submit(text string) tea.Cmd {
	files := a.files
	if strings.TrimSpace(text) == "" && len(files) == 0 {
		return a.showError(model.ErrValidation)
	}
	if a.deps.Controller.Busy() {
		return a.showError(model.ErrTurnInFlight)
	}

	mode := chat.DetectMode(text, a.mode)
	prepared := strings.TrimSpace(text)
	if prepared != "" {
		prepared = mode.Prepare(prepared)
	}
	if a.slug == "" {
		seed := text
		if strings.TrimSpace(seed) == "" && len(files) > 0 {
			seed = files[0].Name
		}
		a.slug = storage.NewSlug(seed)
		a.messages = nil
	}

	a.textarea.Reset()
	a.files = nil
	a.mode = chat.ModeChat
	a.status = model.StatusThinking
	a.layout()
	a.refreshViewport(true)

	ctrl, ctx, slug := a.deps.Controller, a.ctx, a.slug
	search := mode.ForcesSearch()
	a.logger.Debug("submitting", zap.String("slug", slug), zap.String("mode", string(mode)), zap.Int("files", len(files)))
	return func() tea.Msg {
		return submitDoneMsg{slug: slug, err: ctrl.Submit(ctx, slug, prepared, search, files)}
	}
}

func (a *AppView) handleBusEvent(ev bus.Event) tea.Cmd {
	switch p := ev.Payload.(type) {
	case chat.ConversationUpdate:
		if p.Slug != a.slug {
			return nil
		}
		atBottom := a.viewport.AtBottom() || len(a.messages) == 0
		a.messages = p.Messages
		a.refreshViewport(atBottom)
	case session.StatusChange:
		if p.Slug == a.slug {
			a.status = p.To
		}
	case chat.QuotaReached:
		a.showLimit = true
		a.remaining = max(p.Limit-p.Count, 0)
	case storage.StoreChange:
		cmds := []tea.Cmd{a.loadChats(), a.loadRemaining()}
		// Another process edited the store; reload unless our own turn is
		// the writer.
		if p.Remote && a.slug != "" && !a.deps.Controller.Busy() {
			cmds = append(cmds, a.loadConversation(a.slug))
		}
		if p.Key == storage.KeyDomainPreferences || p.Remote {
			cmds = append(cmds, a.loadPreferences())
		}
		return tea.Batch(cmds...)
	}
	return nil
}

func (a *AppView) handleSubmitDone(msg submitDoneMsg) tea.Cmd {
	cmds := []tea.Cmd{a.loadChats(), a.loadRemaining()}
	if msg.slug == a.slug {
		a.status = model.StatusIdle
		cmds = append(cmds, a.loadConversation(msg.slug))
	}
	if msg.err != nil {
		a.logger.Warn("turn failed", zap.String("slug", msg.slug), zap.Error(msg.err))
		// The limit dialog already explains a refused turn.
		if !errors.Is(msg.err, model.ErrQuotaExceeded) {
			cmds = append(cmds, a.showError(msg.err))
		}
	}
	return tea.Batch(cmds...)
}

// showError raises the banner and schedules its removal.
func (a *AppView) showError(err error) tea.Cmd {
	a.errorText = model.UserMessage(err)
	a.errorSeq++
	a.layout()
	seq := a.errorSeq
	return tea.Tick(errorBannerTimeout, func(time.Time) tea.Msg {
		return clearErrorMsg{seq: seq}
	})
}

func (a *AppView) dismissError() {
	a.errorText = ""
	a.layout()
}

func (a AppView) loadChats() tea.Cmd {
	store := a.deps.Store
	return func() tea.Msg {
		chats, err := store.Conversations.List()
		return chatsLoadedMsg{chats: chats, err: err}
	}
}

func (a AppView) loadConversation(slug string) tea.Cmd {
	store := a.deps.Store
	return func() tea.Msg {
		rec, err := store.Conversations.GetBySlug(slug)
		if storage.IsNotFound(err) {
			return conversationLoadedMsg{slug: slug}
		}
		if err != nil {
			return conversationLoadedMsg{slug: slug, err: err}
		}
		return conversationLoadedMsg{slug: slug, messages: rec.Messages}
	}
}

func (a AppView) loadRemaining() tea.Cmd {
	ctrl := a.deps.Controller
	return func() tea.Msg {
		n, err := ctrl.Remaining()
		if err != nil {
			return nil
		}
		return remainingMsg{remaining: n}
	}
}

func (a AppView) copyLastAnswer() tea.Cmd {
	last, ok := a.lastAssistant()
	if !ok || strings.TrimSpace(last.Content) == "" {
		return nil
	}
	write := a.deps.Clipboard
	return func() tea.Msg {
		if err := write(last.Content); err != nil {
			return noticeMsg{err: fmt.Errorf("copy failed: %w", err)}
		}
		return noticeMsg{text: "Copied answer to clipboard"}
	}
}

// saveImages downloads every image of the last answer.
func (a AppView) saveImages() tea.Cmd {
	last, ok := a.lastAssistant()
	if !ok || len(last.SearchImages) == 0 || a.deps.Images == nil {
		return nil
	}
	saver, ctx, dir := a.deps.Images, a.ctx, a.deps.DownloadDir
	images := append([]model.SearchImage(nil), last.SearchImages...)
	return func() tea.Msg {
		saved := 0
		for _, img := range images {
			if _, err := saver.DownloadImage(ctx, img.URL, dir); err != nil {
				return noticeMsg{err: fmt.Errorf("saved %d of %d images: %w", saved, len(images), err)}
			}
			saved++
		}
		return noticeMsg{text: fmt.Sprintf("Saved %d images to %s", saved, dir)}
	}
}

func (a AppView) exportCurrent() tea.Cmd {
	if a.slug == "" {
		return nil
	}
	store, slug := a.deps.Store, a.slug
	return func() tea.Msg {
		rec, err := store.Conversations.GetBySlug(slug)
		if err != nil {
			return noticeMsg{err: err}
		}
		path := storage.GenerateExportPath(storage.DisplayTitle(*rec))
		if err := store.Conversations.ExportToJSON(rec.ID, path); err != nil {
			return noticeMsg{err: err}
		}
		return noticeMsg{text: "Exported to " + path}
	}
}
