package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"miku/chat"
	"miku/config"
	"miku/storage"
)

func (a AppView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.ready = true
		a.layout()
		a.refreshViewport(true)
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		if a.streaming() {
			a.refreshViewport(a.viewport.AtBottom())
		}
		return a, cmd

	case busEventMsg:
		return a, tea.Batch(a.handleBusEvent(msg.event), a.listen())

	case busClosedMsg:
		return a, nil

	case submitDoneMsg:
		return a, a.handleSubmitDone(msg)

	case chatsLoadedMsg:
		if msg.err != nil {
			return a, a.showError(msg.err)
		}
		a.setChats(msg.chats)
		return a, nil

	case conversationLoadedMsg:
		if msg.err != nil {
			return a, a.showError(msg.err)
		}
		if msg.slug == a.slug {
			a.messages = msg.messages
			a.refreshViewport(true)
			// An empty chat starts with the question its slug was made from.
			if len(msg.messages) == 0 && a.textarea.Value() == "" && !a.deps.Controller.Active(msg.slug) {
				a.textarea.SetValue(storage.QueryFromSlug(msg.slug))
				a.textarea.CursorEnd()
			}
		}
		return a, nil

	case preferencesLoadedMsg:
		if msg.err != nil {
			a.settings.err = msg.err.Error()
			return a, nil
		}
		a.settings.prefs = msg.prefs.Normalized()
		a.settings.err = ""
		if n := a.settings.rows(); a.settings.selected >= n {
			a.settings.selected = max(n-1, 0)
		}
		return a, nil

	case remainingMsg:
		a.remaining = msg.remaining
		return a, nil

	case clearErrorMsg:
		if msg.seq == a.errorSeq {
			a.dismissError()
		}
		return a, nil

	case noticeMsg:
		if msg.err != nil {
			return a, a.showError(msg.err)
		}
		a.notice = msg.text
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	return a, cmd
}

func (a AppView) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		a.logger.Debug("quit requested")
		a.Close()
		return a, tea.Quit
	}

	// Modal overlays take every key while shown.
	switch {
	case a.showHelp:
		if key == "f1" || key == "esc" || key == "q" {
			a.showHelp = false
		}
		return a, nil
	case a.showLimit:
		if key == "enter" || key == "esc" {
			a.showLimit = false
		}
		return a, nil
	case a.confirmDelete != nil:
		return a, a.handleDeleteConfirmKey(msg)
	case a.settings.active:
		return a, a.handleSettingsKey(msg)
	case a.cursor.active:
		return a, a.handleMessageKey(msg)
	}

	if a.attachMode {
		return a, a.handleAttachKey(msg)
	}

	switch key {
	case "f1":
		a.showHelp = true
		return a, nil
	case "tab":
		if a.focus == focusInput {
			a.focus = focusSidebar
			a.textarea.Blur()
		} else {
			a.focus = focusInput
			a.textarea.Focus()
		}
		return a, nil
	case "ctrl+n":
		a.newChat()
		return a, nil
	case "ctrl+p":
		return a, a.openSettings()
	case "ctrl+y":
		return a, a.copyLastAnswer()
	case "alt+d":
		return a, a.saveImages()
	case "pgup":
		a.viewport.PageUp()
		return a, nil
	case "pgdown":
		a.viewport.PageDown()
		return a, nil
	}

	if a.focus == focusSidebar {
		return a, a.handleSidebarKey(msg)
	}

	switch key {
	case "esc":
		if a.errorText != "" {
			a.dismissError()
		}
		a.notice = ""
		return a, nil
	case "ctrl+s":
		a.mode = a.mode.Toggle(chat.ModeSearch)
		return a, nil
	case "ctrl+g":
		a.mode = a.mode.Toggle(chat.ModeImage)
		return a, nil
	case "ctrl+e":
		a.selectMessages()
		return a, nil
	case "ctrl+o":
		a.attachMode = true
		a.attachInput.SetValue("")
		a.attachInput.Focus()
		a.textarea.Blur()
		a.layout()
		return a, nil
	case "alt+1", "alt+2", "alt+3", "alt+4":
		return a, a.useFollowup(int(key[len(key)-1] - '1'))
	case "enter":
		a.notice = ""
		return a, a.submit(a.textarea.Value())
	}

	var cmd tea.Cmd
	a.textarea, cmd = a.textarea.Update(msg)
	return a, cmd
}

// useFollowup asks a suggested question of the last answer.
func (a *AppView) useFollowup(i int) tea.Cmd {
	last, ok := a.lastAssistant()
	if !ok || i < 0 || i >= len(last.FollowupQuestions) {
		return nil
	}
	a.notice = ""
	return a.submit(last.FollowupQuestions[i])
}

func (a *AppView) handleAttachKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		a.closeAttach()
		return nil
	case "enter":
		path := strings.TrimSpace(a.attachInput.Value())
		a.closeAttach()
		if path == "" {
			return nil
		}
		f, err := chat.LoadFile(config.ExpandPath(path))
		if err != nil {
			a.logger.Warn("attach failed", zap.String("path", path), zap.Error(err))
			return a.showError(err)
		}
		a.files = append(a.files, f)
		a.layout()
		return nil
	}
	var cmd tea.Cmd
	a.attachInput, cmd = a.attachInput.Update(msg)
	return cmd
}

func (a *AppView) closeAttach() {
	a.attachMode = false
	a.attachInput.Blur()
	a.textarea.Focus()
	a.layout()
}
