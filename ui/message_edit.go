package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"

	"miku/model"
)

// messageCursor picks a message of the open chat for editing or deletion.
// index addresses the stored message list, system messages included.
type messageCursor struct {
	active  bool
	index   int
	editing bool
	input   textarea.Model
}

func newMessageCursor() messageCursor {
	in := textarea.New()
	in.ShowLineNumbers = false
	in.CharLimit = 0
	in.SetHeight(3)
	in.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter"))
	return messageCursor{input: in}
}

// selectMessages enters selection on the last message.
func (a *AppView) selectMessages() {
	last := len(a.messages) - 1
	for last >= 0 && a.messages[last].Role == model.RoleSystem {
		last--
	}
	if last < 0 {
		return
	}
	a.cursor.active = true
	a.cursor.index = last
	a.textarea.Blur()
	a.refreshViewport(false)
}

func (a *AppView) leaveSelection() {
	a.cursor.active = false
	a.cursor.editing = false
	a.cursor.input.Blur()
	a.textarea.Focus()
	a.refreshViewport(false)
}

// moveCursor steps over system messages.
func (a *AppView) moveCursor(delta int) {
	for i := a.cursor.index + delta; i >= 0 && i < len(a.messages); i += delta {
		if a.messages[i].Role != model.RoleSystem {
			a.cursor.index = i
			break
		}
	}
	a.refreshViewport(false)
}

func (a *AppView) handleMessageKey(msg tea.KeyMsg) tea.Cmd {
	if a.cursor.index >= len(a.messages) {
		a.leaveSelection()
		return nil
	}

	if a.cursor.editing {
		switch msg.String() {
		case "esc":
			a.cursor.editing = false
			a.cursor.input.Blur()
			a.layout()
			return nil
		case "enter":
			content := a.cursor.input.Value()
			if strings.TrimSpace(content) == "" {
				return nil
			}
			index := a.cursor.index
			a.leaveSelection()
			return a.editMessage(index, content)
		}
		var cmd tea.Cmd
		a.cursor.input, cmd = a.cursor.input.Update(msg)
		return cmd
	}

	switch msg.String() {
	case "esc", "ctrl+e", "q":
		a.leaveSelection()
	case "up", "k":
		a.moveCursor(-1)
	case "down", "j":
		a.moveCursor(1)
	case "e":
		if a.deps.Controller.Busy() {
			return a.showError(model.ErrTurnInFlight)
		}
		a.cursor.editing = true
		a.cursor.input.SetValue(a.messages[a.cursor.index].Content)
		a.cursor.input.Focus()
		a.layout()
	case "d", "delete":
		if a.deps.Controller.Busy() {
			return a.showError(model.ErrTurnInFlight)
		}
		index := a.cursor.index
		a.leaveSelection()
		return a.deleteMessage(index)
	}
	return nil
}

func (a AppView) editMessage(index int, content string) tea.Cmd {
	ctrl, slug := a.deps.Controller, a.slug
	return func() tea.Msg {
		if err := ctrl.EditMessage(slug, index, content); err != nil {
			return noticeMsg{err: err}
		}
		return noticeMsg{text: "Message updated"}
	}
}

func (a AppView) deleteMessage(index int) tea.Cmd {
	ctrl, slug := a.deps.Controller, a.slug
	return func() tea.Msg {
		if err := ctrl.DeleteMessage(slug, index); err != nil {
			return noticeMsg{err: err}
		}
		return noticeMsg{text: "Message deleted"}
	}
}

// selectionBanner heads the selected message in the viewport.
func selectionBanner(role model.Role) string {
	return SelectedStyle.Render(fmt.Sprintf("▸ %s message: e edit · d delete · esc done", role))
}
