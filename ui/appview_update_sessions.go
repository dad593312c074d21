package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"miku/model"
	"miku/storage"
)

func (a *AppView) setChats(chats []model.ConversationRecord) {
	a.chats = chats
	a.applyFilter()
}

// applyFilter refreshes the visible sidebar list from the filter input.
func (a *AppView) applyFilter() {
	a.filtered = storage.FilterConversations(a.chats, a.filterInput.Value())
	if a.selectedChat >= len(a.filtered) {
		a.selectedChat = max(len(a.filtered)-1, 0)
	}
}

func (a AppView) selected() (model.ConversationRecord, bool) {
	if a.selectedChat < 0 || a.selectedChat >= len(a.filtered) {
		return model.ConversationRecord{}, false
	}
	return a.filtered[a.selectedChat], true
}

// openChat switches the view to slug. A running turn keeps streaming into
// its own conversation in the background.
func (a *AppView) openChat(slug string) tea.Cmd {
	a.slug = slug
	a.messages = nil
	a.status = a.deps.Controller.Status(slug)
	a.refreshViewport(true)
	return a.loadConversation(slug)
}

func (a *AppView) newChat() {
	a.slug = ""
	a.messages = nil
	a.status = model.StatusIdle
	a.files = nil
	a.focus = focusInput
	a.textarea.Focus()
	a.refreshViewport(true)
}

func (a *AppView) handleSidebarKey(msg tea.KeyMsg) tea.Cmd {
	if a.filterMode {
		switch msg.String() {
		case "esc":
			a.filterMode = false
			a.filterInput.SetValue("")
			a.filterInput.Blur()
			a.applyFilter()
			return nil
		case "enter":
			a.filterMode = false
			a.filterInput.Blur()
			return nil
		case "up", "ctrl+k":
			a.moveSelection(-1)
			return nil
		case "down", "ctrl+j":
			a.moveSelection(1)
			return nil
		}
		var cmd tea.Cmd
		a.filterInput, cmd = a.filterInput.Update(msg)
		a.applyFilter()
		return cmd
	}

	if a.renameMode {
		switch msg.String() {
		case "esc":
			a.renameMode = false
			a.renameInput.Blur()
			return nil
		case "enter":
			a.renameMode = false
			a.renameInput.Blur()
			rec, ok := a.selected()
			title := strings.TrimSpace(a.renameInput.Value())
			if !ok || title == "" {
				return nil
			}
			store := a.deps.Store
			return func() tea.Msg {
				if err := store.Conversations.Rename(rec.ID, title); err != nil {
					return noticeMsg{err: err}
				}
				return noticeMsg{text: "Renamed chat"}
			}
		}
		var cmd tea.Cmd
		a.renameInput, cmd = a.renameInput.Update(msg)
		return cmd
	}

	switch msg.String() {
	case "j", "down":
		a.moveSelection(1)
	case "k", "up":
		a.moveSelection(-1)
	case "g":
		a.selectedChat = 0
	case "G":
		a.selectedChat = max(len(a.filtered)-1, 0)
	case "/":
		a.filterMode = true
		a.filterInput.Focus()
	case "enter":
		if rec, ok := a.selected(); ok {
			a.focus = focusInput
			a.textarea.Focus()
			return a.openChat(rec.Slug)
		}
	case "r":
		if rec, ok := a.selected(); ok {
			a.renameMode = true
			a.renameInput.SetValue(storage.DisplayTitle(rec))
			a.renameInput.Focus()
		}
	case "d", "delete":
		if rec, ok := a.selected(); ok {
			if a.deps.Controller.Active(rec.Slug) {
				a.notice = "Wait for the reply to finish before deleting this chat"
				return nil
			}
			a.confirmDelete = &rec
		}
	case "x":
		return a.exportCurrent()
	}
	return nil
}

func (a *AppView) moveSelection(delta int) {
	if len(a.filtered) == 0 {
		a.selectedChat = 0
		return
	}
	a.selectedChat = (a.selectedChat + delta + len(a.filtered)) % len(a.filtered)
}

func (a *AppView) handleDeleteConfirmKey(msg tea.KeyMsg) tea.Cmd {
	rec := a.confirmDelete
	switch msg.String() {
	case "y", "Y":
		a.confirmDelete = nil
		if rec.Slug == a.slug {
			a.newChat()
		}
		store := a.deps.Store
		return func() tea.Msg {
			if err := store.Conversations.Delete(rec.ID); err != nil {
				return noticeMsg{err: err}
			}
			return noticeMsg{text: "Deleted chat"}
		}
	case "n", "N", "esc":
		a.confirmDelete = nil
	}
	return nil
}

func (a AppView) renderSidebar() string {
	width := sidebarWidth
	var b strings.Builder

	title := TitleStyle.Render("Chats")
	if a.focus == focusSidebar {
		title = SelectedStyle.Render("Chats")
	}
	b.WriteString(title + "\n")

	switch {
	case a.filterMode:
		b.WriteString(a.filterInput.View() + "\n")
	case a.filterInput.Value() != "":
		b.WriteString(DimStyle.Render(fmt.Sprintf("%d of %d (%q)", len(a.filtered), len(a.chats), a.filterInput.Value())) + "\n")
	default:
		b.WriteString(DimStyle.Render(fmt.Sprintf("%d chats", len(a.chats))) + "\n")
	}
	if a.renameMode {
		b.WriteString(a.renameInput.View() + "\n")
	}
	b.WriteString("\n")

	if len(a.filtered) == 0 {
		b.WriteString(DimStyle.Render("No chats yet"))
		return b.String()
	}

	rows := max(a.height-6, 1)
	start := 0
	if a.selectedChat >= rows {
		start = a.selectedChat - rows + 1
	}
	for i := start; i < len(a.filtered) && i < start+rows; i++ {
		rec := a.filtered[i]
		label := oneLine(storage.DisplayTitle(rec), width-3)
		style := lipgloss.NewStyle()
		prefix := "  "
		if rec.Slug == a.slug {
			style = AssistantStyle
		}
		if i == a.selectedChat && a.focus == focusSidebar {
			style = SelectedStyle
			prefix = "▶ "
		}
		b.WriteString(prefix + style.Render(label) + "\n")
	}
	return b.String()
}
