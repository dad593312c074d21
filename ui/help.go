package ui

import (
	"github.com/charmbracelet/lipgloss"
)

func (a AppView) renderHelpModal(width, height int) string {
	green := lipgloss.NewStyle().
		Bold(true).
		Foreground(successColor)

	title := green.Render("Miku - Keyboard Shortcuts")
	if a.deps.Version != "" {
		title += DimStyle.Render(" v" + a.deps.Version)
	}

	blue := lipgloss.NewStyle().Foreground(accentColor)

	globalActions := lipgloss.JoinVertical(
		lipgloss.Left,
		blue.Render("## Global Actions"),
		"• Ctrl+N        New chat",
		"• Tab           Switch chats / input",
		"• Ctrl+P        Search domain settings",
		"• F1            Toggle this help",
		"• Ctrl+C        Quit",
	)

	sidebar := lipgloss.JoinVertical(
		lipgloss.Left,
		blue.Render("## Chat List"),
		"• j/k           Move selection",
		"• /             Filter chats",
		"• Enter         Open chat",
		"• r             Rename chat",
		"• d             Delete chat",
		"• x             Export chat to JSON",
	)

	chatActions := lipgloss.JoinVertical(
		lipgloss.Left,
		blue.Render("## Chat Actions"),
		"• Enter         Send message",
		"• Alt+Enter     New line",
		"• Ctrl+S        Toggle web search mode",
		"• Ctrl+G        Toggle image mode",
		"• Ctrl+O        Attach a file",
		"• Alt+1..4      Ask a suggested question",
		"• Ctrl+Y        Copy last answer",
		"• Ctrl+E        Pick a message, then e edits, d deletes",
		"• Alt+D         Save answer images",
		"• PgUp/PgDn     Scroll",
	)

	tips := lipgloss.JoinVertical(
		lipgloss.Left,
		blue.Render("## Tips"),
		"• Questions that start with \"what is\",",
		"  \"how to\" or \"compare\" search the web",
		"• Chats keep streaming in the background",
	)

	column1 := lipgloss.JoinVertical(lipgloss.Left, globalActions, "", sidebar, "", tips)
	columnStyle := lipgloss.NewStyle().Width(44).PaddingLeft(4)

	twoColumns := lipgloss.JoinHorizontal(
		lipgloss.Top,
		columnStyle.Render(column1),
		"  ",
		columnStyle.Render(chatActions),
	)

	footer := lipgloss.NewStyle().
		Foreground(dimColor).
		Render("Press F1 or Esc to close this help")

	content := lipgloss.JoinVertical(
		lipgloss.Center,
		title,
		"",
		twoColumns,
		"",
		footer,
	)

	helpBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(1, 2).
		Width(min(100, max(width-4, 40)))

	return lipgloss.Place(
		width,
		height,
		lipgloss.Center,
		lipgloss.Center,
		helpBox.Render(content),
	)
}
