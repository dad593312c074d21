package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"miku/model"
	"miku/storage"
)

type ConfirmationState struct {
	Active  bool
	Title   string
	Message string
}

func RenderConfirmationModal(state ConfirmationState, width, height int) string {
	return renderModal(state.Title, warningColor, state.Message, FormatFooter("y", "Yes", "n", "No"), width, height)
}

func renderDeleteConfirmation(rec model.ConversationRecord, width, height int) string {
	warningText := lipgloss.NewStyle().Foreground(dangerColor).Render("This action cannot be undone.")
	return RenderConfirmationModal(ConfirmationState{
		Active:  true,
		Title:   "⚠ Delete Chat",
		Message: fmt.Sprintf("Are you sure you want to delete:\n\n\"%s\"\n\n%s", storage.DisplayTitle(rec), warningText),
	}, width, height)
}

// renderLimitModal is shown once the question counter reaches the limit.
func renderLimitModal(limit, width, height int) string {
	msg := fmt.Sprintf("You have asked %d questions, the most this client allows.\n\n"+
		"Existing chats stay readable. New questions are refused\nuntil the counter is reset.", limit)
	return renderModal("Question limit reached", warningColor, msg, FormatFooter("Enter", "Acknowledge"), width, height)
}
