package ui

import (
	"miku/bus"
	"miku/model"
)

// busEventMsg wraps one notification read from the bus subscription.
type busEventMsg struct {
	event bus.Event
}

// busClosedMsg ends the subscription loop.
type busClosedMsg struct{}

// submitDoneMsg reports the end of Controller.Submit.
type submitDoneMsg struct {
	slug string
	err  error
}

type chatsLoadedMsg struct {
	chats []model.ConversationRecord
	err   error
}

type conversationLoadedMsg struct {
	slug     string
	messages []model.Message
	err      error
}

type preferencesLoadedMsg struct {
	prefs model.DomainPreferences
	err   error
}

type remainingMsg struct {
	remaining int
}

// clearErrorMsg hides the banner if it is still the same error.
type clearErrorMsg struct {
	seq int
}

type noticeMsg struct {
	text string
	err  error
}
