package session

import (
	"miku/model"
	"miku/stream"
)

// Turn is one user submission and the assistant reply being streamed into
// it. The reply is addressed by index rather than by scanning for the last
// assistant message.
type Turn struct {
	messages []model.Message
	active   int
	closed   bool
}

// NewTurn wraps messages as they are, targeting the last assistant message.
// A list without one yields a closed turn.
func NewTurn(messages []model.Message) *Turn {
	idx := model.LastIndexOf(messages, model.RoleAssistant)
	return &Turn{messages: model.CloneMessages(messages), active: idx, closed: idx < 0}
}

// BeginTurn appends user and an empty assistant placeholder to history.
func BeginTurn(history []model.Message, user model.Message) *Turn {
	msgs := model.CloneMessages(history)
	user.Role = model.RoleUser
	msgs = append(msgs, user, model.Message{
		Role:          model.RoleAssistant,
		CurrentAction: model.StatusIdle,
	})
	return &Turn{messages: msgs, active: len(msgs) - 1}
}

// Apply merges ev into the placeholder. It reports whether the event was
// accepted; events after the turn closed are ignored.
func (t *Turn) Apply(ev stream.Event) bool {
	if t.closed {
		return false
	}
	t.messages = ApplyAt(t.messages, t.active, ev)
	if ev.IsDone() {
		t.closed = true
	}
	return true
}

// Fail closes the turn and appends a terminal assistant message with text.
func (t *Turn) Fail(text string) {
	t.closed = true
	t.messages = append(t.messages, model.Message{Role: model.RoleAssistant, Content: text})
}

// Close ends the turn without a done event (stream ended early).
func (t *Turn) Close() {
	t.closed = true
}

func (t *Turn) Closed() bool {
	return t.closed
}

// ActiveIndex is the position of the assistant message being streamed.
func (t *Turn) ActiveIndex() int {
	return t.active
}

// Active returns a copy of the assistant message being streamed.
func (t *Turn) Active() model.Message {
	if t.active < 0 {
		return model.Message{}
	}
	return t.messages[t.active].Clone()
}

// Messages returns a copy of the whole conversation including the turn.
func (t *Turn) Messages() []model.Message {
	return model.CloneMessages(t.messages)
}
