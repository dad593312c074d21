// Package session applies streamed events to conversation state and tracks
// the status of the active turn.
package session

import (
	"miku/model"
	"miku/stream"
)

// Apply merges ev into the most recent assistant message and returns a new
// list. The input is never modified. Without an assistant message the event
// is a no-op.
func Apply(messages []model.Message, ev stream.Event) []model.Message {
	return ApplyAt(messages, model.LastIndexOf(messages, model.RoleAssistant), ev)
}

// ApplyAt merges ev into messages[idx]. An index that is out of range or
// that does not address an assistant message leaves the list unchanged.
func ApplyAt(messages []model.Message, idx int, ev stream.Event) []model.Message {
	out := model.CloneMessages(messages)
	if idx < 0 || idx >= len(out) || out[idx].Role != model.RoleAssistant {
		return out
	}
	out[idx] = merge(out[idx], ev)
	return out
}

// merge concatenates content and replaces every list field the event
// carries. The relay is authoritative for lists, so they are never merged.
func merge(m model.Message, ev stream.Event) model.Message {
	if ev.Content != "" {
		m.Content += ev.Content
	}
	if ev.Actions != nil {
		m.Actions = replace(ev.Actions)
	}
	if c := ev.Citations(); c != nil {
		m.Sources = replace(c)
	}
	if ev.SearchImages != nil {
		m.SearchImages = replace(ev.SearchImages)
	}
	if ev.FollowupQuestions != nil {
		m.FollowupQuestions = replace(ev.FollowupQuestions)
	}
	if ev.CurrentAction != "" {
		m.CurrentAction = ev.CurrentAction
	}
	return m
}

// replace copies a present list. An empty list clears the field.
func replace[T any](p *[]T) []T {
	if len(*p) == 0 {
		return nil
	}
	return append([]T(nil), (*p)...)
}
