// Package stream decodes and encodes the newline-delimited JSON events the
// completion relay streams for one turn.
package stream

import "miku/model"

// Event is one decoded line. A nil pointer (or empty Content/CurrentAction)
// means the key was absent and the corresponding field must not change.
type Event struct {
	Content           string                `json:"content,omitempty"`
	Actions           *[]model.Action       `json:"actions,omitempty"`
	CurrentAction     model.Status          `json:"currentAction,omitempty"`
	SearchResults     *[]model.SearchResult `json:"searchResults,omitempty"`
	Sources           *[]model.SearchResult `json:"sources,omitempty"`
	SearchImages      *[]model.SearchImage  `json:"searchImages,omitempty"`
	FollowupQuestions *[]string             `json:"followupQuestions,omitempty"`
}

// Citations returns the replacement citation list carried by the event,
// accepting both the searchResults key and its sources alias.
func (e Event) Citations() *[]model.SearchResult {
	if e.SearchResults != nil {
		return e.SearchResults
	}
	return e.Sources
}

// IsDone reports whether the event closes the turn.
func (e Event) IsDone() bool {
	return e.CurrentAction == model.StatusDone
}

// Empty reports whether the event carries no update at all.
func (e Event) Empty() bool {
	return e.Content == "" && e.Actions == nil && e.CurrentAction == "" &&
		e.Citations() == nil && e.SearchImages == nil && e.FollowupQuestions == nil
}

// Ptr is a small helper for building events with replacement lists.
func Ptr[T any](v T) *T {
	return &v
}
