package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneDoesNotAlias(t *testing.T) {
	orig := Message{
		Role:              RoleAssistant,
		Sources:           []SearchResult{{Title: "a"}},
		FollowupQuestions: []string{"q1"},
	}
	c := orig.Clone()
	c.Sources[0].Title = "changed"
	c.FollowupQuestions[0] = "changed"

	assert.Equal(t, "a", orig.Sources[0].Title)
	assert.Equal(t, "q1", orig.FollowupQuestions[0])
}

func TestLastIndexOf(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser},
		{Role: RoleAssistant},
		{Role: RoleUser},
		{Role: RoleAssistant},
		{Role: RoleSystem},
	}
	assert.Equal(t, 3, LastIndexOf(msgs, RoleAssistant))
	assert.Equal(t, -1, LastIndexOf(msgs[:1], RoleAssistant))
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "hello", DeriveTitle("", []Message{{Role: RoleUser, Content: "hello"}}))
	assert.Equal(t, "kept", DeriveTitle("kept", []Message{{Role: RoleSystem, Content: "x"}}))
	assert.Equal(t, "kept", DeriveTitle("kept", nil))
	assert.Equal(t, "Renamed", DeriveTitle("Renamed", []Message{{Role: RoleUser, Content: "first"}}))
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusTyping.Valid())
	assert.False(t, Status("sleeping").Valid())
}

func TestErrorsUnwrap(t *testing.T) {
	base := errors.New("boom")
	wrapped := fmt.Errorf("submit: %w", &NetworkError{StatusCode: 502, Err: base})

	var netErr *NetworkError
	assert.True(t, errors.As(wrapped, &netErr))
	assert.Equal(t, 502, netErr.StatusCode)
	assert.ErrorIs(t, wrapped, base)
	assert.Equal(t, "Could not reach the assistant. Check your connection.", UserMessage(wrapped))

	up := &UpstreamError{Service: "auth", Err: base}
	assert.Contains(t, UserMessage(up), "session")
	assert.Empty(t, UserMessage(nil))
}
