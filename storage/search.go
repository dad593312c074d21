package storage

import (
	"strings"

	"github.com/sahilm/fuzzy"

	"miku/model"
)

// Search returns conversations whose title fuzzily matches query, best
// match first. An empty query returns the full list.
func (c *ConversationStore) Search(query string) ([]model.ConversationRecord, error) {
	chats, err := c.List()
	if err != nil {
		return nil, err
	}
	return FilterConversations(chats, query), nil
}

// FilterConversations fuzzy-matches query against titles. Untitled
// conversations are matched by the text their slug was built from.
func FilterConversations(chats []model.ConversationRecord, query string) []model.ConversationRecord {
	if strings.TrimSpace(query) == "" {
		return chats
	}
	targets := make([]string, len(chats))
	for i, c := range chats {
		targets[i] = DisplayTitle(c)
	}
	matches := fuzzy.Find(query, targets)
	out := make([]model.ConversationRecord, len(matches))
	for i, m := range matches {
		out[i] = chats[m.Index]
	}
	return out
}

// DisplayTitle is the sidebar label for a conversation.
func DisplayTitle(c model.ConversationRecord) string {
	if t := strings.TrimSpace(c.Title); t != "" {
		return t
	}
	if q := QueryFromSlug(c.Slug); q != "" {
		return q
	}
	return "New chat"
}

// MessageMatch is one message containing a search term.
type MessageMatch struct {
	ConversationID string
	Slug           string
	Title          string
	MessageIndex   int
	Role           model.Role
	Preview        string
}

// SearchMessages finds query (case-insensitive) in the content of every
// stored message, excluding system messages.
func (c *ConversationStore) SearchMessages(query string) ([]MessageMatch, error) {
	if query == "" {
		return []MessageMatch{}, nil
	}
	chats, err := c.List()
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	var matches []MessageMatch
	for _, chat := range chats {
		for i, msg := range chat.Messages {
			if msg.Role == model.RoleSystem || !strings.Contains(strings.ToLower(msg.Content), needle) {
				continue
			}
			matches = append(matches, MessageMatch{
				ConversationID: chat.ID,
				Slug:           chat.Slug,
				Title:          DisplayTitle(chat),
				MessageIndex:   i,
				Role:           msg.Role,
				Preview:        preview(msg.Content, 100),
			})
		}
	}
	return matches, nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
