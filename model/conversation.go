package model

// ConversationRecord is the durable copy of one chat as held by the local store.
type ConversationRecord struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Slug     string    `json:"slug"`
	Messages []Message `json:"messages"`
	// LastUpdated is unix milliseconds.
	LastUpdated int64 `json:"timestamp"`
	// Version increases on every message write and guards against
	// stale writers. Renames leave it alone.
	Version int64 `json:"version"`
}

// DeriveTitle returns the title the record should carry for messages. A
// title already set, by an earlier turn or a rename, is kept; an untitled
// record takes the first message's content when it is a user message.
func DeriveTitle(current string, messages []Message) string {
	if current == "" && len(messages) > 0 && messages[0].Role == RoleUser {
		return messages[0].Content
	}
	return current
}

// DomainPreferences narrows delegated web search to or away from domains.
type DomainPreferences struct {
	IncludeDomains []string `json:"includeDomains"`
	ExcludeDomains []string `json:"excludeDomains"`
}

// Normalized replaces nil lists with empty ones so the JSON form is stable.
func (p DomainPreferences) Normalized() DomainPreferences {
	if p.IncludeDomains == nil {
		p.IncludeDomains = []string{}
	}
	if p.ExcludeDomains == nil {
		p.ExcludeDomains = []string{}
	}
	return p
}
