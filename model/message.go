package model

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status is the progress of the remote generation process for one turn.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusThinking  Status = "thinking"
	StatusSearching Status = "searching"
	StatusTyping    Status = "typing"
	StatusDone      Status = "done"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusThinking, StatusSearching, StatusTyping, StatusDone:
		return true
	}
	return false
}

// Attachment is the metadata of a file sent with a user message. The bytes
// travel in the request only; they are never persisted.
type Attachment struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Action is one unit of progress reported by the relay.
type Action struct {
	Status    Status `json:"status"`
	StepType  string `json:"stepType"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// SearchResult is a citation attached to an assistant message.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// SearchImage is an image surfaced by search and attached to an assistant message.
type SearchImage struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// Message is a single entry of a conversation. Assistant content grows while
// a turn streams.
type Message struct {
	Role              Role           `json:"role"`
	Content           string         `json:"content"`
	Files             []Attachment   `json:"files,omitempty"`
	Sources           []SearchResult `json:"sources,omitempty"`
	SearchImages      []SearchImage  `json:"searchImages,omitempty"`
	Actions           []Action       `json:"actions,omitempty"`
	CurrentAction     Status         `json:"currentAction,omitempty"`
	FollowupQuestions []string       `json:"followupQuestions,omitempty"`
}

// Clone returns a deep copy so reducers never alias slices of the input.
func (m Message) Clone() Message {
	out := m
	out.Files = cloneSlice(m.Files)
	out.Sources = cloneSlice(m.Sources)
	out.SearchImages = cloneSlice(m.SearchImages)
	out.Actions = cloneSlice(m.Actions)
	out.FollowupQuestions = cloneSlice(m.FollowupQuestions)
	return out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

// CloneMessages deep-copies a message list.
func CloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}

// LastIndexOf returns the index of the last message with the given role, or -1.
func LastIndexOf(messages []Message, role Role) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == role {
			return i
		}
	}
	return -1
}
