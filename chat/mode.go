package chat

import (
	"regexp"
	"strings"
)

// Mode selects how a submission is phrased for the relay.
type Mode string

const (
	ModeChat   Mode = "chat"
	ModeSearch Mode = "search"
	ModeImage  Mode = "image"
)

var searchTriggers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^search for`),
	regexp.MustCompile(`(?i)^find`),
	regexp.MustCompile(`(?i)^look up`),
	regexp.MustCompile(`(?i)^what is`),
	regexp.MustCompile(`(?i)^who is`),
	regexp.MustCompile(`(?i)^where is`),
	regexp.MustCompile(`(?i)^when did`),
	regexp.MustCompile(`(?i)^how to`),
	regexp.MustCompile(`(?i)^latest news about`),
	regexp.MustCompile(`(?i)^tell me about`),
	regexp.MustCompile(`(?i)^information about`),
	regexp.MustCompile(`(?i)^details about`),
	regexp.MustCompile(`(?i)^news about`),
	regexp.MustCompile(`(?i)^updates on`),
	regexp.MustCompile(`(?i)^recent developments in`),
	regexp.MustCompile(`(?i)^trending in`),
	regexp.MustCompile(`(?i)^best`),
	regexp.MustCompile(`(?i)^top`),
	regexp.MustCompile(`(?i)^compare`),
	regexp.MustCompile(`(?i)^difference between`),
}

// LooksLikeSearch reports whether text reads like a web search query.
func LooksLikeSearch(text string) bool {
	text = strings.TrimSpace(text)
	for _, re := range searchTriggers {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// DetectMode switches chat mode to search while the user types a query that
// looks like one. Explicitly chosen modes are left alone.
func DetectMode(text string, current Mode) Mode {
	if current == ModeChat && LooksLikeSearch(text) {
		return ModeSearch
	}
	return current
}

// Prepare rewrites text for the mode.
func (m Mode) Prepare(text string) string {
	text = strings.TrimSpace(text)
	switch m {
	case ModeSearch:
		return "search online for " + text
	case ModeImage:
		return "generate an image of " + text
	default:
		return text
	}
}

// ForcesSearch reports whether submissions in this mode ask the relay to
// search the web.
func (m Mode) ForcesSearch() bool {
	return m == ModeSearch
}

// Toggle returns target, or chat when target is already selected.
func (m Mode) Toggle(target Mode) Mode {
	if m == target {
		return ModeChat
	}
	return target
}
