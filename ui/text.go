package ui

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// wrap breaks text at word boundaries so no line is wider than width cells.
// Existing line breaks are kept, and words wider than a line are split.
func wrap(text string, width int) string {
	if width <= 0 {
		return text
	}
	var out []string
	for _, para := range strings.Split(text, "\n") {
		if runewidth.StringWidth(para) <= width {
			out = append(out, para)
			continue
		}
		line := ""
		for _, word := range strings.Fields(para) {
			for runewidth.StringWidth(word) > width {
				if line != "" {
					out = append(out, line)
					line = ""
				}
				chunk := runewidth.Truncate(word, width, "")
				out = append(out, chunk)
				word = word[len(chunk):]
			}
			switch {
			case line == "":
				line = word
			case runewidth.StringWidth(line)+1+runewidth.StringWidth(word) > width:
				out = append(out, line)
				line = word
			default:
				line += " " + word
			}
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// oneLine collapses whitespace and truncates s to n cells.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if n <= 0 {
		return ""
	}
	return runewidth.Truncate(s, n, "…")
}
