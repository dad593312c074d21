package storage

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
)

var (
	nonWord    = regexp.MustCompile(`[^\w\s-]`)
	whitespace = regexp.MustCompile(`\s+`)
	lastPart   = regexp.MustCompile(`-[^-]*$`)
)

const suffixAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewSlug builds a conversation address from its first message: lower-cased
// words joined by dashes plus a random 6-character suffix.
func NewSlug(text string) string {
	base := nonWord.ReplaceAllString(strings.ToLower(text), "")
	base = whitespace.ReplaceAllString(strings.TrimSpace(base), "-")
	if base == "" {
		base = "chat"
	}
	return base + "-" + randomSuffix(6)
}

// QueryFromSlug recovers the text a slug was built from, minus the suffix.
func QueryFromSlug(slug string) string {
	return strings.ReplaceAll(lastPart.ReplaceAllString(slug, ""), "-", " ")
}

func randomSuffix(n int) string {
	var b strings.Builder
	max := big.NewInt(int64(len(suffixAlphabet)))
	for range n {
		i, err := rand.Int(rand.Reader, max)
		if err != nil {
			b.WriteByte('0')
			continue
		}
		b.WriteByte(suffixAlphabet[i.Int64()])
	}
	return b.String()
}
