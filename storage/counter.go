package storage

import (
	"strconv"
	"strings"
)

// Counter is the number of completed turns across all conversations. It
// only grows; deleting conversations does not lower it.
type Counter struct {
	store *Store
}

func parseCount(raw []byte) int {
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Load returns the current count. A missing or unreadable value counts as 0.
func (c *Counter) Load() (int, error) {
	raw, _, err := get(c.store.db, KeyQuestionCount)
	if err != nil {
		return 0, err
	}
	return parseCount(raw), nil
}

// Increment adds one and returns the new count.
func (c *Counter) Increment() (int, error) {
	var n int
	err := c.store.db.update(KeyQuestionCount, func(current []byte) ([]byte, error) {
		n = parseCount(current) + 1
		return []byte(strconv.Itoa(n)), nil
	})
	if err != nil {
		return 0, err
	}
	c.store.changed(KeyQuestionCount)
	return n, nil
}
