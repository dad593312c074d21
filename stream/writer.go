package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Writer encodes events as newline-delimited JSON and flushes after each one
// when the destination supports it.
type Writer struct {
	mu      sync.Mutex
	enc     *json.Encoder
	flusher http.Flusher
	wrote   bool
}

func NewWriter(w io.Writer) *Writer {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	f, _ := w.(http.Flusher)
	return &Writer{enc: enc, flusher: f}
}

// Write emits ev as one line.
func (w *Writer) Write(ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.enc.Encode(ev); err != nil {
		return fmt.Errorf("encode stream event: %w", err)
	}
	w.wrote = true
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// Started reports whether any event has been written.
func (w *Writer) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wrote
}
