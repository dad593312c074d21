package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"miku/model"
)

const readChunkSize = 4096

// maxErrorBody bounds how much of a failed response is kept for the error.
const maxErrorBody = 1024

// Decoder yields events from a response body in arrival order. It is lazy,
// finite and cannot be restarted.
type Decoder struct {
	r       io.Reader
	logger  *zap.Logger
	chunk   []byte
	buf     []byte
	pending []Event
	done    bool
	err     error
}

// Open validates resp and returns a decoder over its body. A non-2xx status
// or a missing body fails before any event is produced; the body is closed
// in that case.
func Open(resp *http.Response, logger *zap.Logger) (*Decoder, error) {
	if resp == nil {
		return nil, &model.NetworkError{Err: errors.New("no response")}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var detail string
		if resp.Body != nil {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			_ = resp.Body.Close()
			detail = string(bytes.TrimSpace(b))
		}
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return nil, &model.NetworkError{StatusCode: resp.StatusCode, Err: errors.New(detail)}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, &model.NetworkError{StatusCode: resp.StatusCode, Err: errors.New("response body is not readable")}
	}
	return NewDecoder(resp.Body, logger), nil
}

// NewDecoder wraps r. A nil logger discards diagnostics.
func NewDecoder(r io.Reader, logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{
		r:      r,
		logger: logger,
		chunk:  make([]byte, readChunkSize),
	}
}

// Next returns the next event, io.EOF once the stream is exhausted, or a
// *model.NetworkError if reading failed. Events decoded before a read
// failure are still returned first.
func (d *Decoder) Next() (Event, error) {
	for {
		if len(d.pending) > 0 {
			ev := d.pending[0]
			d.pending = d.pending[1:]
			return ev, nil
		}
		if d.done {
			if d.err != nil {
				return Event{}, d.err
			}
			return Event{}, io.EOF
		}

		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.buf = append(d.buf, d.chunk[:n]...)
			d.splitLines()
		}
		switch {
		case errors.Is(err, io.EOF):
			d.flushRemainder()
			d.done = true
		case err != nil:
			d.done = true
			d.err = &model.NetworkError{Err: fmt.Errorf("read stream: %w", err)}
		}
	}
}

// splitLines moves every complete line out of the buffer and keeps the
// trailing partial line for the next read.
func (d *Decoder) splitLines() {
	start := 0
	for {
		idx := bytes.IndexByte(d.buf[start:], '\n')
		if idx < 0 {
			break
		}
		d.parse(d.buf[start : start+idx])
		start += idx + 1
	}
	if start > 0 {
		d.buf = append(d.buf[:0], d.buf[start:]...)
	}
}

func (d *Decoder) flushRemainder() {
	if len(d.buf) == 0 {
		return
	}
	d.parse(d.buf)
	d.buf = d.buf[:0]
}

func (d *Decoder) parse(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		derr := &model.DecodeError{Line: string(line), Err: err}
		d.logger.Warn("skipping malformed stream event", zap.Error(derr))
		return
	}
	d.pending = append(d.pending, ev)
}

// Collect drains the decoder. It is mostly useful in tests and tools.
func (d *Decoder) Collect() ([]Event, error) {
	var events []Event
	for {
		ev, err := d.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

// Close releases the underlying reader when it is closable.
func (d *Decoder) Close() error {
	d.done = true
	if c, ok := d.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
