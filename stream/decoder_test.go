package stream

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"miku/model"
)

// chunkReader returns the payload split at the given offsets, one piece per Read.
type chunkReader struct {
	pieces [][]byte
}

func newChunkReader(payload string, cuts ...int) *chunkReader {
	r := &chunkReader{}
	prev := 0
	for _, c := range cuts {
		r.pieces = append(r.pieces, []byte(payload[prev:c]))
		prev = c
	}
	r.pieces = append(r.pieces, []byte(payload[prev:]))
	return r
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.pieces) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.pieces[0])
	r.pieces[0] = r.pieces[0][n:]
	if len(r.pieces[0]) == 0 {
		r.pieces = r.pieces[1:]
	}
	return n, nil
}

const samplePayload = `{"currentAction":"thinking","actions":[{"status":"thinking","stepType":"assistant","message":"Miku is thinking..."}]}
{"content":"Hel"}
{"content":"lo, ünïcødé 🐱"}
{"searchResults":[{"title":"K2","url":"https://example.com/k2","content":"8,611 m"}]}
{"followupQuestions":["Who climbed it first?"]}
{"currentAction":"done"}
`

func TestChunkBoundaryIndependence(t *testing.T) {
	want, err := NewDecoder(strings.NewReader(samplePayload), nil).Collect()
	require.NoError(t, err)
	require.Len(t, want, 6)

	t.Run("one byte at a time", func(t *testing.T) {
		got, err := NewDecoder(iotest.OneByteReader(strings.NewReader(samplePayload)), nil).Collect()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("data with EOF", func(t *testing.T) {
		got, err := NewDecoder(iotest.DataErrReader(strings.NewReader(samplePayload)), nil).Collect()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	for cut := 1; cut < len(samplePayload); cut += 7 {
		got, err := NewDecoder(newChunkReader(samplePayload, cut), nil).Collect()
		require.NoError(t, err)
		assert.Equal(t, want, got, "split at %d", cut)
	}
}

func TestTwoReadsScenario(t *testing.T) {
	r := newChunkReader("{\"content\":\"Hel\"}\n{\"content\":\"lo\"}\n{\"currentAction\":\"done\"}\n", len("{\"content\":\"Hel\"}\n"))
	events, err := NewDecoder(r, nil).Collect()
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "Hel", events[0].Content)
	assert.Equal(t, "lo", events[1].Content)
	assert.True(t, events[2].IsDone())
}

func TestMalformedLineIsSkipped(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	payload := "{\"content\":\"a\"}\nnot-json\n{\"content\":\"b\"}\n"

	events, err := NewDecoder(strings.NewReader(payload), zap.New(core)).Collect()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].Content)
	assert.Equal(t, "b", events[1].Content)
	assert.Equal(t, 1, logs.FilterMessage("skipping malformed stream event").Len())
}

func TestRemainderWithoutNewline(t *testing.T) {
	events, err := NewDecoder(strings.NewReader("{\"content\":\"a\"}\n{\"content\":\"tail\"}"), nil).Collect()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "tail", events[1].Content)
}

func TestBrokenRemainderIsDropped(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	events, err := NewDecoder(strings.NewReader("{\"content\":\"a\"}\n{\"content\":"), zap.New(core)).Collect()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, logs.Len())
}

func TestBlankLinesAndCRLF(t *testing.T) {
	events, err := NewDecoder(strings.NewReader("\n\r\n{\"content\":\"x\"}\r\n   \n"), nil).Collect()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "x", events[0].Content)
}

func TestReadFailureSurfacesAfterDecodedEvents(t *testing.T) {
	r := io.MultiReader(strings.NewReader("{\"content\":\"a\"}\n"), iotest.ErrReader(errors.New("connection reset")))
	d := NewDecoder(r, nil)

	ev, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", ev.Content)

	_, err = d.Next()
	var netErr *model.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Contains(t, err.Error(), "connection reset")

	_, err = d.Next()
	assert.ErrorAs(t, err, &netErr, "decoder stays failed")
}

func TestEventPresenceSemantics(t *testing.T) {
	events, err := NewDecoder(strings.NewReader(`{"actions":[]}
{"sources":[{"title":"t","url":"u","content":"c"}]}
{"searchImages":null}
`), nil).Collect()
	require.NoError(t, err)
	require.Len(t, events, 3)

	require.NotNil(t, events[0].Actions)
	assert.Empty(t, *events[0].Actions)

	require.NotNil(t, events[1].Citations())
	assert.Equal(t, "t", (*events[1].Citations())[0].Title)

	assert.Nil(t, events[2].SearchImages)
	assert.True(t, events[2].Empty())
}

func TestOpen(t *testing.T) {
	t.Run("non-2xx fails before events", func(t *testing.T) {
		resp := &http.Response{StatusCode: http.StatusBadGateway, Body: io.NopCloser(strings.NewReader("upstream down"))}
		d, err := Open(resp, nil)
		assert.Nil(t, d)
		var netErr *model.NetworkError
		require.ErrorAs(t, err, &netErr)
		assert.Equal(t, http.StatusBadGateway, netErr.StatusCode)
		assert.Contains(t, err.Error(), "upstream down")
	})

	t.Run("missing body", func(t *testing.T) {
		_, err := Open(&http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil)
		var netErr *model.NetworkError
		assert.ErrorAs(t, err, &netErr)
	})

	t.Run("nil response", func(t *testing.T) {
		_, err := Open(nil, nil)
		var netErr *model.NetworkError
		assert.ErrorAs(t, err, &netErr)
	})

	t.Run("ok", func(t *testing.T) {
		resp := &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("{\"content\":\"hi\"}\n"))}
		d, err := Open(resp, nil)
		require.NoError(t, err)
		events, err := d.Collect()
		require.NoError(t, err)
		require.Len(t, events, 1)
	})
}

func TestWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	assert.False(t, w.Started())

	sent := []Event{
		{CurrentAction: model.StatusThinking},
		{Content: "<b>bold</b> & more"},
		{SearchImages: Ptr([]model.SearchImage{{URL: "https://img"}})},
		{CurrentAction: model.StatusDone},
	}
	for _, ev := range sent {
		require.NoError(t, w.Write(ev))
	}
	assert.True(t, w.Started())
	assert.Equal(t, 4, strings.Count(buf.String(), "\n"))
	assert.Contains(t, buf.String(), "<b>bold</b>", "html is not escaped")

	got, err := NewDecoder(&buf, nil).Collect()
	require.NoError(t, err)
	assert.Equal(t, sent, got)
}

type closeTracker struct {
	*strings.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestCloseStopsDecoding(t *testing.T) {
	body := &closeTracker{Reader: strings.NewReader("{\"content\":\"a\"}\n")}
	dec := NewDecoder(body, nil)
	require.NoError(t, dec.Close())
	assert.True(t, body.closed)

	_, err := dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}
