package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miku/bus"
	"miku/model"
	"miku/session"
	"miku/storage"
)

const helloStream = `{"currentAction":"thinking","actions":[{"status":"thinking","stepType":"thinking","message":"Thinking"}]}
{"currentAction":"searching","searchResults":[{"title":"Go","url":"https://go.dev","content":"go"}]}
{"currentAction":"typing"}
{"content":"Hel"}
not json
{"content":"lo"}
{"followupQuestions":["Why?"]}
{"currentAction":"done"}
`

type harness struct {
	conv      *memConversations
	counter   *memCounter
	transport *scriptedTransport
	bus       *bus.Bus
	ctrl      *Controller
}

func newHarness(t *testing.T, body string) *harness {
	t.Helper()
	h := &harness{
		conv:      newMemConversations(),
		counter:   &memCounter{},
		transport: &scriptedTransport{body: body},
		bus:       bus.New(),
	}
	h.ctrl = NewController(h.conv, h.counter, staticPrefs{IncludeDomains: []string{"go.dev"}}, h.transport, Options{Bus: h.bus})
	return h
}

func TestSubmitRejectsEmpty(t *testing.T) {
	h := newHarness(t, helloStream)
	err := h.ctrl.Submit(context.Background(), "s", "   ", false, nil)
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, 0, h.transport.calls())
	assert.Nil(t, h.conv.messages("s"))
}

func TestSubmitAcceptsAttachmentOnly(t *testing.T) {
	h := newHarness(t, helloStream)
	err := h.ctrl.Submit(context.Background(), "s", "", false, []File{{Name: "a.txt", Type: "text/plain", Data: []byte("hi")}})
	require.NoError(t, err)
	msgs := h.conv.messages("s")
	assert.Equal(t, []model.Attachment{{Name: "a.txt", Type: "text/plain", Size: 2}}, msgs[0].Files)
}

func TestSubmitRefusedAtQuota(t *testing.T) {
	h := newHarness(t, helloStream)
	h.counter.n = DefaultQuestionLimit
	ch, unsub := h.bus.Subscribe(bus.KindQuotaLimitReached, 1)
	defer unsub()

	err := h.ctrl.Submit(context.Background(), "s", "hi", false, nil)
	assert.ErrorIs(t, err, model.ErrQuotaExceeded)
	assert.Equal(t, 0, h.transport.calls())

	select {
	case evt := <-ch:
		assert.Equal(t, QuotaReached{Count: DefaultQuestionLimit, Limit: DefaultQuestionLimit}, evt.Payload)
	case <-time.After(time.Second):
		t.Fatal("no quota event")
	}
}

func TestSubmitStreamsIntoConversation(t *testing.T) {
	h := newHarness(t, helloStream)

	var snapshots [][]model.Message
	h.conv.onSave = func(int) { snapshots = append(snapshots, h.conv.messages("s")) }

	require.NoError(t, h.ctrl.Submit(context.Background(), "s", "what is go", true, nil))

	msgs := h.conv.messages("s")
	require.Len(t, msgs, 2)
	assert.Equal(t, model.Message{Role: model.RoleUser, Content: "what is go"}, msgs[0])
	assert.Equal(t, "Hello", msgs[1].Content)
	assert.Equal(t, model.StatusDone, msgs[1].CurrentAction)
	assert.Equal(t, []string{"Why?"}, msgs[1].FollowupQuestions)
	require.Len(t, msgs[1].Sources, 1)

	// Placeholder first, then one save per decoded event.
	require.Len(t, snapshots, 8)
	assert.Equal(t, "", snapshots[0][1].Content)
	assert.Equal(t, "Hel", snapshots[4][1].Content)

	n, _ := h.counter.Load()
	assert.Equal(t, 1, n)
	assert.Equal(t, model.StatusIdle, h.ctrl.Status("s"))
	assert.False(t, h.ctrl.Busy())

	require.Equal(t, 1, h.transport.calls())
	req := h.transport.requests[0]
	require.Len(t, req.Messages, 2)
	assert.Equal(t, model.Message{Role: model.RoleSystem, Content: ForceSearchPrompt}, req.Messages[0])
	assert.True(t, req.SearchRequested())
	assert.Equal(t, []string{"go.dev"}, req.Preferences.IncludeDomains)
}

func TestSubmitContinuesHistory(t *testing.T) {
	h := newHarness(t, "{\"content\":\"second\"}\n{\"currentAction\":\"done\"}\n")
	require.NoError(t, h.ctrl.Submit(context.Background(), "s", "one", false, nil))
	require.NoError(t, h.ctrl.Submit(context.Background(), "s", "two", false, nil))

	msgs := h.conv.messages("s")
	require.Len(t, msgs, 4)
	assert.Equal(t, "two", msgs[2].Content)
	assert.Equal(t, "second", msgs[3].Content)

	req := h.transport.requests[1]
	require.Len(t, req.Messages, 3)
	assert.False(t, req.SearchRequested())
}

func TestSubmitPublishesStatusSequence(t *testing.T) {
	h := newHarness(t, helloStream)
	ch, unsub := h.bus.Subscribe(bus.KindStatusChanged, 32)
	defer unsub()

	require.NoError(t, h.ctrl.Submit(context.Background(), "s", "hi", false, nil))

	var got []model.Status
	for len(ch) > 0 {
		got = append(got, (<-ch).Payload.(session.StatusChange).To)
	}
	assert.Equal(t, []model.Status{
		model.StatusThinking, model.StatusSearching, model.StatusTyping, model.StatusDone, model.StatusIdle,
	}, got)
}

func TestSubmitNetworkFailureAppendsErrorReply(t *testing.T) {
	h := newHarness(t, "")
	h.transport.err = &model.NetworkError{StatusCode: 500, Err: errors.New("boom")}

	err := h.ctrl.Submit(context.Background(), "s", "hi", false, nil)
	var netErr *model.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, 500, netErr.StatusCode)

	msgs := h.conv.messages("s")
	require.Len(t, msgs, 3)
	assert.Equal(t, ErrorReply, msgs[2].Content)
	assert.Equal(t, model.RoleAssistant, msgs[2].Role)

	n, _ := h.counter.Load()
	assert.Equal(t, 0, n)
	assert.Equal(t, model.StatusIdle, h.ctrl.Status("s"))
}

func TestSubmitStaleWriteAborts(t *testing.T) {
	h := newHarness(t, helloStream)
	elsewhere := []model.Message{
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "written elsewhere"},
	}
	h.conv.onSave = func(n int) {
		if n == 2 {
			h.conv.overwrite("s", elsewhere)
		}
	}

	err := h.ctrl.Submit(context.Background(), "s", "hi", false, nil)
	assert.ErrorIs(t, err, model.ErrStaleWrite)

	// The other writer's messages are kept and the failure is recorded
	// after them.
	msgs := h.conv.messages("s")
	require.Len(t, msgs, 3)
	assert.Equal(t, elsewhere, msgs[:2])
	assert.Equal(t, model.Message{Role: model.RoleAssistant, Content: ErrorReply}, msgs[2])

	n, _ := h.counter.Load()
	assert.Equal(t, 0, n)
	assert.Equal(t, model.StatusIdle, h.ctrl.Status("s"))
	assert.False(t, h.ctrl.Active("s"))
}

// renamingStore renames the conversation after its second save.
type renamingStore struct {
	*storage.ConversationStore
	saves int
}

func (r *renamingStore) SaveMessages(id string, version int64, messages []model.Message) (int64, error) {
	v, err := r.ConversationStore.SaveMessages(id, version, messages)
	r.saves++
	if err == nil && r.saves == 2 {
		err = r.Rename(id, "Renamed")
	}
	return v, err
}

func TestRenameDuringTurnCompletes(t *testing.T) {
	store, err := storage.Open(t.TempDir(), nil, nil)
	require.NoError(t, err)
	defer store.Close()

	counter := &memCounter{}
	transport := &scriptedTransport{body: "{\"content\":\"Hel\"}\n{\"content\":\"lo\"}\n{\"currentAction\":\"done\"}\n"}
	conv := &renamingStore{ConversationStore: store.Conversations}
	ctrl := NewController(conv, counter, staticPrefs{}, transport, Options{})

	require.NoError(t, ctrl.Submit(context.Background(), "s", "first", false, nil))

	rec, err := store.Conversations.GetBySlug("s")
	require.NoError(t, err)
	require.Len(t, rec.Messages, 2)
	assert.Equal(t, "Hello", rec.Messages[1].Content)
	assert.Equal(t, model.StatusDone, rec.Messages[1].CurrentAction)
	assert.Equal(t, "Renamed", rec.Title)
	n, _ := counter.Load()
	assert.Equal(t, 1, n)

	require.NoError(t, ctrl.Submit(context.Background(), "s", "second", false, nil))
	rec, err = store.Conversations.GetBySlug("s")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", rec.Title)
}

func TestSubmitReadFailureKeepsPartialReply(t *testing.T) {
	h := newHarness(t, "{\"currentAction\":\"typing\"}\n{\"content\":\"Hel\"}\n")
	h.transport.readErr = errors.New("connection reset")

	err := h.ctrl.Submit(context.Background(), "s", "hi", false, nil)
	var netErr *model.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.ErrorContains(t, err, "connection reset")

	msgs := h.conv.messages("s")
	require.Len(t, msgs, 3)
	assert.Equal(t, "Hel", msgs[1].Content)
	assert.Equal(t, model.StatusTyping, msgs[1].CurrentAction)
	assert.Equal(t, model.Message{Role: model.RoleAssistant, Content: ErrorReply}, msgs[2])

	n, _ := h.counter.Load()
	assert.Equal(t, 0, n)
	assert.Equal(t, model.StatusIdle, h.ctrl.Status("s"))
	assert.False(t, h.ctrl.Busy())
}

func TestSubmitOneTurnInFlight(t *testing.T) {
	h := newHarness(t, helloStream)
	h.transport.block = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Submit(context.Background(), "a", "first", false, nil) }()

	require.Eventually(t, func() bool { return h.transport.calls() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, h.ctrl.Busy())
	assert.ErrorIs(t, h.ctrl.Submit(context.Background(), "b", "second", false, nil), model.ErrTurnInFlight)

	close(h.transport.block)
	require.NoError(t, <-done)
}

func TestQuotaEventWhenLimitReached(t *testing.T) {
	h := newHarness(t, helloStream)
	h.counter.n = DefaultQuestionLimit - 1
	ch, unsub := h.bus.Subscribe(bus.KindQuotaLimitReached, 1)
	defer unsub()

	require.NoError(t, h.ctrl.Submit(context.Background(), "s", "hi", false, nil))
	select {
	case evt := <-ch:
		assert.Equal(t, QuotaReached{Count: DefaultQuestionLimit, Limit: DefaultQuestionLimit}, evt.Payload)
	case <-time.After(time.Second):
		t.Fatal("no quota event")
	}
	remaining, _ := h.ctrl.Remaining()
	assert.Equal(t, 0, remaining)
}

func TestSubmitOverRelay(t *testing.T) {
	conv := newMemConversations()
	var placeholderSeen bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		msgs := conv.messages("s")
		placeholderSeen = len(msgs) == 2 && msgs[1].Role == model.RoleAssistant

		req, err := DecodeRequest(r, 1<<20)
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Len(t, req.Files, 1)
		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		_ = enc.Encode(map[string]any{"content": "Hel"})
		w.(http.Flusher).Flush()
		_ = enc.Encode(map[string]any{"content": "lo"})
		_ = enc.Encode(map[string]any{"currentAction": "done"})
	}))
	defer srv.Close()

	ctrl := NewController(conv, &memCounter{}, staticPrefs{}, NewRelayClient(srv.URL, "tok", srv.Client(), nil), Options{})
	err := ctrl.Submit(context.Background(), "s", "hi", false, []File{{Name: "n.txt", Type: "text/plain", Data: []byte("note")}})
	require.NoError(t, err)
	assert.True(t, placeholderSeen)
	assert.Equal(t, "Hello", conv.messages("s")[1].Content)
}

func TestSubmitRelayRejectsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	conv := newMemConversations()
	ctrl := NewController(conv, &memCounter{}, staticPrefs{}, NewRelayClient(srv.URL, "", srv.Client(), nil), Options{})
	err := ctrl.Submit(context.Background(), "s", "hi", false, nil)

	var upErr *model.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, ErrorReply, conv.messages("s")[2].Content)
}
