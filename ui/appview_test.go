package ui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miku/bus"
	"miku/chat"
	"miku/model"
	"miku/session"
	"miku/storage"
	"miku/stream"
)

const replyStream = `{"currentAction":"thinking","actions":[{"status":"thinking","stepType":"thinking","message":"Thinking"}]}
{"currentAction":"typing"}
{"content":"Hel"}
{"content":"lo"}
{"followupQuestions":["Why?","How?"]}
{"currentAction":"done"}
`

type fakeTransport struct {
	body string
}

func (f fakeTransport) Stream(_ context.Context, _ chat.Request) (*stream.Decoder, error) {
	return stream.NewDecoder(strings.NewReader(f.body), nil), nil
}

// blockingTransport holds the stream open until release is closed.
type blockingTransport struct {
	release chan struct{}
}

func (b *blockingTransport) Stream(ctx context.Context, _ chat.Request) (*stream.Decoder, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return stream.NewDecoder(strings.NewReader(replyStream), nil), nil
}

type testView struct {
	view  AppView
	store *storage.Store
	bus   *bus.Bus
}

func newTestView(t *testing.T, body string, limit int) *testView {
	t.Helper()
	b := bus.New()
	store, err := storage.Open(t.TempDir(), b, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctrl := chat.NewController(store.Conversations, store.Counter, store.Preferences, fakeTransport{body: body}, chat.Options{Limit: limit, Bus: b})
	v := NewAppView(Deps{
		Store:      store,
		Controller: ctrl,
		Bus:        b,
		Clipboard:  func(string) error { return nil },
	})
	t.Cleanup(v.Close)

	tv := &testView{view: v, store: store, bus: b}
	tv.send(tea.WindowSizeMsg{Width: 120, Height: 40})
	return tv
}

func (tv *testView) send(msg tea.Msg) tea.Cmd {
	m, cmd := tv.view.Update(msg)
	tv.view = m.(AppView)
	return cmd
}

func (tv *testView) key(k string) tea.Cmd {
	return tv.send(keyMsg(k))
}

func (tv *testView) typeText(s string) {
	for _, r := range s {
		tv.send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
}

func keyMsg(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "ctrl+s":
		return tea.KeyMsg{Type: tea.KeyCtrlS}
	case "ctrl+g":
		return tea.KeyMsg{Type: tea.KeyCtrlG}
	case "ctrl+p":
		return tea.KeyMsg{Type: tea.KeyCtrlP}
	case "ctrl+n":
		return tea.KeyMsg{Type: tea.KeyCtrlN}
	case "ctrl+y":
		return tea.KeyMsg{Type: tea.KeyCtrlY}
	case "ctrl+e":
		return tea.KeyMsg{Type: tea.KeyCtrlE}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "f1":
		return tea.KeyMsg{Type: tea.KeyF1}
	}
	if strings.HasPrefix(k, "alt+") {
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(strings.TrimPrefix(k, "alt+")), Alt: true}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

func seedChat(t *testing.T, store *storage.Store, slug, question string) model.ConversationRecord {
	t.Helper()
	rec, err := store.Conversations.Open(slug)
	require.NoError(t, err)
	_, err = store.Conversations.SaveMessages(rec.ID, rec.Version, []model.Message{
		{Role: model.RoleUser, Content: question},
		{Role: model.RoleAssistant, Content: "answer to " + question, FollowupQuestions: []string{"Next one?", "Another?"}},
	})
	require.NoError(t, err)
	out, err := store.Conversations.GetBySlug(slug)
	require.NoError(t, err)
	return *out
}

func TestSubmitRunsTurnAndReloads(t *testing.T) {
	tv := newTestView(t, replyStream, 0)
	tv.view.textarea.SetValue("hello there")

	cmd := tv.key("enter")
	require.NotNil(t, cmd)
	slug := tv.view.slug
	require.NotEmpty(t, slug)
	assert.Equal(t, model.StatusThinking, tv.view.status)
	assert.Empty(t, tv.view.textarea.Value())

	done, ok := cmd().(submitDoneMsg)
	require.True(t, ok)
	require.NoError(t, done.err)
	assert.Equal(t, slug, done.slug)

	tv.send(done)
	assert.Equal(t, model.StatusIdle, tv.view.status)

	tv.send(tv.view.loadConversation(slug)())
	require.Len(t, tv.view.messages, 2)
	assert.Equal(t, "hello there", tv.view.messages[0].Content)
	assert.Equal(t, "Hello", tv.view.messages[1].Content)
	assert.Equal(t, []string{"Why?", "How?"}, tv.view.messages[1].FollowupQuestions)

	tv.send(tv.view.loadRemaining()())
	assert.Equal(t, chat.DefaultQuestionLimit-1, tv.view.remaining)
}

func TestSubmitEmptyShowsBanner(t *testing.T) {
	tv := newTestView(t, replyStream, 0)
	cmd := tv.key("enter")
	assert.NotNil(t, cmd)
	assert.Equal(t, model.UserMessage(model.ErrValidation), tv.view.errorText)
	assert.Empty(t, tv.view.slug)
}

func TestErrorBannerClearsOnlyLatest(t *testing.T) {
	tv := newTestView(t, replyStream, 0)
	tv.view.showError(errors.New("first"))
	tv.view.showError(errors.New("second"))
	require.Equal(t, 2, tv.view.errorSeq)

	tv.send(clearErrorMsg{seq: 1})
	assert.Equal(t, "second", tv.view.errorText)

	tv.send(clearErrorMsg{seq: 2})
	assert.Empty(t, tv.view.errorText)
}

func TestBusEventsUpdateOpenChat(t *testing.T) {
	tv := newTestView(t, replyStream, 0)
	tv.view.slug = "open-chat"

	msgs := []model.Message{{Role: model.RoleUser, Content: "q"}, {Role: model.RoleAssistant, Content: "partial"}}
	tv.send(busEventMsg{event: bus.Event{Kind: bus.KindConversationUpdated, Payload: chat.ConversationUpdate{Slug: "open-chat", Messages: msgs}}})
	assert.Equal(t, msgs, tv.view.messages)

	tv.send(busEventMsg{event: bus.Event{Kind: bus.KindConversationUpdated, Payload: chat.ConversationUpdate{Slug: "other", Messages: nil}}})
	assert.Equal(t, msgs, tv.view.messages)

	tv.send(busEventMsg{event: bus.Event{Kind: bus.KindStatusChanged, Payload: session.StatusChange{Slug: "open-chat", From: model.StatusThinking, To: model.StatusTyping}}})
	assert.Equal(t, model.StatusTyping, tv.view.status)
	assert.Contains(t, tv.view.viewport.View(), "partial")
}

func TestQuotaEventShowsLimitDialog(t *testing.T) {
	tv := newTestView(t, replyStream, 3)
	tv.send(busEventMsg{event: bus.Event{Kind: bus.KindQuotaLimitReached, Payload: chat.QuotaReached{Count: 3, Limit: 3}}})
	require.True(t, tv.view.showLimit)
	assert.Equal(t, 0, tv.view.remaining)
	assert.Contains(t, tv.view.View(), "Question limit reached")

	tv.key("enter")
	assert.False(t, tv.view.showLimit)
}

func TestQuotaRefusalSkipsBanner(t *testing.T) {
	tv := newTestView(t, replyStream, 0)
	tv.send(submitDoneMsg{slug: "x", err: model.ErrQuotaExceeded})
	assert.Empty(t, tv.view.errorText)
}

func TestModeToggles(t *testing.T) {
	tv := newTestView(t, replyStream, 0)
	tv.key("ctrl+s")
	assert.Equal(t, chat.ModeSearch, tv.view.mode)
	tv.key("ctrl+g")
	assert.Equal(t, chat.ModeImage, tv.view.mode)
	tv.key("ctrl+g")
	assert.Equal(t, chat.ModeChat, tv.view.mode)
}

func TestComposerShowsDetectedMode(t *testing.T) {
	tv := newTestView(t, replyStream, 0)
	tv.view.textarea.SetValue("what is a goroutine")
	assert.Contains(t, tv.view.renderComposer(), "[web search]")

	tv.view.textarea.SetValue("hi")
	assert.Contains(t, tv.view.renderComposer(), "[chat]")
}

func TestFollowupShortcutSubmits(t *testing.T) {
	tv := newTestView(t, replyStream, 0)
	rec := seedChat(t, tv.store, "go-abc123", "what is go")
	tv.view.slug = rec.Slug
	tv.view.messages = rec.Messages

	assert.Nil(t, tv.key("alt+4"))
	assert.Equal(t, model.StatusIdle, tv.view.status)

	cmd := tv.key("alt+2")
	require.NotNil(t, cmd)
	assert.Equal(t, model.StatusThinking, tv.view.status)
	done, ok := cmd().(submitDoneMsg)
	require.True(t, ok)
	require.NoError(t, done.err)

	got, err := tv.store.Conversations.GetBySlug(rec.Slug)
	require.NoError(t, err)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "Another?", got.Messages[2].Content)
	assert.Equal(t, "Hello", got.Messages[3].Content)
}

func TestEmptyChatPrefillsInput(t *testing.T) {
	tv := newTestView(t, replyStream, 0)
	tv.view.slug = "how-do-channels-work-a1b2c3"

	tv.send(tv.view.loadConversation(tv.view.slug)())
	assert.Empty(t, tv.view.messages)
	assert.Equal(t, storage.QueryFromSlug("how-do-channels-work-a1b2c3"), tv.view.textarea.Value())

	// A chat with messages leaves the input alone.
	rec := seedChat(t, tv.store, "go-abc123", "what is go")
	tv.view.textarea.Reset()
	tv.view.slug = rec.Slug
	tv.send(tv.view.loadConversation(rec.Slug)())
	assert.Len(t, tv.view.messages, 2)
	assert.Empty(t, tv.view.textarea.Value())
}

func TestInitialSlugLoadsChat(t *testing.T) {
	tv := newTestView(t, replyStream, 0)
	v := NewAppView(Deps{Store: tv.store, Controller: tv.view.deps.Controller, Slug: "rust-lifetimes-000001"})
	defer v.Close()
	assert.Equal(t, "rust-lifetimes-000001", v.slug)
	assert.NotNil(t, v.Init())
}

func TestSidebarFilterAndOpen(t *testing.T) {
	tv := newTestView(t, replyStream, 0)
	seedChat(t, tv.store, "go-abc123", "what is go")
	seedChat(t, tv.store, "rust-def456", "what is rust")
	tv.send(tv.view.loadChats()())
	require.Len(t, tv.view.filtered, 2)

	tv.key("tab")
	require.Equal(t, focusSidebar, tv.view.focus)
	tv.key("/")
	require.True(t, tv.view.filterMode)
	tv.typeText("rust")
	require.Len(t, tv.view.filtered, 1)
	assert.Equal(t, "rust-def456", tv.view.filtered[0].Slug)

	tv.key("enter")
	assert.False(t, tv.view.filterMode)
	cmd := tv.key("enter")
	require.NotNil(t, cmd)
	assert.Equal(t, "rust-def456", tv.view.slug)
	assert.Equal(t, focusInput, tv.view.focus)

	tv.send(cmd())
	require.Len(t, tv.view.messages, 2)
	assert.Equal(t, "what is rust", tv.view.messages[0].Content)
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	tv := newTestView(t, replyStream, 0)
	seedChat(t, tv.store, "go-abc123", "what is go")
	tv.send(tv.view.loadChats()())

	tv.key("tab")
	tv.key("d")
	require.NotNil(t, tv.view.confirmDelete)
	assert.Contains(t, tv.view.View(), "what is go")

	tv.key("n")
	assert.Nil(t, tv.view.confirmDelete)

	tv.key("d")
	cmd := tv.key("y")
	require.NotNil(t, cmd)
	notice, ok := cmd().(noticeMsg)
	require.True(t, ok)
	require.NoError(t, notice.err)

	chats, err := tv.store.Conversations.List()
	require.NoError(t, err)
	assert.Empty(t, chats)
}

func TestDeleteBlockedWhileStreaming(t *testing.T) {
	b := bus.New()
	store, err := storage.Open(t.TempDir(), b, nil)
	require.NoError(t, err)
	defer store.Close()
	rec := seedChat(t, store, "go-abc123", "what is go")

	transport := &blockingTransport{release: make(chan struct{})}
	ctrl := chat.NewController(store.Conversations, store.Counter, store.Preferences, transport, chat.Options{Bus: b})
	done := make(chan error, 1)
	go func() { done <- ctrl.Submit(context.Background(), rec.Slug, "more", false, nil) }()
	require.Eventually(t, func() bool { return ctrl.Active(rec.Slug) }, time.Second, 5*time.Millisecond)

	tv := &testView{view: NewAppView(Deps{Store: store, Controller: ctrl, Bus: b}), store: store, bus: b}
	defer tv.view.Close()
	tv.send(tea.WindowSizeMsg{Width: 120, Height: 40})
	tv.send(tv.view.loadChats()())

	tv.key("tab")
	tv.key("d")
	assert.Nil(t, tv.view.confirmDelete)
	assert.Contains(t, tv.view.notice, "Wait for the reply")

	close(transport.release)
	require.NoError(t, <-done)
	tv.key("d")
	assert.NotNil(t, tv.view.confirmDelete)
}

func TestEditAndDeleteMessage(t *testing.T) {
	tv := newTestView(t, replyStream, 0)
	rec := seedChat(t, tv.store, "go-abc123", "what is go")
	tv.view.slug = rec.Slug
	tv.view.messages = rec.Messages

	tv.key("ctrl+e")
	require.True(t, tv.view.cursor.active)
	assert.Equal(t, 1, tv.view.cursor.index)
	assert.Contains(t, tv.view.viewport.View(), "assistant message")

	tv.key("e")
	require.True(t, tv.view.cursor.editing)
	assert.Equal(t, "answer to what is go", tv.view.cursor.input.Value())
	assert.Contains(t, tv.view.renderComposer(), "Editing message 2")
	tv.view.cursor.input.SetValue("a shorter answer")
	cmd := tv.key("enter")
	require.NotNil(t, cmd)
	assert.False(t, tv.view.cursor.active)
	notice := cmd().(noticeMsg)
	require.NoError(t, notice.err)

	got, err := tv.store.Conversations.GetBySlug(rec.Slug)
	require.NoError(t, err)
	assert.Equal(t, "a shorter answer", got.Messages[1].Content)
	assert.Equal(t, "what is go", got.Title)

	tv.view.messages = got.Messages
	tv.key("ctrl+e")
	tv.key("up")
	assert.Equal(t, 0, tv.view.cursor.index)
	cmd = tv.key("d")
	require.NotNil(t, cmd)
	notice = cmd().(noticeMsg)
	require.NoError(t, notice.err)

	got, err = tv.store.Conversations.GetBySlug(rec.Slug)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, model.RoleAssistant, got.Messages[0].Role)
}

func TestSettingsAddsIncludeDomain(t *testing.T) {
	tv := newTestView(t, replyStream, 0)
	cmd := tv.key("ctrl+p")
	require.True(t, tv.view.settings.active)
	tv.send(cmd())

	tv.key("i")
	require.True(t, tv.view.settings.adding)
	tv.typeText("go.dev")
	cmd = tv.key("enter")
	require.NotNil(t, cmd)
	notice := cmd().(noticeMsg)
	require.NoError(t, notice.err)

	prefs, err := tv.store.Preferences.Load()
	require.NoError(t, err)
	assert.Contains(t, prefs.IncludeDomains, "go.dev")

	tv.send(tv.view.loadPreferences()())
	assert.Contains(t, tv.view.View(), "go.dev")

	cmd = tv.key("d")
	require.NotNil(t, cmd)
	cmd()
	prefs, err = tv.store.Preferences.Load()
	require.NoError(t, err)
	assert.Empty(t, prefs.IncludeDomains)

	tv.key("esc")
	assert.False(t, tv.view.settings.active)
}

func TestCopyLastAnswer(t *testing.T) {
	tv := newTestView(t, replyStream, 0)
	var copied string
	tv.view.deps.Clipboard = func(s string) error {
		copied = s
		return nil
	}
	assert.Nil(t, tv.view.copyLastAnswer())

	tv.view.messages = []model.Message{{Role: model.RoleUser, Content: "q"}, {Role: model.RoleAssistant, Content: "the answer"}}
	cmd := tv.key("ctrl+y")
	require.NotNil(t, cmd)
	notice := cmd().(noticeMsg)
	require.NoError(t, notice.err)
	assert.Equal(t, "the answer", copied)
}

func TestHelpOverlay(t *testing.T) {
	tv := newTestView(t, replyStream, 0)
	tv.key("f1")
	require.True(t, tv.view.showHelp)
	assert.Contains(t, tv.view.View(), "Keyboard Shortcuts")
	tv.key("esc")
	assert.False(t, tv.view.showHelp)
}
