package chat

import (
	"context"
	"io"
	"strings"
	"sync"

	"miku/model"
	"miku/stream"
)

type memConversations struct {
	mu    sync.Mutex
	recs  map[string]*model.ConversationRecord
	saves int
	// onSave runs after every successful save with the lock released.
	onSave func(saves int)
}

func newMemConversations() *memConversations {
	return &memConversations{recs: make(map[string]*model.ConversationRecord)}
}

func (m *memConversations) Open(slug string) (*model.ConversationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.recs[slug]; ok {
		cp := *r
		cp.Messages = model.CloneMessages(r.Messages)
		return &cp, nil
	}
	r := &model.ConversationRecord{ID: "id-" + slug, Slug: slug, Version: 1}
	m.recs[slug] = r
	cp := *r
	return &cp, nil
}

func (m *memConversations) Get(id string) (*model.ConversationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recs {
		if r.ID == id {
			cp := *r
			cp.Messages = model.CloneMessages(r.Messages)
			return &cp, nil
		}
	}
	return nil, model.ErrNotFound
}

func (m *memConversations) SaveMessages(id string, version int64, messages []model.Message) (int64, error) {
	m.mu.Lock()
	var rec *model.ConversationRecord
	for _, r := range m.recs {
		if r.ID == id {
			rec = r
		}
	}
	if rec == nil {
		m.mu.Unlock()
		return 0, model.ErrNotFound
	}
	if rec.Version != version {
		m.mu.Unlock()
		return 0, model.ErrStaleWrite
	}
	rec.Messages = model.CloneMessages(messages)
	rec.Version++
	m.saves++
	v, n, hook := rec.Version, m.saves, m.onSave
	m.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return v, nil
}

func (m *memConversations) messages(slug string) []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.recs[slug]; ok {
		return model.CloneMessages(r.Messages)
	}
	return nil
}

// overwrite stores messages for slug the way another writer would.
func (m *memConversations) overwrite(slug string, messages []model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[slug].Messages = model.CloneMessages(messages)
	m.recs[slug].Version += 10
}

type memCounter struct {
	mu sync.Mutex
	n  int
}

func (c *memCounter) Load() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n, nil
}

func (c *memCounter) Increment() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n, nil
}

type staticPrefs model.DomainPreferences

func (p staticPrefs) Load() (model.DomainPreferences, error) {
	return model.DomainPreferences(p).Normalized(), nil
}

// scriptedTransport replays a fixed body for every request.
type scriptedTransport struct {
	mu       sync.Mutex
	body     string
	err      error
	// readErr, when set, fails the body read once body is exhausted.
	readErr  error
	requests []Request
	// block, when set, is waited on before the stream is returned.
	block chan struct{}
}

func (s *scriptedTransport) Stream(ctx context.Context, req Request) (*stream.Decoder, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, &model.NetworkError{Err: ctx.Err()}
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	var r io.Reader = strings.NewReader(s.body)
	if s.readErr != nil {
		r = io.MultiReader(r, failingReader{s.readErr})
	}
	return stream.NewDecoder(r, nil), nil
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func (s *scriptedTransport) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
