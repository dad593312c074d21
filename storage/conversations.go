package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"miku/model"
)

// ConversationStore keeps the collection of conversation records under the
// "chats" key.
type ConversationStore struct {
	store *Store
}

func (c *ConversationStore) load() ([]model.ConversationRecord, error) {
	raw, ok, err := get(c.store.db, KeyChats)
	if err != nil || !ok {
		return nil, err
	}
	return decodeChats(raw)
}

func decodeChats(raw []byte) ([]model.ConversationRecord, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var chats []model.ConversationRecord
	if err := json.Unmarshal(raw, &chats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chats: %w", err)
	}
	return chats, nil
}

// mutate applies fn to the collection inside one transaction and announces
// the write.
func (c *ConversationStore) mutate(fn func(chats []model.ConversationRecord) ([]model.ConversationRecord, error)) error {
	err := c.store.db.update(KeyChats, func(current []byte) ([]byte, error) {
		chats, err := decodeChats(current)
		if err != nil {
			return nil, err
		}
		chats, err = fn(chats)
		if err != nil {
			return nil, err
		}
		if chats == nil {
			chats = []model.ConversationRecord{}
		}
		data, err := json.Marshal(chats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal chats: %w", err)
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	c.store.changed(KeyChats)
	return nil
}

// List returns all conversations, most recently updated first.
func (c *ConversationStore) List() ([]model.ConversationRecord, error) {
	chats, err := c.load()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].LastUpdated > chats[j].LastUpdated
	})
	return chats, nil
}

// Get returns the conversation with id or model.ErrNotFound.
func (c *ConversationStore) Get(id string) (*model.ConversationRecord, error) {
	return c.find(func(r model.ConversationRecord) bool { return r.ID == id })
}

// GetBySlug returns the conversation addressed by slug or model.ErrNotFound.
func (c *ConversationStore) GetBySlug(slug string) (*model.ConversationRecord, error) {
	return c.find(func(r model.ConversationRecord) bool { return r.Slug == slug })
}

func (c *ConversationStore) find(match func(model.ConversationRecord) bool) (*model.ConversationRecord, error) {
	chats, err := c.load()
	if err != nil {
		return nil, err
	}
	for i := range chats {
		if match(chats[i]) {
			return &chats[i], nil
		}
	}
	return nil, model.ErrNotFound
}

// Open returns the conversation for slug, creating an empty one the first
// time the slug is visited.
func (c *ConversationStore) Open(slug string) (*model.ConversationRecord, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, fmt.Errorf("%w: empty slug", model.ErrValidation)
	}
	if existing, err := c.GetBySlug(slug); err == nil || !IsNotFound(err) {
		return existing, err
	}

	var rec model.ConversationRecord
	err := c.mutate(func(chats []model.ConversationRecord) ([]model.ConversationRecord, error) {
		for _, r := range chats {
			if r.Slug == slug {
				rec = r
				return chats, nil
			}
		}
		rec = model.ConversationRecord{
			ID:          uuid.New().String(),
			Slug:        slug,
			Messages:    []model.Message{},
			LastUpdated: c.store.now().UnixMilli(),
			Version:     1,
		}
		c.store.logger.Debug("conversation created", zap.String("slug", slug), zap.String("id", rec.ID))
		return append(chats, rec), nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveMessages replaces the messages of conversation id when its stored
// version still equals version, and returns the new version. A mismatch
// yields model.ErrStaleWrite and leaves the record untouched.
func (c *ConversationStore) SaveMessages(id string, version int64, messages []model.Message) (int64, error) {
	var next int64
	err := c.mutate(func(chats []model.ConversationRecord) ([]model.ConversationRecord, error) {
		i := indexOf(chats, id)
		if i < 0 {
			return nil, model.ErrNotFound
		}
		if chats[i].Version != version {
			return nil, fmt.Errorf("%w: have version %d, stored %d", model.ErrStaleWrite, version, chats[i].Version)
		}
		rec := &chats[i]
		rec.Messages = model.CloneMessages(messages)
		if rec.Messages == nil {
			rec.Messages = []model.Message{}
		}
		rec.Title = model.DeriveTitle(rec.Title, rec.Messages)
		rec.LastUpdated = c.store.now().UnixMilli()
		rec.Version++
		next = rec.Version
		return chats, nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// Delete removes a conversation. Deleting a missing id is not an error.
func (c *ConversationStore) Delete(id string) error {
	return c.mutate(func(chats []model.ConversationRecord) ([]model.ConversationRecord, error) {
		if i := indexOf(chats, id); i >= 0 {
			chats = append(chats[:i], chats[i+1:]...)
		}
		return chats, nil
	})
}

// Rename sets the title of a conversation. The version is left alone: a
// title is never written by SaveMessages once set, so a turn streaming into
// the same record does not conflict with it.
func (c *ConversationStore) Rename(id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: empty title", model.ErrValidation)
	}
	return c.mutate(func(chats []model.ConversationRecord) ([]model.ConversationRecord, error) {
		i := indexOf(chats, id)
		if i < 0 {
			return nil, model.ErrNotFound
		}
		chats[i].Title = title
		chats[i].LastUpdated = c.store.now().UnixMilli()
		return chats, nil
	})
}

// ExportToJSON writes a conversation to exportPath.
func (c *ConversationStore) ExportToJSON(id, exportPath string) error {
	rec, err := c.Get(id)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(exportPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// ImportFromJSON adds the conversation stored at path. When its id or
// slug is already taken the import gets fresh ones.
func (c *ConversationStore) ImportFromJSON(path string) (*model.ConversationRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var rec model.ConversationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	if rec.Slug == "" && rec.ID == "" {
		return nil, fmt.Errorf("%w: not a conversation export", model.ErrValidation)
	}

	err = c.mutate(func(chats []model.ConversationRecord) ([]model.ConversationRecord, error) {
		if rec.ID == "" || indexOf(chats, rec.ID) >= 0 {
			rec.ID = uuid.New().String()
		}
		if rec.Slug == "" || slugTaken(chats, rec.Slug) {
			rec.Slug = NewSlug(rec.Title)
		}
		if rec.Messages == nil {
			rec.Messages = []model.Message{}
		}
		rec.Version = 1
		if rec.LastUpdated == 0 {
			rec.LastUpdated = c.store.now().UnixMilli()
		}
		return append(chats, rec), nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func indexOf(chats []model.ConversationRecord, id string) int {
	for i := range chats {
		if chats[i].ID == id {
			return i
		}
	}
	return -1
}

func slugTaken(chats []model.ConversationRecord, slug string) bool {
	for i := range chats {
		if chats[i].Slug == slug {
			return true
		}
	}
	return false
}

// GenerateExportPath returns a default export location in ~/Downloads.
func GenerateExportPath(title string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	name := SanitizeFilename(title)
	stamp := time.Now().Format("20060102-150405")
	return filepath.Join(home, "Downloads", fmt.Sprintf("miku-chat-%s-%s.json", name, stamp))
}

// SanitizeFilename replaces characters that are invalid in filenames.
func SanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ', '\n', '\r', '\t':
			return '-'
		}
		return r
	}, name)
	name = strings.Trim(name, "-.")
	if len(name) > 50 {
		name = name[:50]
	}
	if name == "" {
		name = "chat"
	}
	return name
}

// IsNotFound reports whether err means the conversation does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
