// Package storage is the local chat store: conversations, the question
// counter and domain preferences kept in one SQLite database.
package storage

import (
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"miku/bus"
)

// Store groups the views over the kv table and announces writes on the bus.
type Store struct {
	db     *DB
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time

	// unix millis of the last write made through this Store
	lastWrite atomic.Int64

	Conversations *ConversationStore
	Counter       *Counter
	Preferences   *PreferencesStore
}

// Open opens miku.db inside dataDir.
func Open(dataDir string, b *bus.Bus, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := OpenDB(filepath.Join(dataDir, DBFile))
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, bus: b, logger: logger.Named("storage"), now: time.Now}
	s.Conversations = &ConversationStore{store: s}
	s.Counter = &Counter{store: s}
	s.Preferences = &PreferencesStore{store: s}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// StoreChange is the payload of bus.KindStoreChanged. Key is empty when
// the change was observed from another process.
type StoreChange struct {
	Key    string
	Remote bool
}

func (s *Store) changed(key string) {
	s.lastWrite.Store(time.Now().UnixMilli())
	s.bus.Emit(bus.KindStoreChanged, StoreChange{Key: key})
}
