// Package speechcache persists synthesized speech as gzip blobs and reads it
// back for playback, deleting rows that turn out to be unreadable.
package speechcache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/yok-tottii/ezvoice/internal/logger"
)

var (
	// ErrNotFound is returned when a row id does not exist
	ErrNotFound = errors.New("speechcache: entry not found")
	// ErrStoreClosed is returned when the store has been closed
	ErrStoreClosed = errors.New("speechcache: store closed")
	// ErrCorruptEntry is returned by Get when the row behind a key cannot be
	// decoded. The returned Entry carries the row id so it can be deleted.
	ErrCorruptEntry = errors.New("speechcache: entry not decodable")
)

var (
	rowPrefix = []byte("row/")
	keyPrefix = []byte("key/")
	seqKey    = []byte("seq/rows")
)

// Entry is one cached utterance
type Entry struct {
	RowID     int64     `msgpack:"row_id" json:"row_id"`
	Key       string    `msgpack:"key" json:"key"`
	Data      []byte    `msgpack:"data" json:"-"`
	CreatedAt time.Time `msgpack:"created_at" json:"created_at"`
}

// Store is the persistent speech cache keyed by row id with a lookup by
// cache key
type Store interface {
	// Get returns the entry stored under key. ok is false on a miss.
	Get(key string) (entry Entry, ok bool, err error)
	// Put stores compressed data under key, replacing any previous row, and
	// returns the new row id
	Put(key string, data []byte) (int64, error)
	Deleter
	Close() error
}

// Config holds badger store settings
type Config struct {
	Dir        string `json:"dir" yaml:"dir"`
	InMemory   bool   `json:"in_memory" yaml:"in_memory"`
	SyncWrites bool   `json:"sync_writes" yaml:"sync_writes"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return Config{
		Dir: filepath.Join(homeDir, ".ezvoice", "speechcache"),
	}
}

// BadgerStore implements Store on badger
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	log *logger.Logger

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the store
func Open(config Config, log *logger.Logger) (*BadgerStore, error) {
	if log == nil {
		log = logger.Discard()
	}
	log = log.With("speechcache")

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if config.Dir == "" {
			return nil, fmt.Errorf("cache directory is required")
		}
		if err := os.MkdirAll(config.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		opts = badger.DefaultOptions(config.Dir)
	}
	opts.SyncWrites = config.SyncWrites
	opts.Logger = &badgerLogger{log: log}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	seq, err := db.GetSequence(seqKey, 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open row sequence: %w", err)
	}

	return &BadgerStore{db: db, seq: seq, log: log}, nil
}

// Close releases the sequence and closes the database. It is safe to call
// more than once.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.seq.Release(); err != nil {
		s.log.Warn("Failed to release row sequence: %v", err)
	}
	return s.db.Close()
}

// Get looks up key. A dangling index entry is reported as a miss.
func (s *BadgerStore) Get(key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Entry{}, false, ErrStoreClosed
	}

	var entry Entry
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if len(id) != 8 {
			return nil
		}

		item, err = txn.Get(rowKey(decodeID(id)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := msgpack.Unmarshal(val, &entry); err != nil {
				entry = Entry{RowID: decodeID(id), Key: key}
				return fmt.Errorf("%w: %v", ErrCorruptEntry, err)
			}
			found = true
			return nil
		})
	})
	if errors.Is(err, ErrCorruptEntry) {
		return entry, false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return entry, found, nil
}

// Put stores data under key with a freshly allocated row id
func (s *BadgerStore) Put(key string, data []byte) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	next, err := s.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate row id: %w", err)
	}
	rowID := int64(next) + 1

	entry := Entry{
		RowID:     rowID,
		Key:       key,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	encoded, err := msgpack.Marshal(&entry)
	if err != nil {
		return 0, fmt.Errorf("failed to encode entry: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(key))
		switch {
		case err == nil:
			old, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(old) == 8 {
				if err := txn.Delete(rowKey(decodeID(old))); err != nil {
					return err
				}
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		if err := txn.Set(rowKey(rowID), encoded); err != nil {
			return err
		}
		return txn.Set(indexKey(key), encodeID(rowID))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to put %q: %w", key, err)
	}

	s.log.Debug("Stored %q as row %d (%d bytes)", key, rowID, len(data))
	return rowID, nil
}

// Delete removes the row and its index entry when the index still points at it
func (s *BadgerStore) Delete(rowID int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(rowKey(rowID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var entry Entry
		if err := item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &entry)
		}); err != nil {
			s.log.Warn("Row %d is not decodable, removing without index cleanup: %v", rowID, err)
			return txn.Delete(rowKey(rowID))
		}

		idx, err := txn.Get(indexKey(entry.Key))
		if err == nil {
			cur, err := idx.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(cur) == 8 && decodeID(cur) == rowID {
				if err := txn.Delete(indexKey(entry.Key)); err != nil {
					return err
				}
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Delete(rowKey(rowID))
	})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete row %d: %w", rowID, err)
	}
	return nil
}

// Len returns the number of stored rows
func (s *BadgerStore) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = rowPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func rowKey(id int64) []byte {
	return append(append([]byte{}, rowPrefix...), encodeID(id)...)
}

func indexKey(key string) []byte {
	return append(append([]byte{}, keyPrefix...), key...)
}

func encodeID(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func decodeID(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// badgerLogger routes badger's internal logging into ours
type badgerLogger struct {
	log *logger.Logger
}

func (b *badgerLogger) Errorf(format string, args ...interface{}) {
	b.log.Error("badger: "+format, args...)
}

func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.log.Warn("badger: "+format, args...)
}

func (b *badgerLogger) Infof(format string, args ...interface{}) {
	b.log.Debug("badger: "+format, args...)
}

func (b *badgerLogger) Debugf(format string, args ...interface{}) {}
