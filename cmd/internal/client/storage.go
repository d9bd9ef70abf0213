package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// Storage is the client-local key/value store for cursors, outboxes and caches.
// Get returns (nil, nil) for a missing key.
type Storage interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Close() error
}

const keyPrefix = "communicator:"

// LastSyncKey holds userID's poll cursor.
func LastSyncKey(userID string) string { return keyPrefix + "lastSync:" + userID }

// PendingKey holds userID's outbox.
func PendingKey(userID string) string { return keyPrefix + "pending:" + userID }

// CorruptPendingKey holds an outbox value that failed to decode, kept for inspection.
func CorruptPendingKey(userID string) string { return keyPrefix + "pending:corrupt:" + userID }

// ConversationKey holds the cached view of userID's conversation with contactID.
func ConversationKey(userID, contactID string) string {
	return keyPrefix + "conversation:" + userID + ":" + contactID
}

// ErrStorageClosed is returned by a Storage after Close.
var ErrStorageClosed = errors.New("client: storage closed")

// loadJSON decodes key into dst. It reports false when the key is missing.
func loadJSON(s Storage, key string, dst any) (bool, error) {
	raw, err := s.Get(key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("client: decode %s: %w", key, err)
	}
	return true, nil
}

func saveJSON(s Storage, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("client: encode %s: %w", key, err)
	}
	return s.Put(key, raw)
}

// MemoryStorage is a goroutine-safe in-memory Storage. Contents die with the process.
type MemoryStorage struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

func (s *MemoryStorage) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStorageClosed
	}
	v, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStorage) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStorageClosed
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStorageClosed
	}
	delete(s.data, key)
	return nil
}

func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var boltBucket = []byte("communicator")

// BoltStorage is a durable Storage backed by a single bbolt file.
// bbolt holds an exclusive file lock, so one process owns a data dir at a time.
type BoltStorage struct {
	db *bbolt.DB
}

// OpenBoltStorage opens (or creates) the bbolt file at path.
// It gives up after one second if another process holds the file.
func OpenBoltStorage(path string) (*BoltStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("client: create data dir: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("client: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("client: init bucket: %w", err)
	}

	return &BoltStorage{db: db}, nil
}

func (s *BoltStorage) Get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(boltBucket).Get([]byte(key)); v != nil {
			// bbolt memory is only valid inside the transaction.
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return nil, ErrStorageClosed
	}
	return out, err
}

func (s *BoltStorage) Put(key string, value []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), value)
	})
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return ErrStorageClosed
	}
	return err
}

func (s *BoltStorage) Delete(key string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Delete([]byte(key))
	})
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return ErrStorageClosed
	}
	return err
}

func (s *BoltStorage) Close() error { return s.db.Close() }
