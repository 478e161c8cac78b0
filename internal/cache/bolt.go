package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

var responsesBucket = []byte("Responses")

// boltEntry wraps a cached value with its expiry timestamp; bbolt has no
// native TTL so expiry is enforced on read.
type boltEntry struct {
	ExpiresAt int64           `json:"expires_at"` // unix seconds, 0 = never
	Payload   json.RawMessage `json:"payload"`
}

// BoltStore implements the Store interface using bbolt.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore initializes a new BoltStore at the given path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(responsesBucket)
		if err != nil {
			return fmt.Errorf("create Responses bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Set stores value under key; ttl <= 0 stores without expiry.
func (b *BoltStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := boltEntry{Payload: value}
	if ttl > 0 {
		entry.ExpiresAt = time.Now().Add(ttl).Unix()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(responsesBucket).Put([]byte(key), data)
	})
}

// Get retrieves the value stored under key.
func (b *BoltStore) Get(_ context.Context, key string) ([]byte, error) {
	var payload []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(responsesBucket).Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		var entry boltEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return fmt.Errorf("unmarshal cache entry: %w", err)
		}
		if entry.ExpiresAt != 0 && time.Now().Unix() >= entry.ExpiresAt {
			return ErrNotFound
		}
		payload = append([]byte(nil), entry.Payload...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// Keys lists the unexpired keys beginning with prefix.
func (b *BoltStore) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	now := time.Now().Unix()
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(responsesBucket).ForEach(func(k, v []byte) error {
			if !strings.HasPrefix(string(k), prefix) {
				return nil
			}
			var entry boltEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return nil
			}
			if entry.ExpiresAt != 0 && now >= entry.ExpiresAt {
				return nil
			}
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Close closes the underlying bbolt database.
func (b *BoltStore) Close() error {
	return b.db.Close()
}
