package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a key is absent or its entry has expired.
var ErrNotFound = errors.New("cache entry not found")

// Store is the key-value contract every cache backend satisfies.
type Store interface {
	// Set stores value under key. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get retrieves the value stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Keys lists the stored keys beginning with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Config holds the cache-related configuration.
type Config struct {
	Type      string // "redis", "bolt", "sqlite" or "" (caching disabled)
	KeyPrefix string
	Expire    time.Duration
	RedisAddr string
	RedisPass string
	RedisDB   int
	Path      string // bolt/sqlite file path
}

// LoadConfig loads cache configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Type:      os.Getenv("CACHE_TYPE"),
		KeyPrefix: os.Getenv("CACHE_KEY_PREFIX"),
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "emlsentry"
	}

	if expireStr := os.Getenv("CACHE_EXPIRE_SECONDS"); expireStr != "" {
		seconds, err := strconv.Atoi(expireStr)
		if err != nil {
			return nil, fmt.Errorf("invalid CACHE_EXPIRE_SECONDS: %q", expireStr)
		}
		if seconds > 0 {
			cfg.Expire = time.Duration(seconds) * time.Second
		}
	}

	switch cfg.Type {
	case "":
		// Caching disabled.
	case "redis":
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("REDIS_ADDR is required for the redis cache")
		}
		cfg.RedisPass = os.Getenv("REDIS_PASSWORD")
		if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
			db, err := strconv.Atoi(dbStr)
			if err != nil {
				return nil, fmt.Errorf("invalid REDIS_DB: %q", dbStr)
			}
			cfg.RedisDB = db
		}
	case "bolt", "sqlite":
		cfg.Path = os.Getenv("CACHE_PATH")
		if cfg.Path == "" {
			return nil, fmt.Errorf("CACHE_PATH is required for the %s cache", cfg.Type)
		}
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}

	return cfg, nil
}

// Cache namespaces a Store and owns the response serialization. A nil
// *Cache is a valid "caching disabled" value.
type Cache struct {
	store  Store
	prefix string
	ttl    time.Duration
	logger *logrus.Logger
}

// New builds the cache from configuration. An empty Type yields (nil, nil).
func New(cfg *Config, logger *logrus.Logger) (*Cache, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Type {
	case "":
		return nil, nil
	case "redis":
		store, err = NewRedisStore(cfg)
	case "bolt":
		store, err = NewBoltStore(cfg.Path)
	case "sqlite":
		store, err = NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return &Cache{
		store:  store,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.Expire,
		logger: logger,
	}, nil
}

// NewWithStore wraps an existing store; used by tests.
func NewWithStore(store Store, prefix string, ttl time.Duration, logger *logrus.Logger) *Cache {
	return &Cache{store: store, prefix: prefix, ttl: ttl, logger: logger}
}

func (c *Cache) key(id string) string {
	return c.prefix + ":" + id
}

// Save serializes value and stores it under the namespaced id. All
// failures are logged and swallowed; a cache write never fails a request.
func (c *Cache) Save(ctx context.Context, id string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.WithError(err).WithField("id", id).Error("Failed to serialize response for cache")
		return
	}
	if err := c.store.Set(ctx, c.key(id), data, c.ttl); err != nil {
		c.logger.WithError(err).WithField("id", id).Error("Failed to write response to cache")
	}
}

// Lookup returns the serialized response stored under id.
func (c *Cache) Lookup(ctx context.Context, id string) ([]byte, error) {
	return c.store.Get(ctx, c.key(id))
}

// IDs lists the ids cached under this namespace.
func (c *Cache) IDs(ctx context.Context) ([]string, error) {
	keys, err := c.store.Keys(ctx, c.prefix+":")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, c.prefix+":"))
	}
	return ids, nil
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}
