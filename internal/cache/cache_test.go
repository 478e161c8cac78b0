package cache

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	return logger
}

// storeRoundtrip exercises the Store contract shared by every backend.
func storeRoundtrip(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.Get(ctx, "ns:missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get on a missing key: err = %v, want ErrNotFound", err)
	}

	if err := store.Set(ctx, "ns:a", []byte(`{"v":1}`), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, "ns:b", []byte(`{"v":2}`), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, "other:c", []byte(`{"v":3}`), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	value, err := store.Get(ctx, "ns:a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(value) != `{"v":1}` {
		t.Errorf("Get = %q", value)
	}

	// Last write wins.
	if err := store.Set(ctx, "ns:a", []byte(`{"v":9}`), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value, err = store.Get(ctx, "ns:a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(value) != `{"v":9}` {
		t.Errorf("overwrite lost: Get = %q", value)
	}

	keys, err := store.Keys(ctx, "ns:")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "ns:a" || keys[1] != "ns:b" {
		t.Errorf("Keys = %v, want [ns:a ns:b]", keys)
	}
}

func TestBoltStore(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	storeRoundtrip(t, store)
}

func TestBoltStoreExpiry(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.Set(ctx, "ns:old", []byte("x"), -time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, "ns:gone", []byte("x"), time.Nanosecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(1100 * time.Millisecond) // expiry has second granularity

	// ttl <= 0 means no expiry.
	if _, err := store.Get(ctx, "ns:old"); err != nil {
		t.Errorf("non-expiring entry vanished: %v", err)
	}
	if _, err := store.Get(ctx, "ns:gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired entry still readable: err = %v", err)
	}
	keys, err := store.Keys(ctx, "ns:")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "ns:old" {
		t.Errorf("Keys = %v, want [ns:old]", keys)
	}
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	storeRoundtrip(t, store)
}

func TestSQLiteStoreExpiry(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.Set(ctx, "ns:gone", []byte("x"), time.Nanosecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)

	if _, err := store.Get(ctx, "ns:gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired entry still readable: err = %v", err)
	}
}

func TestRedisStore(t *testing.T) {
	mini := miniredis.RunT(t)
	store, err := NewRedisStore(&Config{RedisAddr: mini.Addr()})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	storeRoundtrip(t, store)
}

func TestRedisStoreExpiry(t *testing.T) {
	mini := miniredis.RunT(t)
	store, err := NewRedisStore(&Config{RedisAddr: mini.Addr()})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.Set(ctx, "ns:gone", []byte("x"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mini.FastForward(2 * time.Minute)

	if _, err := store.Get(ctx, "ns:gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired entry still readable: err = %v", err)
	}
}

func TestCacheSaveLookupIDs(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	c := NewWithStore(store, "emlsentry", 0, newTestLogger())
	defer c.Close()
	ctx := context.Background()

	c.Save(ctx, "deadbeef", map[string]string{"id": "deadbeef"})
	c.Save(ctx, "cafebabe", map[string]string{"id": "cafebabe"})

	raw, err := c.Lookup(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if string(raw) != `{"id":"deadbeef"}` {
		t.Errorf("Lookup = %q", raw)
	}

	if _, err := c.Lookup(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup on unknown id: err = %v, want ErrNotFound", err)
	}

	ids, err := c.IDs(ctx)
	if err != nil {
		t.Fatalf("IDs: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "cafebabe" || ids[1] != "deadbeef" {
		t.Errorf("IDs = %v", ids)
	}
}

func TestCacheSaveSwallowsMarshalErrors(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	c := NewWithStore(store, "emlsentry", 0, newTestLogger())
	defer c.Close()

	// A channel is not serializable; the failure must stay inside Save.
	c.Save(context.Background(), "bad", make(chan int))

	if _, err := c.Lookup(context.Background(), "bad"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unserializable value should not be stored: err = %v", err)
	}
}

func TestNewDisabledCache(t *testing.T) {
	c, err := New(&Config{}, newTestLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c != nil {
		t.Error("an empty cache type should disable caching")
	}
}
