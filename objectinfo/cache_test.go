package objectinfo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const tinyInfo = `{"LoadImage": {"input": {"required": {"image": [["cat.png"], {}]}}, "output": ["IMAGE", "MASK"]}}`

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "schema.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

type countingFetch struct {
	mu    sync.Mutex
	calls int
	data  string
	err   error
}

func (c *countingFetch) fetch(context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []byte(c.data), nil
}

func (c *countingFetch) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestSQLiteStore_PutGet(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "host:1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := store.Put(ctx, "host:1", []byte(tinyInfo), at); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, "host:1", []byte(`{}`), at.Add(time.Hour)); err != nil {
		t.Fatalf("Put (replace): %v", err)
	}

	rec, err := store.Get(ctx, "host:1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(rec.Raw) != `{}` {
		t.Errorf("Raw = %q, want {}", rec.Raw)
	}
	if !rec.FetchedAt.Equal(at.Add(time.Hour)) {
		t.Errorf("FetchedAt = %v, want %v", rec.FetchedAt, at.Add(time.Hour))
	}
}

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
	_ = store.Put(ctx, "k", []byte("abc"), time.Unix(10, 0))
	rec, err := store.Get(ctx, "k")
	if err != nil || string(rec.Raw) != "abc" {
		t.Fatalf("Get = %+v, %v", rec, err)
	}
}

func TestCachingProvider_MemoryHit(t *testing.T) {
	f := &countingFetch{data: tinyInfo}
	p := &CachingProvider{Key: "h", Load: f.fetch}
	for i := 0; i < 3; i++ {
		table, err := p.Fetch(context.Background())
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if !table.Has("LoadImage") {
			t.Fatal("LoadImage missing")
		}
	}
	if f.count() != 1 {
		t.Errorf("fetch calls = %d, want 1", f.count())
	}
}

func TestCachingProvider_StoreWithinTTL(t *testing.T) {
	store := newTestSQLiteStore(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	_ = store.Put(context.Background(), "h", []byte(tinyInfo), now.Add(-time.Hour))

	f := &countingFetch{data: `{}`}
	p := &CachingProvider{Key: "h", Load: f.fetch, Store: store, TTL: 2 * time.Hour, Now: func() time.Time { return now }}
	table, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !table.Has("LoadImage") {
		t.Error("expected table from store")
	}
	if f.count() != 0 {
		t.Errorf("fetch calls = %d, want 0", f.count())
	}
}

func TestCachingProvider_ExpiredRefetches(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	_ = store.Put(context.Background(), "h", []byte(`{}`), now.Add(-48*time.Hour))

	f := &countingFetch{data: tinyInfo}
	p := &CachingProvider{Key: "h", Load: f.fetch, Store: store, Now: func() time.Time { return now }}
	table, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !table.Has("LoadImage") {
		t.Error("expected freshly fetched table")
	}
	rec, _ := store.Get(context.Background(), "h")
	if string(rec.Raw) != tinyInfo || !rec.FetchedAt.Equal(now) {
		t.Errorf("store not updated: %+v", rec)
	}
}

func TestCachingProvider_StaleFallback(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	_ = store.Put(context.Background(), "h", []byte(tinyInfo), now.Add(-48*time.Hour))

	f := &countingFetch{err: fmt.Errorf("connection refused")}
	p := &CachingProvider{Key: "h", Load: f.fetch, Store: store, Now: func() time.Time { return now }}
	table, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !table.Has("LoadImage") {
		t.Error("expected stale table")
	}
}

func TestCachingProvider_FetchError(t *testing.T) {
	f := &countingFetch{err: fmt.Errorf("boom")}
	p := &CachingProvider{Key: "h", Load: f.fetch, Store: NewMemoryStore()}
	if _, err := p.Fetch(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestCachingProvider_Refresh(t *testing.T) {
	f := &countingFetch{data: tinyInfo}
	p := &CachingProvider{Key: "h", Load: f.fetch}
	if _, err := p.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if f.count() != 2 {
		t.Errorf("fetch calls = %d, want 2", f.count())
	}
}

func TestCachingProvider_Concurrent(t *testing.T) {
	f := &countingFetch{data: tinyInfo}
	p := &CachingProvider{Key: "h", Load: f.fetch}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Fetch(context.Background()); err != nil {
				t.Errorf("Fetch: %v", err)
			}
		}()
	}
	wg.Wait()
	if f.count() != 1 {
		t.Errorf("fetch calls = %d, want 1", f.count())
	}
}

func TestStatic(t *testing.T) {
	table := NewTable(&NodeType{Name: "A"})
	got, err := Static(table).Fetch(context.Background())
	if err != nil || got != table {
		t.Fatalf("Static().Fetch() = %v, %v", got, err)
	}
	fn := ProviderFunc(func(context.Context) (*Table, error) { return table, nil })
	if got, _ := fn.Fetch(context.Background()); got != table {
		t.Error("ProviderFunc did not return table")
	}
}
