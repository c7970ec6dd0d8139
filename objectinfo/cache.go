package objectinfo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL is how long a stored payload is served before refetching.
const DefaultTTL = 24 * time.Hour

// CachingProvider serves a parsed table from memory, then from Store while
// the stored payload is younger than TTL, and otherwise calls Load and
// stores the result. The cache is an explicit handle owned by the caller.
type CachingProvider struct {
	// Key identifies the table in Store, usually the server address.
	Key string
	// Load returns the raw object-info payload.
	Load func(ctx context.Context) ([]byte, error)
	// Store is optional.
	Store  Store
	TTL    time.Duration
	Now    func() time.Time
	Logger *slog.Logger

	mu    sync.Mutex
	table *Table
}

// Invalidate drops the in-memory table so the next Fetch consults Store.
func (p *CachingProvider) Invalidate() {
	p.mu.Lock()
	p.table = nil
	p.mu.Unlock()
}

// Refresh fetches a new payload regardless of what is cached.
func (p *CachingProvider) Refresh(ctx context.Context) (*Table, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetchLocked(ctx, nil)
}

// Fetch implements Provider.
func (p *CachingProvider) Fetch(ctx context.Context) (*Table, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.table != nil {
		return p.table, nil
	}

	var stale *Record
	if p.Store != nil {
		rec, err := p.Store.Get(ctx, p.Key)
		switch {
		case err == nil:
			if p.now().Sub(rec.FetchedAt) < p.ttl() {
				table, perr := Parse(rec.Raw)
				if perr == nil {
					p.logger().Debug("object info served from store", "key", p.Key, "types", table.Len())
					p.table = table
					return table, nil
				}
				p.logger().Warn("discarding unreadable cached object info", "key", p.Key, "error", perr)
			} else {
				stale = &rec
			}
		case errors.Is(err, ErrNotFound):
		default:
			p.logger().Warn("object info store lookup failed", "key", p.Key, "error", err)
		}
	}

	return p.fetchLocked(ctx, stale)
}

func (p *CachingProvider) fetchLocked(ctx context.Context, stale *Record) (*Table, error) {
	if p.Load == nil {
		return nil, fmt.Errorf("objectinfo: no fetch function for %q", p.Key)
	}
	raw, err := p.Load(ctx)
	if err != nil {
		if stale != nil {
			if table, perr := Parse(stale.Raw); perr == nil {
				p.logger().Warn("object info fetch failed, using stale cache",
					"key", p.Key, "age", p.now().Sub(stale.FetchedAt).String(), "error", err)
				p.table = table
				return table, nil
			}
		}
		return nil, fmt.Errorf("objectinfo: fetch %q: %w", p.Key, err)
	}

	table, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if p.Store != nil {
		if err := p.Store.Put(ctx, p.Key, raw, p.now()); err != nil {
			p.logger().Warn("failed to store object info", "key", p.Key, "error", err)
		}
	}
	p.logger().Debug("object info fetched", "key", p.Key, "types", table.Len(), "bytes", len(raw))
	p.table = table
	return table, nil
}

func (p *CachingProvider) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *CachingProvider) ttl() time.Duration {
	if p.TTL > 0 {
		return p.TTL
	}
	return DefaultTTL
}

func (p *CachingProvider) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
