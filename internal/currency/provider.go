package currency

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Source fetches a fresh rate snapshot from the ledger.
type Source interface {
	FetchRates(ctx context.Context) (*Snapshot, error)
}

// Provider hands out the current rate snapshot. Lookups go through the cache
// first, misses are collapsed into a single upstream fetch, and when the
// ledger is unreachable the last good snapshot keeps serving. With no
// snapshot at all the provider degrades to an empty rate table, which the
// converter treats as "no conversion", so checkout stays usable offline.
type Provider struct {
	source Source
	cache  Cache
	base   string
	ttl    time.Duration
	group  singleflight.Group

	mu   sync.RWMutex
	last *Snapshot
}

func NewProvider(source Source, cache Cache, baseCurrency string, ttl time.Duration) *Provider {
	if ttl < time.Second {
		ttl = 5 * time.Minute
	}
	return &Provider{
		source: source,
		cache:  cache,
		base:   baseCurrency,
		ttl:    ttl,
	}
}

func (p *Provider) cacheKey() string {
	return "pos:rates:" + p.base
}

// Current returns the best snapshot available right now. It never fails;
// the zero-rate fallback is the documented degradation path.
func (p *Provider) Current(ctx context.Context) Snapshot {
	if snap, found, err := p.cache.Get(ctx, p.cacheKey()); err != nil {
		log.Printf("[rates] WARN: cache read failed: %v", err)
	} else if found {
		p.remember(snap)
		return *snap
	}

	fetched, err, _ := p.group.Do("fetch", func() (interface{}, error) {
		return p.source.FetchRates(ctx)
	})
	if err == nil {
		snap := fetched.(*Snapshot)
		if snap.FetchedAt.IsZero() {
			snap.FetchedAt = time.Now().UTC()
		}
		if err := p.cache.Set(ctx, p.cacheKey(), snap, p.ttl); err != nil {
			log.Printf("[rates] WARN: cache write failed: %v", err)
		}
		p.remember(snap)
		return *snap
	}
	log.Printf("[rates] WARN: fetch failed, serving last known snapshot: %v", err)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last != nil {
		return *p.last
	}
	return Snapshot{Base: p.base}
}

func (p *Provider) remember(snap *Snapshot) {
	p.mu.Lock()
	p.last = snap
	p.mu.Unlock()
}

// Fixed is a Source serving a constant snapshot, for tests and for terminals
// configured with a static rate table.
type Fixed struct {
	Snap Snapshot
}

func (f Fixed) FetchRates(_ context.Context) (*Snapshot, error) {
	snap := f.Snap
	return &snap, nil
}
