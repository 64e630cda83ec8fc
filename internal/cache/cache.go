// Package cache is the in-process tier of the card view cache.
package cache

import (
	"context"
	"sync"
	"time"

	"ms-klippekort/internal/models"

	lru "github.com/hashicorp/golang-lru"
)

type entry struct {
	views     *models.CardViews
	expiresAt time.Time
}

// Local is a size-bounded LRU of owner card views with per-entry expiry.
// Its generation is shared by all owners: any invalidation rejects writes
// of views loaded before it.
type Local struct {
	mu         sync.Mutex
	cache      *lru.Cache
	ttl        time.Duration
	now        func() time.Time
	generation uint64
}

func NewLocal(size int, ttl time.Duration) (*Local, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Local{cache: c, ttl: ttl, now: time.Now}, nil
}

func (l *Local) Get(_ context.Context, owner string) (*models.CardViews, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.cache.Get(owner)
	if !ok {
		return nil, false
	}
	e := v.(entry)
	if !l.now().Before(e.expiresAt) {
		l.cache.Remove(owner)
		return nil, false
	}
	return e.views, true
}

func (l *Local) Generation(_ context.Context, _ string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation
}

func (l *Local) Set(_ context.Context, owner string, generation uint64, views *models.CardViews) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if generation != l.generation {
		return
	}
	l.cache.Add(owner, entry{views: views, expiresAt: l.now().Add(l.ttl)})
}

func (l *Local) Invalidate(_ context.Context, owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.generation++
	l.cache.Remove(owner)
}

func (l *Local) Len() int {
	return l.cache.Len()
}
