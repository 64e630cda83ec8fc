package klippekort_api

import (
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"
)

// OwnerLimiter throttles redemption attempts per owner. Limiters for owners
// that have gone quiet fall out of the LRU.
type OwnerLimiter struct {
	limiters *lru.Cache
	limit    rate.Limit
	burst    int
}

func NewOwnerLimiter(perSecond float64, burst, size int) (*OwnerLimiter, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &OwnerLimiter{limiters: c, limit: rate.Limit(perSecond), burst: burst}, nil
}

func (o *OwnerLimiter) Allow(owner string) bool {
	if v, ok := o.limiters.Get(owner); ok {
		return v.(*rate.Limiter).Allow()
	}
	l := rate.NewLimiter(o.limit, o.burst)
	if prev, ok, _ := o.limiters.PeekOrAdd(owner, l); ok {
		l = prev.(*rate.Limiter)
	}
	return l.Allow()
}
