package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"ms-klippekort/internal/logger"
	"ms-klippekort/internal/models"

	"github.com/go-redis/redis/v8"
)

const (
	viewPrefix       = "klippekort_view:"
	generationPrefix = "klippekort_view_gen:"
	generationTTL    = 24 * time.Hour
)

// setIfCurrentScript writes the view only while the owner's generation still
// matches the one read before the cards were loaded.
var setIfCurrentScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1]) or "0"
if current == ARGV[1] then
	redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
	return 1
end
return 0
`)

// ViewCache stores an owner's card views as JSON. Redis errors are logged and
// treated as misses so the ledger falls back to the store.
type ViewCache struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
}

func NewViewCache(client *redis.Client, ttl time.Duration, log *logger.Logger) *ViewCache {
	return &ViewCache{Client: client, TTL: ttl, Logger: log}
}

func (c *ViewCache) Get(ctx context.Context, owner string) (*models.CardViews, bool) {
	raw, err := c.Client.Get(ctx, viewPrefix+owner).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.Logger.Warn("REDIS", fmt.Sprintf("View cache read failed for %s: %v", owner, err))
		return nil, false
	}

	var views models.CardViews
	if err := json.Unmarshal(raw, &views); err != nil {
		c.Logger.Warn("REDIS", fmt.Sprintf("Dropping unreadable view cache entry for %s: %v", owner, err))
		c.Invalidate(ctx, owner)
		return nil, false
	}
	return &views, true
}

// Generation returns the owner's invalidation counter, 0 when never invalidated.
// A read error returns a generation no Set will match.
func (c *ViewCache) Generation(ctx context.Context, owner string) uint64 {
	gen, err := c.Client.Get(ctx, generationPrefix+owner).Uint64()
	if err == redis.Nil {
		return 0
	}
	if err != nil {
		c.Logger.Warn("REDIS", fmt.Sprintf("View cache generation read failed for %s: %v", owner, err))
		return ^uint64(0)
	}
	return gen
}

func (c *ViewCache) Set(ctx context.Context, owner string, generation uint64, views *models.CardViews) {
	raw, err := json.Marshal(views)
	if err != nil {
		c.Logger.Warn("REDIS", fmt.Sprintf("View cache encode failed for %s: %v", owner, err))
		return
	}

	stored, err := setIfCurrentScript.Run(ctx, c.Client,
		[]string{generationPrefix + owner, viewPrefix + owner},
		strconv.FormatUint(generation, 10), raw, c.TTL.Milliseconds(),
	).Int()
	if err != nil {
		c.Logger.Warn("REDIS", fmt.Sprintf("View cache write failed for %s: %v", owner, err))
		return
	}
	if stored == 0 {
		c.Logger.Debug("REDIS", fmt.Sprintf("View cache write for %s skipped, invalidated while loading", owner))
	}
}

// Invalidate bumps the owner's generation before dropping the entry, so a
// load that started earlier cannot write its result back.
func (c *ViewCache) Invalidate(ctx context.Context, owner string) {
	genKey := generationPrefix + owner
	_, err := c.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, viewPrefix+owner)
		return nil
	})
	if err != nil {
		c.Logger.Warn("REDIS", fmt.Sprintf("View cache invalidation failed for %s: %v", owner, err))
	}
}
