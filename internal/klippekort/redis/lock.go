package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const lockPrefix = "klippekort_lock:"

// releaseScript deletes the lock only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a per-card redemption lock keyed by owner and card id. The TTL bounds how long a crashed
// holder can block the card.
type Lock struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewLock(client *redis.Client, ttl time.Duration) *Lock {
	return &Lock{Client: client, TTL: ttl}
}

func (l *Lock) Acquire(ctx context.Context, key string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.Client.SetNX(ctx, lockPrefix+key, token, l.TTL).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Lock) Release(ctx context.Context, key, token string) error {
	err := releaseScript.Run(ctx, l.Client, []string{lockPrefix + key}, token).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}

// IsLocked reports whether a redemption currently holds the key.
func (l *Lock) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := l.Client.Exists(ctx, lockPrefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
