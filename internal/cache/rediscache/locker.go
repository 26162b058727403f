package rediscache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`)

// Locker is a best-effort mutex across processes. A lock expires after its
// TTL even if the holder dies.
type Locker struct {
	c *redis.Client
}

func NewLocker(c *redis.Client) *Locker {
	return &Locker{c: c}
}

// Acquire returns the token to release with, or ok=false if someone else holds key.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.c.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, errors.Wrap(err, "redis lock")
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if err := unlockScript.Run(ctx, l.c, []string{key}, token).Err(); err != nil {
		return errors.Wrap(err, "redis unlock")
	}
	return nil
}
