// Package cache holds the byte cache contract and the key layout shared by
// the api and worker processes.
package cache

import (
	"context"
	"fmt"
	"time"
)

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

func UserPackagesKey(userID int64) string {
	return fmt.Sprintf("user:%d:packages", userID)
}

func PackageKey(packageID uint64) string {
	return fmt.Sprintf("package:%d:current", packageID)
}

func RefreshLockKey(packageID uint64) string {
	return fmt.Sprintf("lock:refresh:%d", packageID)
}

// RateLimitKey buckets scrapes per carrier per minute.
func RateLimitKey(carrier string, now time.Time) string {
	return fmt.Sprintf("rl:carrier:%s:%s", carrier, now.UTC().Format("200601021504"))
}
