package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	require.Equal(t, "user:7:packages", UserPackagesKey(7))
	require.Equal(t, "package:42:current", PackageKey(42))
	require.Equal(t, "lock:refresh:42", RefreshLockKey(42))

	at := time.Date(2024, 1, 2, 9, 5, 59, 0, time.UTC)
	require.Equal(t, "rl:carrier:UPS:202401020905", RateLimitKey("UPS", at))
}
