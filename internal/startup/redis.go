package startup

import (
	"context"
	"time"

	redisstorage "github.com/smalltalk/internal/storage/redis"
)

// ConnectRedis поднимает шину обновлений на Redis pub/sub.
func ConnectRedis(ctx context.Context, redisURL string, maxWait time.Duration) (*redisstorage.Bus, error) {
	return withRetry(ctx, "redis", maxWait, func(ctx context.Context) (*redisstorage.Bus, error) {
		return redisstorage.New(ctx, redisURL)
	})
}
