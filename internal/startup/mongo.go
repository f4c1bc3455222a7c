package startup

import (
	"context"
	"time"

	mongostore "github.com/smalltalk/internal/storage/mongo"
)

func ConnectMongo(ctx context.Context, uri, database string, maxWait time.Duration) (*mongostore.Store, error) {
	return withRetry(ctx, "mongo", maxWait, func(ctx context.Context) (*mongostore.Store, error) {
		return mongostore.New(ctx, uri, database)
	})
}
