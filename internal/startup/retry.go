// Package startup подключает внешние зависимости с повторами: при старте в docker-compose
// БД и Redis часто поднимаются позже API.
package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/smalltalk/internal/logger"
)

const (
	attemptTimeout = 10 * time.Second
	initialBackoff = 2 * time.Second
	maxBackoff     = 30 * time.Second
)

// sleep подменяется в тестах.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// withRetry вызывает connect, пока он не вернёт nil, не истечёт maxWait или не отменится ctx.
// Пауза между попытками растёт вдвое до maxBackoff.
func withRetry[T any](ctx context.Context, what string, maxWait time.Duration, connect func(context.Context) (T, error)) (T, error) {
	deadline := time.Now().Add(maxWait)
	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		actx, cancel := context.WithTimeout(ctx, attemptTimeout)
		v, err := connect(actx)
		cancel()
		if err == nil {
			if attempt > 1 {
				logger.Infof("%s connected after %d attempts", what, attempt)
			}
			return v, nil
		}
		if time.Now().After(deadline) {
			var zero T
			return zero, fmt.Errorf("%s: gave up after %v: %w", what, maxWait, err)
		}
		logger.Errorf("%s connect failed, retry in %v: %v", what, backoff, err)
		if err := sleep(ctx, backoff); err != nil {
			var zero T
			return zero, fmt.Errorf("%s: %w", what, err)
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
