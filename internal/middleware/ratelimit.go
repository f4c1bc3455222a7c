package middleware

import (
	"net/http"
	"sync"
	"time"
)

// RateLimiter: скользящее окно запросов на ключ (пользователь или IP).
type RateLimiter struct {
	mu     sync.Mutex
	times  map[string][]time.Time
	max    int
	window time.Duration
	now    func() time.Time
}

func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{times: make(map[string][]time.Time), max: max, window: window, now: time.Now}
}

func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	cutoff := now.Add(-l.window)
	kept := l.times[key][:0]
	for _, t := range l.times[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.max {
		l.times[key] = kept
		return false
	}
	l.times[key] = append(kept, now)
	return true
}

// Middleware ограничивает запросы по user_id из контекста, а без него: по RemoteAddr
// (после chi RealIP это адрес клиента). 429 при превышении; max <= 0 отключает лимит.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.max <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		key := "ip:" + r.RemoteAddr
		if userID := GetUserID(r.Context()); userID != "" {
			key = "u:" + userID
		}
		if !l.Allow(key) {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
