package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/smalltalk/internal/logger"
)

// RequestLog логирует запрос: метод, путь, статус и длительность. Ошибки 5xx: на уровне error.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww, ok := w.(chimw.WrapResponseWriter)
		if !ok {
			ww = chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		}
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				logger.Errorf("http %s %s status=%d duration_ms=%d", r.Method, r.URL.Path, status, time.Since(start).Milliseconds())
				return
			}
			logger.LogDuration("http "+r.Method+" "+r.URL.Path, start)
		}()
		next.ServeHTTP(ww, r)
	})
}
