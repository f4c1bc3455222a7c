package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/smalltalk/internal/logger"
)

// RecoverJSON при панике в handler логирует её со стеком и отдаёт JSON 500,
// если ответ ещё не начат. http.ErrAbortHandler пробрасывается дальше.
func RecoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww, ok := w.(chimw.WrapResponseWriter)
		if !ok {
			ww = chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Errorf("panic recovered %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
			if ww.Status() == 0 {
				ww.Header().Set("Content-Type", "application/json; charset=utf-8")
				ww.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(ww).Encode(map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(ww, r)
	})
}
