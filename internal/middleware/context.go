package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// UserIDHeader несёт идентификатор пользователя, уже проверенный шлюзом перед API.
const UserIDHeader = "X-User-Id"

const maxUserIDLen = 128

// GetUserID возвращает user_id из контекста (устанавливается UserID).
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// UserID кладёт в контекст id из заголовка X-User-Id; без него: 401.
// Для WebSocket (браузер не шлёт свои заголовки) допускается query-параметр user_id.
func UserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if id == "" && websocketUpgrade(r) {
			id = strings.TrimSpace(r.URL.Query().Get("user_id"))
		}
		if id == "" || len(id) > maxUserIDLen || strings.ContainsAny(id, "/\x00") {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
	})
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
