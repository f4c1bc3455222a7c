package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/smalltalk/internal/config"
	"github.com/smalltalk/internal/media"
	"github.com/smalltalk/internal/middleware"
	"github.com/smalltalk/internal/push"
	"github.com/smalltalk/internal/service"
	"github.com/smalltalk/internal/ws"
)

// Deps: всё, из чего собирается HTTP-интерфейс API.
type Deps struct {
	Config *config.Config
	Chats  *service.ChatService
	Hub    *ws.Hub
	Media  media.Store
	Push   *push.Client
}

func NewRouter(d Deps) http.Handler {
	chatH := NewChatHandler(d.Chats)
	msgH := NewMessageHandler(d.Chats)
	mediaH := NewMediaHandler(d.Media, d.Chats)
	pushH := NewPushHandler(d.Push)
	configH := NewConfigHandler(d.Config)
	wsH := NewWSHandler(d.Hub, d.Config.CORSAllowedOrigins)
	sendLimit := middleware.NewRateLimiter(d.Config.SendRateLimit, time.Minute)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	// Не сжимать WebSocket: иначе ResponseWriter не реализует http.Hijacker и upgrade падает.
	compress := chimw.Compress(5)
	r.Use(func(next http.Handler) http.Handler {
		compressed := compress(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: splitOrigins(d.Config.CORSAllowedOrigins),
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.UserIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/api/config", configH.GetClientConfig)
	// Локальное хранилище раздаёт файлы само; доступ проверяется подписью ссылки.
	if files, ok := d.Media.(http.Handler); ok {
		r.Get(media.DiskRoute+"*", files.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.UserID)
		r.Get("/api/chats", chatH.List)
		r.Post("/api/chats/direct", chatH.OpenDirect)
		r.Post("/api/chats/group", chatH.CreateGroup)
		r.Post("/api/chats/{id}/members", chatH.AddMember)
		r.Delete("/api/chats/{id}/members/{memberId}", chatH.RemoveMember)
		r.Get("/api/chats/{chatId}/messages", msgH.List)
		r.Group(func(r chi.Router) {
			r.Use(sendLimit.Middleware)
			r.Post("/api/chats/{chatId}/messages", msgH.Send)
			r.Post("/api/chats/{chatId}/messages/{messageId}/forward", msgH.Forward)
			r.Post("/api/chats/{chatId}/media", mediaH.Upload)
		})
		r.Get("/api/media", mediaH.URL)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Get("/ws", wsH.ServeWS)
	})
	return r
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
