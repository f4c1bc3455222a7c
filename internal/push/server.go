package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/smalltalk/internal/logger"
)

const (
	redisKeyPrefix  = "push:subs:"
	maxSubsPerUser  = 10
	subscriptionTTL = 30 * 24 * time.Hour
	notifyTimeout   = 10 * time.Second
)

// Subscriptions хранит подписки пользователей.
type Subscriptions interface {
	Add(ctx context.Context, userID string, sub Subscription) error
	Remove(ctx context.Context, userID, endpoint string) error
	List(ctx context.Context, userID string) ([]Subscription, error)
}

// RedisSubscriptions: подписки в Redis-списке на пользователя, не больше maxSubsPerUser.
type RedisSubscriptions struct {
	rdb *redis.Client
}

func NewRedisSubscriptions(rdb *redis.Client) *RedisSubscriptions {
	return &RedisSubscriptions{rdb: rdb}
}

func (s *RedisSubscriptions) Add(ctx context.Context, userID string, sub Subscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	key := redisKeyPrefix + userID
	pipe := s.rdb.TxPipeline()
	pipe.LRem(ctx, key, 0, string(raw))
	pipe.RPush(ctx, key, string(raw))
	pipe.LTrim(ctx, key, -maxSubsPerUser, -1)
	pipe.Expire(ctx, key, subscriptionTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisSubscriptions) Remove(ctx context.Context, userID, endpoint string) error {
	key := redisKeyPrefix + userID
	items, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	for _, item := range items {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) != nil || sub.Endpoint == endpoint {
			pipe.LRem(ctx, key, 0, item)
		}
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisSubscriptions) List(ctx context.Context, userID string) ([]Subscription, error) {
	items, err := s.rdb.LRange(ctx, redisKeyPrefix+userID, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	subs := make([]Subscription, 0, len(items))
	for _, item := range items {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != "" {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

// Sender доставляет один payload на одну подписку и возвращает HTTP-статус push-сервиса браузера.
type Sender func(ctx context.Context, payload []byte, sub Subscription) (int, error)

// WebPushSender подписывает запросы VAPID-ключами.
func WebPushSender(keys VAPIDKeys, subscriber string) Sender {
	opts := &webpush.Options{
		Subscriber:      subscriber,
		VAPIDPublicKey:  keys.PublicKey,
		VAPIDPrivateKey: keys.PrivateKey,
		TTL:             30,
	}
	return func(ctx context.Context, payload []byte, sub Subscription) (int, error) {
		resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}, opts)
		if err != nil {
			return 0, err
		}
		resp.Body.Close()
		return resp.StatusCode, nil
	}
}

// Server: HTTP-интерфейс сервиса пушей: подписки и отправка.
type Server struct {
	subs      Subscriptions
	send      Sender
	publicKey string
}

// NewServer: send == nil: подписки сохраняются, но уведомления не отправляются.
func NewServer(subs Subscriptions, send Sender, publicKey string) *Server {
	return &Server{subs: subs, send: send, publicKey: publicKey}
}

func (s *Server) Routes(r chi.Router) {
	r.Get("/api/vapid-public", s.handleVAPIDPublic)
	r.Post("/api/subscribe", s.handleSubscribe)
	r.Delete("/api/subscribe", s.handleUnsubscribe)
	r.Post("/api/notify", s.handleNotify)
}

func (s *Server) handleVAPIDPublic(w http.ResponseWriter, r *http.Request) {
	if s.publicKey == "" {
		http.Error(w, "push not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(s.publicKey))
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || !req.Subscription.Valid() {
		http.Error(w, "user_id and subscription (endpoint, keys.p256dh, keys.auth) required", http.StatusBadRequest)
		return
	}
	if err := s.subs.Add(r.Context(), req.UserID, req.Subscription); err != nil {
		logger.Errorf("push subscribe user=%s: %v", req.UserID, err)
		http.Error(w, "failed to save subscription", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req UnsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.Endpoint == "" {
		http.Error(w, "user_id and endpoint required", http.StatusBadRequest)
		return
	}
	if err := s.subs.Remove(r.Context(), req.UserID, req.Endpoint); err != nil {
		logger.Errorf("push unsubscribe user=%s: %v", req.UserID, err)
		http.Error(w, "failed to remove subscription", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), notifyTimeout)
	defer cancel()
	if err := s.deliver(ctx, req); err != nil {
		logger.Errorf("push notify user=%s: %v", req.UserID, err)
		http.Error(w, "failed to get subscriptions", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deliver рассылает уведомление на все подписки пользователя; подписки, на которые
// браузерный сервис ответил 404/410, удаляются.
func (s *Server) deliver(ctx context.Context, req NotifyRequest) error {
	subs, err := s.subs.List(ctx, req.UserID)
	if err != nil {
		return err
	}
	if s.send == nil || len(subs) == 0 {
		return nil
	}
	payload, err := json.Marshal(map[string]any{"title": req.Title, "body": req.Body, "data": req.Data})
	if err != nil {
		return err
	}
	var errs []error
	for _, sub := range subs {
		status, err := s.send(ctx, payload, sub)
		if err != nil {
			errs = append(errs, err)
			logger.Errorf("push send %s: %v", sub.Endpoint[:min(50, len(sub.Endpoint))], err)
			continue
		}
		if status == http.StatusGone || status == http.StatusNotFound {
			if err := s.subs.Remove(ctx, req.UserID, sub.Endpoint); err != nil {
				logger.Errorf("push drop stale subscription user=%s: %v", req.UserID, err)
			}
		}
	}
	if len(errs) == len(subs) {
		logger.Errorf("push: all %d deliveries failed for user=%s: %v", len(subs), req.UserID, errors.Join(errs...))
	}
	return nil
}
