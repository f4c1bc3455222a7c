package ws

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/smalltalk/internal/grouping"
	"github.com/smalltalk/internal/logger"
	"github.com/smalltalk/internal/model"
	"github.com/smalltalk/internal/record"
	"github.com/smalltalk/internal/storage"
)

const lookupTimeout = 5 * time.Second

// Source: чтение чатов и истории, нужное хабу. storage.DocumentStore реализует его.
type Source interface {
	GetChat(ctx context.Context, id string) (record.Snapshot, error)
	ListMessages(ctx context.Context, chatID string, before time.Time, limit int) ([]record.Snapshot, error)
}

// Hub держит WebSocket-подключения пользователей и раздаёт им обновления из шины.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	total    int
	maxConns int

	bus    storage.UpdateBus
	source Source
	// last: последнее сообщение каждого чата, виденное хабом. Доступ только из loop.
	last map[string]model.Message

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(bus storage.UpdateBus, source Source, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		bus:        bus,
		source:     source,
		last:       make(map[string]model.Message),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

// Start подписывается на шину и запускает цикл хаба. Цикл завершается с отменой ctx.
func (h *Hub) Start(ctx context.Context) error {
	updates, err := h.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("ws hub subscribe: %w", err)
	}
	go h.loop(ctx, updates)
	return nil
}

// Done закрывается, когда цикл хаба завершён и все клиенты отключены.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) loop(ctx context.Context, updates <-chan storage.Update) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case u, ok := <-updates:
			if !ok {
				logger.Error("ws hub: update bus closed")
				updates = nil
				continue
			}
			h.dispatch(ctx, u)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	all := make([]*Client, 0, h.total)
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	if ok {
		if _, exists := set[c]; exists {
			delete(set, c)
			h.total--
			if len(set) == 0 {
				delete(h.clients, c.userID)
			}
		}
	}
	h.mu.Unlock()
	c.Close()
}

// Connected возвращает число открытых соединений userID.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) dispatch(ctx context.Context, u storage.Update) {
	defer logger.DeferLogDuration("ws.dispatch", time.Now())()
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	switch u.Kind {
	case storage.UpdateMessage:
		h.dispatchMessage(ctx, u)
	case storage.UpdateChat:
		h.dispatchChat(u)
	default:
		logger.Errorf("ws hub: unknown update kind %q chat=%s", u.Kind, u.ChatID)
	}
}

func (h *Hub) dispatchMessage(ctx context.Context, u storage.Update) {
	m, ok := record.MessageFromSnapshot(u.Snapshot())
	if !ok {
		return
	}
	if m.ChatID == "" {
		m.ChatID = u.ChatID
	}
	chatSnap, err := h.source.GetChat(ctx, m.ChatID)
	if err != nil {
		logger.Errorf("ws hub: chat %s for message %s: %v", m.ChatID, m.ID, err)
		return
	}
	merged := false
	if prev, ok := h.previous(ctx, m); ok {
		merged = grouping.ShouldMerge(prev, m)
	}
	if cur, ok := h.last[m.ChatID]; !ok || !m.CreatedAt.Before(cur.CreatedAt) {
		h.last[m.ChatID] = m
	}
	for _, uid := range record.Users(chatSnap.Data) {
		h.sendToUser(uid, OutgoingMessage{Type: EventNewMessage, Payload: MessagePayload{
			Message:  m,
			Incoming: m.IsIncoming(uid),
			Merged:   merged,
		}})
	}
}

// previous находит сообщение, после которого m показывается в чате: из кеша, если m
// новее него, иначе из хранилища.
func (h *Hub) previous(ctx context.Context, m model.Message) (model.Message, bool) {
	if cur, ok := h.last[m.ChatID]; ok && cur.ID != m.ID && cur.CreatedAt.Before(m.CreatedAt) {
		return cur, true
	}
	// Хранилище с более грубым временем может вернуть само m: берём на одно больше.
	snaps, err := h.source.ListMessages(ctx, m.ChatID, m.CreatedAt, 2)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Errorf("ws hub: previous message chat=%s: %v", m.ChatID, err)
		}
		return model.Message{}, false
	}
	for _, prev := range record.DecodeMessages(snaps) {
		if prev.ID != m.ID {
			return prev, true
		}
	}
	return model.Message{}, false
}

func (h *Hub) dispatchChat(u storage.Update) {
	chat, ok := record.ChatFromSnapshot(u.Snapshot())
	if !ok {
		return
	}
	for _, uid := range chat.Users {
		h.sendToUser(uid, OutgoingMessage{Type: EventChatUpdated, Payload: ChatPayload{Chat: chat}})
	}
	for _, uid := range u.Audience {
		if slices.Contains(chat.Users, uid) {
			continue
		}
		h.sendToUser(uid, OutgoingMessage{Type: EventChatUpdated, Payload: ChatPayload{Chat: chat, Removed: true}})
	}
}

// HandleMessage разбирает входящие сообщения WebSocket.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventTyping:
		h.handleTyping(ctx, c, msg)
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "unknown event type"})
	}
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.ChatID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	snap, err := h.source.GetChat(ctx, msg.ChatID)
	if err != nil {
		logger.Errorf("ws typing chat=%s: %v", msg.ChatID, err)
		return
	}
	members := record.Users(snap.Data)
	if !slices.Contains(members, c.userID) {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "not a member"})
		return
	}
	out := OutgoingMessage{Type: EventTyping, Payload: TypingPayload{ChatID: msg.ChatID, UserID: c.userID}}
	for _, uid := range members {
		if uid != c.userID {
			h.sendToUser(uid, out)
		}
	}
}

func (h *Hub) sendToUser(userID string, msg OutgoingMessage) {
	h.mu.RLock()
	set := h.clients[userID]
	targets := make([]*Client, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Буфер отправки полон: медленный клиент отключается.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
