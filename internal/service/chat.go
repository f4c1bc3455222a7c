// Package service реализует операции над чатами и сообщениями поверх хранилища документов:
// проверка членства, запись, публикация обновлений и пуш-уведомления.
package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/smalltalk/internal/grouping"
	"github.com/smalltalk/internal/logger"
	"github.com/smalltalk/internal/model"
	"github.com/smalltalk/internal/record"
	"github.com/smalltalk/internal/storage"
)

var (
	// ErrForbidden: пользователь не участник чата или не администратор группы.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound: чат или сообщение не найдены (в том числе повреждённый документ).
	ErrNotFound = storage.ErrNotFound
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
	maxPushBody     = 120
	notifyTimeout   = 10 * time.Second
)

// Notifier отправляет пуш-уведомления. push.Client реализует его.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

type ChatService struct {
	store  storage.DocumentStore
	bus    storage.UpdateBus
	notify Notifier
	now    func() time.Time
}

// NewChatService: notify может быть nil: пуши не отправляются.
func NewChatService(store storage.DocumentStore, bus storage.UpdateBus, notify Notifier) *ChatService {
	return &ChatService{store: store, bus: bus, notify: notify, now: func() time.Time { return time.Now().UTC() }}
}

// Chat возвращает чат, если viewerID в нём состоит.
func (s *ChatService) Chat(ctx context.Context, chatID, viewerID string) (model.Chat, error) {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return model.Chat{}, err
	}
	if !chat.HasMember(viewerID) {
		return model.Chat{}, ErrForbidden
	}
	return chat, nil
}

// OpenDirect находит переписку ownerID с otherID или создаёт её. Для ownerID == otherID
// это «Избранное».
func (s *ChatService) OpenDirect(ctx context.Context, ownerID, otherID string) (model.Chat, error) {
	defer logger.DeferLogDuration("chatService.OpenDirect", time.Now())()
	if ownerID == "" || otherID == "" {
		return model.Chat{}, fmt.Errorf("%w: empty user id", model.ErrInvalidChat)
	}
	snaps, err := s.store.ListChats(ctx, ownerID)
	if err != nil {
		return model.Chat{}, fmt.Errorf("chatService.OpenDirect: %w", err)
	}
	for _, c := range record.DecodeChats(snaps) {
		switch t := c.Type.(type) {
		case model.SelfNotes:
			if ownerID == otherID {
				return c, nil
			}
		case model.Direct:
			if ownerID != otherID && t.Has(ownerID) && t.Has(otherID) {
				return c, nil
			}
		}
	}
	return s.createChat(ctx, model.NewDirectChat(ownerID, otherID))
}

func (s *ChatService) CreateGroup(ctx context.Context, adminID, title string, members []string, hexColor *string) (model.Chat, error) {
	defer logger.DeferLogDuration("chatService.CreateGroup", time.Now())()
	title = strings.TrimSpace(title)
	if adminID == "" || title == "" {
		return model.Chat{}, fmt.Errorf("%w: group needs an admin and a title", model.ErrInvalidChat)
	}
	return s.createChat(ctx, model.NewGroupChat(adminID, title, members, hexColor))
}

// AddMember добавляет userID в группу; может только администратор.
func (s *ChatService) AddMember(ctx context.Context, chatID, actorID, userID string) (model.Chat, error) {
	chat, err := s.Chat(ctx, chatID, actorID)
	if err != nil {
		return model.Chat{}, err
	}
	if g, ok := chat.Type.(model.Group); ok && g.AdminID != actorID {
		return model.Chat{}, ErrForbidden
	}
	updated, err := chat.AddMember(userID)
	if err != nil {
		return model.Chat{}, err
	}
	return s.saveMembers(ctx, updated, nil)
}

// RemoveMember исключает userID из группы. Администратор может исключить любого,
// остальные только себя (выход из группы).
func (s *ChatService) RemoveMember(ctx context.Context, chatID, actorID, userID string) (model.Chat, error) {
	chat, err := s.Chat(ctx, chatID, actorID)
	if err != nil {
		return model.Chat{}, err
	}
	if g, ok := chat.Type.(model.Group); ok && g.AdminID != actorID && userID != actorID {
		return model.Chat{}, ErrForbidden
	}
	updated, err := chat.RemoveMember(userID)
	if err != nil {
		return model.Chat{}, err
	}
	var audience []string
	if chat.HasMember(userID) {
		audience = []string{userID}
	}
	return s.saveMembers(ctx, updated, audience)
}

// ListChats возвращает чаты пользователя: сначала с самым свежим последним сообщением,
// чаты без сообщений в конце. Повреждённые документы пропускаются.
func (s *ChatService) ListChats(ctx context.Context, userID string) ([]model.Chat, error) {
	defer logger.DeferLogDuration("chatService.ListChats", time.Now())()
	snaps, err := s.store.ListChats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("chatService.ListChats: %w", err)
	}
	chats := record.DecodeChats(snaps)
	slices.SortStableFunc(chats, func(a, b model.Chat) int {
		switch {
		case a.LastMessage == nil && b.LastMessage == nil:
			return cmp.Compare(a.ID, b.ID)
		case a.LastMessage == nil:
			return 1
		case b.LastMessage == nil:
			return -1
		}
		return b.LastMessage.CreatedAt.Compare(a.LastMessage.CreatedAt)
	})
	return chats, nil
}

// Send сохраняет новое сообщение authorID в chatID.
func (s *ChatService) Send(ctx context.Context, chatID, authorID string, content model.Content) (model.Message, error) {
	defer logger.DeferLogDuration("chatService.Send", time.Now())()
	chat, err := s.Chat(ctx, chatID, authorID)
	if err != nil {
		return model.Message{}, err
	}
	// Атрибуцию пересылки ставит только Forward.
	if slices.ContainsFunc(content, func(item model.ContentItem) bool { _, ok := item.(model.Forward); return ok }) {
		return model.Message{}, fmt.Errorf("%w: forward attribution cannot be sent directly", model.ErrInvalidMessage)
	}
	m := model.Message{ChatID: chatID, AuthorID: authorID, CreatedAt: s.now(), Content: content}
	return s.post(ctx, chat, m)
}

// SendText отправляет одно текстовое сообщение.
func (s *ChatService) SendText(ctx context.Context, chatID, authorID, body string) (model.Message, error) {
	chat, err := s.Chat(ctx, chatID, authorID)
	if err != nil {
		return model.Message{}, err
	}
	if strings.TrimSpace(body) == "" {
		return model.Message{}, fmt.Errorf("%w: empty text", model.ErrInvalidMessage)
	}
	return s.post(ctx, chat, model.NewTextMessage(chatID, authorID, body, s.now()))
}

// SendMedia отправляет сообщение из одного загруженного файла (image или audio).
func (s *ChatService) SendMedia(ctx context.Context, chatID, authorID string, kind model.ContentKind, path string, size model.ImageSize) (model.Message, error) {
	chat, err := s.Chat(ctx, chatID, authorID)
	if err != nil {
		return model.Message{}, err
	}
	if path == "" {
		return model.Message{}, fmt.Errorf("%w: empty media path", model.ErrInvalidMessage)
	}
	var m model.Message
	switch kind {
	case model.KindImage:
		m = model.NewImageMessage(chatID, authorID, path, size, s.now())
	case model.KindAudio:
		m = model.NewAudioMessage(chatID, authorID, path, s.now())
	default:
		return model.Message{}, fmt.Errorf("%w: %q is not a media kind", model.ErrInvalidMessage, kind)
	}
	return s.post(ctx, chat, m)
}

// Forward пересылает сообщение messageID из srcChatID в targetChatID от имени forwarderID.
// Пересылка пересланного заменяет атрибуцию, а не наращивает её.
func (s *ChatService) Forward(ctx context.Context, srcChatID, messageID, forwarderID, targetChatID string) (model.Message, error) {
	defer logger.DeferLogDuration("chatService.Forward", time.Now())()
	if _, err := s.Chat(ctx, srcChatID, forwarderID); err != nil {
		return model.Message{}, err
	}
	target, err := s.Chat(ctx, targetChatID, forwarderID)
	if err != nil {
		return model.Message{}, err
	}
	snap, err := s.store.GetMessage(ctx, srcChatID, messageID)
	if err != nil {
		return model.Message{}, fmt.Errorf("chatService.Forward: %w", err)
	}
	src, err := record.DecodeMessage(snap.Data, snap.ID)
	if err != nil {
		logger.Errorf("chatService.Forward: message %s: %v", messageID, err)
		return model.Message{}, ErrNotFound
	}
	return s.post(ctx, target, src.Forward(forwarderID, targetChatID, s.now()))
}

// Window возвращает страницу истории до before (нулевой before: самые новые) в порядке
// времени, с решениями о группировке для viewerID.
func (s *ChatService) Window(ctx context.Context, chatID, viewerID string, before time.Time, limit int) ([]grouping.Row, error) {
	defer logger.DeferLogDuration("chatService.Window", time.Now())()
	if _, err := s.Chat(ctx, chatID, viewerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)
	snaps, err := s.store.ListMessages(ctx, chatID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("chatService.Window: %w", err)
	}
	msgs := record.DecodeMessages(snaps)
	slices.Reverse(msgs)
	// Хранилище сортирует по времени, но документы с равным временем могут прийти в любом порядке.
	slices.SortStableFunc(msgs, func(a, b model.Message) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return grouping.Chrome(msgs, viewerID), nil
}

func (s *ChatService) post(ctx context.Context, chat model.Chat, m model.Message) (model.Message, error) {
	m.CreatedAt = m.CreatedAt.UTC().Truncate(storage.TimePrecision)
	if err := m.Validate(); err != nil {
		return model.Message{}, err
	}
	doc, err := record.EncodeMessage(m)
	if err != nil {
		return model.Message{}, fmt.Errorf("chatService.post: %w", err)
	}
	id, err := s.store.AddMessage(ctx, chat.ID, doc)
	if err != nil {
		return model.Message{}, fmt.Errorf("chatService.post: %w", err)
	}
	m.ID = id
	s.publish(ctx, storage.Update{Kind: storage.UpdateMessage, ChatID: chat.ID, DocID: id, Document: doc})
	s.notifyMembers(chat, m)
	return m, nil
}

func (s *ChatService) createChat(ctx context.Context, chat model.Chat) (model.Chat, error) {
	if err := chat.Validate(); err != nil {
		return model.Chat{}, err
	}
	doc, err := record.EncodeChat(chat)
	if err != nil {
		return model.Chat{}, fmt.Errorf("chatService.createChat: %w", err)
	}
	id, err := s.store.CreateChat(ctx, doc)
	if err != nil {
		return model.Chat{}, fmt.Errorf("chatService.createChat: %w", err)
	}
	chat.ID = id
	s.publish(ctx, storage.Update{Kind: storage.UpdateChat, ChatID: id, DocID: id, Document: doc})
	return chat, nil
}

func (s *ChatService) saveMembers(ctx context.Context, chat model.Chat, audience []string) (model.Chat, error) {
	users := make([]any, len(chat.Users))
	for i, u := range chat.Users {
		users[i] = u
	}
	t, err := record.EncodeChatType(chat.Type)
	if err != nil {
		return model.Chat{}, fmt.Errorf("chatService.saveMembers: %w", err)
	}
	if err := s.store.UpdateChat(ctx, chat.ID, record.Document{record.FieldUsers: users, record.FieldType: t}); err != nil {
		return model.Chat{}, fmt.Errorf("chatService.saveMembers: %w", err)
	}
	doc, err := record.EncodeChat(chat)
	if err != nil {
		return model.Chat{}, fmt.Errorf("chatService.saveMembers: %w", err)
	}
	s.publish(ctx, storage.Update{Kind: storage.UpdateChat, ChatID: chat.ID, DocID: chat.ID, Document: doc, Audience: audience})
	return chat, nil
}

func (s *ChatService) loadChat(ctx context.Context, chatID string) (model.Chat, error) {
	snap, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Chat{}, ErrNotFound
		}
		return model.Chat{}, fmt.Errorf("chatService.loadChat: %w", err)
	}
	chat, ok := record.ChatFromSnapshot(snap)
	if !ok {
		return model.Chat{}, ErrNotFound
	}
	return chat, nil
}

// publish не возвращает ошибку: запись уже сохранена, клиенты догонят при следующей загрузке.
func (s *ChatService) publish(ctx context.Context, u storage.Update) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, u); err != nil {
		logger.Errorf("chatService: publish %s update chat=%s: %v", u.Kind, u.ChatID, err)
	}
}

func (s *ChatService) notifyMembers(chat model.Chat, m model.Message) {
	if s.notify == nil {
		return
	}
	recipients := make([]string, 0, len(chat.Users))
	for _, uid := range chat.Users {
		if uid != m.AuthorID {
			recipients = append(recipients, uid)
		}
	}
	if len(recipients) == 0 {
		return
	}
	title := m.AuthorID
	if g, ok := chat.Type.(model.Group); ok {
		title = g.Title
	}
	body := truncate(m.Preview(), maxPushBody)
	data := map[string]string{"chat_id": chat.ID, "message_id": m.ID}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		for _, uid := range recipients {
			s.notify.Notify(ctx, uid, title, body, data)
		}
	}()
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-3]) + "..."
}
