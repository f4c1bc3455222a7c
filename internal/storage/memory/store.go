package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smalltalk/internal/record"
	"github.com/smalltalk/internal/storage"
)

type storedMessage struct {
	id  string
	at  time.Time
	doc record.Document
}

// Store: DocumentStore в памяти процесса (режим -dev без БД и тесты).
type Store struct {
	mu       sync.RWMutex
	chats    map[string]record.Document
	messages map[string][]storedMessage // по chatID, по возрастанию времени
}

func New() *Store {
	return &Store{
		chats:    make(map[string]record.Document),
		messages: make(map[string][]storedMessage),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateChat(ctx context.Context, doc record.Document) (string, error) {
	id := uuid.New().String()
	stored := doc.Clone()
	if stored == nil {
		stored = record.Document{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[id] = stored
	return id, nil
}

func (s *Store) GetChat(ctx context.Context, id string) (record.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.chats[id]
	if !ok {
		return record.Snapshot{}, storage.ErrNotFound
	}
	return record.Snapshot{ID: id, Data: doc.Clone()}, nil
}

func (s *Store) ListChats(ctx context.Context, userID string) ([]record.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]record.Snapshot, 0, 16)
	for id, doc := range s.chats {
		if slices.Contains(record.Users(doc), userID) {
			out = append(out, record.Snapshot{ID: id, Data: doc.Clone()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateChat(ctx context.Context, id string, fields record.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.chats[id]
	if !ok {
		return storage.ErrNotFound
	}
	for k, v := range fields.Clone() {
		doc[k] = v
	}
	return nil
}

func (s *Store) AddMessage(ctx context.Context, chatID string, doc record.Document) (string, error) {
	at, err := record.Timestamp(doc)
	if err != nil {
		return "", fmt.Errorf("memory.AddMessage: %w", err)
	}
	id := uuid.New().String()
	stored := doc.Clone()
	stored[record.FieldChatID] = chatID

	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return "", storage.ErrNotFound
	}
	list := s.messages[chatID]
	i := sort.Search(len(list), func(i int) bool { return list[i].at.After(at) })
	list = slices.Insert(list, i, storedMessage{id: id, at: at, doc: stored})
	s.messages[chatID] = list

	last := stored.Clone()
	last[record.FieldDocumentID] = id
	chat[record.FieldLastMessage] = last
	return id, nil
}

func (s *Store) GetMessage(ctx context.Context, chatID, id string) (record.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages[chatID] {
		if m.id == id {
			return record.Snapshot{ID: id, Data: m.doc.Clone()}, nil
		}
	}
	return record.Snapshot{}, storage.ErrNotFound
}

func (s *Store) ListMessages(ctx context.Context, chatID string, before time.Time, limit int) ([]record.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.chats[chatID]; !ok {
		return nil, storage.ErrNotFound
	}
	if limit <= 0 {
		return []record.Snapshot{}, nil
	}
	list := s.messages[chatID]
	end := len(list)
	if !before.IsZero() {
		end = sort.Search(len(list), func(i int) bool { return !list[i].at.Before(before) })
	}
	out := make([]record.Snapshot, 0, min(limit, end))
	for i := end - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, record.Snapshot{ID: list[i].id, Data: list[i].doc.Clone()})
	}
	return out, nil
}

var _ storage.DocumentStore = (*Store)(nil)
