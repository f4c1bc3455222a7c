package storage

import (
	"context"
	"errors"
	"time"

	"github.com/smalltalk/internal/record"
)

var ErrNotFound = errors.New("not found")

// TimePrecision: самая грубая точность времени среди хранилищ (даты MongoDB).
// Время сообщений округляется до неё перед записью, иначе прочитанное из хранилища
// время оказывается раньше исходного.
const TimePrecision = time.Millisecond

// DocumentStore: хранилище документов чатов и сообщений.
// Реализации: repository (Postgres/JSONB), mongo.Store, memory.Store (для -dev и тестов).
type DocumentStore interface {
	// CreateChat сохраняет новый чат и возвращает присвоенный идентификатор.
	CreateChat(ctx context.Context, doc record.Document) (string, error)
	GetChat(ctx context.Context, id string) (record.Snapshot, error)
	// ListChats возвращает чаты, в которых состоит userID.
	ListChats(ctx context.Context, userID string) ([]record.Snapshot, error)
	// UpdateChat заменяет перечисленные поля верхнего уровня.
	UpdateChat(ctx context.Context, id string, fields record.Document) error
	// AddMessage сохраняет сообщение и записывает его копию в lastMessage чата.
	AddMessage(ctx context.Context, chatID string, doc record.Document) (string, error)
	GetMessage(ctx context.Context, chatID, id string) (record.Snapshot, error)
	// ListMessages возвращает до limit сообщений строго раньше before, от новых к старым.
	// Нулевой before означает «с конца».
	ListMessages(ctx context.Context, chatID string, before time.Time, limit int) ([]record.Snapshot, error)
	Close() error
}

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	UpdateChat    UpdateKind = "chat"
)

// Update: изменение документа, доставляемое подписчикам в реальном времени.
type Update struct {
	Kind     UpdateKind      `json:"kind"`
	ChatID   string          `json:"chat_id"`
	DocID    string          `json:"doc_id"`
	Document record.Document `json:"document"`
	// Audience: получатели помимо текущих участников чата (например, исключённый участник).
	Audience []string `json:"audience,omitempty"`
}

// Snapshot возвращает документ обновления в виде, пригодном для record.Decode*.
func (u Update) Snapshot() record.Snapshot {
	return record.Snapshot{ID: u.DocID, Data: u.Document}
}

// UpdateBus: шина обновлений. Реализации: redis.Bus (pub/sub), memory.Bus.
type UpdateBus interface {
	Publish(ctx context.Context, u Update) error
	// Subscribe возвращает канал обновлений; канал закрывается при отмене ctx.
	Subscribe(ctx context.Context) (<-chan Update, error)
	Close() error
}
