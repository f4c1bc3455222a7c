package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smalltalk/internal/logger"
	"github.com/smalltalk/internal/record"
	"github.com/smalltalk/internal/storage"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// AddMessage вставляет сообщение и копирует его в lastMessage чата одной транзакцией.
func (r *MessageRepository) AddMessage(ctx context.Context, chatID string, doc record.Document) (string, error) {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	createdAt, err := record.Timestamp(doc)
	if err != nil {
		return "", fmt.Errorf("msgRepo.Create: %w", err)
	}
	id := uuid.New().String()
	stored := doc.Clone()
	stored[record.FieldChatID] = chatID
	data, err := encodeDoc(stored)
	if err != nil {
		return "", fmt.Errorf("msgRepo.Create encode: %w", err)
	}
	last := stored.Clone()
	last[record.FieldDocumentID] = id
	lastData, err := encodeDoc(last)
	if err != nil {
		return "", fmt.Errorf("msgRepo.Create encode last: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("msgRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE chats SET doc = jsonb_set(doc, '{lastMessage}', $2::jsonb) WHERE id = $1`,
		chatID, lastData,
	)
	if err != nil {
		return "", fmt.Errorf("msgRepo.Create last message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", storage.ErrNotFound
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, chat_id, doc, created_at) VALUES ($1, $2, $3, $4)`,
		id, chatID, data, createdAt,
	)
	if err != nil {
		return "", fmt.Errorf("msgRepo.Create: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("msgRepo.Create commit: %w", err)
	}
	return id, nil
}

func (r *MessageRepository) GetMessage(ctx context.Context, chatID, id string) (record.Snapshot, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	var data []byte
	err := r.pool.QueryRow(ctx,
		`SELECT doc FROM messages WHERE chat_id = $1 AND id = $2`, chatID, id,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return record.Snapshot{}, storage.ErrNotFound
	}
	if err != nil {
		return record.Snapshot{}, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	doc, err := decodeDoc(data)
	if err != nil {
		return record.Snapshot{}, fmt.Errorf("msgRepo.GetByID decode: %w", err)
	}
	return record.Snapshot{ID: id, Data: doc}, nil
}

func (r *MessageRepository) ListMessages(ctx context.Context, chatID string, before time.Time, limit int) ([]record.Snapshot, error) {
	defer logger.DeferLogDuration("msg.GetChatMessages", time.Now())()
	sql := `SELECT id, doc FROM messages WHERE chat_id = $1`
	args := []any{chatID}
	if !before.IsZero() {
		// timestamptz хранит микросекунды: без округления before строка с тем же
		// временем в наносекундах попала бы в выборку повторно.
		sql += ` AND created_at < $2`
		args = append(args, before.Truncate(time.Microsecond))
	}
	args = append(args, limit)
	sql += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetChatMessages query: %w", err)
	}
	defer rows.Close()

	snaps := make([]record.Snapshot, 0, limit)
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("msgRepo.GetChatMessages scan: %w", err)
		}
		doc, err := decodeDoc(data)
		if err != nil {
			logger.Errorf("msgRepo.GetChatMessages: skip message %s: %v", id, err)
			continue
		}
		snaps = append(snaps, record.Snapshot{ID: id, Data: doc})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.GetChatMessages rows: %w", err)
	}
	return snaps, nil
}
