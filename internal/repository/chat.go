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

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func (r *ChatRepository) CreateChat(ctx context.Context, doc record.Document) (string, error) {
	defer logger.DeferLogDuration("chat.Create", time.Now())()
	data, err := encodeDoc(doc)
	if err != nil {
		return "", fmt.Errorf("chatRepo.Create encode: %w", err)
	}
	id := uuid.New().String()
	_, err = r.pool.Exec(ctx,
		`INSERT INTO chats (id, doc, created_at) VALUES ($1, $2, $3)`,
		id, data, time.Now(),
	)
	if err != nil {
		return "", fmt.Errorf("chatRepo.Create: %w", err)
	}
	return id, nil
}

func (r *ChatRepository) GetChat(ctx context.Context, id string) (record.Snapshot, error) {
	defer logger.DeferLogDuration("chat.GetByID", time.Now())()
	var data []byte
	err := r.pool.QueryRow(ctx, `SELECT doc FROM chats WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return record.Snapshot{}, storage.ErrNotFound
	}
	if err != nil {
		return record.Snapshot{}, fmt.Errorf("chatRepo.GetByID: %w", err)
	}
	doc, err := decodeDoc(data)
	if err != nil {
		return record.Snapshot{}, fmt.Errorf("chatRepo.GetByID decode: %w", err)
	}
	return record.Snapshot{ID: id, Data: doc}, nil
}

// ListChats возвращает чаты, в массиве users которых есть userID.
func (r *ChatRepository) ListChats(ctx context.Context, userID string) ([]record.Snapshot, error) {
	defer logger.DeferLogDuration("chat.GetUserChats", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, doc FROM chats
		 WHERE doc->'users' ? $1
		 ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetUserChats query: %w", err)
	}
	defer rows.Close()

	snaps := make([]record.Snapshot, 0, 16)
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("chatRepo.GetUserChats scan: %w", err)
		}
		doc, err := decodeDoc(data)
		if err != nil {
			// Битый JSON не должен ронять список.
			logger.Errorf("chatRepo.GetUserChats: skip chat %s: %v", id, err)
			continue
		}
		snaps = append(snaps, record.Snapshot{ID: id, Data: doc})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.GetUserChats rows: %w", err)
	}
	return snaps, nil
}

// UpdateChat вливает fields в сохранённый документ (только ключи верхнего уровня).
func (r *ChatRepository) UpdateChat(ctx context.Context, id string, fields record.Document) error {
	defer logger.DeferLogDuration("chat.UpdateChat", time.Now())()
	data, err := encodeDoc(fields)
	if err != nil {
		return fmt.Errorf("chatRepo.UpdateChat encode: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE chats SET doc = doc || $2::jsonb WHERE id = $1`, id, data)
	if err != nil {
		return fmt.Errorf("chatRepo.UpdateChat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
