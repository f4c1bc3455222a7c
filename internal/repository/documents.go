package repository

import (
	"bytes"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smalltalk/internal/record"
	"github.com/smalltalk/internal/storage"
)

// Store: DocumentStore поверх Postgres: документы лежат в JSONB-колонках,
// время внутри документов хранится в виде {_seconds, _nanoseconds}.
type Store struct {
	*ChatRepository
	*MessageRepository
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		ChatRepository:    NewChatRepository(pool),
		MessageRepository: NewMessageRepository(pool),
		pool:              pool,
	}
}

// Close не закрывает пул: им владеет main.
func (s *Store) Close() error { return nil }

func encodeDoc(doc record.Document) ([]byte, error) {
	return json.Marshal(record.WithLegacyTimestamps(doc))
}

func decodeDoc(data []byte) (record.Document, error) {
	var doc record.Document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

var _ storage.DocumentStore = (*Store)(nil)
