package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/smalltalk/internal/logger"
	"github.com/smalltalk/internal/record"
	"github.com/smalltalk/internal/storage"
)

const (
	chatsCollection    = "chats"
	messagesCollection = "messages"
)

// Store: DocumentStore поверх MongoDB. Время хранится нативными BSON-датами.
type Store struct {
	client   *mongo.Client
	chats    *mongo.Collection
	messages *mongo.Collection
}

func New(ctx context.Context, uri, database string) (*Store, error) {
	opts := options.Client().ApplyURI(uri).SetRetryWrites(true)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	db := client.Database(database)
	s := &Store{
		client:   client,
		chats:    db.Collection(chatsCollection),
		messages: db.Collection(messagesCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.chats.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: record.FieldUsers, Value: 1}},
	}); err != nil {
		return fmt.Errorf("mongo index chats.users: %w", err)
	}
	if _, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: record.FieldChatID, Value: 1}, {Key: record.FieldTimestamp, Value: -1}},
	}); err != nil {
		return fmt.Errorf("mongo index messages.chatId: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) CreateChat(ctx context.Context, doc record.Document) (string, error) {
	defer logger.DeferLogDuration("mongo.CreateChat", time.Now())()
	id := uuid.New().String()
	if _, err := s.chats.InsertOne(ctx, withID(doc, id)); err != nil {
		return "", fmt.Errorf("mongo.CreateChat: %w", err)
	}
	return id, nil
}

func (s *Store) GetChat(ctx context.Context, id string) (record.Snapshot, error) {
	defer logger.DeferLogDuration("mongo.GetChat", time.Now())()
	var m bson.M
	err := s.chats.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return record.Snapshot{}, storage.ErrNotFound
	}
	if err != nil {
		return record.Snapshot{}, fmt.Errorf("mongo.GetChat: %w", err)
	}
	return toSnapshot(m), nil
}

func (s *Store) ListChats(ctx context.Context, userID string) ([]record.Snapshot, error) {
	defer logger.DeferLogDuration("mongo.ListChats", time.Now())()
	cur, err := s.chats.Find(ctx, bson.M{record.FieldUsers: userID})
	if err != nil {
		return nil, fmt.Errorf("mongo.ListChats: %w", err)
	}
	return collect(ctx, cur)
}

func (s *Store) UpdateChat(ctx context.Context, id string, fields record.Document) error {
	defer logger.DeferLogDuration("mongo.UpdateChat", time.Now())()
	res, err := s.chats.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M(fields)})
	if err != nil {
		return fmt.Errorf("mongo.UpdateChat: %w", err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AddMessage сначала обновляет lastMessage чата, чтобы об отсутствии чата узнать до записи.
// Без replica set две записи не атомарны.
func (s *Store) AddMessage(ctx context.Context, chatID string, doc record.Document) (string, error) {
	defer logger.DeferLogDuration("mongo.AddMessage", time.Now())()
	if _, err := record.Timestamp(doc); err != nil {
		return "", fmt.Errorf("mongo.AddMessage: %w", err)
	}
	id := uuid.New().String()
	stored := doc.Clone()
	stored[record.FieldChatID] = chatID
	last := stored.Clone()
	last[record.FieldDocumentID] = id

	res, err := s.chats.UpdateOne(ctx, bson.M{"_id": chatID}, bson.M{"$set": bson.M{record.FieldLastMessage: bson.M(last)}})
	if err != nil {
		return "", fmt.Errorf("mongo.AddMessage last message: %w", err)
	}
	if res.MatchedCount == 0 {
		return "", storage.ErrNotFound
	}
	if _, err := s.messages.InsertOne(ctx, withID(stored, id)); err != nil {
		return "", fmt.Errorf("mongo.AddMessage: %w", err)
	}
	return id, nil
}

func (s *Store) GetMessage(ctx context.Context, chatID, id string) (record.Snapshot, error) {
	defer logger.DeferLogDuration("mongo.GetMessage", time.Now())()
	var m bson.M
	err := s.messages.FindOne(ctx, bson.M{"_id": id, record.FieldChatID: chatID}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return record.Snapshot{}, storage.ErrNotFound
	}
	if err != nil {
		return record.Snapshot{}, fmt.Errorf("mongo.GetMessage: %w", err)
	}
	return toSnapshot(m), nil
}

func (s *Store) ListMessages(ctx context.Context, chatID string, before time.Time, limit int) ([]record.Snapshot, error) {
	defer logger.DeferLogDuration("mongo.ListMessages", time.Now())()
	if limit <= 0 {
		return []record.Snapshot{}, nil
	}
	filter := bson.M{record.FieldChatID: chatID}
	if !before.IsZero() {
		// Даты BSON хранят миллисекунды.
		filter[record.FieldTimestamp] = bson.M{"$lt": before.Truncate(time.Millisecond)}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: record.FieldTimestamp, Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo.ListMessages: %w", err)
	}
	return collect(ctx, cur)
}

func collect(ctx context.Context, cur *mongo.Cursor) ([]record.Snapshot, error) {
	defer cur.Close(ctx)
	snaps := make([]record.Snapshot, 0, 16)
	for cur.Next(ctx) {
		var m bson.M
		if err := cur.Decode(&m); err != nil {
			logger.Errorf("mongo: skip undecodable document: %v", err)
			continue
		}
		snaps = append(snaps, toSnapshot(m))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongo cursor: %w", err)
	}
	return snaps, nil
}

func withID(doc record.Document, id string) bson.M {
	m := bson.M(doc.Clone())
	if m == nil {
		m = bson.M{}
	}
	m["_id"] = id
	return m
}

func toSnapshot(m bson.M) record.Snapshot {
	id, _ := m["_id"].(string)
	doc := record.Document(m)
	delete(doc, "_id")
	return record.Snapshot{ID: id, Data: doc}
}

var _ storage.DocumentStore = (*Store)(nil)
