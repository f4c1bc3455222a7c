package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/smalltalk/internal/logger"
	"github.com/smalltalk/internal/record"
	"github.com/smalltalk/internal/storage"
)

// UpdatesChannel: канал pub/sub, в который публикуются изменения документов.
const UpdatesChannel = "smalltalk:updates"

const subscriberBuffer = 256

// Bus: UpdateBus поверх Redis pub/sub: обновления видят все экземпляры API.
type Bus struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Bus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bus{cli: cli}, nil
}

func (b *Bus) Close() error {
	return b.cli.Close()
}

// Publish сериализует обновление в JSON; время в документе уходит в виде {_seconds, _nanoseconds}.
func (b *Bus) Publish(ctx context.Context, u storage.Update) error {
	data, err := encodeUpdate(u)
	if err != nil {
		return fmt.Errorf("redis.Publish: %w", err)
	}
	if err := b.cli.Publish(ctx, UpdatesChannel, data).Err(); err != nil {
		return fmt.Errorf("redis.Publish: %w", err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context) (<-chan storage.Update, error) {
	ps := b.cli.Subscribe(ctx, UpdatesChannel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis.Subscribe: %w", err)
	}
	out := make(chan storage.Update, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				u, err := decodeUpdate([]byte(msg.Payload))
				if err != nil {
					logger.Errorf("redis bus: bad payload: %v", err)
					continue
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func encodeUpdate(u storage.Update) ([]byte, error) {
	u.Document = record.WithLegacyTimestamps(u.Document)
	return json.Marshal(u)
}

func decodeUpdate(data []byte) (storage.Update, error) {
	var u storage.Update
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&u); err != nil {
		return storage.Update{}, err
	}
	return u, nil
}

var _ storage.UpdateBus = (*Bus)(nil)
