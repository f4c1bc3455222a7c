package memory

import (
	"context"
	"sync"

	"github.com/smalltalk/internal/logger"
	"github.com/smalltalk/internal/storage"
)

const subscriberBuffer = 64

// Bus: UpdateBus в памяти процесса: раздаёт каждое обновление всем подписчикам.
type Bus struct {
	mu     sync.Mutex
	subs   map[chan storage.Update]struct{}
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan storage.Update]struct{})}
}

func (b *Bus) Publish(ctx context.Context, u storage.Update) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- u:
		default:
			logger.Errorf("memory bus: subscriber buffer full, drop %s update chat=%s", u.Kind, u.ChatID)
		}
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context) (<-chan storage.Update, error) {
	ch := make(chan storage.Update, subscriberBuffer)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, nil
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}()
	return ch, nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		close(ch)
	}
	b.subs = make(map[chan storage.Update]struct{})
	b.closed = true
	return nil
}

var _ storage.UpdateBus = (*Bus)(nil)
