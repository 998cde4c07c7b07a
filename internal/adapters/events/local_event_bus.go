package events

import (
	"context"
	"sync"

	"github.com/zatekoja/careflow/internal/domain/entities"
	"github.com/zatekoja/careflow/internal/domain/providers"
)

// LocalEventBus delivers events within one process. Used with the memory
// store and in tests.
type LocalEventBus struct {
	fanout *fanout
	once   sync.Once
	closed chan struct{}
}

// NewLocalEventBus creates an in-process event bus
func NewLocalEventBus() *LocalEventBus {
	return &LocalEventBus{fanout: newFanout(), closed: make(chan struct{})}
}

var _ providers.EventBus = (*LocalEventBus)(nil)

// Publish delivers event to current subscribers of channel
func (b *LocalEventBus) Publish(ctx context.Context, channel string, event *entities.ResourceEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.fanout.broadcast(channel, event)
	return nil
}

// Subscribe subscribes to events on a channel
func (b *LocalEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.ResourceEvent, error) {
	ch, _ := b.fanout.add(channel)
	go func() {
		select {
		case <-ctx.Done():
			b.fanout.remove(channel, ch)
		case <-b.closed:
		}
	}()
	return ch, nil
}

// Unsubscribe closes every subscription to channel
func (b *LocalEventBus) Unsubscribe(ctx context.Context, channel string) error {
	b.fanout.closeChannel(channel)
	return nil
}

// Close closes all subscriptions
func (b *LocalEventBus) Close() error {
	b.once.Do(func() {
		close(b.closed)
		b.fanout.closeAll()
	})
	return nil
}

// SubscriberCount reports the number of live subscribers on channel
func (b *LocalEventBus) SubscriberCount(channel string) int {
	return b.fanout.count(channel)
}
