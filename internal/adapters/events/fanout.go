package events

import (
	"sync"

	"github.com/zatekoja/careflow/internal/domain/entities"
	"github.com/zatekoja/careflow/internal/infrastructure/observability"
)

const subscriberBuffer = 100

// fanout delivers events received on one transport subscription to every
// local subscriber of that channel. Slow subscribers drop events.
type fanout struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan *entities.ResourceEvent]struct{}
}

func newFanout() *fanout {
	return &fanout{subscribers: make(map[string]map[chan *entities.ResourceEvent]struct{})}
}

func (f *fanout) add(channel string) (chan *entities.ResourceEvent, int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subscribers[channel] == nil {
		f.subscribers[channel] = make(map[chan *entities.ResourceEvent]struct{})
	}
	ch := make(chan *entities.ResourceEvent, subscriberBuffer)
	f.subscribers[channel][ch] = struct{}{}
	return ch, len(f.subscribers[channel])
}

// remove closes ch and returns how many subscribers the channel has left
func (f *fanout) remove(channel string, ch chan *entities.ResourceEvent) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	subs, ok := f.subscribers[channel]
	if !ok {
		return 0
	}
	if _, ok := subs[ch]; ok {
		delete(subs, ch)
		close(ch)
	}
	if len(subs) == 0 {
		delete(f.subscribers, channel)
	}
	return len(subs)
}

func (f *fanout) broadcast(channel string, event *entities.ResourceEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for sub := range f.subscribers[channel] {
		select {
		case sub <- event:
		default:
			observability.GetLogger().Warn().
				Str("channel", channel).
				Str("event_id", event.ID).
				Msg("subscriber channel full, skipping event")
		}
	}
}

func (f *fanout) closeChannel(channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for sub := range f.subscribers[channel] {
		close(sub)
	}
	delete(f.subscribers, channel)
}

func (f *fanout) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for channel, subs := range f.subscribers {
		for sub := range subs {
			close(sub)
		}
		delete(f.subscribers, channel)
	}
}

func (f *fanout) count(channel string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers[channel])
}
