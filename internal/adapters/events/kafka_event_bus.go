package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/zatekoja/careflow/internal/domain/entities"
	"github.com/zatekoja/careflow/internal/domain/providers"
	"github.com/zatekoja/careflow/internal/infrastructure/observability"
)

// KafkaConfig configures the Kafka event bus
type KafkaConfig struct {
	Brokers []string
	GroupID string
}

// KafkaEventBus implements the EventBus interface on Kafka topics. Each
// channel maps to one topic.
type KafkaEventBus struct {
	cfg     KafkaConfig
	writer  *kafka.Writer
	readers map[string]*kafka.Reader
	fanout  *fanout
	mu      sync.Mutex
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewKafkaEventBus creates a new Kafka-based event bus
func NewKafkaEventBus(cfg KafkaConfig) (providers.EventBus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "careflow"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaEventBus{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		readers: make(map[string]*kafka.Reader),
		fanout:  newFanout(),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// TopicForChannel maps a channel name to a legal Kafka topic name
func TopicForChannel(channel string) string {
	return strings.ReplaceAll(channel, ":", ".")
}

// Publish publishes an event to the channel's topic
func (b *KafkaEventBus) Publish(ctx context.Context, channel string, event *entities.ResourceEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Topic: TopicForChannel(channel),
		Key:   []byte(event.ID),
		Value: data,
		Time:  event.Timestamp,
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	observability.GetLogger().Debug().
		Str("topic", msg.Topic).
		Str("event_id", event.ID).
		Str("event_type", string(event.EventType)).
		Msg("published event")
	return nil
}

// Subscribe subscribes to events on a channel
func (b *KafkaEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.ResourceEvent, error) {
	b.mu.Lock()
	if _, exists := b.readers[channel]; !exists {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  b.cfg.Brokers,
			Topic:    TopicForChannel(channel),
			GroupID:  b.cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  500 * time.Millisecond,
		})
		b.readers[channel] = reader
		b.wg.Add(1)
		go b.receiveMessages(channel, reader)
	}
	b.mu.Unlock()

	eventChan, count := b.fanout.add(channel)
	observability.GetLogger().Info().Str("channel", channel).Int("subscribers", count).Msg("subscribed to topic")

	go func() {
		<-ctx.Done()
		if remaining := b.fanout.remove(channel, eventChan); remaining == 0 {
			b.closeReader(channel)
		}
	}()

	return eventChan, nil
}

func (b *KafkaEventBus) receiveMessages(channel string, reader *kafka.Reader) {
	defer b.wg.Done()
	logger := observability.GetLogger()

	for {
		msg, err := reader.ReadMessage(b.ctx)
		if err != nil {
			if b.ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			logger.Warn().Err(err).Str("channel", channel).Msg("failed to read event")
			select {
			case <-b.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var event entities.ResourceEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Warn().Err(err).Str("channel", channel).Int64("offset", msg.Offset).Msg("failed to unmarshal event")
			continue
		}
		b.fanout.broadcast(channel, &event)
	}
}

func (b *KafkaEventBus) closeReader(channel string) {
	b.mu.Lock()
	reader, ok := b.readers[channel]
	delete(b.readers, channel)
	b.mu.Unlock()

	if ok {
		if err := reader.Close(); err != nil {
			observability.GetLogger().Warn().Err(err).Str("channel", channel).Msg("failed to close reader")
		}
	}
}

// Unsubscribe unsubscribes from a channel
func (b *KafkaEventBus) Unsubscribe(ctx context.Context, channel string) error {
	b.fanout.closeChannel(channel)
	b.closeReader(channel)
	return nil
}

// Close closes the writer and every reader
func (b *KafkaEventBus) Close() error {
	b.cancel()

	b.mu.Lock()
	channels := make([]string, 0, len(b.readers))
	for channel := range b.readers {
		channels = append(channels, channel)
	}
	b.mu.Unlock()

	for _, channel := range channels {
		b.closeReader(channel)
	}
	b.wg.Wait()
	b.fanout.closeAll()

	if err := b.writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}
