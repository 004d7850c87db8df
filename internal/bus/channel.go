package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesaguard/pesaguard/internal/domain"
)

// ChannelBus is an in-process event bus backed by Go channels. Each
// subscriber runs its own dispatch goroutine; a slow subscriber drops
// messages once its buffer fills rather than blocking publishers.
type ChannelBus struct {
	mu          sync.RWMutex
	subscribers map[string][]*channelSubscription
	bufferSize  int
	closed      bool
}

type channelSubscription struct {
	bus     *ChannelBus
	topic   string
	id      string
	msgs    chan *domain.Message
	done    chan struct{}
	handler domain.MessageHandler
}

// NewChannelBus creates an in-process event bus.
func NewChannelBus(cfg domain.EventBusConfig) *ChannelBus {
	bufferSize := cfg.ChannelBufferSize
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	return &ChannelBus{
		subscribers: make(map[string][]*channelSubscription),
		bufferSize:  bufferSize,
	}
}

// Publish sends a message to all subscribers of a topic.
func (b *ChannelBus) Publish(_ context.Context, topic string, payload []byte) error {
	return b.publish(&domain.Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (b *ChannelBus) publish(msg *domain.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	for _, sub := range b.subscribers[msg.Topic] {
		select {
		case sub.msgs <- msg:
		default:
			// Buffer full; drop for this subscriber.
		}
	}
	return nil
}

// Subscribe registers a handler for a topic.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}

	sub := &channelSubscription{
		bus:     b,
		topic:   topic,
		id:      uuid.NewString(),
		msgs:    make(chan *domain.Message, b.bufferSize),
		done:    make(chan struct{}),
		handler: handler,
	}
	b.subscribers[topic] = append(b.subscribers[topic], sub)

	go sub.dispatch(ctx)

	return sub, nil
}

// Request publishes a message and waits for a single response on a
// private reply topic. Handlers reply by publishing to the topic in
// the message's reply_to metadata.
func (b *ChannelBus) Request(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	replyTopic := "pesaguard.reply." + uuid.NewString()
	replies := make(chan []byte, 1)

	sub, err := b.Subscribe(ctx, replyTopic, func(_ context.Context, msg *domain.Message) error {
		select {
		case replies <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	msg := &domain.Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  map[string]string{"reply_to": replyTopic},
		Timestamp: time.Now().UnixMilli(),
	}
	if err := b.publish(msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-replies:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ping always succeeds while the bus is open.
func (b *ChannelBus) Ping(_ context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("event bus is closed")
	}
	return nil
}

// Close stops all subscriptions.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subscribers {
		for _, sub := range subs {
			close(sub.done)
		}
	}
	b.subscribers = make(map[string][]*channelSubscription)
	return nil
}

func (s *channelSubscription) dispatch(ctx context.Context) {
	for {
		select {
		case msg := <-s.msgs:
			// Handler errors are the handler's problem; the bus keeps
			// delivering.
			_ = s.handler(ctx, msg)
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Unsubscribe stops receiving messages.
func (s *channelSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	subs := s.bus.subscribers[s.topic]
	for i, sub := range subs {
		if sub.id == s.id {
			s.bus.subscribers[s.topic] = append(subs[:i], subs[i+1:]...)
			close(s.done)
			break
		}
	}
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
