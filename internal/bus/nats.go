package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pesaguard/pesaguard/internal/domain"
)

// NATSBus is a NATS-backed event bus for deployments where
// assessments fan out to external consumers.
type NATSBus struct {
	conn *nats.Conn
}

// NewNATSBus connects to a NATS server.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}

	opts := []nats.Option{
		nats.Name("pesaguard"),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
	}
	if cfg.NATSReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(time.Duration(cfg.NATSReconnectWait)*time.Second))
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return &NATSBus{conn: conn}, nil
}

// Publish sends a message to a topic.
func (b *NATSBus) Publish(_ context.Context, topic string, payload []byte) error {
	return b.conn.Publish(topic, payload)
}

// Subscribe registers a handler for a topic.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	sub, err := b.conn.Subscribe(topic, func(m *nats.Msg) {
		msg := &domain.Message{
			Topic:     m.Subject,
			Payload:   m.Data,
			Timestamp: time.Now().UnixMilli(),
		}
		if m.Reply != "" {
			msg.Metadata = map[string]string{"reply_to": m.Reply}
		}
		_ = handler(ctx, msg)
	})
	if err != nil {
		return nil, err
	}

	return &natsSubscription{sub: sub, topic: topic}, nil
}

// Request sends a message and waits for a response.
func (b *NATSBus) Request(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	msg, err := b.conn.RequestWithContext(ctx, topic, payload)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

// Ping checks the connection.
func (b *NATSBus) Ping(_ context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("nats connection is down")
	}
	return nil
}

// Close drains and closes the connection.
func (b *NATSBus) Close() error {
	return b.conn.Drain()
}

type natsSubscription struct {
	sub   *nats.Subscription
	topic string
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Topic() string {
	return s.topic
}
