package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"bananastore/pkg/domain"
)

// OrderSender is the bot bridge order endpoint.
type OrderSender interface {
	SendOrder(ctx context.Context, order domain.Order, user *domain.User, method domain.PaymentMethod) error
}

// BotSink forwards orders to the Discord bot bridge.
type BotSink struct {
	sender OrderSender
}

func NewBotSink(sender OrderSender) *BotSink {
	return &BotSink{sender: sender}
}

func (s *BotSink) Name() string { return "bot" }

func (s *BotSink) Deliver(ctx context.Context, ev OrderEvent) error {
	user := ev.User
	return s.sender.SendOrder(ctx, ev.Order, &user, ev.Method)
}

// DefaultSubject is the NATS subject for completed orders.
const DefaultSubject = "store.order.completed"

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes orders as JSON on a NATS subject.
type NATSSink struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
}

// NewNATSSink connects to url.
func NewNATSSink(url, subject string) (*NATSSink, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("notify: nats url is required")
	}
	conn, err := nats.Connect(url, nats.Name("bananastore-storefront"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	sink := NewNATSSinkWithPublisher(conn, subject)
	sink.conn = conn
	return sink, nil
}

func NewNATSSinkWithPublisher(pub Publisher, subject string) *NATSSink {
	if subject = strings.TrimSpace(subject); subject == "" {
		subject = DefaultSubject
	}
	return &NATSSink{pub: pub, subject: subject}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Deliver(_ context.Context, ev OrderEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	return s.pub.Publish(s.subject, payload)
}

// Close drains the connection opened by NewNATSSink.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
