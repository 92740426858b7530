// Package events publishes security-relevant auth events to RabbitMQ.
// Publishing is best-effort: callers log failures and keep going.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Event types.
const (
	TypeTokenReuse   = "refresh_token_reuse"
	TypeLogoutAll    = "logout_all"
	TypeLoginBlocked = "login_blocked"
)

// DefaultQueue is the durable queue security events are routed to.
const DefaultQueue = "auth.security"

// Event describes one security event.
type Event struct {
	Type      string    `json:"type"`
	UserID    int64     `json:"user_id,omitempty"`
	TokenID   int64     `json:"token_id,omitempty"`
	Login     string    `json:"login,omitempty"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Revoked   int64     `json:"revoked,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher delivers security events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Channel is the subset of *amqp.Channel used by AMQP.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQP publishes persistent JSON messages to a durable queue on the default exchange.
type AMQP struct {
	mu    sync.Mutex
	ch    Channel
	conn  *amqp.Connection
	queue string
}

// Dial connects to the broker and declares the queue.
func Dial(url, queue string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	p, err := NewAMQP(ch, queue)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewAMQP wraps an open channel and declares the queue.
func NewAMQP(ch Channel, queue string) (*AMQP, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("amqp queue declare: %w", err)
	}
	return &AMQP{ch: ch, queue: queue}, nil
}

// Publish implements Publisher.
func (p *AMQP) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.At.UTC(),
		Type:         e.Type,
		Body:         body,
	}
	// amqp channels are not safe for concurrent publishes
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

// Close closes the channel and the connection if owned.
func (p *AMQP) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
