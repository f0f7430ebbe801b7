// Package mq wraps a rabbitmq/amqp091-go connection as an app.Component:
// a broker channel manager used by rpc/amqprpc and any application code
// that wants its own queues (spec.md §6 "mq ... broker channel manager
// Component").
package mq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ipapp-go/ipapp/app"
)

var _ app.Component = (*Broker)(nil)

// Config holds the broker's connection URL.
type Config struct {
	URL string
}

// Broker owns one AMQP connection and hands out channels from it.
type Broker struct {
	cfg  Config
	mu   sync.Mutex
	conn *amqp.Connection

	closeNotify chan *amqp.Error
}

// New creates a Broker component. The connection is not opened until
// Prepare runs.
func New(cfg Config) *Broker {
	return &Broker{cfg: cfg}
}

func (b *Broker) Prepare(ctx context.Context) error {
	conn, err := amqp.Dial(b.cfg.URL)
	if err != nil {
		return fmt.Errorf("mq: dial: %w", err)
	}
	b.mu.Lock()
	b.conn = conn
	b.closeNotify = conn.NotifyClose(make(chan *amqp.Error, 1))
	b.mu.Unlock()
	return nil
}

func (b *Broker) Start(context.Context) error { return nil }

func (b *Broker) Stop(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn.Close()
	}
	return nil
}

func (b *Broker) Health(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil || b.conn.IsClosed() {
		return fmt.Errorf("mq: connection closed")
	}
	select {
	case err := <-b.closeNotify:
		if err != nil {
			return fmt.Errorf("mq: connection error: %w", err)
		}
	default:
	}
	return nil
}

// Channel opens a fresh AMQP channel from the broker's connection. Callers
// own the channel's lifetime (close it when done); the broker only owns
// the underlying connection.
func (b *Broker) Channel() (*amqp.Channel, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("mq: broker not prepared")
	}
	return conn.Channel()
}

// DeclareQueue declares a durable, non-exclusive, non-auto-delete queue
// named name. rpc/amqprpc does not use it: its server declares its own
// request queue from ServerConfig.
func (b *Broker) DeclareQueue(ch *amqp.Channel, name string) (amqp.Queue, error) {
	return ch.QueueDeclare(name, true, false, false, false, nil)
}
