// Package amqp publishes fired jobs to a RabbitMQ exchange.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"delayd/pkg/retry"
)

// ErrNoChannel is returned while the connection is down.
var ErrNoChannel = errors.New("amqp: no channel available")

// Connection holds one AMQP connection and channel and redials when the
// broker drops them.
type Connection struct {
	url string
	log *slog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
	done    chan struct{}
}

// Dial connects to url, retrying while the broker is unreachable, and
// declares exchange as a durable topic exchange.
func Dial(ctx context.Context, url, exchange string, log *slog.Logger) (*Connection, error) {
	if log == nil {
		log = slog.Default()
	}
	c := &Connection{url: url, log: log.With("component", "amqp"), done: make(chan struct{})}

	cfg := retry.Config{
		MaxAttempts:    6,
		InitialDelay:   time.Second,
		MaxDelay:       15 * time.Second,
		JitterStrategy: retry.JitterEqual,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.log.Warn("broker not ready", "attempt", attempt, "retry_in", delay, "error", err)
		},
	}
	if err := retry.DoWithRetryable(ctx, cfg, func(context.Context) error { return c.connect() }, retry.AnyError); err != nil {
		return nil, err
	}

	err := c.withChannel(func(ch *amqp.Channel) error {
		return ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	go c.watch()
	return c, nil
}

func (c *Connection) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.mu.Lock()
	c.conn, c.channel = conn, ch
	c.mu.Unlock()
	c.log.Info("connected to broker")
	return nil
}

// watch redials after the broker closes the connection, backing off up to 30s.
func (c *Connection) watch() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		closed := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-c.done:
			return
		case err := <-closed:
			c.log.Warn("broker connection closed", "error", err)
		}

		c.mu.Lock()
		c.channel = nil
		c.mu.Unlock()

		delay := time.Second
		for {
			select {
			case <-c.done:
				return
			case <-time.After(delay):
			}
			if err := c.connect(); err != nil {
				c.log.Warn("reconnect failed", "error", err, "retry_in", delay)
				delay = min(delay*2, 30*time.Second)
				continue
			}
			break
		}
	}
}

func (c *Connection) withChannel(fn func(ch *amqp.Channel) error) error {
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()
	if ch == nil {
		return ErrNoChannel
	}
	return fn(ch)
}

// Publish implements Publisher.
func (c *Connection) Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	return c.withChannel(func(ch *amqp.Channel) error {
		return ch.PublishWithContext(ctx, exchange, key, false, false, msg)
	})
}

// Close closes the channel and the connection. It is safe to call twice.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	var errs []error
	if c.channel != nil {
		errs = append(errs, c.channel.Close())
	}
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
	}
	return errors.Join(errs...)
}
