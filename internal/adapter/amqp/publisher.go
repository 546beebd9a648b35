// Package amqp delivers task responses to a RabbitMQ exchange for clients
// that asked for reply_to "amqp".
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/neomorfeo/orderdesk/internal/dispatch"
)

// ErrClosed is returned by Deliver after Close.
var ErrClosed = errors.New("amqp publisher closed")

// Channel is the subset of *amqp091.Channel the publisher needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	NotifyClose(receiver chan *amqp091.Error) chan *amqp091.Error
	Close() error
}

// Connector opens a channel together with the connection that owns it.
type Connector func(ctx context.Context) (Channel, io.Closer, error)

// Config locates the broker and the exchange responses are published to.
type Config struct {
	URL      string
	Exchange string
	// RoutingPrefix is joined with the operation name, e.g. "order.result.cancel".
	RoutingPrefix string
	// DialTimeout bounds how long a (re)connect keeps retrying an unreachable broker.
	DialTimeout time.Duration
}

// Compile-time check: Publisher implements dispatch.Sink.
var _ dispatch.Sink = (*Publisher)(nil)

// Publisher implements dispatch.Sink by publishing envelopes as persistent
// JSON messages carrying the task's correlation id. Publishers built with a
// Connector re-dial when the broker closes the channel.
type Publisher struct {
	cfg     Config
	connect Connector
	logger  *slog.Logger

	mu       sync.Mutex
	ch       Channel
	conn     io.Closer
	closing  chan *amqp091.Error
	shutdown bool
}

// Dial connects to the broker, retrying with exponential backoff, and declares
// the response exchange.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Publisher, error) {
	return Connect(ctx, cfg, logger, dialBroker(cfg.URL))
}

func dialBroker(url string) Connector {
	return func(context.Context) (Channel, io.Closer, error) {
		conn, err := amqp091.Dial(url)
		if err != nil {
			return nil, nil, err
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("opening channel: %w", err)
		}
		return ch, conn, nil
	}
}

// Connect builds a publisher on top of connect and opens the first channel.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger, connect Connector) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{cfg: cfg, connect: connect, logger: logger}
	if err := p.reconnect(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// NewPublisher declares the response exchange on ch and returns a publisher
// using it. It does not reconnect.
func NewPublisher(ch Channel, cfg Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := declare(ch, cfg.Exchange); err != nil {
		return nil, err
	}
	p := &Publisher{cfg: cfg, logger: logger}
	p.use(ch, nil)
	return p, nil
}

func declare(ch Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, amqp091.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring exchange %q: %w", exchange, err)
	}
	return nil
}

func (p *Publisher) use(ch Channel, conn io.Closer) {
	p.ch = ch
	p.conn = conn
	p.closing = ch.NotifyClose(make(chan *amqp091.Error, 1))
}

// open reports whether the current channel is still usable.
func (p *Publisher) open() bool {
	if p.ch == nil {
		return false
	}
	select {
	case <-p.closing:
		return false
	default:
		return true
	}
}

// reconnect drops the current channel and dials again with backoff. The
// caller holds p.mu, except during construction.
func (p *Publisher) reconnect(ctx context.Context) error {
	p.release()

	giveUp := p.cfg.DialTimeout
	if giveUp <= 0 {
		giveUp = 30 * time.Second
	}
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(500*time.Millisecond),
		backoff.WithMaxInterval(5*time.Second),
		backoff.WithMaxElapsedTime(giveUp),
	)

	var (
		ch   Channel
		conn io.Closer
	)
	op := func() error {
		var err error
		ch, conn, err = p.connect(ctx)
		if err == nil {
			err = declare(ch, p.cfg.Exchange)
			if err != nil && conn != nil {
				conn.Close()
			}
		}
		if err != nil {
			p.logger.WarnContext(ctx, "amqp connect failed", "error", err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}

	p.use(ch, conn)
	p.logger.InfoContext(ctx, "amqp connected", "exchange", p.cfg.Exchange)
	return nil
}

// release closes the current channel and connection, ignoring errors from
// ones the broker already tore down.
func (p *Publisher) release() {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.ch, p.conn, p.closing = nil, nil, nil
}

// Deliver implements dispatch.Sink.
func (p *Publisher) Deliver(ctx context.Context, env dispatch.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	key := string(env.Operation)
	if p.cfg.RoutingPrefix != "" {
		key = p.cfg.RoutingPrefix + "." + key
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown {
		return ErrClosed
	}
	if !p.open() && p.connect != nil {
		p.logger.WarnContext(ctx, "amqp channel closed, reconnecting")
		if err := p.reconnect(ctx); err != nil {
			return err
		}
	}
	if p.ch == nil {
		return errors.New("amqp channel is not open")
	}

	err = p.ch.PublishWithContext(ctx, p.cfg.Exchange, key, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		CorrelationId: env.CorrelationID,
		Type:          string(env.Operation),
		Timestamp:     env.CompletedAt,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publishing response: %w", err)
	}

	p.logger.DebugContext(ctx, "response published",
		"correlation_id", env.CorrelationID,
		"routing_key", key,
	)
	return nil
}

// Close closes the channel and, when the publisher dialed it, the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.shutdown = true
	var err error
	if p.ch != nil {
		err = p.ch.Close()
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	p.ch, p.conn, p.closing = nil, nil, nil
	return err
}
