// Package broker owns the single RabbitMQ connection and channel shared by every publisher.
package broker

import (
	"context"
	"errors"
	"file-relay/contract"
	"file-relay/domain"
	"file-relay/domain/mimetypes"
	apperrors "file-relay/errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var _ contract.Broker = (*RabbitMQ)(nil)

const (
	connectionTimeout = 30 * time.Second
	heartbeat         = 10 * time.Second
)

// Connection is the subset of *amqp.Connection the manager relies on.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// Channel is the subset of *amqp.Channel the manager relies on.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Dialer func(ctx context.Context, url string) (Connection, error)

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// DialAMQP opens a real connection. The TCP dial honours ctx; the handshake is
// bounded by connectionTimeout.
func DialAMQP(ctx context.Context, rawURL string) (Connection, error) {
	conn, err := amqp.DialConfig(rawURL, amqp.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: connectionTimeout}
			c, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// Cleared by the client once the AMQP handshake completes.
			if err := c.SetDeadline(time.Now().Add(connectionTimeout)); err != nil {
				_ = c.Close()
				return nil, err
			}
			return c, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

type Option func(*RabbitMQ)

func WithDialer(dial Dialer) Option {
	return func(r *RabbitMQ) {
		r.dial = dial
	}
}

// RabbitMQ moves through Uninitialized -> Connecting -> Ready -> (Degraded -> Connecting)*.
// It never reconnects on its own: EnsureConnected is the only way back to Ready.
type RabbitMQ struct {
	url    string
	queues []string
	log    *slog.Logger
	dial   Dialer

	connectMu sync.Mutex

	mu    sync.RWMutex
	state domain.BrokerState
	conn  Connection
	ch    Channel
}

func NewRabbitMQ(log *slog.Logger, brokerURL string, queues []string, opts ...Option) *RabbitMQ {
	r := &RabbitMQ{
		url:    brokerURL,
		queues: queues,
		log:    log,
		dial:   DialAMQP,
		state:  domain.BrokerUninitialized,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect initializes the connection eagerly. It is a no-op when already live.
func (r *RabbitMQ) Connect(ctx context.Context) error {
	return r.EnsureConnected(ctx)
}

// EnsureConnected re-runs initialization when the connection is missing or dead.
// Concurrent callers wait for a single reconnect instead of racing.
func (r *RabbitMQ) EnsureConnected(ctx context.Context) error {
	if r.live() {
		return nil
	}

	r.connectMu.Lock()
	defer r.connectMu.Unlock()

	if r.live() {
		return nil
	}
	return r.initialize(ctx)
}

func (r *RabbitMQ) live() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state == domain.BrokerReady && r.conn != nil && !r.conn.IsClosed()
}

// initialize requires connectMu.
func (r *RabbitMQ) initialize(ctx context.Context) error {
	r.mu.Lock()
	oldConn, oldCh := r.conn, r.ch
	r.conn, r.ch = nil, nil
	r.state = domain.BrokerConnecting
	r.mu.Unlock()
	closePair(oldConn, oldCh)

	r.log.Info("Connecting to broker", "url", redact(r.url))

	conn, err := r.dial(ctx, r.url)
	if err != nil {
		return r.initFailed(fmt.Errorf("%w: dial %s: %w", apperrors.ErrBrokerInit, redact(r.url), err))
	}
	ch, err := conn.Channel()
	if err != nil {
		closePair(conn, nil)
		return r.initFailed(fmt.Errorf("%w: open channel: %w", apperrors.ErrBrokerInit, err))
	}
	for _, queue := range r.queues {
		// Non-durable: throughput over surviving a broker restart.
		if _, err := ch.QueueDeclare(queue, false, false, false, false, nil); err != nil {
			closePair(conn, ch)
			return r.initFailed(fmt.Errorf("%w: declare queue %s: %w", apperrors.ErrBrokerInit, queue, err))
		}
	}

	r.mu.Lock()
	r.conn, r.ch = conn, ch
	r.state = domain.BrokerReady
	r.mu.Unlock()

	go r.watch(conn, conn.NotifyClose(make(chan *amqp.Error, 1)))

	r.log.Info("Broker ready", "queues", r.queues)
	return nil
}

func (r *RabbitMQ) initFailed(err error) error {
	r.mu.Lock()
	r.state = domain.BrokerDegraded
	r.mu.Unlock()
	r.log.Error("Broker initialization failed", "error", err)
	return err
}

// watch degrades the manager when conn drops, unless conn was already replaced.
func (r *RabbitMQ) watch(conn Connection, closes chan *amqp.Error) {
	amqpErr, ok := <-closes

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != conn || r.state != domain.BrokerReady {
		return
	}
	r.state = domain.BrokerDegraded
	if ok && amqpErr != nil {
		r.log.Warn("Broker connection lost", "code", amqpErr.Code, "reason", amqpErr.Reason)
	} else {
		r.log.Warn("Broker connection closed")
	}
}

// Publish sends body as one persistent message on the default exchange, routed to queue.
func (r *RabbitMQ) Publish(ctx context.Context, queue string, body []byte) error {
	r.mu.RLock()
	ch, state := r.ch, r.state
	r.mu.RUnlock()

	if state != domain.BrokerReady || ch == nil {
		return fmt.Errorf("%w: broker is %s", apperrors.ErrChannelNotReady, state)
	}

	err := ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  string(mimetypes.OctetStream),
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, amqp.ErrClosed) {
		r.degrade(ch)
		return fmt.Errorf("%w: %w", apperrors.ErrChannelNotReady, err)
	}
	return fmt.Errorf("%w: queue %s: %w", apperrors.ErrPublish, queue, err)
}

func (r *RabbitMQ) degrade(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch == ch && r.state == domain.BrokerReady {
		r.state = domain.BrokerDegraded
		r.log.Warn("Broker channel closed, marking degraded")
	}
}

func (r *RabbitMQ) State() domain.BrokerState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Close releases the connection. A later EnsureConnected opens a new one.
func (r *RabbitMQ) Close() error {
	r.connectMu.Lock()
	defer r.connectMu.Unlock()

	r.mu.Lock()
	conn, ch := r.conn, r.ch
	r.conn, r.ch = nil, nil
	r.state = domain.BrokerUninitialized
	r.mu.Unlock()

	var errs []error
	if ch != nil {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if conn != nil && !conn.IsClosed() {
		if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closePair(conn Connection, ch Channel) {
	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil && !conn.IsClosed() {
		_ = conn.Close()
	}
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
