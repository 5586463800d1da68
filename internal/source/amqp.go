package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/trailmark/markers/internal/config"
	"github.com/trailmark/markers/internal/tracker"
)

// ErrDeliveriesClosed is reported when the broker closes the consumer channel.
var ErrDeliveriesClosed = errors.New("amqp delivery channel closed")

// AMQP consumes fixes from a RabbitMQ queue.
type AMQP struct {
	cfg config.AMQPConfig
	log *slog.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	cancel context.CancelFunc
}

// NewAMQP creates a stopped AMQP source.
func NewAMQP(cfg config.AMQPConfig, logger *slog.Logger) *AMQP {
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQP{cfg: cfg, log: logger}
}

// Start connects, declares the durable queue, optionally binds it to the
// configured exchange and consumes in the background.
func (a *AMQP) Start(ctx context.Context, sink tracker.Sink) error {
	const op = "AMQP.Start"

	conn, err := amqp.DialConfig(a.cfg.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("%s: failed to connect to RabbitMQ: %w", op, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("%s: failed to open a channel: %w", op, err)
	}

	q, err := ch.QueueDeclare(a.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("%s: declare queue failed: %w", op, err)
	}

	if a.cfg.Exchange != "" {
		if err := ch.QueueBind(q.Name, a.cfg.BindingKey, a.cfg.Exchange, false, nil); err != nil {
			conn.Close()
			return fmt.Errorf("%s: bind queue failed: %w", op, err)
		}
	}

	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("%s: consume failed: %w", op, err)
	}

	ctx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	a.conn = conn
	a.ch = ch
	a.cancel = cancel
	a.mu.Unlock()

	a.log.Info("consuming location fixes", "queue", q.Name, "exchange", a.cfg.Exchange)
	go a.consume(ctx, msgs, sink)

	return nil
}

func (a *AMQP) consume(ctx context.Context, msgs <-chan amqp.Delivery, sink tracker.Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() == nil {
					sink.OnFailure(ErrDeliveriesClosed)
				}
				return
			}
			a.handleDelivery(msg, sink)
		}
	}
}

// handleDelivery acks decoded fixes and rejects malformed ones without requeue.
func (a *AMQP) handleDelivery(msg amqp.Delivery, sink tracker.Sink) {
	if err := deliverJSON(sink, msg.Body); err != nil {
		if err := msg.Nack(false, false); err != nil {
			a.log.Warn("nack failed", "error", err)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		a.log.Warn("ack failed", "error", err)
	}
}

// Stop cancels consumption and closes the connection.
func (a *AMQP) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	var err error
	if a.ch != nil {
		err = errors.Join(err, ignoreClosed(a.ch.Close()))
		a.ch = nil
	}
	if a.conn != nil {
		err = errors.Join(err, ignoreClosed(a.conn.Close()))
		a.conn = nil
	}
	return err
}

func ignoreClosed(err error) error {
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}
