package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/trailmark/markers/internal/config"
	"github.com/trailmark/markers/internal/tracker"
)

// NATS subscribes to a subject carrying JSON fixes.
type NATS struct {
	cfg config.NATSConfig
	log *slog.Logger

	mu   sync.Mutex
	conn *nats.Conn
	sub  *nats.Subscription
}

// NewNATS creates a stopped NATS source.
func NewNATS(cfg config.NATSConfig, logger *slog.Logger) *NATS {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATS{cfg: cfg, log: logger}
}

// Start connects and subscribes. Disconnects are reported to sink; the
// client reconnects on its own.
func (n *NATS) Start(ctx context.Context, sink tracker.Sink) error {
	nc, err := nats.Connect(n.cfg.URL,
		nats.Name("markerd"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				sink.OnFailure(fmt.Errorf("nats disconnected: %w", err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			n.log.Info("reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	sub, err := nc.Subscribe(n.cfg.Subject, func(m *nats.Msg) {
		if err := deliverJSON(sink, m.Data); err != nil {
			n.log.Debug("dropping malformed fix", "subject", m.Subject, "error", err)
		}
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", n.cfg.Subject, err)
	}

	n.mu.Lock()
	n.conn = nc
	n.sub = sub
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		current := n.conn == nc
		n.mu.Unlock()
		if current {
			n.Stop()
		}
	}()

	n.log.Info("subscribed to location fixes", "subject", n.cfg.Subject)
	return nil
}

// Stop unsubscribes and closes the connection.
func (n *NATS) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	var err error
	if n.sub != nil {
		err = n.sub.Unsubscribe()
		n.sub = nil
	}
	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
	if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
		return nil
	}
	return err
}
