package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trailmark/markers/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures observer registration.
type Option func(*options)

type options struct {
	bufferSize int
	blocking   bool
	logged     bool
}

// Buffered delivers to the observer from its own goroutine through a queue
// of the given size.
func Buffered(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// Blocking makes a buffered observer block the publisher when the queue is
// full instead of dropping.
func Blocking() Option {
	return func(o *options) {
		o.blocking = true
	}
}

// Logged adds debug logging around each delivery.
func Logged() Option {
	return func(o *options) {
		o.logged = true
	}
}

type subscription struct {
	name    string
	deliver func(notification)
	buffer  chan notification
}

// Fanout delivers every notification to all subscribed observers.
// Fanout is itself an Observer so producers only hold one reference.
type Fanout struct {
	logger Logger

	mu     sync.RWMutex
	subs   []*subscription
	closed bool
	wg     sync.WaitGroup

	queueSize metric.Int64ObservableGauge
	delivered metric.Int64Counter
	dropped   metric.Int64Counter
}

// New creates a Fanout. Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Fanout, error) {
	f := &Fanout{logger: logger}

	m := meter()

	var err error

	f.queueSize, err = m.Int64ObservableGauge(
		"events.queue.size",
		metric.WithDescription("Current number of notifications queued per observer"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			f.mu.RLock()
			defer f.mu.RUnlock()
			for _, s := range f.subs {
				if s.buffer == nil {
					continue
				}
				o.ObserveInt64(f.queueSize, int64(len(s.buffer)),
					metric.WithAttributes(attribute.String("observer", s.name)))
			}
			return nil
		},
		f.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	f.delivered, err = m.Int64Counter(
		"events.delivered",
		metric.WithDescription("Total notifications delivered to observers"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating delivered counter: %w", err)
	}

	f.dropped, err = m.Int64Counter(
		"events.dropped",
		metric.WithDescription("Total notifications dropped due to a full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return f, nil
}

// Subscribe registers an observer under name with optional delivery options.
// Subscribing after Close is a no-op.
func (f *Fanout) Subscribe(name string, o Observer, opts ...Option) {
	cfg := &options{}
	for _, opt := range opts {
		opt(cfg)
	}

	nameAttr := attribute.String("observer", name)
	deliver := func(n notification) {
		n.deliver(o)
		f.delivered.Add(context.Background(), 1,
			metric.WithAttributes(nameAttr, attribute.String("type", string(n.kind))))
	}

	if cfg.logged {
		deliver = f.withLogging(name, deliver)
	}

	s := &subscription{name: name, deliver: deliver}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}

	if cfg.bufferSize > 0 {
		s.buffer = make(chan notification, cfg.bufferSize)
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			for n := range s.buffer {
				deliver(n)
			}
		}()
		s.deliver = f.enqueue(s, cfg.blocking, nameAttr)
	}

	f.subs = append(f.subs, s)
}

// OnTrackingStarted publishes a tracking-started notification.
func (f *Fanout) OnTrackingStarted(at core.Coordinate) {
	f.publish(notification{kind: KindTrackingStarted, at: at})
}

// OnMarkersChanged publishes a markers-changed notification.
func (f *Fanout) OnMarkersChanged(markers []core.Marker) {
	f.publish(notification{kind: KindMarkersChanged, markers: markers})
}

// OnAuthorizationChanged publishes an authorization-changed notification.
func (f *Fanout) OnAuthorizationChanged(state core.AuthorizationState) {
	f.publish(notification{kind: KindAuthorizationChanged, state: state})
}

// Close stops accepting notifications and waits until buffered observers
// have drained their queues.
func (f *Fanout) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	for _, s := range f.subs {
		if s.buffer != nil {
			close(s.buffer)
		}
	}
	f.mu.Unlock()

	f.wg.Wait()
}

func (f *Fanout) publish(n notification) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for _, s := range f.subs {
		s.deliver(n)
	}
}

func (f *Fanout) enqueue(s *subscription, blocking bool, nameAttr attribute.KeyValue) func(notification) {
	if blocking {
		return func(n notification) {
			s.buffer <- n
		}
	}

	return func(n notification) {
		select {
		case s.buffer <- n:
		default:
			f.dropped.Add(context.Background(), 1,
				metric.WithAttributes(nameAttr, attribute.String("type", string(n.kind))))
			if f.logger != nil {
				f.logger.Error("observer queue full, dropping notification", "observer", s.name, "type", n.kind)
			}
		}
	}
}

func (f *Fanout) withLogging(name string, deliver func(notification)) func(notification) {
	return func(n notification) {
		if f.logger == nil {
			deliver(n)
			return
		}
		start := time.Now()
		f.logger.Debug("delivering notification", "observer", name, "type", n.kind)
		deliver(n)
		f.logger.Debug("notification delivered", "observer", name, "type", n.kind, "duration", time.Since(start))
	}
}
