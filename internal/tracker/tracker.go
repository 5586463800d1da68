// Package tracker filters raw location fixes into tracking-started and
// significant-movement events.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/trailmark/markers/internal/config"
	"github.com/trailmark/markers/internal/geo"
	"github.com/trailmark/markers/pkg/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/trailmark/markers/internal/tracker"

// Sink receives fixes and failures from a Source. Calls may come from any goroutine.
type Sink interface {
	OnFix(fix core.Fix)
	OnFailure(err error)
}

// Source is a push stream of fixes. Start must not block; fixes are
// delivered to sink until Stop is called or ctx is done.
type Source interface {
	Start(ctx context.Context, sink Sink) error
	Stop() error
}

// Dependencies holds the collaborators of a Tracker.
type Dependencies struct {
	Source Source
	// Authorized gates emission. Nil means always authorized.
	Authorized func() bool
	// OnTrackingStarted is called with the first accepted fix after Start.
	OnTrackingStarted func(at core.Coordinate)
	// OnSignificantMovement is called when the user moved at least the
	// distance threshold away from the last emitted fix.
	OnSignificantMovement func(at core.Coordinate)
	Logger                *slog.Logger
}

// Tracker turns a fix stream into movement events.
type Tracker struct {
	cfg  config.TrackerConfig
	deps Dependencies
	log  *slog.Logger

	// emitMu serializes fix handling so events leave in fix order.
	emitMu sync.Mutex

	mu           sync.Mutex
	active       bool
	firstFix     bool
	lastEmitted  *core.Coordinate
	current      *core.Coordinate
	sourceActive bool

	fixes     metric.Int64Counter
	ignored   metric.Int64Counter
	movements metric.Int64Counter
	failures  metric.Int64Counter
}

// New creates a stopped tracker.
func New(cfg config.TrackerConfig, deps Dependencies) (*Tracker, error) {
	if cfg.DistanceThreshold <= 0 {
		return nil, fmt.Errorf("distance threshold must be positive, got %v", cfg.DistanceThreshold)
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("tracker requires a fix source")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	t := &Tracker{cfg: cfg, deps: deps, log: logger}

	m := otel.Meter(instrumentationName)
	var err error

	t.fixes, err = m.Int64Counter("tracker.fixes.received",
		metric.WithDescription("Total fixes received from the source"))
	if err != nil {
		return nil, fmt.Errorf("creating fixes counter: %w", err)
	}
	t.ignored, err = m.Int64Counter("tracker.fixes.ignored",
		metric.WithDescription("Fixes discarded before the distance check"))
	if err != nil {
		return nil, fmt.Errorf("creating ignored counter: %w", err)
	}
	t.movements, err = m.Int64Counter("tracker.movements",
		metric.WithDescription("Significant movements emitted"))
	if err != nil {
		return nil, fmt.Errorf("creating movements counter: %w", err)
	}
	t.failures, err = m.Int64Counter("tracker.source.failures",
		metric.WithDescription("Errors reported by the fix source"))
	if err != nil {
		return nil, fmt.Errorf("creating failures counter: %w", err)
	}

	return t, nil
}

// Start resets the movement baseline and begins receiving fixes.
// Calling Start on an active tracker only resets the baseline.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	t.firstFix = true
	t.lastEmitted = nil
	t.active = true
	if t.sourceActive {
		t.mu.Unlock()
		t.log.Info("tracking restarted")
		return nil
	}
	t.sourceActive = true
	t.mu.Unlock()

	if err := t.deps.Source.Start(ctx, t); err != nil {
		t.mu.Lock()
		t.active = false
		t.sourceActive = false
		t.mu.Unlock()
		return fmt.Errorf("failed to start fix source: %w", err)
	}

	t.log.Info("tracking started", "distanceThreshold", t.cfg.DistanceThreshold)
	return nil
}

// Stop halts the source. The baseline is kept until the next Start.
// Events already being emitted are delivered before Stop returns.
func (t *Tracker) Stop() error {
	t.mu.Lock()
	wasRunning := t.sourceActive
	t.active = false
	t.sourceActive = false
	t.mu.Unlock()

	// fence: an OnFix past advance holds emitMu until its callbacks return
	t.emitMu.Lock()
	t.emitMu.Unlock()

	if !wasRunning {
		return nil
	}
	if err := t.deps.Source.Stop(); err != nil {
		return fmt.Errorf("failed to stop fix source: %w", err)
	}
	t.log.Info("tracking stopped")
	return nil
}

// Active reports whether the tracker is accepting fixes.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// CurrentLocation returns the latest accepted fix.
func (t *Tracker) CurrentLocation() (core.Coordinate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return core.Coordinate{}, false
	}
	return *t.current, true
}

// OnFix implements Sink.
func (t *Tracker) OnFix(fix core.Fix) {
	ctx := context.Background()
	t.fixes.Add(ctx, 1)

	if reason, ok := t.rejects(fix); ok {
		t.ignored.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		t.log.Debug("fix ignored", "reason", reason, "coordinate", fix.Coordinate.String(), "accuracy", fix.Accuracy)
		return
	}

	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	started, moved, ok := t.advance(fix.Coordinate)
	if !ok {
		t.ignored.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "inactive")))
		return
	}

	if started && t.deps.OnTrackingStarted != nil {
		t.deps.OnTrackingStarted(fix.Coordinate)
	}
	if moved {
		t.movements.Add(ctx, 1)
		t.log.Debug("significant movement", "coordinate", fix.Coordinate.String())
		if t.deps.OnSignificantMovement != nil {
			t.deps.OnSignificantMovement(fix.Coordinate)
		}
	}
}

// OnFailure implements Sink. Tracking continues.
func (t *Tracker) OnFailure(err error) {
	t.failures.Add(context.Background(), 1)
	t.log.Warn("fix source failure", "error", err)
}

func (t *Tracker) rejects(fix core.Fix) (string, bool) {
	switch {
	case !fix.Coordinate.Valid():
		return "invalid_coordinate", true
	case fix.Accuracy < 0:
		return "invalid_accuracy", true
	case t.cfg.MaxAccuracy > 0 && fix.Accuracy > t.cfg.MaxAccuracy:
		return "low_accuracy", true
	}
	return "", false
}

// advance applies c to the tracking state and reports which events fire.
// ok is false when the tracker is inactive.
func (t *Tracker) advance(c core.Coordinate) (started, moved, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		return false, false, false
	}

	current := c
	t.current = &current

	if t.deps.Authorized != nil && !t.deps.Authorized() {
		return false, false, true
	}

	if t.firstFix {
		t.firstFix = false
		baseline := c
		t.lastEmitted = &baseline
		return true, false, true
	}

	if geo.Distance(c, *t.lastEmitted) >= t.cfg.DistanceThreshold {
		baseline := c
		t.lastEmitted = &baseline
		return false, true, true
	}

	return false, false, true
}
