// Package permission decides when location tracking may run.
package permission

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/trailmark/markers/internal/events"
	"github.com/trailmark/markers/pkg/core"
)

// ErrPermissionDenied is returned when the user has refused location access.
// It is not fatal; tracking simply stays off.
var ErrPermissionDenied = errors.New("location permission denied")

// Platform is the operating-system permission service.
type Platform interface {
	AuthorizationStatus() PlatformStatus
	// RequestAuthorization asks the user for access and returns immediately.
	// The outcome arrives through the authorization handler.
	RequestAuthorization()
	SetAuthorizationHandler(h func(PlatformStatus))
}

// Tracker is the part of the movement tracker the gate controls.
type Tracker interface {
	Start(ctx context.Context) error
	Stop() error
	Active() bool
	CurrentLocation() (core.Coordinate, bool)
}

// Gate starts and stops the tracker according to the authorization state.
// It is the only component that starts tracking on its own.
type Gate struct {
	ctx      context.Context
	platform Platform
	tracker  Tracker
	observer events.Observer
	log      *slog.Logger

	mu         sync.Mutex
	requesting bool
}

// NewGate creates a gate and registers it for authorization changes.
// ctx bounds the tracker sessions the gate starts.
func NewGate(ctx context.Context, platform Platform, tracker Tracker, observer events.Observer, logger *slog.Logger) *Gate {
	if observer == nil {
		observer = events.Nop
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		ctx:      ctx,
		platform: platform,
		tracker:  tracker,
		observer: observer,
		log:      logger,
	}
	platform.SetAuthorizationHandler(g.HandleAuthorizationChanged)
	return g
}

// CurrentAuthorization reads the live state from the platform.
func (g *Gate) CurrentAuthorization() core.AuthorizationState {
	return g.platform.AuthorizationStatus().State()
}

// RequestIfNeeded acts on the current state. Undetermined issues one
// platform request (repeated calls while it is outstanding do nothing),
// granted starts the tracker, denied returns ErrPermissionDenied.
func (g *Gate) RequestIfNeeded() error {
	switch g.CurrentAuthorization() {
	case core.AuthorizationUndetermined:
		g.mu.Lock()
		if g.requesting {
			g.mu.Unlock()
			return nil
		}
		g.requesting = true
		g.mu.Unlock()

		g.log.Info("requesting location permission")
		g.platform.RequestAuthorization()
		return nil
	case core.AuthorizationGranted:
		return g.startTracking()
	default:
		g.log.Warn("location permission denied, tracking disabled")
		return ErrPermissionDenied
	}
}

// EnsureAuthorized requests permission only while no location is known yet.
func (g *Gate) EnsureAuthorized() error {
	if _, ok := g.tracker.CurrentLocation(); ok {
		return nil
	}
	return g.RequestIfNeeded()
}

// HandleAuthorizationChanged reacts to a platform status change and
// forwards the normalized state to observers.
func (g *Gate) HandleAuthorizationChanged(status PlatformStatus) {
	if !status.Known() {
		g.log.Warn("unknown authorization status, treating as denied", "status", string(status))
	}
	state := status.State()

	if state != core.AuthorizationUndetermined {
		g.mu.Lock()
		g.requesting = false
		g.mu.Unlock()
	}

	switch state {
	case core.AuthorizationGranted:
		if err := g.startTracking(); err != nil {
			g.log.Error("failed to start tracking", "error", err)
		}
	case core.AuthorizationDenied:
		g.log.Warn("location permission denied, tracking disabled", "status", string(status))
		if err := g.tracker.Stop(); err != nil {
			g.log.Error("failed to stop tracking", "error", err)
		}
	}

	g.log.Info("authorization changed", "state", state.String())
	g.observer.OnAuthorizationChanged(state)
}

func (g *Gate) startTracking() error {
	if g.tracker.Active() {
		return nil
	}
	return g.tracker.Start(g.ctx)
}
