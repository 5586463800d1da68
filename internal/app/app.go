// Package app wires the marker service together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trailmark/markers/internal/config"
	"github.com/trailmark/markers/internal/events"
	"github.com/trailmark/markers/internal/geocode"
	"github.com/trailmark/markers/internal/logging"
	"github.com/trailmark/markers/internal/monitor"
	"github.com/trailmark/markers/internal/permission"
	"github.com/trailmark/markers/internal/pipeline"
	"github.com/trailmark/markers/internal/server"
	"github.com/trailmark/markers/internal/storage"
	"github.com/trailmark/markers/internal/tracker"
	"github.com/trailmark/markers/pkg/core"
)

const (
	hubBufferSize   = 256
	shutdownTimeout = 5 * time.Second
)

// Subscription is an extra observer registered on the event fanout.
type Subscription struct {
	Name     string
	Observer events.Observer
	Options  []events.Option
}

// Dependencies holds the configuration and leaf components of the service.
type Dependencies struct {
	Tracker  config.TrackerConfig
	Pipeline config.PipelineConfig
	Server   config.ServerConfig
	Monitor  config.MonitorConfig

	Repository storage.Repository
	Geocoder   geocode.Geocoder
	Source     tracker.Source
	Platform   permission.Platform
	Observers  []Subscription
	Logger     *slog.Logger
}

// App is the running service.
type App struct {
	logger     *slog.Logger
	repository storage.Repository

	ctx    context.Context
	cancel context.CancelFunc

	fanout   *events.Fanout
	hub      *server.Hub
	pipeline *pipeline.Pipeline
	tracker  *tracker.Tracker
	gate     *permission.Gate
	server   *server.Server
	monitor  *monitor.Service

	// markerCount mirrors the pipeline size without taking its lock.
	markerCount atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// New builds every component and restores the persisted markers.
// Nothing is started until Run.
func New(ctx context.Context, deps Dependencies) (*App, error) {
	if deps.Repository == nil {
		return nil, errors.New("app requires a marker repository")
	}
	if deps.Source == nil {
		return nil, errors.New("app requires a fix source")
	}
	if deps.Platform == nil {
		return nil, errors.New("app requires a permission platform")
	}
	if deps.Geocoder == nil {
		deps.Geocoder = geocode.None{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fanout, err := events.New(logging.NewEventLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create event fanout: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	a := &App{
		logger:     logger,
		repository: deps.Repository,
		ctx:        runCtx,
		cancel:     cancel,
		fanout:     fanout,
		hub:        server.NewHub(logger),
	}

	fanout.Subscribe("state", events.Funcs{
		MarkersChanged: func(markers []core.Marker) { a.markerCount.Store(int64(len(markers))) },
	})
	fanout.Subscribe("log", logObserver(logger))
	fanout.Subscribe("websocket", a.hub, events.Buffered(hubBufferSize))
	for _, s := range deps.Observers {
		fanout.Subscribe(s.Name, s.Observer, s.Options...)
	}

	a.pipeline, err = pipeline.New(deps.Pipeline, pipeline.Dependencies{
		Repository: deps.Repository,
		Resolver:   geocode.NewResolver(deps.Geocoder, logger),
		Observer:   fanout,
		Logger:     logger,
	})
	if err != nil {
		a.abort()
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	platform := deps.Platform
	a.tracker, err = tracker.New(deps.Tracker, tracker.Dependencies{
		Source: deps.Source,
		Authorized: func() bool {
			return platform.AuthorizationStatus().State() == core.AuthorizationGranted
		},
		OnTrackingStarted:     fanout.OnTrackingStarted,
		OnSignificantMovement: a.pipeline.OnSignificantMovement,
		Logger:                logger,
	})
	if err != nil {
		a.abort()
		return nil, fmt.Errorf("failed to create tracker: %w", err)
	}

	a.gate = permission.NewGate(runCtx, platform, a.tracker, fanout, logger)

	if err := a.pipeline.Restore(ctx); err != nil {
		a.abort()
		return nil, err
	}

	if deps.Server.Enabled {
		sd := server.Dependencies{
			Markers: a.pipeline,
			Tracker: a.tracker,
			Gate:    a.gate,
			Hub:     a.hub,
			Logger:  logger,
		}
		if setter, ok := platform.(server.StatusSetter); ok {
			sd.Platform = setter
		}
		if pusher, ok := deps.Source.(server.FixPusher); ok {
			sd.Fixes = pusher
		}
		a.server = server.New(deps.Server.Address, sd)
	}

	if deps.Monitor.Enabled {
		a.monitor = monitor.NewService(monitor.Dependencies{
			Status:   a.Status,
			Path:     deps.Monitor.Path,
			Interval: deps.Monitor.Interval,
			Logger:   logger,
		})
	}

	return a, nil
}

// Status reports the live service state.
func (a *App) Status() monitor.Status {
	st := monitor.Status{
		Tracking:      a.tracker.Active(),
		Authorization: a.gate.CurrentAuthorization(),
		Markers:       a.markerCount.Load(),
		Viewers:       a.hub.Clients(),
	}
	if loc, ok := a.tracker.CurrentLocation(); ok {
		st.Location = &loc
	}
	return st
}

// Pipeline returns the marker pipeline.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// Tracker returns the movement tracker.
func (a *App) Tracker() *tracker.Tracker {
	return a.tracker
}

// Gate returns the permission gate.
func (a *App) Gate() *permission.Gate {
	return a.gate
}

// Server returns the HTTP server, nil when disabled.
func (a *App) Server() *server.Server {
	return a.server
}

// LogAttrs reports the live service state for log records.
func (a *App) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.Bool("tracking", a.tracker.Active()),
		slog.Int64("markers", a.markerCount.Load()),
	}
}

// Run asks for location permission, serves HTTP and blocks until ctx is
// done or the server fails. Everything is shut down before it returns.
func (a *App) Run(ctx context.Context) error {
	if err := a.gate.EnsureAuthorized(); err != nil {
		if !errors.Is(err, permission.ErrPermissionDenied) {
			a.logger.Error("failed to start tracking", "error", err)
		}
	}

	if a.monitor != nil {
		if err := a.monitor.Start(); err != nil {
			a.logger.Error("status monitor disabled", "error", err)
		}
	}

	errCh := make(chan error, 1)
	if a.server != nil {
		go func() { errCh <- a.server.Start() }()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case <-a.ctx.Done():
	case err := <-errCh:
		if err != nil {
			runErr = fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("HTTP server shutdown failed", "error", err)
		}
		cancel()
	}

	return errors.Join(runErr, a.Close())
}

// Close stops tracking, waits for in-flight markers and releases storage.
// It is safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		if err := a.tracker.Stop(); err != nil {
			a.logger.Warn("failed to stop tracker", "error", err)
		}
		a.pipeline.Wait()
		if a.monitor != nil {
			a.monitor.Stop()
		}
		a.abort()
		a.closeErr = a.repository.Close()
	})
	return a.closeErr
}

// abort releases everything New acquired except the repository.
func (a *App) abort() {
	a.cancel()
	a.fanout.Close()
	a.hub.Close()
}

func logObserver(logger *slog.Logger) events.Observer {
	return events.Funcs{
		TrackingStarted: func(at core.Coordinate) {
			logger.Info("tracking started", "location", at.String())
		},
		MarkersChanged: func(markers []core.Marker) {
			logger.Info("markers changed", "count", len(markers))
		},
		AuthorizationChanged: func(state core.AuthorizationState) {
			logger.Info("authorization changed", "state", state.String())
		},
	}
}
