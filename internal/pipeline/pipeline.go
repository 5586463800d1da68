// Package pipeline owns the marker collection: it deduplicates incoming
// movements, resolves their addresses, persists the result and notifies
// observers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/trailmark/markers/internal/config"
	"github.com/trailmark/markers/internal/events"
	"github.com/trailmark/markers/internal/geo"
	"github.com/trailmark/markers/internal/geocode"
	"github.com/trailmark/markers/internal/storage"
	"github.com/trailmark/markers/pkg/core"
)

var (
	// ErrDuplicate is returned when a coordinate lies within the dedup radius
	// of a stored or in-flight marker.
	ErrDuplicate = errors.New("marker within dedup radius of an existing marker")
	// ErrPersistence wraps repository failures. The in-memory collection is
	// rolled back whenever it is returned.
	ErrPersistence = errors.New("failed to persist markers")
)

// Resolver turns a coordinate into an address. It must not fail.
type Resolver interface {
	Resolve(ctx context.Context, c core.Coordinate) string
}

// Dependencies holds the collaborators of a Pipeline.
type Dependencies struct {
	Repository storage.Repository
	Resolver   Resolver
	Observer   events.Observer
	Logger     *slog.Logger
	// Now stamps new markers. Defaults to time.Now.
	Now func() time.Time
}

// Pipeline is the single owner of the marker collection.
type Pipeline struct {
	cfg  config.PipelineConfig
	deps Dependencies
	log  *slog.Logger

	// mu serializes every mutation together with its write.
	mu        sync.Mutex
	markers   []core.Marker
	pending   map[uint64]core.Coordinate
	pendingID uint64

	// notifyMu is taken before mu is released so notifications leave in
	// mutation order while observers can still read the collection.
	notifyMu sync.Mutex

	wg sync.WaitGroup

	metrics *metrics
}

// New creates an empty pipeline. Call Restore to load persisted markers.
func New(cfg config.PipelineConfig, deps Dependencies) (*Pipeline, error) {
	if cfg.DedupRadius <= 0 {
		return nil, fmt.Errorf("dedup radius must be positive, got %v", cfg.DedupRadius)
	}
	if deps.Repository == nil {
		return nil, errors.New("pipeline requires a repository")
	}
	if deps.Resolver == nil {
		return nil, errors.New("pipeline requires an address resolver")
	}
	if deps.Observer == nil {
		deps.Observer = events.Nop
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m, err := newMetrics()
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:     cfg,
		deps:    deps,
		log:     logger,
		markers: []core.Marker{},
		pending: make(map[uint64]core.Coordinate),
		metrics: m,
	}, nil
}

// OnSignificantMovement adds a marker for c in the background.
// Failures are logged; use Wait to block until in-flight additions finish.
func (p *Pipeline) OnSignificantMovement(c core.Coordinate) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_, err := p.Add(context.Background(), c)
		switch {
		case err == nil:
		case errors.Is(err, ErrDuplicate):
			p.log.Debug("movement discarded as duplicate", "coordinate", c.String())
		default:
			p.log.Error("failed to add marker", "coordinate", c.String(), "error", err)
		}
	}()
}

// Wait blocks until every addition started by OnSignificantMovement is done.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Add resolves, stores and announces a marker at c.
func (p *Pipeline) Add(ctx context.Context, c core.Coordinate) (core.Marker, error) {
	p.mu.Lock()
	if p.nearLocked(c, true) {
		p.mu.Unlock()
		p.metrics.duplicate(ctx)
		return core.Marker{}, ErrDuplicate
	}
	p.pendingID++
	id := p.pendingID
	p.pending[id] = c
	p.mu.Unlock()

	address := p.deps.Resolver.Resolve(ctx, c)
	if geocode.IsFallback(address) {
		p.metrics.fallback(ctx)
	}

	p.mu.Lock()
	delete(p.pending, id)
	// The collection may have changed while resolving.
	if p.nearLocked(c, false) {
		p.mu.Unlock()
		p.metrics.duplicate(ctx)
		return core.Marker{}, ErrDuplicate
	}

	marker := core.Marker{Coordinate: c, Address: address, Timestamp: p.deps.Now().UTC()}
	p.markers = append(p.markers, marker)
	snapshot := p.snapshotLocked()

	if err := p.deps.Repository.Save(ctx, snapshot); err != nil {
		p.markers = p.markers[:len(p.markers)-1]
		p.mu.Unlock()
		p.metrics.persistFailure(ctx)
		return core.Marker{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	p.notifyMu.Lock()
	p.mu.Unlock()
	p.metrics.created(ctx)
	p.log.Info("marker added", "coordinate", c.String(), "address", address, "count", len(snapshot))
	p.deps.Observer.OnMarkersChanged(snapshot)
	p.notifyMu.Unlock()

	return marker, nil
}

// Clear removes every marker. On a failed write the previous collection is kept.
func (p *Pipeline) Clear(ctx context.Context) error {
	p.mu.Lock()
	previous := p.markers
	p.markers = []core.Marker{}

	if err := p.deps.Repository.Save(ctx, []core.Marker{}); err != nil {
		p.markers = previous
		p.mu.Unlock()
		p.metrics.persistFailure(ctx)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	p.notifyMu.Lock()
	p.mu.Unlock()
	p.log.Info("markers cleared", "removed", len(previous))
	p.deps.Observer.OnMarkersChanged([]core.Marker{})
	p.notifyMu.Unlock()

	return nil
}

// Restore loads the persisted collection. A corrupt blob starts an empty
// collection; markers closer than the dedup radius to an earlier one are dropped.
func (p *Pipeline) Restore(ctx context.Context) error {
	loaded, err := p.deps.Repository.Load(ctx)
	switch {
	case errors.Is(err, storage.ErrCorrupt):
		p.log.Warn("persisted markers are corrupt, starting empty", "error", err)
		loaded = nil
	case err != nil:
		return fmt.Errorf("failed to restore markers: %w", err)
	}

	kept := make([]core.Marker, 0, len(loaded))
	for _, m := range loaded {
		if geo.Within(m.Coordinate, p.cfg.DedupRadius, core.Coordinates(kept)...) {
			p.log.Warn("dropping persisted duplicate marker", "coordinate", m.Coordinate.String())
			continue
		}
		kept = append(kept, m)
	}

	p.mu.Lock()
	p.markers = kept
	snapshot := p.snapshotLocked()
	p.notifyMu.Lock()
	p.mu.Unlock()
	p.log.Info("markers restored", "count", len(snapshot), "dropped", len(loaded)-len(kept))
	p.deps.Observer.OnMarkersChanged(snapshot)
	p.notifyMu.Unlock()

	return nil
}

// CurrentRoute returns the marker coordinates in insertion order.
func (p *Pipeline) CurrentRoute() []core.Coordinate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return core.Coordinates(p.markers)
}

// Annotations returns a copy of the markers for display.
func (p *Pipeline) Annotations() []core.Marker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Len returns the number of markers.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.markers)
}

// Polyline returns the route as a line string; ok is false below two markers.
func (p *Pipeline) Polyline() (geom.LineString, bool) {
	return geo.Polyline(p.CurrentRoute(), geo.SRID4326)
}

func (p *Pipeline) snapshotLocked() []core.Marker {
	out := make([]core.Marker, len(p.markers))
	copy(out, p.markers)
	return out
}

// nearLocked reports whether c lies within the dedup radius of a stored
// marker, or of an in-flight one when includePending is set.
func (p *Pipeline) nearLocked(c core.Coordinate, includePending bool) bool {
	if geo.Within(c, p.cfg.DedupRadius, core.Coordinates(p.markers)...) {
		return true
	}
	if !includePending {
		return false
	}
	for _, pc := range p.pending {
		if geo.Distance(c, pc) < p.cfg.DedupRadius {
			return true
		}
	}
	return false
}
