package pipeline

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trailmark/markers/internal/config"
	"github.com/trailmark/markers/internal/events"
	"github.com/trailmark/markers/internal/geo"
	"github.com/trailmark/markers/internal/geocode"
	"github.com/trailmark/markers/internal/storage"
	"github.com/trailmark/markers/internal/storage/memory"
	"github.com/trailmark/markers/internal/tracker"
	"github.com/trailmark/markers/pkg/core"
)

// flakyRepository wraps a MarkerRepository and fails saves on demand.
type flakyRepository struct {
	*storage.MarkerRepository
	mu      sync.Mutex
	failErr error
	saves   int
}

func newFlakyRepository() *flakyRepository {
	return &flakyRepository{MarkerRepository: storage.NewMarkerRepository(memory.New())}
}

func (r *flakyRepository) Save(ctx context.Context, markers []core.Marker) error {
	r.mu.Lock()
	r.saves++
	err := r.failErr
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.MarkerRepository.Save(ctx, markers)
}

func (r *flakyRepository) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failErr = err
}

type staticResolver string

func (s staticResolver) Resolve(context.Context, core.Coordinate) string { return string(s) }

type failingGeocoder struct{}

func (failingGeocoder) ReverseGeocode(context.Context, core.Coordinate) (string, bool, error) {
	return "", false, errors.New("network unreachable")
}

// gatedResolver blocks every lookup until release is closed.
type gatedResolver struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedResolver) Resolve(ctx context.Context, c core.Coordinate) string {
	g.entered <- struct{}{}
	<-g.release
	return "Gated"
}

type changeRecorder struct {
	mu      sync.Mutex
	changes [][]core.Marker
}

func (r *changeRecorder) observer() events.Observer {
	return events.Funcs{MarkersChanged: func(m []core.Marker) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.changes = append(r.changes, m)
	}}
}

func (r *changeRecorder) all() [][]core.Marker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]core.Marker(nil), r.changes...)
}

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestPipeline(t *testing.T, repo storage.Repository, resolver Resolver) (*Pipeline, *changeRecorder) {
	t.Helper()
	rec := &changeRecorder{}
	p, err := New(config.PipelineConfig{DedupRadius: 10}, Dependencies{
		Repository: repo,
		Resolver:   resolver,
		Observer:   rec.observer(),
		Now:        func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return p, rec
}

// meters north of the equator origin
func north(m float64) core.Coordinate {
	return core.Coordinate{Latitude: m / geo.EarthRadiusMeters * 180 / math.Pi}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(config.PipelineConfig{DedupRadius: 0}, Dependencies{})
	assert.Error(t, err)
	_, err = New(config.PipelineConfig{DedupRadius: 10}, Dependencies{Resolver: staticResolver("x")})
	assert.Error(t, err)
	_, err = New(config.PipelineConfig{DedupRadius: 10}, Dependencies{Repository: newFlakyRepository()})
	assert.Error(t, err)
}

func TestAdd_AppendsPersistsNotifies(t *testing.T) {
	ctx := context.Background()
	repo := newFlakyRepository()
	p, rec := newTestPipeline(t, repo, staticResolver("Main St"))

	m, err := p.Add(ctx, north(0))
	require.NoError(t, err)
	assert.Equal(t, "Main St", m.Address)
	assert.Equal(t, fixedNow, m.Timestamp)

	stored, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.Marker{m}, stored)

	changes := rec.all()
	require.Len(t, changes, 1)
	assert.Equal(t, []core.Marker{m}, changes[0])
}

func TestAdd_DuplicateWithinRadius(t *testing.T) {
	ctx := context.Background()
	p, rec := newTestPipeline(t, newFlakyRepository(), staticResolver("A"))

	_, err := p.Add(ctx, north(0))
	require.NoError(t, err)

	_, err = p.Add(ctx, north(9))
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = p.Add(ctx, north(11))
	require.NoError(t, err)

	assert.Equal(t, 2, p.Len())
	assert.Len(t, rec.all(), 2, "duplicates are not announced")
}

func TestAdd_GeocodeFailureStillCreatesMarker(t *testing.T) {
	p, _ := newTestPipeline(t, newFlakyRepository(), geocode.NewResolver(failingGeocoder{}, nil))

	m, err := p.Add(context.Background(), north(0))
	require.NoError(t, err)
	assert.Equal(t, geocode.AddressNotFound, m.Address)

	require.Len(t, p.Annotations(), 1)
	assert.Equal(t, "Address not found", p.Annotations()[0].Address)
}

func TestAdd_PersistenceFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := newFlakyRepository()
	p, rec := newTestPipeline(t, repo, staticResolver("A"))

	_, err := p.Add(ctx, north(0))
	require.NoError(t, err)

	repo.fail(errors.New("disk full"))
	_, err = p.Add(ctx, north(100))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Contains(t, err.Error(), "disk full")

	assert.Equal(t, 1, p.Len(), "memory never diverges from storage")
	assert.Len(t, rec.all(), 1)

	repo.fail(nil)
	_, err = p.Add(ctx, north(100))
	require.NoError(t, err, "the rolled-back coordinate is not left pending")
}

func TestAdd_ConcurrentSamePlaceYieldsOneMarker(t *testing.T) {
	gate := &gatedResolver{entered: make(chan struct{}, 10), release: make(chan struct{})}
	p, _ := newTestPipeline(t, newFlakyRepository(), gate)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.Add(context.Background(), north(float64(i)))
			errs <- err
		}(i)
	}

	<-gate.entered
	close(gate.release)
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDuplicate):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 4, dup)
	assert.Equal(t, 1, p.Len())
}

func TestAdd_OutOfOrderResolutionKeepsOrder(t *testing.T) {
	gate := &gatedResolver{entered: make(chan struct{}, 10), release: make(chan struct{})}
	p, _ := newTestPipeline(t, newFlakyRepository(), gate)

	var wg sync.WaitGroup
	for _, m := range []float64{0, 50, 100} {
		wg.Add(1)
		go func(m float64) {
			defer wg.Done()
			_, err := p.Add(context.Background(), north(m))
			assert.NoError(t, err)
		}(m)
	}
	for i := 0; i < 3; i++ {
		<-gate.entered
	}
	close(gate.release)
	wg.Wait()

	assert.Equal(t, 3, p.Len())
}

func TestOnSignificantMovement_Async(t *testing.T) {
	p, rec := newTestPipeline(t, newFlakyRepository(), staticResolver("Async Ave"))

	p.OnSignificantMovement(north(0))
	p.OnSignificantMovement(north(500))
	p.Wait()

	assert.Equal(t, 2, p.Len())
	changes := rec.all()
	require.Len(t, changes, 2)
	assert.Len(t, changes[0], 1)
	assert.Len(t, changes[1], 2, "notifications carry the full collection in mutation order")
}

func TestOnSignificantMovement_FailureIsLogged(t *testing.T) {
	repo := newFlakyRepository()
	repo.fail(errors.New("read-only"))
	p, rec := newTestPipeline(t, repo, staticResolver("A"))

	p.OnSignificantMovement(north(0))
	p.Wait()

	assert.Equal(t, 0, p.Len())
	assert.Empty(t, rec.all())
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	repo := newFlakyRepository()
	p, rec := newTestPipeline(t, repo, staticResolver("A"))
	_, err := p.Add(ctx, north(0))
	require.NoError(t, err)

	require.NoError(t, p.Clear(ctx))

	assert.Empty(t, p.CurrentRoute())
	stored, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)

	changes := rec.all()
	require.Len(t, changes, 2)
	assert.NotNil(t, changes[1])
	assert.Empty(t, changes[1])
}

func TestClear_PersistenceFailureKeepsMarkers(t *testing.T) {
	ctx := context.Background()
	repo := newFlakyRepository()
	p, _ := newTestPipeline(t, repo, staticResolver("A"))
	_, err := p.Add(ctx, north(0))
	require.NoError(t, err)

	repo.fail(errors.New("locked"))
	err = p.Clear(ctx)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 1, p.Len())
}

func TestRestore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newFlakyRepository()
	p, _ := newTestPipeline(t, repo, staticResolver("A"))
	for _, m := range []float64{0, 120, 240} {
		_, err := p.Add(ctx, north(m))
		require.NoError(t, err)
	}

	restored, rec := newTestPipeline(t, repo, staticResolver("B"))
	require.NoError(t, restored.Restore(ctx))

	assert.Equal(t, p.Annotations(), restored.Annotations())
	require.Len(t, rec.all(), 1)
	assert.Len(t, rec.all()[0], 3)
}

func TestRestore_AbsentIsEmpty(t *testing.T) {
	p, _ := newTestPipeline(t, newFlakyRepository(), staticResolver("A"))
	require.NoError(t, p.Restore(context.Background()))
	assert.Equal(t, 0, p.Len())
}

func TestRestore_CorruptStartsEmpty(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Put(ctx, storage.MarkersKey, []byte("garbage")))
	p, _ := newTestPipeline(t, storage.NewMarkerRepository(store), staticResolver("A"))

	require.NoError(t, p.Restore(ctx))
	assert.Equal(t, 0, p.Len())

	_, err := p.Add(ctx, north(0))
	require.NoError(t, err)
}

func TestRestore_DropsPersistedDuplicates(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMarkerRepository(memory.New())
	require.NoError(t, repo.Save(ctx, []core.Marker{
		{Coordinate: north(0), Address: "first"},
		{Coordinate: north(3), Address: "too close"},
		{Coordinate: north(50), Address: "second"},
	}))
	p, _ := newTestPipeline(t, repo, staticResolver("A"))

	require.NoError(t, p.Restore(ctx))

	got := p.Annotations()
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Address)
	assert.Equal(t, "second", got[1].Address)
}

func TestPolyline(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t, newFlakyRepository(), staticResolver("A"))

	_, ok := p.Polyline()
	assert.False(t, ok, "no polyline for zero markers")

	_, err := p.Add(ctx, north(0))
	require.NoError(t, err)
	_, ok = p.Polyline()
	assert.False(t, ok, "no polyline for one marker")

	for _, m := range []float64{100, 200, 300} {
		_, err := p.Add(ctx, north(m))
		require.NoError(t, err)
	}
	ls, ok := p.Polyline()
	require.True(t, ok)
	seq := ls.Coordinates()
	require.Equal(t, 4, seq.Length())
	for i, c := range p.CurrentRoute() {
		xy := seq.GetXY(i)
		assert.InDelta(t, c.Longitude, xy.X, 1e-12)
		assert.InDelta(t, c.Latitude, xy.Y, 1e-12)
	}
}

func TestScenario_IdenticalFixDedups(t *testing.T) {
	p, _ := newTestPipeline(t, newFlakyRepository(), staticResolver("A"))
	src := &nopSource{}
	tr, err := tracker.New(config.TrackerConfig{DistanceThreshold: 100}, tracker.Dependencies{
		Source:                src,
		OnSignificantMovement: p.OnSignificantMovement,
	})
	require.NoError(t, err)
	require.NoError(t, tr.Start(context.Background()))

	target := core.Coordinate{Latitude: 0, Longitude: 0.0009}
	tr.OnFix(core.Fix{Coordinate: core.Coordinate{}})
	tr.OnFix(core.Fix{Coordinate: target})
	tr.OnFix(core.Fix{Coordinate: target})
	p.Wait()

	// The identical fix is also pushed straight at the pipeline.
	_, err = p.Add(context.Background(), target)
	assert.ErrorIs(t, err, ErrDuplicate)

	route := p.CurrentRoute()
	require.Len(t, route, 1)
	assert.Equal(t, target, route[0])
}

func TestProperty_NoTwoMarkersWithinRadius(t *testing.T) {
	p, _ := newTestPipeline(t, newFlakyRepository(), staticResolver("A"))
	rng := rand.New(rand.NewSource(42))

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		c := core.Coordinate{Latitude: rng.Float64() * 0.002, Longitude: rng.Float64() * 0.002}
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Add(context.Background(), c)
		}()
	}
	wg.Wait()

	route := p.CurrentRoute()
	for i := range route {
		for j := i + 1; j < len(route); j++ {
			assert.GreaterOrEqual(t, geo.Distance(route[i], route[j]), 10.0)
		}
	}
}

type nopSource struct{}

func (nopSource) Start(context.Context, tracker.Sink) error { return nil }
func (nopSource) Stop() error                               { return nil }
