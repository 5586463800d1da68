package events

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trailmark/markers/pkg/core"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.add("DEBUG", msg, keysAndValues)
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.add("INFO", msg, keysAndValues)
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.add("ERROR", msg, keysAndValues)
}

func (l *testLogger) add(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("%s: %s %v", level, msg, kv))
}

func (l *testLogger) count(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.messages {
		if strings.HasPrefix(m, prefix) {
			n++
		}
	}
	return n
}

func newTestFanout(t *testing.T) (*Fanout, *testLogger) {
	t.Helper()
	logger := &testLogger{}
	f, err := New(logger)
	require.NoError(t, err)
	t.Cleanup(f.Close)
	return f, logger
}

func TestFanout_SyncDeliveryToAllObservers(t *testing.T) {
	f, _ := newTestFanout(t)

	var got1, got2 []core.Marker
	f.Subscribe("one", Funcs{MarkersChanged: func(m []core.Marker) { got1 = m }})
	f.Subscribe("two", Funcs{MarkersChanged: func(m []core.Marker) { got2 = m }})

	markers := []core.Marker{{Coordinate: core.Coordinate{Latitude: 1, Longitude: 2}, Address: "A"}}
	f.OnMarkersChanged(markers)

	assert.Equal(t, markers, got1)
	assert.Equal(t, markers, got2)
}

func TestFanout_RoutesEachKind(t *testing.T) {
	f, _ := newTestFanout(t)

	var started core.Coordinate
	var state core.AuthorizationState
	f.Subscribe("ui", Funcs{
		TrackingStarted:      func(at core.Coordinate) { started = at },
		AuthorizationChanged: func(s core.AuthorizationState) { state = s },
	})

	f.OnTrackingStarted(core.Coordinate{Latitude: 52.5, Longitude: 13.4})
	f.OnAuthorizationChanged(core.AuthorizationGranted)
	f.OnMarkersChanged(nil) // no handler set, must not panic

	assert.Equal(t, core.Coordinate{Latitude: 52.5, Longitude: 13.4}, started)
	assert.Equal(t, core.AuthorizationGranted, state)
}

func TestFanout_BufferedDelivery(t *testing.T) {
	f, _ := newTestFanout(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)
	f.Subscribe("async", Funcs{TrackingStarted: func(core.Coordinate) {
		processed.Add(1)
		wg.Done()
	}}, Buffered(10))

	for i := 0; i < 3; i++ {
		f.OnTrackingStarted(core.Coordinate{})
	}

	wg.Wait()
	assert.Equal(t, int32(3), processed.Load())
}

func TestFanout_BufferedPreservesOrder(t *testing.T) {
	f, _ := newTestFanout(t)

	var mu sync.Mutex
	var sizes []int
	f.Subscribe("ordered", Funcs{MarkersChanged: func(m []core.Marker) {
		mu.Lock()
		sizes = append(sizes, len(m))
		mu.Unlock()
	}}, Buffered(16))

	for i := 0; i < 5; i++ {
		f.OnMarkersChanged(make([]core.Marker, i))
	}
	f.Close()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, sizes)
}

func TestFanout_BufferedDropsWhenFull(t *testing.T) {
	f, logger := newTestFanout(t)

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	f.Subscribe("slow", Funcs{TrackingStarted: func(core.Coordinate) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
	}}, Buffered(1))

	f.OnTrackingStarted(core.Coordinate{}) // being processed
	<-started
	f.OnTrackingStarted(core.Coordinate{}) // queued
	f.OnTrackingStarted(core.Coordinate{}) // dropped

	assert.Equal(t, 1, logger.count("ERROR"))
	close(block)
}

func TestFanout_BufferedBlocking(t *testing.T) {
	f, _ := newTestFanout(t)

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	f.Subscribe("blocking", Funcs{TrackingStarted: func(core.Coordinate) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
	}}, Buffered(1), Blocking())

	f.OnTrackingStarted(core.Coordinate{})
	<-started
	f.OnTrackingStarted(core.Coordinate{})

	done := make(chan struct{})
	go func() {
		f.OnTrackingStarted(core.Coordinate{})
		close(done)
	}()

	select {
	case <-done:
		t.Error("publish should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	<-done
}

func TestFanout_Logged(t *testing.T) {
	f, logger := newTestFanout(t)

	f.Subscribe("logged", Nop, Logged())
	f.OnAuthorizationChanged(core.AuthorizationDenied)

	assert.Equal(t, 2, logger.count("DEBUG"))
}

func TestFanout_CloseStopsDelivery(t *testing.T) {
	f, _ := newTestFanout(t)

	calls := 0
	f.Subscribe("sync", Funcs{TrackingStarted: func(core.Coordinate) { calls++ }})
	f.Close()
	f.Close()

	f.OnTrackingStarted(core.Coordinate{})
	f.Subscribe("late", Nop, Buffered(1))

	assert.Equal(t, 0, calls)
}

func TestFanout_NilLogger(t *testing.T) {
	f, err := New(nil)
	require.NoError(t, err)
	defer f.Close()

	f.Subscribe("logged", Nop, Logged(), Buffered(1))
	f.OnTrackingStarted(core.Coordinate{})
}
