package source

import (
	"context"
	"sync"

	"github.com/trailmark/markers/internal/tracker"
	"github.com/trailmark/markers/pkg/core"
)

// Push is a source fed by callers, such as the HTTP API.
type Push struct {
	mu         sync.Mutex
	sink       tracker.Sink
	generation uint64
}

// NewPush creates a stopped push source.
func NewPush() *Push {
	return &Push{}
}

// Start accepts deliveries until Stop is called or ctx is done.
func (p *Push) Start(ctx context.Context, sink tracker.Sink) error {
	p.mu.Lock()
	p.generation++
	gen := p.generation
	p.sink = sink
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.generation == gen {
			p.sink = nil
		}
	}()
	return nil
}

// Stop rejects further deliveries.
func (p *Push) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
	p.sink = nil
	return nil
}

// Running reports whether deliveries are accepted.
func (p *Push) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sink != nil
}

// Deliver hands fix to the tracker.
func (p *Push) Deliver(fix core.Fix) error {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink == nil {
		return ErrNotRunning
	}
	sink.OnFix(fix)
	return nil
}

// DeliverJSON decodes a JSON fix and delivers it. Invalid payloads are
// returned to the caller and not reported to the tracker.
func (p *Push) DeliverJSON(data []byte) error {
	fix, err := DecodeFix(data)
	if err != nil {
		return err
	}
	return p.Deliver(fix)
}
