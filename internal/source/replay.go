package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/trailmark/markers/internal/config"
	"github.com/trailmark/markers/internal/tracker"
)

// Replay plays back a newline-delimited JSON file of fixes at a fixed interval.
type Replay struct {
	cfg config.ReplayConfig
	log *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReplay creates a replay source for cfg.Path.
func NewReplay(cfg config.ReplayConfig, logger *slog.Logger) *Replay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replay{cfg: cfg, log: logger}
}

// Start opens the file and replays it in the background. Lines that fail
// to decode are reported through sink.OnFailure and skipped.
func (r *Replay) Start(ctx context.Context, sink tracker.Sink) error {
	f, err := os.Open(r.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to open replay file: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		defer f.Close()
		r.play(ctx, f, sink)
	}()

	return nil
}

func (r *Replay) play(ctx context.Context, f *os.File, sink tracker.Sink) {
	var tick <-chan time.Time
	if r.cfg.Interval > 0 {
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	scanner := bufio.NewScanner(f)
	line, delivered := 0, 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}

		if ctx.Err() != nil {
			return
		}
		if err := deliverJSON(sink, data); err != nil {
			r.log.Debug("skipping replay line", "line", line, "error", err)
		} else {
			delivered++
		}

		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-tick:
			}
		}
	}
	if err := scanner.Err(); err != nil {
		sink.OnFailure(fmt.Errorf("replay read failed: %w", err))
		return
	}
	r.log.Info("replay finished", "path", r.cfg.Path, "fixes", delivered)
}

// Stop cancels the replay. It does not wait for the goroutine, so it is
// safe to call from inside a sink callback.
func (r *Replay) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	return nil
}

// Done is closed when the current replay has finished or was stopped.
func (r *Replay) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}
