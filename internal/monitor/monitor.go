// Package monitor periodically writes a service status snapshot to disk.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/trailmark/markers/pkg/core"
)

const defaultInterval = time.Second

// Status is the snapshot written to the status file.
type Status struct {
	Time          time.Time               `json:"time"`
	Tracking      bool                    `json:"tracking"`
	Authorization core.AuthorizationState `json:"authorization"`
	Location      *core.Coordinate        `json:"location,omitempty"`
	Markers       int64                   `json:"markers"`
	Viewers       int                     `json:"viewers"`
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	// Status reports the live state; Time is filled in by the monitor.
	Status   func() Status
	Path     string
	Interval time.Duration
	Logger   *slog.Logger
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = defaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus returns the current status and its JSON rendering.
func (s *Service) GetStatus() (Status, []byte) {
	st := s.deps.Status()
	st.Time = time.Now().UTC()

	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		out = []byte(fmt.Sprintf(`{"error": %q}`, err.Error()))
	}
	return st, out
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}

	statusFile, err := os.Create(s.deps.Path)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("error creating status file: %w", err)
	}

	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stopChan, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer statusFile.Close()

		s.deps.Logger.Debug("Starting status monitor", "path", s.deps.Path, "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		s.write(statusFile)
		for {
			select {
			case <-stopChan:
				s.write(statusFile)
				return
			case <-ticker.C:
				s.write(statusFile)
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for the final write.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()

	<-done
}

func (s *Service) write(f *os.File) {
	_, out := s.GetStatus()
	if err := f.Truncate(0); err != nil {
		s.deps.Logger.Error("Error truncating status file", "error", err)
		return
	}
	if _, err := f.Seek(0, 0); err != nil {
		s.deps.Logger.Error("Error seeking status file", "error", err)
		return
	}
	if _, err := f.Write(append(out, '\n')); err != nil {
		s.deps.Logger.Error("Error writing status file", "error", err)
	}
}
