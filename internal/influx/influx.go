// Package influx records route telemetry in InfluxDB.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/trailmark/markers/internal/config"
)

// Manager handles the InfluxDB connection and writes. When the server is
// unreachable at connect time, points go to a gzipped line-protocol backup.
type Manager struct {
	client       influxdb2.Client
	writer       influxdb2_api.WriteAPI
	backupFile   *os.File
	backupWriter *gzip.Writer
	logger       *slog.Logger

	mu sync.Mutex
}

// NewManager creates a disconnected manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// Connect establishes a connection to InfluxDB, falling back to backupPath.
func (m *Manager) Connect(ctx context.Context, cfg config.InfluxConfig, backupPath string) error {
	if !cfg.Enabled {
		return errors.New("influx.enabled is false")
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	// validate client connection health
	running, err := client.Ping(ctx)
	if err != nil || !running {
		client.Close()
		m.logger.Warn("InfluxDB unreachable, writing to backup file", "backupPath", backupPath, "error", err)

		file, err := os.OpenFile(backupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("error creating backup file: %v", err)
		}
		m.mu.Lock()
		m.backupFile = file
		m.backupWriter = gzip.NewWriter(file)
		m.mu.Unlock()
		return nil
	}

	writer := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			m.logger.Error("Error sending data to InfluxDB", "bucket", cfg.Bucket, "error", writeErr)
		}
	}(writer.Errors())

	m.mu.Lock()
	m.client = client
	m.writer = writer
	m.mu.Unlock()

	m.logger.Info("InfluxDB client initialized", "url", cfg.URL, "bucket", cfg.Bucket)
	return nil
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.writer != nil:
		m.writer.WritePoint(point)
		return nil
	case m.backupWriter != nil:
		line := strings.TrimSuffix(influxdb2_write.PointToLineProtocol(point, time.Nanosecond), "\n")
		if _, err := m.backupWriter.Write([]byte(line + "\n")); err != nil {
			return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
		}
		return nil
	default:
		return errors.New("influxDB client not initialized and backup writer not available")
	}
}

// Close flushes pending points and releases the connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writer != nil {
		m.writer.Flush()
		m.client.Close()
		m.writer = nil
		m.client = nil
	}
	if m.backupWriter != nil {
		err := errors.Join(m.backupWriter.Close(), m.backupFile.Close())
		m.backupWriter = nil
		m.backupFile = nil
		return err
	}
	return nil
}
