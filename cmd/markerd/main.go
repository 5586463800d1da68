// Command markerd records a movement-triggered marker trail from a stream
// of location fixes and serves it over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/trailmark/markers/internal/app"
	"github.com/trailmark/markers/internal/config"
	"github.com/trailmark/markers/internal/events"
	"github.com/trailmark/markers/internal/geocode"
	"github.com/trailmark/markers/internal/influx"
	"github.com/trailmark/markers/internal/logging"
	intOtel "github.com/trailmark/markers/internal/otel"
	"github.com/trailmark/markers/internal/permission"
	"github.com/trailmark/markers/internal/source"
	"github.com/trailmark/markers/internal/storage"
)

const appName = "markerd"

// BuildDate can be set at build time via ldflags
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

var sessionStart = time.Now()

func main() {
	configDir := flag.String("config", ".", "directory containing "+config.FileName)
	clearMarkers := flag.Bool("clear", false, "remove every persisted marker and exit")
	printRoute := flag.Bool("route", false, "print the recorded route as GeoJSON and exit")
	flag.Parse()

	if err := run(*configDir, *clearMarkers, *printRoute); err != nil {
		fmt.Fprintln(os.Stderr, "markerd:", err)
		os.Exit(1)
	}
}

func run(configDir string, clearMarkers, printRoute bool) error {
	// .env is optional; real environment variables win
	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	configErr := config.Load(configDir)
	if configErr != nil {
		config.UseDefaults()
	}
	if err := config.Validate(); err != nil {
		return err
	}

	closers, manager, err := setupLogging()
	if err != nil {
		return err
	}
	defer closeAll(closers)
	logger := manager.Logger()

	if configErr != nil {
		logger.Warn("config file not loaded, using defaults", "error", configErr)
	}
	logger.Info("starting", "app", appName, "version", Version, "build", BuildDate)

	otelProvider, otelCloser, err := setupOTel(logger)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(ctx); err != nil {
			logger.Warn("failed to shut down OTel", "error", err)
		}
		if otelCloser != nil {
			_ = otelCloser.Close()
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := storage.NewRepository(config.GetStorageConfig())
	if err != nil {
		return fmt.Errorf("failed to open marker store: %w", err)
	}

	geocoder, err := geocode.New(config.GetGeocoderConfig())
	if err != nil {
		_ = repo.Close()
		return err
	}

	src, err := source.New(config.GetSourceConfig(), logger)
	if err != nil {
		_ = repo.Close()
		return err
	}

	var subs []app.Subscription
	if ic := config.GetInfluxConfig(); ic.Enabled && !clearMarkers && !printRoute {
		mgr := influx.NewManager(logger)
		backup := filepath.Join(config.GetString("logsDir"), appName+".influx_backup.lp.gz")
		if err := mgr.Connect(ctx, ic, backup); err != nil {
			logger.Error("InfluxDB disabled", "error", err)
		} else {
			defer func() {
				if err := mgr.Close(); err != nil {
					logger.Warn("failed to close InfluxDB", "error", err)
				}
			}()
			subs = append(subs, app.Subscription{
				Name:     "influx",
				Observer: influx.NewObserver(mgr, appName, logger),
				Options:  []events.Option{events.Buffered(256)},
			})
		}
	}

	// the context logger reads service state once the app exists
	var current atomic.Pointer[app.App]
	ctxLogger := manager.WithContext(func() []slog.Attr {
		if a := current.Load(); a != nil {
			return a.LogAttrs()
		}
		return nil
	})

	serverCfg := config.GetServerConfig()
	monitorCfg := config.GetMonitorConfig()
	if clearMarkers || printRoute {
		serverCfg.Enabled = false
		monitorCfg.Enabled = false
	}

	a, err := app.New(ctx, app.Dependencies{
		Tracker:    config.GetTrackerConfig(),
		Pipeline:   config.GetPipelineConfig(),
		Server:     serverCfg,
		Monitor:    monitorCfg,
		Repository: repo,
		Geocoder:   geocoder,
		Source:     src,
		Platform:   permission.NewStaticPlatform(config.GetPermissionConfig()),
		Observers:  subs,
		Logger:     ctxLogger,
	})
	if err != nil {
		_ = repo.Close()
		return err
	}
	current.Store(a)

	switch {
	case clearMarkers:
		err := a.Pipeline().Clear(ctx)
		return errors.Join(err, a.Close())
	case printRoute:
		err := writeRoute(os.Stdout, a)
		return errors.Join(err, a.Close())
	}

	return a.Run(ctx)
}

func setupLogging() ([]io.Closer, *logging.SlogManager, error) {
	var closers []io.Closer
	manager := logging.NewSlogManager()

	var file io.Writer
	if logsDir := config.GetString("logsDir"); logsDir != "" {
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create logs directory: %w", err)
		}
		f, err := os.OpenFile(logging.LogFilePath(logsDir, appName, sessionStart), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		closers = append(closers, f)
		file = f
	}

	var gelfOut io.Writer
	gc := config.GetGraylogConfig()
	if gc.Enabled {
		w, err := logging.NewGelfWriter(gc.Address)
		if err != nil {
			fmt.Fprintln(os.Stderr, "markerd: graylog disabled:", err)
		} else {
			closers = append(closers, w)
			gelfOut = w
		}
	}

	manager.Setup(logging.Sinks{
		File:      file,
		Level:     config.GetString("logLevel"),
		Gelf:      gelfOut,
		GelfLevel: gc.Level,
		Service:   appName,
	})
	slog.SetDefault(manager.Logger())
	return closers, manager, nil
}

func setupOTel(logger *slog.Logger) (*intOtel.Provider, io.Closer, error) {
	oc := config.GetOTelConfig()
	cfg := intOtel.Config{
		Enabled:        oc.Enabled,
		ServiceName:    oc.ServiceName,
		ExportInterval: oc.ExportInterval,
	}

	var closer io.Closer
	if oc.Enabled {
		logsDir := config.GetString("logsDir")
		if logsDir == "" {
			logsDir = "."
		}
		path := filepath.Join(logsDir, fmt.Sprintf("%s.%s.metrics.jsonl", appName, sessionStart.Format("20060102_150405")))
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open metrics file: %w", err)
		}
		cfg.Writer = f
		closer = f
		logger.Info("OTel metrics enabled", "path", path, "interval", oc.ExportInterval)
	}

	p, err := intOtel.New(cfg)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, nil, err
	}
	return p, closer, nil
}

// writeRoute prints the route line string, or null below two markers.
func writeRoute(w io.Writer, a *app.App) error {
	enc := json.NewEncoder(w)
	if ls, ok := a.Pipeline().Polyline(); ok {
		return enc.Encode(ls)
	}
	return enc.Encode(nil)
}

func closeAll(closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		_ = closers[i].Close()
	}
}
