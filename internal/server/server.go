// Package server exposes the marker pipeline over HTTP and streams its
// events to websocket viewers.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	ws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/trailmark/markers/internal/permission"
	"github.com/trailmark/markers/pkg/core"
)

// Markers is the read and clear surface of the marker pipeline.
type Markers interface {
	Annotations() []core.Marker
	CurrentRoute() []core.Coordinate
	Len() int
	Clear(ctx context.Context) error
}

// Tracker is the part of the movement tracker the API reports on.
type Tracker interface {
	CurrentLocation() (core.Coordinate, bool)
	Active() bool
	Stop() error
}

// Gate is the permission gate.
type Gate interface {
	CurrentAuthorization() core.AuthorizationState
	RequestIfNeeded() error
}

// StatusSetter changes the platform permission status at runtime.
type StatusSetter interface {
	SetStatus(status permission.PlatformStatus)
}

// FixPusher accepts raw JSON fixes.
type FixPusher interface {
	DeliverJSON(data []byte) error
}

// Dependencies are the components the server fronts. Platform and Fixes
// are optional; their routes answer 404 when unset.
type Dependencies struct {
	Markers  Markers
	Tracker  Tracker
	Gate     Gate
	Platform StatusSetter
	Fixes    FixPusher
	Hub      *Hub
	Logger   *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	echo     *echo.Echo
	addr     string
	deps     Dependencies
	logger   *slog.Logger
	validate *validator.Validate
	upgrader ws.Upgrader
}

// New builds the server and registers its routes.
func New(addr string, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(deps.Logger)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		addr:     addr,
		deps:     deps,
		logger:   deps.Logger,
		validate: validator.New(),
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Warn("request failed", "method", v.Method, "uri", v.URI, "status", v.Status, "error", v.Error)
				return nil
			}
			s.logger.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))

	e.GET("/healthcheck", s.Healthcheck)
	e.GET("/ws", s.Stream)
	s.RegisterRoutes(e.Group("/api"))

	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Hub returns the websocket hub that should be subscribed to events.
func (s *Server) Hub() *Hub {
	return s.deps.Hub
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "address", s.addr)
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown disconnects viewers and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.deps.Hub.Close()
	return s.echo.Shutdown(ctx)
}
