package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/trailmark/markers/internal/geo"
	"github.com/trailmark/markers/internal/permission"
	"github.com/trailmark/markers/internal/source"
	"github.com/trailmark/markers/pkg/core"
	"github.com/trailmark/markers/pkg/streaming"
)

const maxFixBody = 64 << 10

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Message string `json:"message"`
}

// HealthResponse reports liveness and a summary of the pipeline.
type HealthResponse struct {
	Status   string `json:"status"`
	Tracking bool   `json:"tracking"`
	Markers  int    `json:"markers"`
	Viewers  int    `json:"viewers"`
}

// RouteResponse is the recorded route. Points stay in WGS84; Polyline and
// WKT use SRID.
type RouteResponse struct {
	Points       []core.Coordinate `json:"points"`
	Polyline     *geom.LineString  `json:"polyline"`
	WKT          string            `json:"wkt"`
	LengthMeters float64           `json:"lengthMeters"`
	SRID         int               `json:"srid"`
}

// AuthorizationResponse carries the normalized permission state.
type AuthorizationResponse struct {
	State  core.AuthorizationState `json:"state"`
	Active bool                    `json:"active"`
}

// AuthorizationRequest sets the platform permission status.
type AuthorizationRequest struct {
	Status string `json:"status" validate:"required"`
}

// RegisterRoutes mounts the API routes on g.
func (s *Server) RegisterRoutes(g *echo.Group) {
	g.GET("/markers", s.GetMarkers)
	g.DELETE("/markers", s.ClearMarkers)
	g.GET("/route", s.GetRoute)
	g.GET("/location", s.GetLocation)

	g.GET("/authorization", s.GetAuthorization)
	g.PUT("/authorization", s.SetAuthorization)
	g.POST("/authorization/request", s.RequestAuthorization)

	g.POST("/tracking/start", s.StartTracking)
	g.POST("/tracking/stop", s.StopTracking)

	g.POST("/fixes", s.PushFix)
}

func (s *Server) Healthcheck(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Tracking: s.deps.Tracker.Active(),
		Markers:  s.deps.Markers.Len(),
		Viewers:  s.deps.Hub.Clients(),
	})
}

// GetMarkers returns the annotations in insertion order.
func (s *Server) GetMarkers(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Markers.Annotations())
}

func (s *Server) ClearMarkers(c echo.Context) error {
	if err := s.deps.Markers.Clear(c.Request().Context()); err != nil {
		s.logger.Error("failed to clear markers", "error", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "failed to clear markers"})
	}
	return c.NoContent(http.StatusNoContent)
}

// GetRoute returns the route polyline. ?srid=3857 projects it to Web Mercator.
func (s *Server) GetRoute(c echo.Context) error {
	srid := geo.SRID4326
	if raw := c.QueryParam("srid"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || (n != geo.SRID4326 && n != geo.SRID3857) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "srid must be 4326 or 3857"})
		}
		srid = n
	}

	points := s.deps.Markers.CurrentRoute()
	resp := RouteResponse{
		Points:       points,
		LengthMeters: geo.PathLength(points),
		SRID:         srid,
	}
	if ls, ok := geo.Polyline(points, srid); ok {
		resp.Polyline = &ls
		resp.WKT = ls.AsText()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) GetLocation(c echo.Context) error {
	loc, ok := s.deps.Tracker.CurrentLocation()
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Message: "location unknown"})
	}
	return c.JSON(http.StatusOK, loc)
}

func (s *Server) GetAuthorization(c echo.Context) error {
	return c.JSON(http.StatusOK, s.authorization())
}

// SetAuthorization drives the platform status, as a user answering the
// permission dialog would.
func (s *Server) SetAuthorization(c echo.Context) error {
	if s.deps.Platform == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Message: "platform status is not adjustable"})
	}

	var req AuthorizationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
	}
	if err := s.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
	}

	s.deps.Platform.SetStatus(permission.PlatformStatus(req.Status))
	return c.JSON(http.StatusOK, s.authorization())
}

func (s *Server) RequestAuthorization(c echo.Context) error {
	return s.request(c)
}

// StartTracking goes through the permission gate; denied answers 403.
func (s *Server) StartTracking(c echo.Context) error {
	return s.request(c)
}

func (s *Server) StopTracking(c echo.Context) error {
	if err := s.deps.Tracker.Stop(); err != nil {
		s.logger.Error("failed to stop tracking", "error", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "failed to stop tracking"})
	}
	return c.NoContent(http.StatusNoContent)
}

// PushFix forwards a JSON fix to the push source.
func (s *Server) PushFix(c echo.Context) error {
	if s.deps.Fixes == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Message: "push source not configured"})
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxFixBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
	}

	switch err := s.deps.Fixes.DeliverJSON(body); {
	case err == nil:
		return c.NoContent(http.StatusAccepted)
	case errors.Is(err, source.ErrNotRunning):
		return c.JSON(http.StatusConflict, ErrorResponse{Message: "tracking is not running"})
	case errors.Is(err, source.ErrInvalidFix):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
	default:
		s.logger.Error("failed to deliver fix", "error", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "failed to deliver fix"})
	}
}

// Stream upgrades to a websocket and pushes events until the viewer leaves.
// The current markers are sent first.
func (s *Server) Stream(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return nil
	}

	s.deps.Hub.Serve(conn, s.snapshot)
	return nil
}

func (s *Server) snapshot() [][]byte {
	msg, err := streaming.Encode(streaming.TypeMarkersChanged,
		streaming.MarkersChangedPayload{Markers: s.deps.Markers.Annotations()})
	if err != nil {
		s.logger.Error("failed to encode markers", "error", err)
		return nil
	}
	return [][]byte{msg}
}

func (s *Server) request(c echo.Context) error {
	err := s.deps.Gate.RequestIfNeeded()
	if errors.Is(err, permission.ErrPermissionDenied) {
		return c.JSON(http.StatusForbidden, ErrorResponse{Message: err.Error()})
	}
	if err != nil {
		s.logger.Error("failed to start tracking", "error", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "failed to start tracking"})
	}
	return c.JSON(http.StatusAccepted, s.authorization())
}

func (s *Server) authorization() AuthorizationResponse {
	return AuthorizationResponse{
		State:  s.deps.Gate.CurrentAuthorization(),
		Active: s.deps.Tracker.Active(),
	}
}
