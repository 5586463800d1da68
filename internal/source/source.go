// Package source provides the location-fix streams that feed the tracker.
package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/trailmark/markers/internal/config"
	"github.com/trailmark/markers/internal/tracker"
	"github.com/trailmark/markers/pkg/core"
)

var (
	// ErrInvalidFix is returned for payloads that do not describe a valid fix.
	ErrInvalidFix = errors.New("invalid fix")
	// ErrNotRunning is returned when delivering to a stopped source.
	ErrNotRunning = errors.New("fix source not running")
)

// FixPayload is the wire format of a fix on every transport.
type FixPayload struct {
	Latitude  *float64  `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64  `json:"longitude" validate:"required,gte=-180,lte=180"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

var validate = validator.New()

// DecodeFix parses and validates one JSON fix.
func DecodeFix(data []byte) (core.Fix, error) {
	var p FixPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return core.Fix{}, fmt.Errorf("%w: %v", ErrInvalidFix, err)
	}
	if err := validate.Struct(p); err != nil {
		return core.Fix{}, fmt.Errorf("%w: %v", ErrInvalidFix, err)
	}
	return core.Fix{
		Coordinate: core.Coordinate{Latitude: *p.Latitude, Longitude: *p.Longitude},
		Accuracy:   p.Accuracy,
		Timestamp:  p.Timestamp,
	}, nil
}

// deliverJSON decodes data and hands the result to sink.
func deliverJSON(sink tracker.Sink, data []byte) error {
	fix, err := DecodeFix(data)
	if err != nil {
		sink.OnFailure(err)
		return err
	}
	sink.OnFix(fix)
	return nil
}

// New creates the source selected by cfg.Type.
func New(cfg config.SourceConfig, logger *slog.Logger) (tracker.Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Type {
	case "", "push":
		return NewPush(), nil
	case "replay":
		return NewReplay(cfg.Replay, logger), nil
	case "amqp":
		return NewAMQP(cfg.AMQP, logger), nil
	case "nats":
		return NewNATS(cfg.NATS, logger), nil
	default:
		return nil, fmt.Errorf("unknown source type: %s", cfg.Type)
	}
}
