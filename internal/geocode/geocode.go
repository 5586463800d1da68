// Package geocode turns coordinates into human-readable addresses.
package geocode

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/trailmark/markers/internal/config"
	"github.com/trailmark/markers/pkg/core"
)

// Fallback addresses. A failed lookup and an empty result stay distinguishable.
const (
	AddressNotFound = "Address not found"
	UnknownAddress  = "Unknown Address"
)

// Geocoder performs one reverse lookup. found is false when the provider
// has no place for the coordinate.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, c core.Coordinate) (address string, found bool, err error)
}

// Resolver wraps a Geocoder and always yields a printable address.
type Resolver struct {
	geocoder Geocoder
	logger   *slog.Logger
}

// NewResolver creates a resolver. A nil logger uses slog.Default.
func NewResolver(g Geocoder, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{geocoder: g, logger: logger}
}

// Resolve returns the address for c, or one of the fallback strings.
// It makes a single attempt and never returns an error.
func (r *Resolver) Resolve(ctx context.Context, c core.Coordinate) (address string) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("geocoder panicked", "coordinate", c.String(), "panic", p)
			address = AddressNotFound
		}
	}()

	addr, found, err := r.geocoder.ReverseGeocode(ctx, c)
	switch {
	case err != nil:
		r.logger.Warn("reverse geocoding failed", "coordinate", c.String(), "error", err)
		return AddressNotFound
	case !found || addr == "":
		r.logger.Debug("no address for coordinate", "coordinate", c.String())
		return UnknownAddress
	default:
		return addr
	}
}

// IsFallback reports whether address is one of the fallback strings.
func IsFallback(address string) bool {
	return address == AddressNotFound || address == UnknownAddress
}

// New creates the geocoder selected by cfg.Type.
func New(cfg config.GeocoderConfig) (Geocoder, error) {
	client := &http.Client{Timeout: cfg.Timeout}

	switch cfg.Type {
	case "", "none":
		return None{}, nil
	case "locationiq":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("locationiq geocoder requires an api key")
		}
		return NewLocationIQ(cfg.BaseURL, cfg.APIKey, client), nil
	case "nominatim":
		base := cfg.BaseURL
		if base == "" || base == DefaultLocationIQURL {
			base = DefaultNominatimURL
		}
		return NewNominatim(base, cfg.UserAgent, client), nil
	default:
		return nil, fmt.Errorf("unknown geocoder type: %s", cfg.Type)
	}
}

// None never finds an address. Used for offline operation.
type None struct{}

func (None) ReverseGeocode(context.Context, core.Coordinate) (string, bool, error) {
	return "", false, nil
}
