package geocode

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/trailmark/markers/pkg/core"
)

// DefaultNominatimURL is the public OpenStreetMap Nominatim instance.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

// Nominatim reverse-geocodes through an OSM Nominatim server.
// The usage policy requires an identifying User-Agent.
type Nominatim struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewNominatim creates a Nominatim client. An empty baseURL uses DefaultNominatimURL.
func NewNominatim(baseURL, userAgent string, client *http.Client) *Nominatim {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Nominatim{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    client,
	}
}

func (n *Nominatim) ReverseGeocode(ctx context.Context, c core.Coordinate) (string, bool, error) {
	const op = "Nominatim.ReverseGeocode"

	lat, lon := latLonQuery(c)
	q := url.Values{}
	q.Set("lat", lat)
	q.Set("lon", lon)
	q.Set("format", "jsonv2")

	return reverse(ctx, n.client, n.baseURL+"/reverse?"+q.Encode(), n.userAgent, op)
}
