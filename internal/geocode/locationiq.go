package geocode

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/trailmark/markers/pkg/core"
)

// DefaultLocationIQURL is the public LocationIQ US endpoint.
const DefaultLocationIQURL = "https://us1.locationiq.com"

// LocationIQ reverse-geocodes through the LocationIQ v1 API.
type LocationIQ struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewLocationIQ creates a LocationIQ client. An empty baseURL uses DefaultLocationIQURL.
func NewLocationIQ(baseURL, apiKey string, client *http.Client) *LocationIQ {
	if baseURL == "" {
		baseURL = DefaultLocationIQURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &LocationIQ{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

func (l *LocationIQ) ReverseGeocode(ctx context.Context, c core.Coordinate) (string, bool, error) {
	const op = "LocationIQ.ReverseGeocode"

	lat, lon := latLonQuery(c)
	q := url.Values{}
	q.Set("key", l.apiKey)
	q.Set("lat", lat)
	q.Set("lon", lon)
	q.Set("format", "json")

	return reverse(ctx, l.client, l.baseURL+"/v1/reverse?"+q.Encode(), "", op)
}
