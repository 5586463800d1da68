package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trailmark/markers/internal/config"
	"github.com/trailmark/markers/pkg/core"
)

type stubGeocoder struct {
	address string
	found   bool
	err     error
	calls   int
	panics  bool
}

func (s *stubGeocoder) ReverseGeocode(context.Context, core.Coordinate) (string, bool, error) {
	s.calls++
	if s.panics {
		panic("provider exploded")
	}
	return s.address, s.found, s.err
}

var berlin = core.Coordinate{Latitude: 52.520008, Longitude: 13.404954}

func TestResolver_Resolve(t *testing.T) {
	tests := []struct {
		name string
		stub *stubGeocoder
		want string
	}{
		{"found", &stubGeocoder{address: "Alexanderplatz", found: true}, "Alexanderplatz"},
		{"error", &stubGeocoder{err: errors.New("timeout")}, AddressNotFound},
		{"no result", &stubGeocoder{found: false}, UnknownAddress},
		{"empty name", &stubGeocoder{address: "", found: true}, UnknownAddress},
		{"panic", &stubGeocoder{panics: true}, AddressNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.stub, nil)
			assert.Equal(t, tt.want, r.Resolve(context.Background(), berlin))
			assert.Equal(t, 1, tt.stub.calls, "exactly one attempt")
		})
	}
}

func TestIsFallback(t *testing.T) {
	assert.True(t, IsFallback(AddressNotFound))
	assert.True(t, IsFallback(UnknownAddress))
	assert.False(t, IsFallback("Main St"))
	assert.NotEqual(t, AddressNotFound, UnknownAddress)
}

func TestNone(t *testing.T) {
	addr, found, err := None{}.ReverseGeocode(context.Background(), berlin)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, addr)
}

func TestLocationIQ_Request(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/reverse", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		assert.Equal(t, "52.520008", r.URL.Query().Get("lat"))
		assert.Equal(t, "13.404954", r.URL.Query().Get("lon"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"display_name":"Alexanderplatz, Mitte, Berlin, Germany"}`))
	}))
	defer srv.Close()

	g := NewLocationIQ(srv.URL, "secret", srv.Client())
	addr, found, err := g.ReverseGeocode(context.Background(), berlin)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Alexanderplatz, Mitte, Berlin, Germany", addr)
}

func TestLocationIQ_PrefersName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"Fernsehturm","display_name":"Fernsehturm, Panoramastraße, Berlin"}`))
	}))
	defer srv.Close()

	addr, found, err := NewLocationIQ(srv.URL, "k", srv.Client()).ReverseGeocode(context.Background(), berlin)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Fernsehturm", addr)
}

func TestLocationIQ_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"Unable to geocode"}`))
	}))
	defer srv.Close()

	_, found, err := NewLocationIQ(srv.URL, "k", srv.Client()).ReverseGeocode(context.Background(), berlin)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLocationIQ_ErrorBodyOnOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"Unable to geocode"}`))
	}))
	defer srv.Close()

	_, found, err := NewLocationIQ(srv.URL, "k", srv.Client()).ReverseGeocode(context.Background(), berlin)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLocationIQ_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, _, err := NewLocationIQ(srv.URL, "k", srv.Client()).ReverseGeocode(context.Background(), berlin)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected response status 429")
}

func TestLocationIQ_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	_, _, err := NewLocationIQ(srv.URL, "k", srv.Client()).ReverseGeocode(context.Background(), berlin)
	assert.Error(t, err)
}

func TestNominatim_Request(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		assert.Equal(t, "markerd-test", r.Header.Get("User-Agent"))
		w.Write([]byte(`{"name":"","display_name":"Unter den Linden, Berlin"}`))
	}))
	defer srv.Close()

	addr, found, err := NewNominatim(srv.URL+"/", "markerd-test", srv.Client()).ReverseGeocode(context.Background(), berlin)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Unter den Linden, Berlin", addr)
}

func TestResolver_TimeoutFallsBack(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := &http.Client{Timeout: 50 * time.Millisecond}
	r := NewResolver(NewNominatim(srv.URL, "ua", client), nil)

	assert.Equal(t, AddressNotFound, r.Resolve(context.Background(), berlin))
}

func TestNew(t *testing.T) {
	g, err := New(config.GeocoderConfig{Type: "none"})
	require.NoError(t, err)
	assert.IsType(t, None{}, g)

	_, err = New(config.GeocoderConfig{Type: "locationiq"})
	assert.Error(t, err, "api key required")

	g, err = New(config.GeocoderConfig{Type: "locationiq", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, DefaultLocationIQURL, g.(*LocationIQ).baseURL)

	g, err = New(config.GeocoderConfig{Type: "nominatim", BaseURL: DefaultLocationIQURL})
	require.NoError(t, err)
	assert.Equal(t, DefaultNominatimURL, g.(*Nominatim).baseURL)

	_, err = New(config.GeocoderConfig{Type: "carrier-pigeon"})
	assert.Error(t, err)
}
