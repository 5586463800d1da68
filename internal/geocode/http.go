package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/trailmark/markers/pkg/core"
)

// reversePayload is the response shape shared by LocationIQ and Nominatim.
type reversePayload struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Error       any    `json:"error"`
}

func (p reversePayload) address() string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	return strings.TrimSpace(p.DisplayName)
}

func formatDegrees(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// reverse issues a GET to rawURL and interprets the reverse-geocoding response.
func reverse(ctx context.Context, client *http.Client, rawURL, userAgent, op string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", false, fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("%s: failed to make request: %w", op, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return "", false, nil
	default:
		return "", false, fmt.Errorf("%s: unexpected response status %d", op, resp.StatusCode)
	}

	var payload reversePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", false, fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	if payload.Error != nil {
		return "", false, nil
	}

	addr := payload.address()
	return addr, addr != "", nil
}

func latLonQuery(c core.Coordinate) (string, string) {
	return formatDegrees(c.Latitude), formatDegrees(c.Longitude)
}
