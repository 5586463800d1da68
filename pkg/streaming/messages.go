// Package streaming defines the messages pushed to live route viewers.
package streaming

import (
	"encoding/json"
	"fmt"

	"github.com/trailmark/markers/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeTrackingStarted      = "tracking_started"
	TypeMarkersChanged       = "markers_changed"
	TypeAuthorizationChanged = "authorization_changed"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// TrackingStartedPayload carries the first fix of a tracking session.
type TrackingStartedPayload struct {
	Location core.Coordinate `json:"location"`
}

// MarkersChangedPayload carries the full marker collection after a change.
type MarkersChangedPayload struct {
	Markers []core.Marker `json:"markers"`
}

// AuthorizationChangedPayload carries the new authorization state.
type AuthorizationChangedPayload struct {
	State core.AuthorizationState `json:"state"`
}

// Encode marshals payload and wraps it in an envelope of the given type.
func Encode(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}
