package streaming

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trailmark/markers/pkg/core"
)

func TestEncode_MarkersChanged(t *testing.T) {
	data, err := Encode(TypeMarkersChanged, MarkersChangedPayload{Markers: []core.Marker{
		{Coordinate: core.Coordinate{Latitude: 1, Longitude: 2}, Address: "Main St"},
	}})
	require.NoError(t, err)

	assert.JSONEq(t, `{"type":"markers_changed","payload":{"markers":[{"latitude":1,"longitude":2,"address":"Main St"}]}}`, string(data))
}

func TestEncode_AuthorizationChanged(t *testing.T) {
	data, err := Encode(TypeAuthorizationChanged, AuthorizationChangedPayload{State: core.AuthorizationGranted})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, TypeAuthorizationChanged, env.Type)
	assert.JSONEq(t, `{"state":"granted"}`, string(env.Payload))
}

func TestEncode_Unmarshalable(t *testing.T) {
	_, err := Encode(TypeTrackingStarted, make(chan int))
	assert.Error(t, err)
}
