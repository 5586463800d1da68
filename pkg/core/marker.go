// pkg/core/marker.go
package core

import "time"

// Marker is a notable stop along the tracked route: where the user was and
// what the place is called. Markers are never mutated once created.
type Marker struct {
	Coordinate
	Address   string    `json:"address"`
	Timestamp time.Time `json:"timestamp,omitzero"` // zero for markers restored from older blobs
}

// Coordinates returns the marker positions in insertion order.
func Coordinates(markers []Marker) []Coordinate {
	out := make([]Coordinate, len(markers))
	for i, m := range markers {
		out[i] = m.Coordinate
	}
	return out
}
