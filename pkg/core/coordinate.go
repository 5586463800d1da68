// pkg/core/coordinate.go
package core

import (
	"fmt"
	"time"
)

// Coordinate is a WGS84 position in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// String formats the coordinate as "lat,long" with six decimals.
func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

// Valid reports whether the coordinate lies within the WGS84 ranges.
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// Fix is a single raw position reading delivered by a location source.
type Fix struct {
	Coordinate
	Accuracy  float64   // horizontal accuracy in meters, 0 when unknown, negative when invalid
	Timestamp time.Time // zero when the source does not report one
}
