package geo

import (
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/trailmark/markers/pkg/core"
	"github.com/wroge/wgs84"
)

// EarthRadiusMeters is the mean earth radius used by every distance check.
// The tracker threshold and the marker dedup radius must agree on it.
const EarthRadiusMeters = 6371000.0

func degreesToRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// Distance returns the haversine great-circle distance between a and b in meters.
func Distance(a, b core.Coordinate) float64 {
	lat1 := degreesToRadians(a.Latitude)
	lat2 := degreesToRadians(b.Latitude)
	deltaLat := lat2 - lat1
	deltaLon := degreesToRadians(b.Longitude - a.Longitude)

	h := math.Pow(math.Sin(deltaLat/2), 2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(deltaLon/2), 2)

	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Within reports whether any of the coordinates lies closer than radius meters to c.
func Within(c core.Coordinate, radius float64, coords ...core.Coordinate) bool {
	for _, other := range coords {
		if Distance(c, other) < radius {
			return true
		}
	}
	return false
}

// PathLength sums the distances between consecutive coordinates in meters.
func PathLength(coords []core.Coordinate) float64 {
	var total float64
	for i := 1; i < len(coords); i++ {
		total += Distance(coords[i-1], coords[i])
	}
	return total
}

// Coords3857From4326 projects a WGS84 coordinate onto Web Mercator (EPSG:3857).
func Coords3857From4326(c core.Coordinate) geom.XY {
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ := f(c.Longitude, c.Latitude, 0)
	return geom.XY{X: x, Y: y}
}

// Point3857 returns c as a Web Mercator point.
func Point3857(c core.Coordinate) geom.Point {
	return geom.NewPoint(geom.Coordinates{
		XY:   Coords3857From4326(c),
		Type: geom.DimXY,
	})
}
