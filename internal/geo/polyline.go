package geo

import (
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/trailmark/markers/pkg/core"
)

// SRID values accepted by Polyline.
const (
	SRID4326 = 4326
	SRID3857 = 3857
)

// Polyline builds a route line string from coordinates in insertion order.
// Fewer than two points is a valid empty route and yields ok == false.
// With SRID4326 the line uses X=longitude, Y=latitude; SRID3857 projects to Web Mercator.
func Polyline(coords []core.Coordinate, srid int) (ls geom.LineString, ok bool) {
	if len(coords) < 2 {
		return geom.LineString{}, false
	}

	flatCoords := make([]float64, 0, len(coords)*2)
	for _, c := range coords {
		if srid == SRID3857 {
			xy := Coords3857From4326(c)
			flatCoords = append(flatCoords, xy.X, xy.Y)
			continue
		}
		flatCoords = append(flatCoords, c.Longitude, c.Latitude)
	}

	seq := geom.NewSequence(flatCoords, geom.DimXY)
	return geom.NewLineString(seq), true
}
