package geo

import (
	"fmt"

	"github.com/databike/replay/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/samber/lo"
	"github.com/wroge/wgs84"
)

// Tracks are exported in two flavours: scene trails as local ENU metres, and
// the raw GPS track projected to EPSG:3857 so it can be overlaid on web maps.

// TrailLineString builds a 3D LineString from scene positions, keeping the
// scene layout (x = east, y = up, z = north) as X=east, Y=north, Z=up.
func TrailLineString(points []core.Vec3) (geom.LineString, error) {
	if len(points) < 2 {
		return geom.LineString{}, fmt.Errorf("trail must have at least 2 points, got %d", len(points))
	}
	flat := lo.FlatMap(points, func(p core.Vec3, _ int) []float64 {
		return []float64{p.X, p.Z, p.Y}
	})
	seq := geom.NewSequence(flat, geom.DimXYZ)
	return geom.NewLineString(seq), nil
}

// Point3857From4326 projects a WGS84 fix into web mercator metres.
func Point3857From4326(longitude, latitude, elevation float64) geom.Point {
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ := f(longitude, latitude, 0)
	return geom.NewPoint(
		geom.Coordinates{
			XY:   geom.XY{X: x, Y: y},
			Z:    elevation,
			Type: geom.DimXYZ,
		},
	)
}

// WebMercatorTrack projects the raw GPS fixes of a timeline to EPSG:3857 and
// returns them as a 3D LineString with elevation kept as Z.
func WebMercatorTrack(raw *core.RawTimeline) (geom.LineString, error) {
	n := len(raw.Latitude)
	if n != len(raw.Longitude) || n != len(raw.Elevation) {
		return geom.LineString{}, fmt.Errorf("track coordinate slices differ in length: lat=%d lon=%d ele=%d",
			n, len(raw.Longitude), len(raw.Elevation))
	}
	if n < 2 {
		return geom.LineString{}, fmt.Errorf("track must have at least 2 points, got %d", n)
	}

	f := wgs84.EPSG().Transform(4326, 3857)
	flat := make([]float64, 0, n*3)
	for i := range n {
		x, y, _ := f(raw.Longitude[i], raw.Latitude[i], 0)
		flat = append(flat, x, y, raw.Elevation[i])
	}
	seq := geom.NewSequence(flat, geom.DimXYZ)
	return geom.NewLineString(seq), nil
}
