// Package geo provides coordinate-string parsing and projection helpers.
// KML coordinate tuples arrive as "lon,lat" or "lon,lat,elev" strings; the
// web-mercator projection is used for screen-space viewport math.
package geo

import (
	"errors"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// ErrInvalidCoordinates is returned when a coordinate tuple cannot be parsed.
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Coordinate is a parsed lon/lat pair with optional elevation.
type Coordinate struct {
	Lng  float64
	Lat  float64
	Elev float64
}

// ParseTuple parses a "lon,lat" or "lon,lat,elev" string.
func ParseTuple(s string) (Coordinate, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) < 2 {
		return Coordinate{}, ErrInvalidCoordinates
	}
	lng, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return Coordinate{}, ErrInvalidCoordinates
	}
	lat, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return Coordinate{}, ErrInvalidCoordinates
	}
	var elev float64
	if len(parts) > 2 {
		elev, err = strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return Coordinate{}, ErrInvalidCoordinates
		}
	}
	return Coordinate{Lng: lng, Lat: lat, Elev: elev}, nil
}

// ParseTupleList parses a whitespace-separated list of coordinate tuples,
// the format used by KML <coordinates> elements.
func ParseTupleList(s string) ([]Coordinate, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, ErrInvalidCoordinates
	}
	coords := make([]Coordinate, 0, len(fields))
	for _, f := range fields {
		c, err := ParseTuple(f)
		if err != nil {
			return nil, err
		}
		coords = append(coords, c)
	}
	return coords, nil
}

// Point3857From4326 projects a lon/lat coordinate into web mercator (3857)
// and returns it as a point geometry.
func Point3857From4326(lng, lat float64) geom.Point {
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ := f(lng, lat, 0)
	return geom.NewPoint(geom.Coordinates{
		XY: geom.XY{X: x, Y: y},
	})
}

// Mercator3857 projects a lon/lat coordinate into web mercator meters.
func Mercator3857(lng, lat float64) (x, y float64) {
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ = f(lng, lat, 0)
	return x, y
}
