// Package measure derives human-formatted area and length measurements from
// drawn geometries. Areas use the spherical-excess approximation and lengths
// the haversine formula, both on the mean earth radius; at drawing scale the
// error is far below the display precision.
package measure

import (
	"fmt"
	"math"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/mapfy/mapfy/pkg/geojson"
)

// earthRadius is the mean earth radius in meters.
const earthRadius = 6371008.8

// Unit thresholds for formatting.
const (
	areaKm2Threshold = 1_000_000 // m² at which output switches to km²
	areaHaThreshold  = 10_000    // m² at which output switches to ha
	distanceKmThresh = 1_000     // m at which output switches to km
)

// Measurement is the derived, read-only view artifact for one feature.
// Empty strings mean the dimension does not apply.
type Measurement struct {
	Area     string
	Distance string
}

// None is the cleared measurement.
var None = Measurement{}

// Calculate computes the measurement for a single feature. Polygonal
// geometries report area, linear geometries report length, points report
// neither.
func Calculate(f geojson.Feature) Measurement {
	var m Measurement
	t := f.GeometryType()
	if strings.Contains(t, "Polygon") {
		if a := Area(f.Geometry); a > 0 {
			m.Area = FormatArea(a)
		}
	}
	if t == geojson.TypeLineString || t == geojson.TypeMultiLineString {
		if d := Length(f.Geometry); d > 0 {
			m.Distance = FormatDistance(d)
		}
	}
	return m
}

// Area returns the geodesic area of a polygonal geometry in square meters.
// Non-polygonal geometries return 0.
func Area(g geom.Geometry) float64 {
	switch g.Type() {
	case geom.TypePolygon:
		p, ok := g.AsPolygon()
		if !ok {
			return 0
		}
		return polygonArea(p)
	case geom.TypeMultiPolygon:
		mp, ok := g.AsMultiPolygon()
		if !ok {
			return 0
		}
		var total float64
		for i := 0; i < mp.NumPolygons(); i++ {
			total += polygonArea(mp.PolygonN(i))
		}
		return total
	default:
		return 0
	}
}

// Length returns the haversine length of a linear geometry in meters.
// Non-linear geometries return 0.
func Length(g geom.Geometry) float64 {
	switch g.Type() {
	case geom.TypeLineString:
		ls, ok := g.AsLineString()
		if !ok {
			return 0
		}
		return lineLength(ls)
	case geom.TypeMultiLineString:
		mls, ok := g.AsMultiLineString()
		if !ok {
			return 0
		}
		var total float64
		for i := 0; i < mls.NumLineStrings(); i++ {
			total += lineLength(mls.LineStringN(i))
		}
		return total
	default:
		return 0
	}
}

// FormatArea renders an area in m², switching to hectares at 10 000 m² and
// to km² at 1 000 000 m².
func FormatArea(m2 float64) string {
	switch {
	case m2 >= areaKm2Threshold:
		return fmt.Sprintf("%.2f km²", m2/areaKm2Threshold)
	case m2 >= areaHaThreshold:
		return fmt.Sprintf("%.2f ha", m2/areaHaThreshold)
	default:
		return fmt.Sprintf("%d m²", int(math.Round(m2)))
	}
}

// FormatDistance renders a distance in meters, switching to km at 1 000 m.
func FormatDistance(m float64) string {
	if m >= distanceKmThresh {
		return fmt.Sprintf("%.2f km", m/distanceKmThresh)
	}
	return fmt.Sprintf("%d m", int(math.Round(m)))
}

func polygonArea(p geom.Polygon) float64 {
	area := math.Abs(ringArea(p.ExteriorRing().Coordinates()))
	for i := 0; i < p.NumInteriorRings(); i++ {
		area -= math.Abs(ringArea(p.InteriorRingN(i).Coordinates()))
	}
	if area < 0 {
		return 0
	}
	return area
}

// ringArea computes the spherical excess area of a ring (Chamberlain &
// Duquette). The sign depends on winding order.
func ringArea(seq geom.Sequence) float64 {
	n := seq.Length()
	if n < 3 {
		return 0
	}
	// Drop the closing coordinate if the ring is explicitly closed.
	if seq.GetXY(0) == seq.GetXY(n-1) {
		n--
	}
	if n < 3 {
		return 0
	}
	var total float64
	for i := 0; i < n; i++ {
		lower := seq.GetXY(i)
		middle := seq.GetXY((i + 1) % n)
		upper := seq.GetXY((i + 2) % n)
		total += (rad(upper.X) - rad(lower.X)) * math.Sin(rad(middle.Y))
	}
	return total * earthRadius * earthRadius / 2
}

func lineLength(ls geom.LineString) float64 {
	seq := ls.Coordinates()
	var total float64
	for i := 1; i < seq.Length(); i++ {
		a := seq.GetXY(i - 1)
		b := seq.GetXY(i)
		total += haversine(a.Y, a.X, b.Y, b.X)
	}
	return total
}

func haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadius * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func rad(deg float64) float64 {
	return deg * math.Pi / 180
}
