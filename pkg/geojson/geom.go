package geojson

import (
	geom "github.com/peterstace/simplefeatures/geom"
)

// PointGeom builds a Point geometry from a longitude/latitude pair.
func PointGeom(lng, lat float64) geom.Geometry {
	pt := geom.NewPoint(geom.Coordinates{
		XY: geom.XY{X: lng, Y: lat},
	})
	return pt.AsGeometry()
}

// LineGeom builds a LineString geometry from [lng lat] pairs.
func LineGeom(coords [][2]float64) geom.Geometry {
	flat := make([]float64, 0, len(coords)*2)
	for _, c := range coords {
		flat = append(flat, c[0], c[1])
	}
	seq := geom.NewSequence(flat, geom.DimXY)
	return geom.NewLineString(seq).AsGeometry()
}

// PolygonGeom builds a Polygon geometry from an exterior ring of [lng lat]
// pairs. The ring is closed automatically if the caller did not close it.
func PolygonGeom(ring [][2]float64) geom.Geometry {
	if len(ring) > 0 && ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	flat := make([]float64, 0, len(ring)*2)
	for _, c := range ring {
		flat = append(flat, c[0], c[1])
	}
	seq := geom.NewSequence(flat, geom.DimXY)
	ls := geom.NewLineString(seq)
	return geom.NewPolygon([]geom.LineString{ls}).AsGeometry()
}

// Bounds is a geographic bounding box in lng/lat degrees.
type Bounds struct {
	MinLng, MinLat float64
	MaxLng, MaxLat float64
	set            bool
}

// Empty reports whether no coordinates have been accumulated.
func (b Bounds) Empty() bool {
	return !b.set
}

// Extend grows the bounds to include the given coordinate.
func (b *Bounds) Extend(lng, lat float64) {
	if !b.set {
		b.MinLng, b.MaxLng = lng, lng
		b.MinLat, b.MaxLat = lat, lat
		b.set = true
		return
	}
	if lng < b.MinLng {
		b.MinLng = lng
	}
	if lng > b.MaxLng {
		b.MaxLng = lng
	}
	if lat < b.MinLat {
		b.MinLat = lat
	}
	if lat > b.MaxLat {
		b.MaxLat = lat
	}
}

// Center returns the midpoint of the bounds.
func (b Bounds) Center() (lng, lat float64) {
	return (b.MinLng + b.MaxLng) / 2, (b.MinLat + b.MaxLat) / 2
}

// CollectionBounds computes the bounding box of every coordinate in the
// collection. Used to frame the viewport after a load or import.
func CollectionBounds(c Collection) Bounds {
	var b Bounds
	for _, f := range c.Features {
		seq := f.Geometry.DumpCoordinates()
		for i := 0; i < seq.Length(); i++ {
			xy := seq.GetXY(i)
			b.Extend(xy.X, xy.Y)
		}
	}
	return b
}
