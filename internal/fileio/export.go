package fileio

import (
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	geom "github.com/peterstace/simplefeatures/geom"
	kml "github.com/twpayne/go-kml/v3"

	"github.com/mapfy/mapfy/pkg/geojson"
)

// Format is an export target format.
type Format string

const (
	FormatGeoJSON Format = "geojson"
	FormatKML     Format = "kml"
	FormatImage   Format = "image"
)

// Snapshotter rasterizes the current map view for image export.
type Snapshotter interface {
	Snapshot(hideChrome bool) ([]byte, error)
}

// ExportName builds the download file name for an export.
func ExportName(format Format, now time.Time) string {
	ext := map[Format]string{
		FormatGeoJSON: "geojson",
		FormatKML:     "kml",
		FormatImage:   "png",
	}[format]
	return fmt.Sprintf("mapfy-export-%s.%s", now.Format("2006-01-02"), ext)
}

// Export writes the collection (or, for images, the current view) in the
// requested format.
func Export(col geojson.Collection, format Format, w io.Writer, snap Snapshotter) error {
	switch format {
	case FormatGeoJSON:
		return ExportGeoJSON(col, w)
	case FormatKML:
		return ExportKML(col, w)
	case FormatImage:
		return ExportImage(snap, w)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// ExportGeoJSON writes the collection as a GeoJSON FeatureCollection.
func ExportGeoJSON(col geojson.Collection, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(col)
}

// ExportKML writes the collection as a KML document, one placemark per
// feature.
func ExportKML(col geojson.Collection, w io.Writer) error {
	children := make([]kml.Element, 0, len(col.Features))
	for _, f := range col.Features {
		pm, err := featurePlacemark(f)
		if err != nil {
			return err
		}
		children = append(children, pm)
	}
	return kml.KML(kml.Document(children...)).Write(w)
}

// ExportImage writes a PNG snapshot of the current view, with transient UI
// chrome hidden.
func ExportImage(snap Snapshotter, w io.Writer) error {
	if snap == nil {
		return fmt.Errorf("image export needs a live map view")
	}
	png, err := snap.Snapshot(true)
	if err != nil {
		return fmt.Errorf("capturing view: %w", err)
	}
	_, err = w.Write(png)
	return err
}

func featurePlacemark(f geojson.Feature) (kml.Element, error) {
	g, err := featureKMLGeometry(f.Geometry)
	if err != nil {
		return nil, err
	}

	elems := []kml.Element{}
	if name, ok := f.Properties["name"].(string); ok && name != "" {
		elems = append(elems, kml.Name(name))
	}
	elems = append(elems, g)
	return kml.Placemark(elems...), nil
}

func featureKMLGeometry(g geom.Geometry) (kml.Element, error) {
	switch g.Type() {
	case geom.TypePoint:
		pt, _ := g.AsPoint()
		return pointElement(pt), nil
	case geom.TypeLineString:
		ls, _ := g.AsLineString()
		return lineElement(ls), nil
	case geom.TypePolygon:
		p, _ := g.AsPolygon()
		return polygonElement(p), nil
	case geom.TypeMultiPoint:
		mp, _ := g.AsMultiPoint()
		elems := make([]kml.Element, mp.NumPoints())
		for i := 0; i < mp.NumPoints(); i++ {
			elems[i] = pointElement(mp.PointN(i))
		}
		return kml.MultiGeometry(elems...), nil
	case geom.TypeMultiLineString:
		mls, _ := g.AsMultiLineString()
		elems := make([]kml.Element, mls.NumLineStrings())
		for i := 0; i < mls.NumLineStrings(); i++ {
			elems[i] = lineElement(mls.LineStringN(i))
		}
		return kml.MultiGeometry(elems...), nil
	case geom.TypeMultiPolygon:
		mp, _ := g.AsMultiPolygon()
		elems := make([]kml.Element, mp.NumPolygons())
		for i := 0; i < mp.NumPolygons(); i++ {
			elems[i] = polygonElement(mp.PolygonN(i))
		}
		return kml.MultiGeometry(elems...), nil
	default:
		return nil, fmt.Errorf("cannot export %s geometry to KML", g.Type())
	}
}

func pointElement(pt geom.Point) kml.Element {
	c, _ := pt.Coordinates()
	return kml.Point(kml.Coordinates(kml.Coordinate{Lon: c.XY.X, Lat: c.XY.Y}))
}

func lineElement(ls geom.LineString) kml.Element {
	return kml.LineString(kml.Coordinates(sequenceCoordinates(ls.Coordinates())...))
}

func polygonElement(p geom.Polygon) kml.Element {
	elems := []kml.Element{
		kml.OuterBoundaryIs(kml.LinearRing(
			kml.Coordinates(sequenceCoordinates(p.ExteriorRing().Coordinates())...),
		)),
	}
	for i := 0; i < p.NumInteriorRings(); i++ {
		elems = append(elems, kml.InnerBoundaryIs(kml.LinearRing(
			kml.Coordinates(sequenceCoordinates(p.InteriorRingN(i).Coordinates())...),
		)))
	}
	return kml.Polygon(elems...)
}

func sequenceCoordinates(seq geom.Sequence) []kml.Coordinate {
	out := make([]kml.Coordinate, seq.Length())
	for i := 0; i < seq.Length(); i++ {
		xy := seq.GetXY(i)
		out[i] = kml.Coordinate{Lon: xy.X, Lat: xy.Y}
	}
	return out
}
