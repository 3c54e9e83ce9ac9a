// Package fileio converts between the editor's feature collection and the
// supported interchange formats. Imports are all-or-nothing: a file that
// fails to parse contributes no features at all.
package fileio

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/twpayne/go-gpx"

	"github.com/mapfy/mapfy/internal/geo"
	"github.com/mapfy/mapfy/pkg/geojson"
)

// ErrUnsupportedExtension rejects files the importer does not understand.
var ErrUnsupportedExtension = errors.New("unsupported file extension")

// FormatError describes a file that matched a supported extension but could
// not be parsed.
type FormatError struct {
	Format string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s import failed: %s: %v", e.Format, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s import failed: %s", e.Format, e.Reason)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Import parses a file into a feature collection, dispatching on the file
// extension. Every imported feature gets a fresh id so repeated imports of
// the same file never collide.
func Import(filename string, r io.Reader) (geojson.Collection, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json", ".geojson":
		return importGeoJSON(r)
	case ".kml":
		return importKML(r)
	case ".gpx":
		return importGPX(r)
	default:
		return geojson.Collection{}, fmt.Errorf("%w: %q", ErrUnsupportedExtension, filepath.Ext(filename))
	}
}

func importGeoJSON(r io.Reader) (geojson.Collection, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return geojson.Collection{}, &FormatError{Format: "GeoJSON", Reason: "unreadable input", Err: err}
	}
	col, err := geojson.Decode(data)
	if err != nil {
		return geojson.Collection{}, &FormatError{Format: "GeoJSON", Reason: "invalid document", Err: err}
	}
	for i := range col.Features {
		col.Features[i].ID = uuid.NewString()
	}
	if err := col.Validate(); err != nil {
		return geojson.Collection{}, &FormatError{Format: "GeoJSON", Reason: "invalid features", Err: err}
	}
	return col, nil
}

// Just the KML subset the editor produces and common tools emit: placemarks
// with point, line, or polygon geometry.
type kmlDoc struct {
	Placemarks []kmlPlacemark `xml:"Document>Placemark"`
	Folders    []kmlFolder    `xml:"Document>Folder"`
	Direct     []kmlPlacemark `xml:"Placemark"`
}

type kmlFolder struct {
	Placemarks []kmlPlacemark `xml:"Placemark"`
	Folders    []kmlFolder    `xml:"Folder"`
}

type kmlPlacemark struct {
	Name       string      `xml:"name"`
	Point      *kmlGeom    `xml:"Point"`
	LineString *kmlGeom    `xml:"LineString"`
	Polygon    *kmlPolygon `xml:"Polygon"`
}

type kmlGeom struct {
	Coordinates string `xml:"coordinates"`
}

type kmlPolygon struct {
	Outer kmlGeom  `xml:"outerBoundaryIs>LinearRing"`
	Inner []kmlGeom `xml:"innerBoundaryIs>LinearRing"`
}

func importKML(r io.Reader) (geojson.Collection, error) {
	var doc kmlDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return geojson.Collection{}, &FormatError{Format: "KML", Reason: "invalid XML", Err: err}
	}

	placemarks := append([]kmlPlacemark(nil), doc.Placemarks...)
	placemarks = append(placemarks, doc.Direct...)
	placemarks = append(placemarks, collectFolders(doc.Folders)...)

	col := geojson.NewCollection()
	for _, pm := range placemarks {
		f, err := placemarkFeature(pm)
		if err != nil {
			return geojson.Collection{}, err
		}
		if f == nil {
			// Placemark without geometry; skip.
			continue
		}
		col.Features = append(col.Features, *f)
	}
	if len(col.Features) == 0 {
		return geojson.Collection{}, &FormatError{Format: "KML", Reason: "no placemark geometry found"}
	}
	return col, nil
}

func collectFolders(folders []kmlFolder) []kmlPlacemark {
	var out []kmlPlacemark
	for _, f := range folders {
		out = append(out, f.Placemarks...)
		out = append(out, collectFolders(f.Folders)...)
	}
	return out
}

func placemarkFeature(pm kmlPlacemark) (*geojson.Feature, error) {
	f := &geojson.Feature{ID: uuid.NewString()}
	if pm.Name != "" {
		f.Properties = map[string]any{"name": pm.Name}
	}

	switch {
	case pm.Point != nil:
		coords, err := geo.ParseTupleList(pm.Point.Coordinates)
		if err != nil {
			return nil, &FormatError{Format: "KML", Reason: "bad point coordinates", Err: err}
		}
		f.Geometry = geojson.PointGeom(coords[0].Lng, coords[0].Lat)
	case pm.LineString != nil:
		coords, err := geo.ParseTupleList(pm.LineString.Coordinates)
		if err != nil {
			return nil, &FormatError{Format: "KML", Reason: "bad line coordinates", Err: err}
		}
		if len(coords) < 2 {
			return nil, &FormatError{Format: "KML", Reason: "line needs at least two coordinates"}
		}
		f.Geometry = geojson.LineGeom(pairs(coords))
	case pm.Polygon != nil:
		coords, err := geo.ParseTupleList(pm.Polygon.Outer.Coordinates)
		if err != nil {
			return nil, &FormatError{Format: "KML", Reason: "bad polygon coordinates", Err: err}
		}
		if len(coords) < 3 {
			return nil, &FormatError{Format: "KML", Reason: "polygon ring needs at least three coordinates"}
		}
		f.Geometry = geojson.PolygonGeom(pairs(coords))
	default:
		return nil, nil
	}
	return f, nil
}

func pairs(coords []geo.Coordinate) [][2]float64 {
	out := make([][2]float64, len(coords))
	for i, c := range coords {
		out[i] = [2]float64{c.Lng, c.Lat}
	}
	return out
}

func importGPX(r io.Reader) (geojson.Collection, error) {
	g, err := gpx.Read(r)
	if err != nil {
		return geojson.Collection{}, &FormatError{Format: "GPX", Reason: "invalid document", Err: err}
	}

	col := geojson.NewCollection()

	for _, wpt := range g.Wpt {
		f := geojson.Feature{
			ID:       uuid.NewString(),
			Geometry: geojson.PointGeom(wpt.Lon, wpt.Lat),
		}
		if wpt.Name != "" {
			f.Properties = map[string]any{"name": wpt.Name}
		}
		col.Features = append(col.Features, f)
	}

	for _, rte := range g.Rte {
		if len(rte.RtePt) < 2 {
			continue
		}
		line := make([][2]float64, len(rte.RtePt))
		for i, pt := range rte.RtePt {
			line[i] = [2]float64{pt.Lon, pt.Lat}
		}
		f := geojson.Feature{ID: uuid.NewString(), Geometry: geojson.LineGeom(line)}
		if rte.Name != "" {
			f.Properties = map[string]any{"name": rte.Name}
		}
		col.Features = append(col.Features, f)
	}

	for _, trk := range g.Trk {
		for _, seg := range trk.TrkSeg {
			if len(seg.TrkPt) < 2 {
				continue
			}
			line := make([][2]float64, len(seg.TrkPt))
			for i, pt := range seg.TrkPt {
				line[i] = [2]float64{pt.Lon, pt.Lat}
			}
			f := geojson.Feature{ID: uuid.NewString(), Geometry: geojson.LineGeom(line)}
			if trk.Name != "" {
				f.Properties = map[string]any{"name": trk.Name}
			}
			col.Features = append(col.Features, f)
		}
	}

	if len(col.Features) == 0 {
		return geojson.Collection{}, &FormatError{Format: "GPX", Reason: "no waypoints, routes, or tracks found"}
	}
	return col, nil
}
