package fileio

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapfy/mapfy/pkg/geojson"
)

const sampleGeoJSON = `{
	"type": "FeatureCollection",
	"features": [
		{
			"type": "Feature",
			"id": "orig-1",
			"geometry": {"type": "Point", "coordinates": [13.4, 52.5]},
			"properties": {"name": "Berlin"}
		},
		{
			"type": "Feature",
			"geometry": {"type": "LineString", "coordinates": [[0, 0], [1, 1], [2, 0]]},
			"properties": {}
		}
	]
}`

const sampleKML = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
  <Document>
    <Placemark>
      <name>Summit</name>
      <Point><coordinates>7.65,45.97,4808</coordinates></Point>
    </Placemark>
    <Placemark>
      <name>Ridge walk</name>
      <LineString><coordinates>7.65,45.97 7.66,45.98 7.67,45.97</coordinates></LineString>
    </Placemark>
    <Folder>
      <Placemark>
        <Polygon>
          <outerBoundaryIs><LinearRing>
            <coordinates>0,0 1,0 1,1 0,1 0,0</coordinates>
          </LinearRing></outerBoundaryIs>
        </Polygon>
      </Placemark>
    </Folder>
  </Document>
</kml>`

const sampleGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="test" xmlns="http://www.topografix.com/GPX/1/1">
  <wpt lat="47.27" lon="11.39"><name>Innsbruck</name></wpt>
  <trk>
    <name>Morning run</name>
    <trkseg>
      <trkpt lat="47.27" lon="11.39"></trkpt>
      <trkpt lat="47.28" lon="11.40"></trkpt>
      <trkpt lat="47.29" lon="11.40"></trkpt>
    </trkseg>
  </trk>
</gpx>`

func TestImport_GeoJSON(t *testing.T) {
	col, err := Import("trip.geojson", strings.NewReader(sampleGeoJSON))
	require.NoError(t, err)
	require.Len(t, col.Features, 2)

	// Imported features get fresh ids.
	assert.NotEqual(t, "orig-1", col.Features[0].ID)
	assert.NotEmpty(t, col.Features[0].ID)
	assert.NotEqual(t, col.Features[0].ID, col.Features[1].ID)

	assert.Equal(t, "Point", col.Features[0].GeometryType())
	assert.Equal(t, "Berlin", col.Features[0].Properties["name"])
	assert.Equal(t, "LineString", col.Features[1].GeometryType())
}

func TestImport_GeoJSONSingleFeature(t *testing.T) {
	single := `{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{}}`
	col, err := Import("point.json", strings.NewReader(single))
	require.NoError(t, err)
	require.Len(t, col.Features, 1)
}

func TestImport_GeoJSONInvalid(t *testing.T) {
	_, err := Import("broken.geojson", strings.NewReader(`{"type": "FeatureColl`))
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "GeoJSON", fe.Format)
}

func TestImport_KML(t *testing.T) {
	col, err := Import("tour.kml", strings.NewReader(sampleKML))
	require.NoError(t, err)
	require.Len(t, col.Features, 3)

	byType := map[string]int{}
	for _, f := range col.Features {
		byType[f.GeometryType()]++
	}
	assert.Equal(t, 1, byType["Point"])
	assert.Equal(t, 1, byType["LineString"])
	assert.Equal(t, 1, byType["Polygon"], "folder placemarks must be imported too")

	assert.Equal(t, "Summit", col.Features[0].Properties["name"])
}

func TestImport_KMLInvalidCoordinatesIsAllOrNothing(t *testing.T) {
	bad := `<?xml version="1.0"?>
<kml xmlns="http://www.opengis.net/kml/2.2"><Document>
  <Placemark><Point><coordinates>7.65,45.97</coordinates></Point></Placemark>
  <Placemark><Point><coordinates>not,numbers</coordinates></Point></Placemark>
</Document></kml>`

	_, err := Import("bad.kml", strings.NewReader(bad))
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "KML", fe.Format)
}

func TestImport_GPX(t *testing.T) {
	col, err := Import("run.gpx", strings.NewReader(sampleGPX))
	require.NoError(t, err)
	require.Len(t, col.Features, 2)

	assert.Equal(t, "Point", col.Features[0].GeometryType())
	assert.Equal(t, "Innsbruck", col.Features[0].Properties["name"])
	assert.Equal(t, "LineString", col.Features[1].GeometryType())
	assert.Equal(t, "Morning run", col.Features[1].Properties["name"])
}

func TestImport_UnsupportedExtension(t *testing.T) {
	_, err := Import("notes.txt", strings.NewReader("hello"))
	assert.ErrorIs(t, err, ErrUnsupportedExtension)

	_, err = Import("archive.zip", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrUnsupportedExtension)
}

func TestExportName(t *testing.T) {
	now := time.Date(2026, 8, 28, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, "mapfy-export-2026-08-28.geojson", ExportName(FormatGeoJSON, now))
	assert.Equal(t, "mapfy-export-2026-08-28.kml", ExportName(FormatKML, now))
	assert.Equal(t, "mapfy-export-2026-08-28.png", ExportName(FormatImage, now))
}

func TestExportGeoJSON_RoundTrip(t *testing.T) {
	col, err := Import("trip.geojson", strings.NewReader(sampleGeoJSON))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, ExportGeoJSON(col, &buf))
	assert.Contains(t, buf.String(), `"FeatureCollection"`)

	back, err := Import("again.geojson", bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, back.Features, len(col.Features))
	for i := range back.Features {
		assert.Equal(t, col.Features[i].GeometryType(), back.Features[i].GeometryType())
	}
}

func TestExportKML(t *testing.T) {
	col := geojson.NewCollection()
	col.Features = append(col.Features,
		geojson.Feature{
			ID:         "p",
			Geometry:   geojson.PointGeom(7.65, 45.97),
			Properties: map[string]any{"name": "Summit"},
		},
		geojson.Feature{
			ID:       "l",
			Geometry: geojson.LineGeom([][2]float64{{7.65, 45.97}, {7.66, 45.98}}),
		},
		geojson.Feature{
			ID:       "poly",
			Geometry: geojson.PolygonGeom([][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}}),
		},
	)

	var buf bytes.Buffer
	require.NoError(t, ExportKML(col, &buf))
	out := buf.String()

	assert.Contains(t, out, "<Placemark>")
	assert.Contains(t, out, "<name>Summit</name>")
	assert.Contains(t, out, "<Point>")
	assert.Contains(t, out, "<LineString>")
	assert.Contains(t, out, "<Polygon>")
	assert.Contains(t, out, "7.65")
}

func TestExportKML_ImportRoundTrip(t *testing.T) {
	col := geojson.NewCollection()
	col.Features = append(col.Features, geojson.Feature{
		ID:         "p",
		Geometry:   geojson.PointGeom(7.65, 45.97),
		Properties: map[string]any{"name": "Summit"},
	})

	var buf bytes.Buffer
	require.NoError(t, ExportKML(col, &buf))

	back, err := Import("export.kml", &buf)
	require.NoError(t, err)
	require.Len(t, back.Features, 1)
	assert.Equal(t, "Point", back.Features[0].GeometryType())
	assert.Equal(t, "Summit", back.Features[0].Properties["name"])
}

type fakeSnap struct {
	png []byte
	err error

	hideChrome bool
}

func (s *fakeSnap) Snapshot(hideChrome bool) ([]byte, error) {
	s.hideChrome = hideChrome
	return s.png, s.err
}

func TestExportImage(t *testing.T) {
	snap := &fakeSnap{png: []byte{0x89, 'P', 'N', 'G'}}

	var buf bytes.Buffer
	require.NoError(t, ExportImage(snap, &buf))
	assert.Equal(t, snap.png, buf.Bytes())
	assert.True(t, snap.hideChrome, "chrome must be hidden for captures")
}

func TestExportImage_Errors(t *testing.T) {
	var buf bytes.Buffer
	require.Error(t, ExportImage(nil, &buf))

	snap := &fakeSnap{err: errors.New("no frame")}
	require.Error(t, ExportImage(snap, &buf))
}

func TestExport_Dispatch(t *testing.T) {
	col := geojson.NewCollection()
	col.Features = append(col.Features, geojson.Feature{ID: "p", Geometry: geojson.PointGeom(1, 2)})

	var buf bytes.Buffer
	require.NoError(t, Export(col, FormatGeoJSON, &buf, nil))
	assert.Contains(t, buf.String(), "FeatureCollection")

	require.Error(t, Export(col, Format("shapefile"), &buf, nil))
}
