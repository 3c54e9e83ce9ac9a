// Package geojson holds the feature model shared between the editor core,
// the file bridge, and the persistence layer. Geometries are represented by
// simplefeatures geometries, which marshal to and from GeoJSON directly.
package geojson

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	geom "github.com/peterstace/simplefeatures/geom"
)

// Geometry types supported on the canvas. GeometryCollection is deliberately
// absent: the draw engine never produces one.
const (
	TypePoint           = "Point"
	TypeLineString      = "LineString"
	TypePolygon         = "Polygon"
	TypeMultiPoint      = "MultiPoint"
	TypeMultiLineString = "MultiLineString"
	TypeMultiPolygon    = "MultiPolygon"
)

var supportedGeometryTypes = map[string]bool{
	TypePoint:           true,
	TypeLineString:      true,
	TypePolygon:         true,
	TypeMultiPoint:      true,
	TypeMultiLineString: true,
	TypeMultiPolygon:    true,
}

// ErrUnsupportedGeometry is returned when a geometry type outside the drawable
// set is encountered.
var ErrUnsupportedGeometry = errors.New("unsupported geometry type")

// ErrDuplicateID is returned when a collection contains two features with the
// same id.
var ErrDuplicateID = errors.New("duplicate feature id")

// Feature is one drawn geometric object with free-form properties.
// The id is assigned by the draw engine and is unique within a collection.
type Feature struct {
	ID         string         `json:"id,omitempty"`
	Geometry   geom.Geometry  `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// GeometryType returns the GeoJSON type name of the feature's geometry.
func (f Feature) GeometryType() string {
	return f.Geometry.Type().String()
}

type featureJSON struct {
	Type       string         `json:"type"`
	ID         string         `json:"id,omitempty"`
	Geometry   geom.Geometry  `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// MarshalJSON emits a GeoJSON Feature object.
func (f Feature) MarshalJSON() ([]byte, error) {
	return json.Marshal(featureJSON{
		Type:       "Feature",
		ID:         f.ID,
		Geometry:   f.Geometry,
		Properties: f.Properties,
	})
}

// UnmarshalJSON parses a GeoJSON Feature object.
func (f *Feature) UnmarshalJSON(data []byte) error {
	var raw featureJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Type != "Feature" {
		return fmt.Errorf("expected type Feature, got %q", raw.Type)
	}
	f.ID = raw.ID
	f.Geometry = raw.Geometry
	f.Properties = raw.Properties
	return nil
}

// Collection is the ordered set of all features currently on the canvas.
type Collection struct {
	Features []Feature
}

// NewCollection returns an empty collection.
func NewCollection() Collection {
	return Collection{Features: []Feature{}}
}

// Len returns the number of features in the collection.
func (c Collection) Len() int {
	return len(c.Features)
}

// Empty reports whether the collection has no features.
func (c Collection) Empty() bool {
	return len(c.Features) == 0
}

// Clone returns a deep-enough copy: the feature slice and each property map
// are copied, geometries are immutable and shared.
func (c Collection) Clone() Collection {
	out := Collection{Features: make([]Feature, len(c.Features))}
	for i, f := range c.Features {
		props := make(map[string]any, len(f.Properties))
		for k, v := range f.Properties {
			props[k] = v
		}
		out.Features[i] = Feature{ID: f.ID, Geometry: f.Geometry, Properties: props}
	}
	return out
}

// Validate checks the collection invariants: ids unique, geometry types
// within the drawable set.
func (c Collection) Validate() error {
	seen := make(map[string]bool, len(c.Features))
	for _, f := range c.Features {
		if f.ID != "" {
			if seen[f.ID] {
				return fmt.Errorf("%w: %s", ErrDuplicateID, f.ID)
			}
			seen[f.ID] = true
		}
		if !supportedGeometryTypes[f.GeometryType()] {
			return fmt.Errorf("%w: %s", ErrUnsupportedGeometry, f.GeometryType())
		}
	}
	return nil
}

type collectionJSON struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// MarshalJSON emits a GeoJSON FeatureCollection object.
func (c Collection) MarshalJSON() ([]byte, error) {
	features := c.Features
	if features == nil {
		features = []Feature{}
	}
	return json.Marshal(collectionJSON{Type: "FeatureCollection", Features: features})
}

// UnmarshalJSON parses a GeoJSON FeatureCollection object.
func (c *Collection) UnmarshalJSON(data []byte) error {
	var raw collectionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Type != "FeatureCollection" {
		return fmt.Errorf("expected type FeatureCollection, got %q", raw.Type)
	}
	c.Features = raw.Features
	return nil
}

// Decode parses GeoJSON input that may be either a single Feature or a
// FeatureCollection, returning a collection in both cases.
func Decode(data []byte) (Collection, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Collection{}, fmt.Errorf("invalid GeoJSON: %w", err)
	}
	switch head.Type {
	case "FeatureCollection":
		var c Collection
		if err := json.Unmarshal(data, &c); err != nil {
			return Collection{}, fmt.Errorf("invalid FeatureCollection: %w", err)
		}
		return c, nil
	case "Feature":
		var f Feature
		if err := json.Unmarshal(data, &f); err != nil {
			return Collection{}, fmt.Errorf("invalid Feature: %w", err)
		}
		return Collection{Features: []Feature{f}}, nil
	default:
		return Collection{}, fmt.Errorf("invalid GeoJSON: unexpected type %q", head.Type)
	}
}
