package engine

import (
	"github.com/mapfy/mapfy/pkg/geojson"
)

// DrawMode names mirror the draw engine's own mode machine.
type DrawMode string

const (
	ModeSimpleSelect DrawMode = "simple_select"
	ModeDrawPoint    DrawMode = "draw_point"
	ModeDrawLine     DrawMode = "draw_line_string"
	ModeDrawPolygon  DrawMode = "draw_polygon"
)

// DrawOptions configures construction of a draw overlay. The draw engine has
// no live restyle: changing Color or MarkerStyle requires recreating the
// overlay.
type DrawOptions struct {
	Color       string
	MarkerStyle string
	DefaultMode DrawMode
}

// DrawControl is the editable vector overlay rendered atop the base map. It
// owns geometry editing; the editor core only replaces, reads, and deletes
// whole features.
type DrawControl interface {
	Control

	// Add inserts a feature and returns the id the engine assigned to it.
	Add(f geojson.Feature) (string, error)
	// SetAll replaces the whole feature set.
	SetAll(c geojson.Collection) error
	// GetAll snapshots the current feature set.
	GetAll() geojson.Collection

	// Selected returns the currently selected features.
	Selected() []geojson.Feature
	// Delete removes features by id.
	Delete(ids []string) error
	// Trash deletes whatever is currently selected.
	Trash() error

	ChangeMode(mode DrawMode) error
	Mode() DrawMode

	// FeatureAt hit-tests the pointer position against the overlay.
	FeatureAt(lng, lat float64) (geojson.Feature, bool)
}

// DrawFactory constructs draw overlays.
type DrawFactory interface {
	New(opts DrawOptions) DrawControl
}
