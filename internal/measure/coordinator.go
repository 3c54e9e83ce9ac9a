package measure

import (
	"log/slog"
	"sync"

	"github.com/mapfy/mapfy/pkg/geojson"
)

// Coordinator is the reactive consumer of the draw tool's change stream. It
// owns nothing but the last computed measurements; it never mutates the
// feature collection or the draw mode.
type Coordinator struct {
	mu sync.Mutex

	selected Measurement

	hover         Measurement
	hoverElev     float64
	hasHoverElev  bool
	terrainActive func() bool

	log *slog.Logger
}

// NewCoordinator creates a coordinator. terrainActive reports whether the
// elevation data source is currently attached; hover elevation is only
// surfaced while it returns true.
func NewCoordinator(log *slog.Logger, terrainActive func() bool) *Coordinator {
	if terrainActive == nil {
		terrainActive = func() bool { return false }
	}
	return &Coordinator{log: log, terrainActive: terrainActive}
}

// SelectionChanged recomputes the selected-feature measurement. The
// measurement is only defined when exactly one feature is selected.
func (c *Coordinator) SelectionChanged(selected []geojson.Feature) {
	m := None
	if len(selected) == 1 {
		m = Calculate(selected[0])
	}
	c.mu.Lock()
	c.selected = m
	c.mu.Unlock()
	c.log.Debug("measurement recomputed", "selected", len(selected), "area", m.Area, "distance", m.Distance)
}

// Selected returns the last computed selected-feature measurement.
func (c *Coordinator) Selected() Measurement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// HoverFeature surfaces a transient measurement for the feature under the
// pointer, independent of the selection measurement.
func (c *Coordinator) HoverFeature(f geojson.Feature) {
	m := Calculate(f)
	c.mu.Lock()
	c.hover = m
	c.hasHoverElev = false
	c.mu.Unlock()
}

// HoverTerrain surfaces the elevation under the pointer when it is over bare
// terrain. Ignored while no terrain source is attached.
func (c *Coordinator) HoverTerrain(elev float64) {
	if !c.terrainActive() {
		return
	}
	c.mu.Lock()
	c.hover = None
	c.hoverElev = elev
	c.hasHoverElev = true
	c.mu.Unlock()
}

// ClearHover drops the transient hover state, e.g. when the pointer leaves
// the canvas.
func (c *Coordinator) ClearHover() {
	c.mu.Lock()
	c.hover = None
	c.hasHoverElev = false
	c.mu.Unlock()
}

// Hover returns the transient hover measurement and, if present, the terrain
// elevation under the pointer.
func (c *Coordinator) Hover() (m Measurement, elev float64, hasElev bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hover, c.hoverElev, c.hasHoverElev
}
