// Package drawtool manages the editable vector overlay: attachment to the map,
// the active drawing tool, and overlay restyling. The draw engine cannot
// restyle in place, so color and marker changes recreate the overlay while
// preserving its features and mode.
package drawtool

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/mapfy/mapfy/pkg/engine"
	"github.com/mapfy/mapfy/pkg/geojson"
)

// Tool is the active drawing tool.
type Tool string

const (
	// ToolNone means the overlay is detached.
	ToolNone Tool = ""
	// ToolSelect is the default pointer tool.
	ToolSelect  Tool = "select"
	ToolPoint   Tool = "point"
	ToolLine    Tool = "line"
	ToolPolygon Tool = "polygon"
)

func (t Tool) drawMode() (engine.DrawMode, bool) {
	switch t {
	case ToolSelect:
		return engine.ModeSimpleSelect, true
	case ToolPoint:
		return engine.ModeDrawPoint, true
	case ToolLine:
		return engine.ModeDrawLine, true
	case ToolPolygon:
		return engine.ModeDrawPolygon, true
	default:
		return "", false
	}
}

func toolForMode(m engine.DrawMode) Tool {
	switch m {
	case engine.ModeDrawPoint:
		return ToolPoint
	case engine.ModeDrawLine:
		return ToolLine
	case engine.ModeDrawPolygon:
		return ToolPolygon
	default:
		return ToolSelect
	}
}

// ErrDetached is returned by operations that need an attached overlay.
var ErrDetached = fmt.Errorf("draw overlay is not attached")

// Host is the slice of the map lifecycle the draw controller depends on.
type Host interface {
	StyleReady() bool
	AttachControl(c engine.Control) error
	DetachControl(c engine.Control) error
	SubscribeEngine(event string, h engine.Handler)
}

// Options is the overlay appearance configuration.
type Options struct {
	Color       string
	MarkerStyle string
}

// Controller owns the draw overlay.
type Controller struct {
	mu sync.Mutex

	host    Host
	factory engine.DrawFactory
	opts    Options

	ctl      engine.DrawControl
	attached bool
	tool     Tool

	changeFns []func(geojson.Collection)
	selectFns []func([]geojson.Feature)

	log *slog.Logger
}

// New creates a detached controller.
func New(host Host, factory engine.DrawFactory, opts Options, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{host: host, factory: factory, opts: opts, log: log}
}

// Attach creates the overlay and attaches it to the map. It reports whether
// the overlay is attached afterwards: false means the map style was not ready
// and the caller should retry later. Calling Attach while attached is a no-op.
func (c *Controller) Attach() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached {
		return true
	}
	return c.attachLocked(engine.ModeSimpleSelect, nil)
}

// attachLocked creates and attaches a fresh overlay, optionally restoring
// features into it. Caller holds c.mu.
func (c *Controller) attachLocked(mode engine.DrawMode, restore *geojson.Collection) bool {
	if !c.host.StyleReady() {
		c.log.Debug("draw attach deferred: style not ready")
		return false
	}

	ctl := c.factory.New(engine.DrawOptions{
		Color:       c.opts.Color,
		MarkerStyle: c.opts.MarkerStyle,
		DefaultMode: mode,
	})
	if err := c.host.AttachControl(ctl); err != nil {
		c.log.Warn("draw attach failed", "error", err)
		return false
	}
	c.ctl = ctl
	c.attached = true
	c.tool = toolForMode(mode)

	if restore != nil {
		if err := ctl.SetAll(*restore); err != nil {
			c.log.Error("could not restore features into recreated overlay", "error", err)
		}
	}

	c.subscribeLocked()
	c.log.Debug("draw overlay attached", "mode", mode)
	return true
}

func (c *Controller) subscribeLocked() {
	for _, ev := range []string{engine.EventDrawCreate, engine.EventDrawUpdate, engine.EventDrawDelete} {
		c.host.SubscribeEngine(ev, c.handleChange)
	}
	c.host.SubscribeEngine(engine.EventDrawSelect, c.handleSelection)
}

// Detach removes the overlay. Best-effort: a map that is already gone is not
// an error.
func (c *Controller) Detach() {
	c.mu.Lock()
	ctl := c.ctl
	c.ctl = nil
	c.attached = false
	c.tool = ToolNone
	c.mu.Unlock()

	if ctl == nil {
		return
	}
	if err := c.host.DetachControl(ctl); err != nil {
		c.log.Warn("draw detach failed", "error", err)
	}
}

// Attached reports whether the overlay is live on the map.
func (c *Controller) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attached
}

// Tool returns the active drawing tool, ToolNone while detached.
func (c *Controller) Tool() Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tool
}

// SetTool activates a drawing tool. Selecting the already-active tool toggles
// back to the select tool. Rejected while detached; tool changes are never
// queued for a future overlay.
func (c *Controller) SetTool(t Tool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.attached {
		c.log.Warn("tool change rejected: overlay detached", "tool", t)
		return ErrDetached
	}
	if t == c.tool {
		t = ToolSelect
	}
	mode, ok := t.drawMode()
	if !ok {
		return fmt.Errorf("unknown tool %q", t)
	}
	if err := c.ctl.ChangeMode(mode); err != nil {
		return err
	}
	c.tool = t
	return nil
}

// SetAllFeatures replaces the overlay's feature set.
func (c *Controller) SetAllFeatures(col geojson.Collection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.attached {
		return ErrDetached
	}
	return c.ctl.SetAll(col)
}

// GetAllFeatures snapshots the overlay's feature set. Empty while detached.
func (c *Controller) GetAllFeatures() geojson.Collection {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.attached {
		return geojson.NewCollection()
	}
	return c.ctl.GetAll()
}

// AddFeature inserts one feature and returns its engine-assigned id.
func (c *Controller) AddFeature(f geojson.Feature) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.attached {
		return "", ErrDetached
	}
	return c.ctl.Add(f)
}

// Selected returns the current selection.
func (c *Controller) Selected() []geojson.Feature {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.attached {
		return nil
	}
	return c.ctl.Selected()
}

// HitTest reports the overlay feature under a pointer position, if any.
func (c *Controller) HitTest(lng, lat float64) (geojson.Feature, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.attached {
		return geojson.Feature{}, false
	}
	return c.ctl.FeatureAt(lng, lat)
}

// Trash deletes the selected features and returns to the select tool.
func (c *Controller) Trash() error {
	c.mu.Lock()
	if !c.attached {
		c.mu.Unlock()
		return ErrDetached
	}
	ctl := c.ctl
	c.mu.Unlock()

	if err := ctl.Trash(); err != nil {
		return err
	}
	if err := ctl.ChangeMode(engine.ModeSimpleSelect); err != nil {
		c.log.Warn("could not reset tool after trash", "error", err)
	}
	c.mu.Lock()
	c.tool = ToolSelect
	c.mu.Unlock()

	// The selection is gone along with the features.
	c.fireSelection(nil)
	c.fireChange(ctl.GetAll())
	return nil
}

// SetColor restyles the overlay stroke/fill color. While attached this
// recreates the overlay: the draw engine has no live restyle. Features, the
// active tool, and subscriptions all carry over.
func (c *Controller) SetColor(color string) error {
	return c.restyle(func(o *Options) { o.Color = color })
}

// SetMarkerStyle restyles the point marker. Same recreate semantics as
// SetColor.
func (c *Controller) SetMarkerStyle(style string) error {
	return c.restyle(func(o *Options) { o.MarkerStyle = style })
}

func (c *Controller) restyle(apply func(*Options)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	apply(&c.opts)
	if !c.attached {
		// The next Attach picks up the new appearance.
		return nil
	}

	features := c.ctl.GetAll()
	mode, ok := c.tool.drawMode()
	if !ok {
		mode = engine.ModeSimpleSelect
	}

	old := c.ctl
	c.ctl = nil
	c.attached = false
	if err := c.host.DetachControl(old); err != nil {
		c.log.Warn("could not detach overlay during restyle", "error", err)
	}

	if !c.attachLocked(mode, &features) {
		return fmt.Errorf("could not recreate overlay after restyle")
	}
	return nil
}

// Options returns the current appearance configuration.
func (c *Controller) Options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// OnChange registers a callback fired with the full feature set after every
// create, update, or delete on the overlay.
func (c *Controller) OnChange(fn func(geojson.Collection)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changeFns = append(c.changeFns, fn)
}

// OnSelectionChange registers a callback fired with the selected features on
// every selection change.
func (c *Controller) OnSelectionChange(fn func([]geojson.Feature)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectFns = append(c.selectFns, fn)
}

func (c *Controller) handleChange(engine.Event) {
	c.mu.Lock()
	ctl := c.ctl
	if ctl != nil {
		// The draw engine drops back to select mode once a shape is finished.
		c.tool = toolForMode(ctl.Mode())
	}
	c.mu.Unlock()
	if ctl == nil {
		return
	}
	c.fireChange(ctl.GetAll())
}

func (c *Controller) handleSelection(engine.Event) {
	c.mu.Lock()
	ctl := c.ctl
	c.mu.Unlock()
	if ctl == nil {
		return
	}
	c.fireSelection(ctl.Selected())
}

func (c *Controller) fireChange(col geojson.Collection) {
	c.mu.Lock()
	fns := append([]func(geojson.Collection){}, c.changeFns...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(col)
	}
}

func (c *Controller) fireSelection(sel []geojson.Feature) {
	c.mu.Lock()
	fns := append([]func([]geojson.Feature){}, c.selectFns...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(sel)
	}
}
