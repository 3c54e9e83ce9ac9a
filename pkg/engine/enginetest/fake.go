// Package enginetest provides in-memory fakes for the engine boundary, used
// by the controller tests. The fakes deliver events synchronously so tests
// stay deterministic.
package enginetest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mapfy/mapfy/pkg/engine"
	"github.com/mapfy/mapfy/pkg/geojson"
)

// Registry is a fake container registry.
type Registry struct {
	mu         sync.Mutex
	containers map[string]bool
}

// NewRegistry creates a registry pre-populated with the given containers.
func NewRegistry(containers ...string) *Registry {
	r := &Registry{containers: make(map[string]bool)}
	for _, c := range containers {
		r.containers[c] = true
	}
	return r
}

// Mount adds a container, as if the host UI just mounted it.
func (r *Registry) Mount(container string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.containers[container] = true
}

// Exists implements engine.ContainerRegistry.
func (r *Registry) Exists(container string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.containers[container]
}

// Factory is a fake engine.Factory.
type Factory struct {
	mu sync.Mutex

	// ConstructErr, when set, makes New fail.
	ConstructErr error

	// Created holds every map instance the factory handed out.
	Created []*Map
}

// New implements engine.Factory.
func (f *Factory) New(opts engine.Options) (engine.Map, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConstructErr != nil {
		return nil, f.ConstructErr
	}
	m := &Map{
		opts:     opts,
		style:    opts.Style,
		viewport: opts.Viewport,
		handlers: make(map[string][]engine.Handler),
		controls: make(map[string]engine.Control),
	}
	f.Created = append(f.Created, m)
	return m, nil
}

// Last returns the most recently constructed map.
func (f *Factory) Last() *Map {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Created) == 0 {
		return nil
	}
	return f.Created[len(f.Created)-1]
}

// Map is a fake engine.Map driven explicitly from tests.
type Map struct {
	mu sync.Mutex

	opts        engine.Options
	style       string
	viewport    engine.Viewport
	loaded      bool
	styleLoaded bool
	removed     bool

	handlers map[string][]engine.Handler
	controls map[string]engine.Control

	terrain     bool
	TerrainErr  error
	SetStyleErr error

	// ElevationFn backs QueryElevation; nil means no data.
	ElevationFn func(lng, lat float64) (float64, bool)

	// SnapshotPNG is returned by Snapshot.
	SnapshotPNG []byte

	ResizeCalls int
}

// FireLoad marks the engine fully loaded and emits the load event, as the
// real engine does once after construction.
func (m *Map) FireLoad() {
	m.mu.Lock()
	m.loaded = true
	m.styleLoaded = true
	m.mu.Unlock()
	m.Emit(engine.Event{Name: engine.EventLoad})
}

// FireStyleLoad marks the pending style applied and emits style.load.
func (m *Map) FireStyleLoad() {
	m.mu.Lock()
	m.styleLoaded = true
	m.mu.Unlock()
	m.Emit(engine.Event{Name: engine.EventStyleLoad})
}

// Emit delivers an event synchronously to all subscribed handlers.
func (m *Map) Emit(e engine.Event) {
	m.mu.Lock()
	hs := append([]engine.Handler(nil), m.handlers[e.Name]...)
	m.mu.Unlock()
	for _, h := range hs {
		h(e)
	}
}

func (m *Map) On(event string, h engine.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], h)
}

func (m *Map) Off(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, event)
}

func (m *Map) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

func (m *Map) IsStyleLoaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.styleLoaded
}

func (m *Map) SetStyle(style string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetStyleErr != nil {
		return m.SetStyleErr
	}
	m.style = style
	m.styleLoaded = false
	// Recreating the style drops attached overlays, like the real engine.
	m.controls = make(map[string]engine.Control)
	return nil
}

func (m *Map) Style() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.style
}

func (m *Map) Viewport() engine.Viewport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewport
}

func (m *Map) SetViewport(v engine.Viewport) {
	m.mu.Lock()
	m.viewport = v
	m.mu.Unlock()
	m.Emit(engine.Event{Name: engine.EventMove})
}

func (m *Map) Resize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResizeCalls++
}

func (m *Map) AddControl(c engine.Control) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removed {
		return errors.New("engine removed")
	}
	if m.controls[c.Name()] != nil {
		return fmt.Errorf("control %s already attached", c.Name())
	}
	m.controls[c.Name()] = c
	return nil
}

func (m *Map) RemoveControl(c engine.Control) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.controls[c.Name()] == nil {
		return fmt.Errorf("control %s not attached", c.Name())
	}
	delete(m.controls, c.Name())
	return nil
}

func (m *Map) HasControl(c engine.Control) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controls[c.Name()] != nil
}

func (m *Map) AddTerrain(opts engine.TerrainOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TerrainErr != nil {
		return m.TerrainErr
	}
	m.terrain = true
	return nil
}

func (m *Map) HasTerrain() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terrain
}

func (m *Map) QueryElevation(lng, lat float64) (float64, bool) {
	m.mu.Lock()
	fn := m.ElevationFn
	terrain := m.terrain
	m.mu.Unlock()
	if !terrain || fn == nil {
		return 0, false
	}
	return fn(lng, lat)
}

func (m *Map) Snapshot(hideChrome bool) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SnapshotPNG == nil {
		return nil, errors.New("no frame available")
	}
	return m.SnapshotPNG, nil
}

func (m *Map) Remove() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = true
	m.handlers = make(map[string][]engine.Handler)
	m.controls = make(map[string]engine.Control)
}

// Removed reports whether Remove was called.
func (m *Map) Removed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removed
}

// DrawFactory is a fake engine.DrawFactory.
type DrawFactory struct {
	mu sync.Mutex

	// Created holds every overlay instance handed out.
	Created []*Draw
}

// New implements engine.DrawFactory.
func (f *DrawFactory) New(opts engine.DrawOptions) engine.DrawControl {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &Draw{
		opts:     opts,
		mode:     opts.DefaultMode,
		features: geojson.NewCollection(),
	}
	if d.mode == "" {
		d.mode = engine.ModeSimpleSelect
	}
	f.Created = append(f.Created, d)
	return d
}

// Last returns the most recently constructed overlay.
func (f *DrawFactory) Last() *Draw {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Created) == 0 {
		return nil
	}
	return f.Created[len(f.Created)-1]
}

// Draw is a fake engine.DrawControl.
type Draw struct {
	mu sync.Mutex

	opts     engine.DrawOptions
	mode     engine.DrawMode
	features geojson.Collection
	selected map[string]bool
	nextID   int

	// HitFn backs FeatureAt; nil means nothing is ever hit.
	HitFn func(lng, lat float64) (geojson.Feature, bool)
}

// Options returns the options the overlay was created with.
func (d *Draw) Options() engine.DrawOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts
}

func (d *Draw) Name() string { return "mapfy-draw" }

func (d *Draw) Add(f geojson.Feature) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f.ID == "" {
		d.nextID++
		f.ID = fmt.Sprintf("fake-%d", d.nextID)
	}
	d.features.Features = append(d.features.Features, f)
	return f.ID, nil
}

func (d *Draw) SetAll(c geojson.Collection) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.features = c.Clone()
	d.selected = nil
	return nil
}

func (d *Draw) GetAll() geojson.Collection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.features.Clone()
}

// Select marks features as the current selection.
func (d *Draw) Select(ids ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.selected = make(map[string]bool, len(ids))
	for _, id := range ids {
		d.selected[id] = true
	}
}

func (d *Draw) Selected() []geojson.Feature {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []geojson.Feature
	for _, f := range d.features.Features {
		if d.selected[f.ID] {
			out = append(out, f)
		}
	}
	return out
}

func (d *Draw) Delete(ids []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := d.features.Features[:0]
	for _, f := range d.features.Features {
		if !drop[f.ID] {
			kept = append(kept, f)
		}
	}
	d.features.Features = kept
	return nil
}

func (d *Draw) Trash() error {
	d.mu.Lock()
	var ids []string
	for id := range d.selected {
		ids = append(ids, id)
	}
	d.selected = nil
	d.mu.Unlock()
	return d.Delete(ids)
}

func (d *Draw) ChangeMode(mode engine.DrawMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = mode
	return nil
}

func (d *Draw) Mode() engine.DrawMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

func (d *Draw) FeatureAt(lng, lat float64) (geojson.Feature, bool) {
	d.mu.Lock()
	fn := d.HitFn
	d.mu.Unlock()
	if fn == nil {
		return geojson.Feature{}, false
	}
	return fn(lng, lat)
}
