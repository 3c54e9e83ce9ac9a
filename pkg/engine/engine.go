// Package engine defines the boundary to the external map-rendering and
// vector-drawing engines. MapFy never implements rendering itself: the host
// shell supplies engine instances through the factories here, and the editor
// core drives them exclusively through these interfaces.
package engine

// Viewport is the camera state of the map engine.
type Viewport struct {
	Longitude float64 `json:"lng"`
	Latitude  float64 `json:"lat"`
	Zoom      float64 `json:"zoom"`
	Bearing   float64 `json:"bearing"`
	Pitch     float64 `json:"pitch"`
}

// Options configures construction of a map engine instance.
type Options struct {
	// Container is the handle of the host UI element the engine renders
	// into. It must exist in the host tree at construction time.
	Container string

	Style    string
	Viewport Viewport

	// AccessToken is the engine vendor credential.
	AccessToken string

	// PreserveDrawingBuffer keeps the rendered frame readable for snapshot
	// export.
	PreserveDrawingBuffer bool
}

// TerrainOptions configures the elevation (DEM) source.
type TerrainOptions struct {
	SourceURL    string
	TileSize     int
	MaxZoom      int
	Exaggeration float64
}

// Handler receives engine events.
type Handler func(Event)

// Map is one live instance of the external map engine. All methods are
// host-thread-safe from the engine's point of view; the controllers are the
// only callers.
type Map interface {
	// On subscribes a handler to a named engine event. Multiple handlers per
	// event are allowed.
	On(event string, h Handler)
	// Off removes all handlers for a named event.
	Off(event string)

	Loaded() bool
	IsStyleLoaded() bool

	// SetStyle starts an asynchronous style reload. A successful reload is
	// reported later through an EventStyleLoad event.
	SetStyle(style string) error
	Style() string

	Viewport() Viewport
	SetViewport(Viewport)
	Resize()

	AddControl(c Control) error
	RemoveControl(c Control) error
	HasControl(c Control) bool

	AddTerrain(opts TerrainOptions) error
	HasTerrain() bool
	// QueryElevation returns the terrain elevation at a coordinate, or false
	// when no terrain source is attached or no data covers the point.
	QueryElevation(lng, lat float64) (float64, bool)

	// Snapshot rasterizes the current view to PNG bytes. When hideChrome is
	// set, transient UI chrome is hidden for the capture.
	Snapshot(hideChrome bool) ([]byte, error)

	// Remove releases the engine instance. The instance must not be used
	// afterwards.
	Remove()
}

// Control is an attachable engine control (navigation, scale, draw overlay).
type Control interface {
	Name() string
}

// Factory constructs map engine instances.
type Factory interface {
	New(opts Options) (Map, error)
}

// ContainerRegistry reports whether a host container handle currently exists
// in the host UI tree. The lifecycle controller polls it while waiting for
// the container to mount.
type ContainerRegistry interface {
	Exists(container string) bool
}

// Map engine event names.
const (
	EventLoad      = "load"
	EventStyleLoad = "style.load"
	EventMove      = "move"
	EventError     = "error"
	EventMouseMove = "mousemove"
	EventMouseOut  = "mouseout"
)

// Draw overlay event names, emitted through the map engine's event bus.
const (
	EventDrawCreate = "draw.create"
	EventDrawUpdate = "draw.update"
	EventDrawDelete = "draw.delete"
	EventDrawSelect = "draw.selectionchange"
)

// Event is one engine event delivery.
type Event struct {
	Name string

	// Err is set for EventError.
	Err error

	// Lng/Lat carry the pointer position for EventMouseMove.
	Lng, Lat float64
}
