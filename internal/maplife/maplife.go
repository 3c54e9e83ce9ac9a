// Package maplife owns the single map engine instance of an editor session.
// The engine emits lifecycle events asynchronously and sometimes more than
// once; this controller presents a stable, monotonically advancing lifecycle
// to everything layered on top of it.
package maplife

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mapfy/mapfy/internal/retry"
	"github.com/mapfy/mapfy/pkg/engine"
)

// State is the lifecycle state of the controller.
type State int

const (
	StateUninitialized State = iota
	StateAwaitingContainer
	StateInitializing
	StateLoaded
	StateStyleReloading
	StateError
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingContainer:
		return "awaiting-container"
	case StateInitializing:
		return "initializing"
	case StateLoaded:
		return "loaded"
	case StateStyleReloading:
		return "style-reloading"
	case StateError:
		return "error"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// InitializationError is fatal to the editor session: the container never
// mounted or the engine could not be constructed.
type InitializationError struct {
	Reason string
	Err    error
}

func (e *InitializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("map initialization failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("map initialization failed: %s", e.Reason)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// ErrNotLoaded is returned when an operation requires the Loaded state.
var ErrNotLoaded = fmt.Errorf("map is not loaded")

// Config wires a controller.
type Config struct {
	Factory    engine.Factory
	Containers engine.ContainerRegistry

	AccessToken string
	Terrain     engine.TerrainOptions

	// ContainerWait bounds the wait for the host container to mount.
	// Defaults to retry.ContainerPolicy.
	ContainerWait retry.Policy

	Logger *slog.Logger
}

// Controller is the map lifecycle state machine.
type Controller struct {
	mu sync.Mutex

	cfg   Config
	state State
	eng   engine.Map

	viewport engine.Viewport
	style    string
	initErr  *InitializationError

	readyFns []func()
	hoverFns []func(lng, lat float64)
	hoverEnd []func()

	log *slog.Logger
}

// New creates a controller in the Uninitialized state.
func New(cfg Config) *Controller {
	if cfg.ContainerWait.Attempts == 0 {
		cfg.ContainerWait = retry.ContainerPolicy
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller{cfg: cfg, log: log}
}

// Initialize constructs the engine instance. It is idempotent: calling it
// while initialization is underway or complete is a no-op. It blocks for the
// bounded container wait, then returns; the Loaded transition happens later
// when the engine reports its load event.
func (c *Controller) Initialize(ctx context.Context, container string, vp engine.Viewport, style string) error {
	c.mu.Lock()
	switch c.state {
	case StateDisposed:
		c.mu.Unlock()
		return fmt.Errorf("controller is disposed")
	case StateError:
		c.mu.Unlock()
		return c.initErr
	case StateUninitialized:
		// proceed
	default:
		c.mu.Unlock()
		return nil
	}
	c.state = StateAwaitingContainer
	c.viewport = vp
	c.style = style
	c.mu.Unlock()

	err := c.cfg.ContainerWait.Do(ctx, func() bool {
		return c.cfg.Containers.Exists(container)
	})
	if err != nil {
		return c.fail("container not found", fmt.Errorf("container %q: %w", container, err))
	}

	c.mu.Lock()
	c.state = StateInitializing
	c.mu.Unlock()

	eng, err := c.cfg.Factory.New(engine.Options{
		Container:             container,
		Style:                 style,
		Viewport:              vp,
		AccessToken:           c.cfg.AccessToken,
		PreserveDrawingBuffer: true,
	})
	if err != nil {
		return c.fail("engine construction failed", err)
	}

	c.mu.Lock()
	c.eng = eng
	c.mu.Unlock()

	eng.On(engine.EventLoad, c.handleLoad)
	eng.On(engine.EventStyleLoad, c.handleStyleLoad)
	eng.On(engine.EventMove, c.handleMove)
	eng.On(engine.EventError, c.handleError)
	eng.On(engine.EventMouseMove, c.handleMouseMove)
	eng.On(engine.EventMouseOut, c.handleMouseOut)

	c.log.Debug("map engine constructed", "container", container, "style", style)
	return nil
}

func (c *Controller) fail(reason string, err error) error {
	ie := &InitializationError{Reason: reason, Err: err}
	c.mu.Lock()
	c.state = StateError
	c.initErr = ie
	c.mu.Unlock()
	c.log.Error("map initialization failed", "reason", reason, "error", err)
	return ie
}

// OnReady registers a callback fired on every transition into Loaded,
// including re-entries from StyleReloading. Style reloads must re-fire
// readiness because dependents need to reattach their controls.
func (c *Controller) OnReady(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readyFns = append(c.readyFns, fn)
}

// OnHover registers a pointer-position callback.
func (c *Controller) OnHover(fn func(lng, lat float64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hoverFns = append(c.hoverFns, fn)
}

// OnHoverEnd registers a callback for the pointer leaving the canvas.
func (c *Controller) OnHoverEnd(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hoverEnd = append(c.hoverEnd, fn)
}

// SetStyle starts an asynchronous style reload. Allowed from Loaded and from
// StyleReloading, where the new change supersedes the in-flight one. Attached
// overlay controls do not survive the reload; dependents reattach on the next
// OnReady.
func (c *Controller) SetStyle(style string) error {
	c.mu.Lock()
	if c.state != StateLoaded && c.state != StateStyleReloading {
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot change style in state %s", ErrNotLoaded, c.state)
	}
	prev := c.state
	c.state = StateStyleReloading
	eng := c.eng
	c.mu.Unlock()

	if err := eng.SetStyle(style); err != nil {
		// The style change is abandoned; the lifecycle is unaffected.
		c.mu.Lock()
		c.state = prev
		c.mu.Unlock()
		c.log.Error("style change failed", "style", style, "error", err)
		return err
	}

	c.mu.Lock()
	c.style = style
	c.mu.Unlock()
	c.log.Debug("style reload started", "style", style)
	return nil
}

// Resize is safe in any non-disposed state and a no-op before construction.
func (c *Controller) Resize() {
	c.mu.Lock()
	eng := c.eng
	disposed := c.state == StateDisposed
	c.mu.Unlock()
	if eng == nil || disposed {
		return
	}
	eng.Resize()
}

// Viewport returns the last-known viewport. Before the first move event it
// reflects the constructor defaults.
func (c *Controller) Viewport() engine.Viewport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewport
}

// SetViewport jumps the camera, e.g. when restoring a persisted map.
func (c *Controller) SetViewport(vp engine.Viewport) {
	c.mu.Lock()
	eng := c.eng
	c.viewport = vp
	c.mu.Unlock()
	if eng != nil {
		eng.SetViewport(vp)
	}
}

// Style returns the active style reference.
func (c *Controller) Style() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.style
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the terminal initialization error, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initErr == nil {
		return nil
	}
	return c.initErr
}

// Dispose releases the engine instance and all listeners. Safe to call more
// than once.
func (c *Controller) Dispose() {
	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		return
	}
	eng := c.eng
	c.state = StateDisposed
	c.eng = nil
	c.readyFns = nil
	c.hoverFns = nil
	c.hoverEnd = nil
	c.mu.Unlock()

	if eng != nil {
		eng.Remove()
	}
	c.log.Debug("map disposed")
}

// StyleReady reports whether dependents may attach controls right now.
func (c *Controller) StyleReady() bool {
	c.mu.Lock()
	eng := c.eng
	loaded := c.state == StateLoaded
	c.mu.Unlock()
	return loaded && eng != nil && eng.IsStyleLoaded()
}

// AttachControl attaches an overlay control. Only valid from Loaded.
func (c *Controller) AttachControl(ctl engine.Control) error {
	c.mu.Lock()
	eng := c.eng
	loaded := c.state == StateLoaded
	c.mu.Unlock()
	if !loaded || eng == nil {
		return ErrNotLoaded
	}
	return eng.AddControl(ctl)
}

// DetachControl removes an overlay control, tolerating "already gone".
func (c *Controller) DetachControl(ctl engine.Control) error {
	c.mu.Lock()
	eng := c.eng
	c.mu.Unlock()
	if eng == nil {
		return nil
	}
	if !eng.HasControl(ctl) {
		return nil
	}
	return eng.RemoveControl(ctl)
}

// HasControl reports whether the control is currently attached.
func (c *Controller) HasControl(ctl engine.Control) bool {
	c.mu.Lock()
	eng := c.eng
	c.mu.Unlock()
	return eng != nil && eng.HasControl(ctl)
}

// SubscribeEngine forwards an engine event subscription. Used by the draw
// controller for its draw.* events; the raw engine stays encapsulated.
func (c *Controller) SubscribeEngine(event string, h engine.Handler) {
	c.mu.Lock()
	eng := c.eng
	c.mu.Unlock()
	if eng != nil {
		eng.On(event, h)
	}
}

// HasTerrain reports whether the elevation source is attached.
func (c *Controller) HasTerrain() bool {
	c.mu.Lock()
	eng := c.eng
	c.mu.Unlock()
	return eng != nil && eng.HasTerrain()
}

// Elevation queries the terrain elevation under a coordinate.
func (c *Controller) Elevation(lng, lat float64) (float64, bool) {
	c.mu.Lock()
	eng := c.eng
	c.mu.Unlock()
	if eng == nil {
		return 0, false
	}
	return eng.QueryElevation(lng, lat)
}

// Snapshot rasterizes the current view for image export.
func (c *Controller) Snapshot(hideChrome bool) ([]byte, error) {
	c.mu.Lock()
	eng := c.eng
	c.mu.Unlock()
	if eng == nil {
		return nil, ErrNotLoaded
	}
	return eng.Snapshot(hideChrome)
}

func (c *Controller) handleLoad(engine.Event) {
	c.mu.Lock()
	if c.state != StateInitializing {
		// Duplicate or late load event; the lifecycle never moves backwards.
		c.mu.Unlock()
		return
	}
	c.state = StateLoaded
	c.mu.Unlock()

	c.attachTerrain()
	c.fireReady()
	c.log.Debug("map loaded")
}

func (c *Controller) handleStyleLoad(engine.Event) {
	c.mu.Lock()
	if c.state != StateStyleReloading {
		c.mu.Unlock()
		return
	}
	c.state = StateLoaded
	c.mu.Unlock()

	// The reload dropped the terrain source along with everything else.
	c.attachTerrain()
	c.fireReady()
	c.log.Debug("style reload complete")
}

func (c *Controller) handleMove(engine.Event) {
	c.mu.Lock()
	if c.eng != nil {
		c.viewport = c.eng.Viewport()
	}
	c.mu.Unlock()
}

func (c *Controller) handleError(e engine.Event) {
	c.log.Error("map engine error", "error", e.Err)
}

func (c *Controller) handleMouseMove(e engine.Event) {
	c.mu.Lock()
	fns := append([]func(lng, lat float64){}, c.hoverFns...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(e.Lng, e.Lat)
	}
}

func (c *Controller) handleMouseOut(engine.Event) {
	c.mu.Lock()
	fns := append([]func(){}, c.hoverEnd...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *Controller) attachTerrain() {
	if c.cfg.Terrain.SourceURL == "" {
		return
	}
	c.mu.Lock()
	eng := c.eng
	c.mu.Unlock()
	if eng == nil || eng.HasTerrain() {
		return
	}
	if err := eng.AddTerrain(c.cfg.Terrain); err != nil {
		c.log.Warn("could not attach terrain", "error", err)
	}
}

func (c *Controller) fireReady() {
	c.mu.Lock()
	fns := append([]func(){}, c.readyFns...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
