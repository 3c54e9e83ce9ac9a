// Package editor wires the map lifecycle, the draw overlay, and the
// measurement coordinator into one editing session. It owns the glue the
// individual controllers deliberately avoid: overlay attachment retries after
// every readiness transition, feature restoration across style reloads, and
// hover routing.
package editor

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"

	"github.com/mapfy/mapfy/internal/drawtool"
	"github.com/mapfy/mapfy/internal/maplife"
	"github.com/mapfy/mapfy/internal/measure"
	"github.com/mapfy/mapfy/internal/notify"
	"github.com/mapfy/mapfy/internal/retry"
	"github.com/mapfy/mapfy/pkg/engine"
	"github.com/mapfy/mapfy/pkg/geojson"
)

// ErrNotReady is returned by operations that need a live overlay.
var ErrNotReady = errors.New("editor is not ready")

// restore is deferred work applied once the overlay is attached again.
type restore struct {
	features *geojson.Collection
	viewport *engine.Viewport
}

// Editor is one editing session.
type Editor struct {
	maps    *maplife.Controller
	draw    *drawtool.Controller
	measure *measure.Coordinator
	notify  *notify.Center

	attachPolicy retry.Policy
	log          *slog.Logger

	mu sync.Mutex
	// generation advances on every style change; a readiness transition only
	// applies the restore belonging to its own generation, so a stale attach
	// from a superseded style change can never clobber a newer one.
	generation uint64
	pending    *restore
	ready      bool
	failed     bool
	cancel     context.CancelFunc
	baseCtx    context.Context
	wg         sync.WaitGroup
}

// Config wires an editor.
type Config struct {
	Maps    *maplife.Controller
	Draw    *drawtool.Controller
	Measure *measure.Coordinator
	Notify  *notify.Center

	// AttachPolicy bounds overlay attachment retries. Defaults to
	// retry.AttachPolicy.
	AttachPolicy retry.Policy

	Logger *slog.Logger
}

// New wires the controllers together. The editor starts working once Start
// initializes the map.
func New(cfg Config) *Editor {
	if cfg.AttachPolicy.Attempts == 0 {
		cfg.AttachPolicy = retry.AttachPolicy
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Editor{
		maps:         cfg.Maps,
		draw:         cfg.Draw,
		measure:      cfg.Measure,
		notify:       cfg.Notify,
		attachPolicy: cfg.AttachPolicy,
		log:          log,
		baseCtx:      ctx,
		cancel:       cancel,
	}

	e.maps.OnReady(e.handleMapReady)
	e.maps.OnHover(e.handleHover)
	e.maps.OnHoverEnd(e.measure.ClearHover)
	e.draw.OnSelectionChange(e.measure.SelectionChanged)

	return e
}

// Start initializes the underlying map. Blocking; idempotency and error
// semantics are the lifecycle controller's.
func (e *Editor) Start(ctx context.Context, container string, vp engine.Viewport, style string) error {
	return e.maps.Initialize(ctx, container, vp, style)
}

// Ready reports whether the overlay is attached and editing is possible.
func (e *Editor) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// Failed reports whether overlay attachment exhausted its retries. The state
// persists until a later readiness transition succeeds.
func (e *Editor) Failed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed
}

// SetStyle changes the base map style. The overlay does not survive a style
// reload, so the feature set is captured first and restored once the new
// style is ready. A second style change before the first restore completes
// supersedes it.
func (e *Editor) SetStyle(style string) error {
	// When a reload is already in flight the overlay is detached and empty;
	// the features captured for that reload carry over to this one.
	e.mu.Lock()
	var features geojson.Collection
	if e.pending != nil && e.pending.features != nil {
		features = *e.pending.features
		e.mu.Unlock()
	} else {
		e.mu.Unlock()
		features = e.draw.GetAllFeatures()
	}
	e.draw.Detach()

	e.mu.Lock()
	e.generation++
	e.pending = &restore{features: &features}
	e.ready = false
	e.mu.Unlock()

	if err := e.maps.SetStyle(style); err != nil {
		// The reload never started; reattach on the spot.
		e.mu.Lock()
		e.pending = nil
		e.mu.Unlock()
		if e.draw.Attach() {
			if rerr := e.draw.SetAllFeatures(features); rerr != nil {
				e.log.Error("could not restore features after failed style change", "error", rerr)
			}
			e.mu.Lock()
			e.ready = true
			e.mu.Unlock()
		}
		e.notify.Error("map style could not be changed")
		return err
	}
	return nil
}

// Apply loads a persisted map into the session: style, features, and
// viewport together. The features and camera are applied only after the new
// style is ready, like any other style change.
func (e *Editor) Apply(style string, features geojson.Collection, vp engine.Viewport) error {
	if style == e.maps.Style() {
		// No reload needed; swap the content directly.
		if err := e.draw.SetAllFeatures(features); err != nil {
			return err
		}
		e.maps.SetViewport(vp)
		return nil
	}

	e.draw.Detach()
	e.mu.Lock()
	e.generation++
	e.pending = &restore{features: &features, viewport: &vp}
	e.ready = false
	e.mu.Unlock()

	return e.maps.SetStyle(style)
}

// Import merges an imported collection into the overlay and frames the
// camera on the combined result.
func (e *Editor) Import(col geojson.Collection) error {
	if len(col.Features) == 0 {
		return nil
	}
	merged := e.draw.GetAllFeatures()
	merged.Features = append(merged.Features, col.Features...)
	if err := e.draw.SetAllFeatures(merged); err != nil {
		return err
	}
	e.FitToFeatures()
	return nil
}

// FitToFeatures frames the camera on the current feature collection. Bearing
// and pitch reset so the frame is a plan view. Empty collections leave the
// camera alone.
func (e *Editor) FitToFeatures() {
	b := geojson.CollectionBounds(e.draw.GetAllFeatures())
	if b.Empty() {
		return
	}
	e.maps.SetViewport(frameViewport(b))
}

// frameViewport picks a centered plan-view camera whose zoom fits the bounds
// with some margin. A single point gets a close-in street-level zoom.
func frameViewport(b geojson.Bounds) engine.Viewport {
	lng, lat := b.Center()

	span := math.Max(b.MaxLng-b.MinLng, (b.MaxLat-b.MinLat)*2)
	zoom := 14.0
	if span > 0 {
		// World width is 360 degrees at zoom 0; add margin around the frame.
		zoom = math.Log2(360/span) - 0.5
	}
	zoom = math.Max(1, math.Min(zoom, 16))

	return engine.Viewport{Longitude: lng, Latitude: lat, Zoom: zoom}
}

// Features snapshots the current feature collection.
func (e *Editor) Features() geojson.Collection {
	return e.draw.GetAllFeatures()
}

// Viewport returns the current camera state.
func (e *Editor) Viewport() engine.Viewport {
	return e.maps.Viewport()
}

// Style returns the active style reference.
func (e *Editor) Style() string {
	return e.maps.Style()
}

// SetTool activates a drawing tool.
func (e *Editor) SetTool(t drawtool.Tool) error {
	if err := e.draw.SetTool(t); err != nil {
		e.log.Warn("tool change rejected", "tool", t, "error", err)
		return err
	}
	return nil
}

// Trash deletes the selected features.
func (e *Editor) Trash() error {
	return e.draw.Trash()
}

// Measure exposes the measurement coordinator for the UI surfaces.
func (e *Editor) Measure() *measure.Coordinator {
	return e.measure
}

// OnChange registers a callback for overlay content changes, used for
// autosave scheduling.
func (e *Editor) OnChange(fn func(geojson.Collection)) {
	e.draw.OnChange(fn)
}

// Close tears the session down.
func (e *Editor) Close() {
	e.cancel()
	e.wg.Wait()
	e.draw.Detach()
	e.maps.Dispose()
}

// handleMapReady runs on every transition of the map into its loaded state.
// Attachment is retried with backoff because the style can report ready
// slightly before controls may attach.
func (e *Editor) handleMapReady() {
	e.mu.Lock()
	gen := e.generation
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		err := e.attachPolicy.Do(e.baseCtx, e.draw.Attach)

		e.mu.Lock()
		if gen != e.generation {
			// A newer style change superseded this readiness transition; its
			// own handler owns the restore now.
			e.mu.Unlock()
			e.log.Debug("discarding stale overlay attach", "generation", gen)
			return
		}
		if err != nil {
			e.failed = true
			e.ready = false
			e.mu.Unlock()
			e.log.Error("overlay attachment exhausted retries", "error", err)
			e.notify.Error("editor could not start, reload the page")
			return
		}
		pending := e.pending
		e.pending = nil
		e.ready = true
		e.failed = false
		e.mu.Unlock()

		if pending != nil {
			if pending.features != nil {
				if err := e.draw.SetAllFeatures(*pending.features); err != nil {
					e.log.Error("could not restore features after style reload", "error", err)
					e.notify.Error("your features could not be restored")
				}
			}
			if pending.viewport != nil {
				e.maps.SetViewport(*pending.viewport)
			}
		}
	}()
}

// handleHover routes pointer movement: a feature under the pointer wins over
// bare-terrain elevation.
func (e *Editor) handleHover(lng, lat float64) {
	if f, ok := e.draw.HitTest(lng, lat); ok {
		e.measure.HoverFeature(f)
		return
	}
	if elev, ok := e.maps.Elevation(lng, lat); ok {
		e.measure.HoverTerrain(elev)
		return
	}
	e.measure.ClearHover()
}
