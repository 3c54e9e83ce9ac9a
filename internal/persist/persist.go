// Package persist coordinates saving and loading maps against the backend.
// Saves are single-flight: a save that arrives while another is in flight is
// rejected as busy, never queued.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mapfy/mapfy/internal/api"
	"github.com/mapfy/mapfy/internal/notify"
	"github.com/mapfy/mapfy/pkg/engine"
	"github.com/mapfy/mapfy/pkg/geojson"
)

// DraftName is the name given to autosaved maps that were never named.
const DraftName = "Untitled map"

// ErrBusy is returned when a save is already in flight.
var ErrBusy = errors.New("a save is already in progress")

// ValidationError rejects a save before any network traffic happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Backend is the slice of the API client the coordinator uses.
type Backend interface {
	ListMaps(ctx context.Context) ([]api.MapSummary, error)
	GetMap(ctx context.Context, id uint) (api.MapRecord, error)
	CreateMap(ctx context.Context, rec api.MapRecord) (api.MapRecord, error)
	UpdateMap(ctx context.Context, rec api.MapRecord) (api.MapRecord, error)
	DeleteMap(ctx context.Context, id uint) error
}

// Workspace is the slice of the editor the coordinator reads and writes.
type Workspace interface {
	Features() geojson.Collection
	Viewport() engine.Viewport
	Style() string
	Apply(style string, features geojson.Collection, vp engine.Viewport) error
}

// Coordinator binds one editing session to at most one persisted map.
type Coordinator struct {
	backend Backend
	ws      Workspace
	notify  *notify.Center
	log     *slog.Logger

	// saveMu is the single-flight guard. TryLock, never Lock: a second save
	// must fail fast, not wait.
	saveMu sync.Mutex

	mu          sync.Mutex
	current     uint
	name        string
	description string

	dirty atomic.Bool
}

// New creates a coordinator with no bound map.
func New(backend Backend, ws Workspace, nc *notify.Center, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{backend: backend, ws: ws, notify: nc, log: log}
}

// CurrentID returns the id of the bound persisted map, zero when unbound.
func (c *Coordinator) CurrentID() uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// CurrentName returns the name of the bound persisted map.
func (c *Coordinator) CurrentName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// CurrentDescription returns the description of the bound persisted map.
func (c *Coordinator) CurrentDescription() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.description
}

// MarkDirty flags unsaved changes for the autosave loop. Wire it to the
// editor's change stream.
func (c *Coordinator) MarkDirty() {
	c.dirty.Store(true)
}

// Save persists the workspace under the given name and description. An
// empty name fails validation before any request is made. Saving creates a
// map on first use and overwrites the bound map afterwards.
func (c *Coordinator) Save(ctx context.Context, name, description string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	return c.save(ctx, name, description, false)
}

// Autosave persists the workspace as a draft. It is a no-op when the
// workspace is empty, and silently skips the tick when a save is in flight.
func (c *Coordinator) Autosave(ctx context.Context) error {
	if len(c.ws.Features().Features) == 0 {
		return nil
	}

	c.mu.Lock()
	name := c.name
	description := c.description
	c.mu.Unlock()
	if name == "" {
		name = DraftName
	}

	err := c.save(ctx, name, description, true)
	if errors.Is(err, ErrBusy) {
		return nil
	}
	return err
}

func (c *Coordinator) save(ctx context.Context, name, description string, draft bool) error {
	if !c.saveMu.TryLock() {
		return ErrBusy
	}
	defer c.saveMu.Unlock()

	rec := api.MapRecord{
		Name:        name,
		Description: description,
		Style:       c.ws.Style(),
		Viewport:    c.ws.Viewport(),
		GeoJSON:     c.ws.Features(),
		IsDraft:     draft,
	}

	c.mu.Lock()
	rec.ID = c.current
	c.mu.Unlock()

	var saved api.MapRecord
	var err error
	if rec.ID == 0 {
		saved, err = c.backend.CreateMap(ctx, rec)
	} else {
		saved, err = c.backend.UpdateMap(ctx, rec)
	}
	if err != nil {
		c.log.Error("save failed", "name", name, "draft", draft, "error", err)
		if !draft {
			c.notify.Error("your map could not be saved")
		}
		return err
	}

	c.mu.Lock()
	c.current = saved.ID
	c.name = saved.Name
	c.description = saved.Description
	c.mu.Unlock()
	c.dirty.Store(false)

	if !draft {
		c.notify.Info(fmt.Sprintf("%q saved", saved.Name))
	}
	c.log.Debug("map saved", "id", saved.ID, "draft", draft)
	return nil
}

// Load fetches a persisted map and applies it to the workspace. When the map
// does not exist the workspace is left untouched.
func (c *Coordinator) Load(ctx context.Context, id uint) error {
	rec, err := c.backend.GetMap(ctx, id)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			c.notify.Warning("that map no longer exists")
		} else {
			c.notify.Error("your map could not be loaded")
		}
		return err
	}

	if err := c.ws.Apply(rec.Style, rec.GeoJSON, rec.Viewport); err != nil {
		return fmt.Errorf("applying map %d: %w", id, err)
	}

	c.mu.Lock()
	c.current = rec.ID
	c.name = rec.Name
	c.description = rec.Description
	c.mu.Unlock()
	c.dirty.Store(false)

	c.log.Debug("map loaded", "id", rec.ID, "features", len(rec.GeoJSON.Features))
	return nil
}

// List returns the caller's persisted maps.
func (c *Coordinator) List(ctx context.Context) ([]api.MapSummary, error) {
	return c.backend.ListMaps(ctx)
}

// Delete removes a persisted map. Deleting the bound map unbinds the
// session; the workspace content stays on screen.
func (c *Coordinator) Delete(ctx context.Context, id uint) error {
	if err := c.backend.DeleteMap(ctx, id); err != nil {
		return err
	}

	c.mu.Lock()
	if c.current == id {
		c.current = 0
		c.name = ""
		c.description = ""
	}
	c.mu.Unlock()
	return nil
}

// Reset unbinds the session from its persisted map, e.g. for "new map".
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.current = 0
	c.name = ""
	c.description = ""
	c.mu.Unlock()
	c.dirty.Store(false)
}

// RunAutosave autosaves at the given interval whenever unsaved changes exist,
// until the context is canceled.
func (c *Coordinator) RunAutosave(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.dirty.Load() {
				continue
			}
			if err := c.Autosave(ctx); err != nil {
				c.log.Warn("autosave failed", "error", err)
			}
		}
	}
}
