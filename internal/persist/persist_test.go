package persist

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mapfy/mapfy/internal/api"
	"github.com/mapfy/mapfy/internal/notify"
	"github.com/mapfy/mapfy/pkg/engine"
	"github.com/mapfy/mapfy/pkg/geojson"
)

// fakeBackend records calls and serves canned records.
type fakeBackend struct {
	mu sync.Mutex

	nextID  uint
	records map[uint]api.MapRecord

	createCalls int
	updateCalls int

	getErr    error
	createErr error
	// createGate, when set, blocks CreateMap until closed.
	createGate chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{nextID: 100, records: map[uint]api.MapRecord{}}
}

func (b *fakeBackend) ListMaps(ctx context.Context) ([]api.MapSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []api.MapSummary
	for _, r := range b.records {
		out = append(out, api.MapSummary{ID: r.ID, Name: r.Name, IsDraft: r.IsDraft})
	}
	return out, nil
}

func (b *fakeBackend) GetMap(ctx context.Context, id uint) (api.MapRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.getErr != nil {
		return api.MapRecord{}, b.getErr
	}
	r, ok := b.records[id]
	if !ok {
		return api.MapRecord{}, &api.NetworkError{Op: "GET", StatusCode: 404, Err: api.ErrNotFound}
	}
	return r, nil
}

func (b *fakeBackend) CreateMap(ctx context.Context, rec api.MapRecord) (api.MapRecord, error) {
	if b.createGate != nil {
		<-b.createGate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.createCalls++
	if b.createErr != nil {
		return api.MapRecord{}, b.createErr
	}
	b.nextID++
	rec.ID = b.nextID
	b.records[rec.ID] = rec
	return rec, nil
}

func (b *fakeBackend) UpdateMap(ctx context.Context, rec api.MapRecord) (api.MapRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updateCalls++
	b.records[rec.ID] = rec
	return rec, nil
}

func (b *fakeBackend) DeleteMap(ctx context.Context, id uint) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, id)
	return nil
}

// fakeWorkspace is an in-memory Workspace.
type fakeWorkspace struct {
	mu       sync.Mutex
	features geojson.Collection
	viewport engine.Viewport
	style    string
	applyErr error
}

func (w *fakeWorkspace) Features() geojson.Collection {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.features.Clone()
}

func (w *fakeWorkspace) Viewport() engine.Viewport {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewport
}

func (w *fakeWorkspace) Style() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.style
}

func (w *fakeWorkspace) Apply(style string, features geojson.Collection, vp engine.Viewport) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.applyErr != nil {
		return w.applyErr
	}
	w.style = style
	w.features = features.Clone()
	w.viewport = vp
	return nil
}

func oneFeature() geojson.Collection {
	c := geojson.NewCollection()
	c.Features = append(c.Features, geojson.Feature{ID: "f", Geometry: geojson.PointGeom(1, 2)})
	return c
}

func newCoordinator(t *testing.T) (*Coordinator, *fakeBackend, *fakeWorkspace) {
	t.Helper()
	b := newFakeBackend()
	w := &fakeWorkspace{style: "mapbox://styles/mapbox/streets-v12"}
	return New(b, w, notify.NewCenter(slog.Default()), slog.Default()), b, w
}

func TestSave_EmptyNameNoNetwork(t *testing.T) {
	c, b, _ := newCoordinator(t)

	for _, name := range []string{"", "   ", "\t"} {
		err := c.Save(context.Background(), name, "")
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("name %q: expected ValidationError, got %v", name, err)
		}
	}
	if b.createCalls != 0 || b.updateCalls != 0 {
		t.Fatalf("validation failure must not reach the backend: %d creates, %d updates", b.createCalls, b.updateCalls)
	}
}

func TestSave_CreateThenUpdate(t *testing.T) {
	c, b, w := newCoordinator(t)
	w.features = oneFeature()
	w.viewport = engine.Viewport{Zoom: 9}

	if err := c.Save(context.Background(), "Hike plan", "a hiking trip"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if b.createCalls != 1 {
		t.Fatalf("expected create, got %d creates", b.createCalls)
	}
	id := c.CurrentID()
	if id == 0 {
		t.Fatal("session not bound to created map")
	}

	if err := c.Save(context.Background(), "Hike plan v2", "a longer hiking trip"); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	if b.updateCalls != 1 || b.createCalls != 1 {
		t.Fatalf("second save should update: %d creates, %d updates", b.createCalls, b.updateCalls)
	}
	if c.CurrentID() != id {
		t.Errorf("binding changed: %d -> %d", id, c.CurrentID())
	}
	if c.CurrentName() != "Hike plan v2" {
		t.Errorf("name = %q", c.CurrentName())
	}
	if c.CurrentDescription() != "a longer hiking trip" {
		t.Errorf("description = %q", c.CurrentDescription())
	}

	saved := b.records[id]
	if saved.IsDraft {
		t.Error("explicit save must not be a draft")
	}
	if saved.Description != "a longer hiking trip" {
		t.Errorf("saved description = %q", saved.Description)
	}
	if len(saved.GeoJSON.Features) != 1 {
		t.Errorf("payload features = %d", len(saved.GeoJSON.Features))
	}
}

func TestSave_SingleFlight(t *testing.T) {
	c, b, w := newCoordinator(t)
	w.features = oneFeature()

	b.createGate = make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- c.Save(context.Background(), "slow save", "")
	}()

	// Wait until the first save holds the single-flight lock.
	waitUntil(t, func() bool {
		if c.saveMu.TryLock() {
			c.saveMu.Unlock()
			return false
		}
		return true
	})

	if err := c.Save(context.Background(), "second save", ""); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	close(b.createGate)
	if err := <-firstDone; err != nil {
		t.Fatalf("first save: %v", err)
	}
}

func TestAutosave_NoOpOnEmptyWorkspace(t *testing.T) {
	c, b, _ := newCoordinator(t)

	if err := c.Autosave(context.Background()); err != nil {
		t.Fatalf("Autosave: %v", err)
	}
	if b.createCalls != 0 {
		t.Fatal("autosave of an empty workspace must not hit the backend")
	}
}

func TestAutosave_CreatesDraftWithDefaultName(t *testing.T) {
	c, b, w := newCoordinator(t)
	w.features = oneFeature()

	if err := c.Autosave(context.Background()); err != nil {
		t.Fatalf("Autosave: %v", err)
	}

	rec := b.records[c.CurrentID()]
	if !rec.IsDraft {
		t.Error("autosave must mark the record as draft")
	}
	if rec.Name != DraftName {
		t.Errorf("name = %q, want %q", rec.Name, DraftName)
	}
}

func TestAutosave_KeepsExplicitName(t *testing.T) {
	c, b, w := newCoordinator(t)
	w.features = oneFeature()

	if err := c.Save(context.Background(), "Named map", "my notes"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := c.Autosave(context.Background()); err != nil {
		t.Fatalf("Autosave: %v", err)
	}

	rec := b.records[c.CurrentID()]
	if rec.Name != "Named map" {
		t.Errorf("autosave renamed the map: %q", rec.Name)
	}
	if rec.Description != "my notes" {
		t.Errorf("autosave dropped the description: %q", rec.Description)
	}
	if !rec.IsDraft {
		t.Error("autosave record should be flagged draft")
	}
}

func TestLoad_AppliesToWorkspace(t *testing.T) {
	c, b, w := newCoordinator(t)
	b.records[5] = api.MapRecord{
		ID:       5,
		Name:     "Saved",
		Style:    "mapbox://styles/mapbox/dark-v11",
		Viewport: engine.Viewport{Longitude: 2.35, Latitude: 48.85, Zoom: 12},
		GeoJSON:  oneFeature(),
	}

	if err := c.Load(context.Background(), 5); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if w.Style() != "mapbox://styles/mapbox/dark-v11" {
		t.Errorf("style = %q", w.Style())
	}
	if len(w.Features().Features) != 1 {
		t.Error("features not applied")
	}
	if c.CurrentID() != 5 || c.CurrentName() != "Saved" {
		t.Errorf("binding = %d/%q", c.CurrentID(), c.CurrentName())
	}
}

func TestLoad_NotFoundLeavesWorkspaceUntouched(t *testing.T) {
	c, _, w := newCoordinator(t)
	w.features = oneFeature()

	err := c.Load(context.Background(), 999)
	if !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(w.Features().Features) != 1 {
		t.Error("workspace was modified by a failed load")
	}
	if c.CurrentID() != 0 {
		t.Error("failed load must not bind the session")
	}
}

func TestDelete_UnbindsCurrentMap(t *testing.T) {
	c, b, w := newCoordinator(t)
	w.features = oneFeature()

	if err := c.Save(context.Background(), "Doomed", "short lived"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	id := c.CurrentID()

	if err := c.Delete(context.Background(), id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if c.CurrentID() != 0 || c.CurrentName() != "" || c.CurrentDescription() != "" {
		t.Error("session still bound to deleted map")
	}
	if _, ok := b.records[id]; ok {
		t.Error("record not deleted")
	}

	// The next save creates a fresh record.
	if err := c.Save(context.Background(), "Reborn", ""); err != nil {
		t.Fatalf("Save after delete: %v", err)
	}
	if b.createCalls != 2 {
		t.Errorf("expected a new create, got %d creates", b.createCalls)
	}
}

func TestDelete_OtherMapKeepsBinding(t *testing.T) {
	c, b, w := newCoordinator(t)
	w.features = oneFeature()

	if err := c.Save(context.Background(), "Mine", ""); err != nil {
		t.Fatalf("Save: %v", err)
	}
	b.records[999] = api.MapRecord{ID: 999, Name: "Other"}

	if err := c.Delete(context.Background(), 999); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if c.CurrentID() == 0 {
		t.Error("deleting an unrelated map unbound the session")
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	for i := 0; i < 500; i++ {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached")
}
