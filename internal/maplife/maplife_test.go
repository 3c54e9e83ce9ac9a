package maplife

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/mapfy/mapfy/internal/retry"
	"github.com/mapfy/mapfy/pkg/engine"
	"github.com/mapfy/mapfy/pkg/engine/enginetest"
)

const testStyle = "mapbox://styles/mapbox/streets-v12"

func fastWait(attempts int) retry.Policy {
	return retry.Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1, Attempts: attempts}
}

func newController(t *testing.T, factory *enginetest.Factory, reg *enginetest.Registry) *Controller {
	t.Helper()
	return New(Config{
		Factory:       factory,
		Containers:    reg,
		AccessToken:   "pk.test",
		ContainerWait: fastWait(3),
		Logger:        slog.Default(),
	})
}

func TestInitialize_HappyPath(t *testing.T) {
	factory := &enginetest.Factory{}
	c := newController(t, factory, enginetest.NewRegistry("map-root"))

	readies := 0
	c.OnReady(func() { readies++ })

	vp := engine.Viewport{Longitude: 13.4, Latitude: 52.5, Zoom: 9}
	if err := c.Initialize(context.Background(), "map-root", vp, testStyle); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := c.State(); got != StateInitializing {
		t.Fatalf("expected initializing before load event, got %s", got)
	}
	if readies != 0 {
		t.Fatalf("ready fired before load event")
	}

	factory.Last().FireLoad()

	if got := c.State(); got != StateLoaded {
		t.Fatalf("expected loaded, got %s", got)
	}
	if readies != 1 {
		t.Fatalf("expected 1 ready callback, got %d", readies)
	}
	if got := c.Viewport(); got != vp {
		t.Errorf("viewport = %+v, want %+v", got, vp)
	}
}

func TestInitialize_Idempotent(t *testing.T) {
	factory := &enginetest.Factory{}
	c := newController(t, factory, enginetest.NewRegistry("map-root"))

	ctx := context.Background()
	if err := c.Initialize(ctx, "map-root", engine.Viewport{}, testStyle); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := c.Initialize(ctx, "map-root", engine.Viewport{}, testStyle); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if len(factory.Created) != 1 {
		t.Fatalf("expected a single engine instance, got %d", len(factory.Created))
	}
}

func TestInitialize_WaitsForContainer(t *testing.T) {
	factory := &enginetest.Factory{}
	reg := enginetest.NewRegistry()
	c := New(Config{
		Factory:       factory,
		Containers:    reg,
		ContainerWait: fastWait(10),
		Logger:        slog.Default(),
	})

	// Mount the container while the controller is polling for it.
	go func() {
		time.Sleep(3 * time.Millisecond)
		reg.Mount("late-root")
	}()

	if err := c.Initialize(context.Background(), "late-root", engine.Viewport{}, testStyle); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if factory.Last() == nil {
		t.Fatal("engine was never constructed")
	}
}

func TestInitialize_ContainerNeverMounts(t *testing.T) {
	c := newController(t, &enginetest.Factory{}, enginetest.NewRegistry())

	err := c.Initialize(context.Background(), "missing", engine.Viewport{}, testStyle)
	var ie *InitializationError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InitializationError, got %v", err)
	}
	if c.State() != StateError {
		t.Fatalf("expected error state, got %s", c.State())
	}
	if c.Err() == nil {
		t.Error("Err() should report the failure")
	}
}

func TestInitialize_ConstructionFailure(t *testing.T) {
	factory := &enginetest.Factory{ConstructErr: errors.New("webgl unavailable")}
	c := newController(t, factory, enginetest.NewRegistry("map-root"))

	err := c.Initialize(context.Background(), "map-root", engine.Viewport{}, testStyle)
	var ie *InitializationError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InitializationError, got %v", err)
	}
	if c.State() != StateError {
		t.Fatalf("expected error state, got %s", c.State())
	}
}

func TestSetStyle_RefiresReady(t *testing.T) {
	factory := &enginetest.Factory{}
	c := newController(t, factory, enginetest.NewRegistry("map-root"))
	if err := c.Initialize(context.Background(), "map-root", engine.Viewport{}, testStyle); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	m := factory.Last()
	m.FireLoad()

	readies := 0
	c.OnReady(func() { readies++ })

	next := "mapbox://styles/mapbox/satellite-v9"
	if err := c.SetStyle(next); err != nil {
		t.Fatalf("SetStyle: %v", err)
	}
	if c.State() != StateStyleReloading {
		t.Fatalf("expected style-reloading, got %s", c.State())
	}
	if c.StyleReady() {
		t.Error("StyleReady must be false mid-reload")
	}

	m.FireStyleLoad()

	if c.State() != StateLoaded {
		t.Fatalf("expected loaded after style.load, got %s", c.State())
	}
	if readies != 1 {
		t.Fatalf("expected ready to re-fire once, got %d", readies)
	}
	if c.Style() != next {
		t.Errorf("Style() = %q, want %q", c.Style(), next)
	}
}

func TestSetStyle_RejectedOutsideLoaded(t *testing.T) {
	c := newController(t, &enginetest.Factory{}, enginetest.NewRegistry("map-root"))
	if err := c.SetStyle(testStyle); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
}

func TestSetStyle_EngineErrorStaysLoaded(t *testing.T) {
	factory := &enginetest.Factory{}
	c := newController(t, factory, enginetest.NewRegistry("map-root"))
	if err := c.Initialize(context.Background(), "map-root", engine.Viewport{}, testStyle); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	m := factory.Last()
	m.FireLoad()
	m.SetStyleErr = errors.New("style fetch failed")

	if err := c.SetStyle("mapbox://styles/broken"); err == nil {
		t.Fatal("expected error")
	}
	if c.State() != StateLoaded {
		t.Fatalf("controller must stay loaded after a failed style change, got %s", c.State())
	}
	if c.Style() != testStyle {
		t.Errorf("active style changed despite failure: %q", c.Style())
	}
}

func TestDuplicateLoadEventIgnored(t *testing.T) {
	factory := &enginetest.Factory{}
	c := newController(t, factory, enginetest.NewRegistry("map-root"))
	if err := c.Initialize(context.Background(), "map-root", engine.Viewport{}, testStyle); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	m := factory.Last()

	readies := 0
	c.OnReady(func() { readies++ })

	m.FireLoad()
	m.FireLoad()

	if readies != 1 {
		t.Fatalf("duplicate load must not re-fire ready, got %d", readies)
	}
}

func TestMoveUpdatesViewport(t *testing.T) {
	factory := &enginetest.Factory{}
	c := newController(t, factory, enginetest.NewRegistry("map-root"))
	if err := c.Initialize(context.Background(), "map-root", engine.Viewport{Zoom: 2}, testStyle); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	m := factory.Last()
	m.FireLoad()

	want := engine.Viewport{Longitude: -0.1, Latitude: 51.5, Zoom: 11}
	m.SetViewport(want)

	if got := c.Viewport(); got != want {
		t.Errorf("Viewport() = %+v, want %+v", got, want)
	}
}

func TestTerrainAttachedOnLoad(t *testing.T) {
	factory := &enginetest.Factory{}
	c := New(Config{
		Factory:       factory,
		Containers:    enginetest.NewRegistry("map-root"),
		Terrain:       engine.TerrainOptions{SourceURL: "mapbox://mapbox.terrain-dem-v1", Exaggeration: 1.5},
		ContainerWait: fastWait(3),
		Logger:        slog.Default(),
	})
	if err := c.Initialize(context.Background(), "map-root", engine.Viewport{}, testStyle); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	m := factory.Last()
	m.FireLoad()

	if !c.HasTerrain() {
		t.Fatal("terrain should be attached after load")
	}

	m.ElevationFn = func(lng, lat float64) (float64, bool) { return 512, true }
	elev, ok := c.Elevation(7.6, 46.0)
	if !ok || elev != 512 {
		t.Errorf("Elevation = %v,%v, want 512,true", elev, ok)
	}
}

func TestHoverFanout(t *testing.T) {
	factory := &enginetest.Factory{}
	c := newController(t, factory, enginetest.NewRegistry("map-root"))
	if err := c.Initialize(context.Background(), "map-root", engine.Viewport{}, testStyle); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	m := factory.Last()
	m.FireLoad()

	var lng, lat float64
	ended := false
	c.OnHover(func(x, y float64) { lng, lat = x, y })
	c.OnHoverEnd(func() { ended = true })

	m.Emit(engine.Event{Name: engine.EventMouseMove, Lng: 2.35, Lat: 48.86})
	m.Emit(engine.Event{Name: engine.EventMouseOut})

	if lng != 2.35 || lat != 48.86 {
		t.Errorf("hover position = %v,%v", lng, lat)
	}
	if !ended {
		t.Error("hover end not delivered")
	}
}

func TestDispose(t *testing.T) {
	factory := &enginetest.Factory{}
	c := newController(t, factory, enginetest.NewRegistry("map-root"))
	if err := c.Initialize(context.Background(), "map-root", engine.Viewport{}, testStyle); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	m := factory.Last()
	m.FireLoad()

	c.Dispose()
	c.Dispose()

	if !m.Removed() {
		t.Error("engine instance not released")
	}
	if c.State() != StateDisposed {
		t.Errorf("state = %s, want disposed", c.State())
	}
	if err := c.Initialize(context.Background(), "map-root", engine.Viewport{}, testStyle); err == nil {
		t.Error("Initialize after Dispose should fail")
	}
}

func TestControlAttachment(t *testing.T) {
	factory := &enginetest.Factory{}
	c := newController(t, factory, enginetest.NewRegistry("map-root"))
	if err := c.Initialize(context.Background(), "map-root", engine.Viewport{}, testStyle); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	df := &enginetest.DrawFactory{}
	ctl := df.New(engine.DrawOptions{})

	if err := c.AttachControl(ctl); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("attach before load should fail with ErrNotLoaded, got %v", err)
	}

	factory.Last().FireLoad()

	if err := c.AttachControl(ctl); err != nil {
		t.Fatalf("AttachControl: %v", err)
	}
	if !c.HasControl(ctl) {
		t.Fatal("control should be attached")
	}
	if err := c.DetachControl(ctl); err != nil {
		t.Fatalf("DetachControl: %v", err)
	}
	// Detaching again is tolerated.
	if err := c.DetachControl(ctl); err != nil {
		t.Fatalf("second DetachControl: %v", err)
	}
}
