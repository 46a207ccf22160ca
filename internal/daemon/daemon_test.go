package daemon

import (
	"image"
	"image/color"
	"log/slog"
	"os"
	"testing"
	"time"

	"vcam-daemon/internal/camera"
	"vcam-daemon/internal/coord"
	"vcam-daemon/internal/ipc"
	"vcam-daemon/internal/overlay"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	d        *Daemon
	session  *camera.SessionManager
	overlays *overlay.Store
	status   *ipc.StatusStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	log := testLogger()

	registry := camera.NewRegistry()
	registry.Register(camera.NewTestPatternDevice("Test Pattern"))

	session := camera.NewSessionManager(registry, camera.NewStaticAuthorizer(camera.AuthGranted), log)
	if !session.Configure("") {
		t.Fatal("session configure failed")
	}

	overlays := overlay.NewStore(dir)
	status := ipc.NewStatusStore(dir)

	d := New(Options{
		Session:           session,
		Overlays:          overlays,
		Status:            status,
		Bus:               ipc.NewBus(log),
		Log:               log,
		Spec:              session.Spec(),
		HeartbeatInterval: 20 * time.Millisecond,
		RefreshInterval:   20 * time.Millisecond,
	})
	t.Cleanup(func() {
		d.Coordinator().AppStop()
		d.Publisher().Close()
		session.Stop()
	})
	return &fixture{d: d, session: session, overlays: overlays, status: status}
}

func TestDaemon_request_signals_drive_coordinator(t *testing.T) {
	f := newFixture(t)

	f.d.HandleSignal(ipc.SignalRequestStart)
	if !f.session.Running() {
		t.Fatal("request-start should start the capture session")
	}
	st := f.d.Coordinator().State()
	if !st.AppControlled || st.Phase != coord.PhaseStreaming {
		t.Errorf("state after request-start: %+v", st)
	}

	// The transition lands in the shared status record.
	rec := f.status.Read()
	if rec.RuntimePhase != "streaming" {
		t.Errorf("status record phase: %q", rec.RuntimePhase)
	}
	if rec.CurrentDeviceName != "Test Pattern" {
		t.Errorf("status record device: %q", rec.CurrentDeviceName)
	}

	f.d.HandleSignal(ipc.SignalRequestStop)
	if f.session.Running() {
		t.Fatal("request-stop should stop the capture session")
	}
	if rec := f.status.Read(); rec.RuntimePhase != "idle" {
		t.Errorf("status record phase after stop: %q", rec.RuntimePhase)
	}
}

func TestDaemon_switch_device_reads_persisted_selection(t *testing.T) {
	dir := t.TempDir()
	log := testLogger()

	a := camera.NewTestPatternDevice("Cam A")
	b := camera.NewTestPatternDevice("Cam B")
	registry := camera.NewRegistry()
	registry.Register(a)
	registry.Register(b)

	session := camera.NewSessionManager(registry, camera.NewStaticAuthorizer(camera.AuthGranted), log)
	if !session.Configure(a.ID()) {
		t.Fatal("configure failed")
	}

	status := ipc.NewStatusStore(dir)
	d := New(Options{
		Session:           session,
		Overlays:          overlay.NewStore(dir),
		Status:            status,
		Bus:               ipc.NewBus(log),
		Log:               log,
		Spec:              session.Spec(),
		HeartbeatInterval: 20 * time.Millisecond,
	})
	defer func() {
		d.Publisher().Close()
		session.Stop()
	}()

	// The controlling application persists the selection, then signals.
	if err := status.Update(func(rec *ipc.Status) { rec.SelectedDeviceID = b.ID() }); err != nil {
		t.Fatal(err)
	}
	d.HandleSignal(ipc.SignalRequestSwitchDevice)

	id, name, ok := session.CurrentDevice()
	if !ok || id != b.ID() || name != "Cam B" {
		t.Errorf("after switch: id=%q name=%q ok=%v", id, name, ok)
	}
	if rec := status.Read(); rec.CurrentDeviceName != "Cam B" {
		t.Errorf("status record device after switch: %q", rec.CurrentDeviceName)
	}
}

func TestDaemon_overlay_signals_swap_snapshot(t *testing.T) {
	f := newFixture(t)

	if f.d.asset.Load() != nil {
		t.Fatal("no overlay written yet, snapshot should be nil")
	}

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	if !f.overlays.Write(img, overlay.Metadata{Version: 1, PresetID: "badge"}) {
		t.Fatal("overlay write failed")
	}

	f.d.HandleSignal(ipc.SignalOverlayUpdated)
	asset := f.d.asset.Load()
	if asset == nil || asset.Meta.PresetID != "badge" {
		t.Fatalf("snapshot after overlay-updated: %+v", asset)
	}

	f.overlays.Clear()
	f.d.HandleSignal(ipc.SignalOverlayCleared)
	if f.d.asset.Load() != nil {
		t.Error("snapshot should be nil after overlay-cleared")
	}
}

func TestDaemon_frames_flow_to_publisher(t *testing.T) {
	f := newFixture(t)

	f.d.Coordinator().AppStart()
	defer f.d.Coordinator().AppStop()

	// Captured frames must reach the publisher: its frame sequence advances.
	deadline := time.Now().Add(2 * time.Second)
	for f.d.Publisher().FrameSeq() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no frame reached the publisher within 2s")
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec := f.status.Read()
	if rec.RuntimePhase != "streaming" {
		t.Errorf("status record should report streaming, got %q", rec.RuntimePhase)
	}
}
