package publish

import (
	"image"
	"image/color"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"vcam-daemon/internal/camera"
	"vcam-daemon/internal/coord"
	"vcam-daemon/internal/ipc"
)

var testSpec = camera.StreamSpec{Width: 32, Height: 24, FrameRate: 30}

// countingListener records connect/disconnect events.
type countingListener struct {
	mu          sync.Mutex
	connects    int
	disconnects int
}

func (l *countingListener) ConsumerConnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connects++
}

func (l *countingListener) ConsumerDisconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnects++
}

func (l *countingListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connects, l.disconnects
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestPublisher(t *testing.T, authorize AuthorizeFunc, listener ConnectionListener) *Publisher {
	t.Helper()
	status := ipc.NewStatusStore(t.TempDir())
	return New(testSpec, authorize, listener, status, 50*time.Millisecond, testLogger(), nil)
}

func testFrame() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, testSpec.Width, testSpec.Height))
	for y := 0; y < testSpec.Height; y++ {
		for x := 0; x < testSpec.Width; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 128, A: 255})
		}
	}
	return img
}

func TestPublisher_rejects_unauthorized_client(t *testing.T) {
	listener := &countingListener{}
	p := newTestPublisher(t, func(ClientInfo) bool { return false }, listener)

	req := httptest.NewRequest(http.MethodGet, "/stream.mjpeg", nil)
	rec := httptest.NewRecorder()
	p.Handler(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
	if c, _ := listener.counts(); c != 0 {
		t.Error("rejected client must not be reported as a consumer")
	}
}

func TestPublisher_default_policy_accepts(t *testing.T) {
	p := newTestPublisher(t, nil, &countingListener{})
	if err := p.Publish(testFrame()); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(p.Handler))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Errorf("unexpected content type %q", ct)
	}

	// The stream is endless; read until the first JPEG part header appears.
	buf := make([]byte, 4096)
	deadline := time.Now().Add(2 * time.Second)
	var got string
	for time.Now().Before(deadline) && !strings.Contains(got, "image/jpeg") {
		n, err := resp.Body.Read(buf)
		got += string(buf[:n])
		if err != nil {
			break
		}
	}
	if !strings.Contains(got, "image/jpeg") {
		t.Error("no JPEG part received from stream")
	}
}

func TestPublisher_reports_attach_detach(t *testing.T) {
	listener := &countingListener{}
	p := newTestPublisher(t, nil, listener)
	_ = p.Publish(testFrame())

	srv := httptest.NewServer(http.HandlerFunc(p.Handler))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { c, _ := listener.counts(); return c == 1 })
	if p.Consumers() != 1 {
		t.Errorf("consumers: got %d, want 1", p.Consumers())
	}

	resp.Body.Close()
	waitFor(t, func() bool { _, d := listener.counts(); return d == 1 })
	if p.Consumers() != 0 {
		t.Errorf("consumers after detach: got %d, want 0", p.Consumers())
	}
}

func TestPublisher_each_attach_reported(t *testing.T) {
	listener := &countingListener{}
	p := newTestPublisher(t, nil, listener)
	_ = p.Publish(testFrame())

	srv := httptest.NewServer(http.HandlerFunc(p.Handler))
	defer srv.Close()

	r1, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { c, _ := listener.counts(); return c == 2 })
	if p.Consumers() != 2 {
		t.Errorf("consumers: got %d, want 2", p.Consumers())
	}

	r1.Body.Close()
	r2.Body.Close()
	waitFor(t, func() bool { _, d := listener.counts(); return d == 2 })
}

func TestPublisher_UpdatePhase_writes_status_record(t *testing.T) {
	dir := t.TempDir()
	status := ipc.NewStatusStore(dir)
	p := New(testSpec, nil, &countingListener{}, status, 50*time.Millisecond, testLogger(), nil)
	defer p.Close()

	p.UpdatePhase(coord.StreamingState{Phase: coord.PhaseStreaming}, "Integrated Camera")

	rec := status.Read()
	if rec.RuntimePhase != "streaming" {
		t.Errorf("runtime phase: got %q", rec.RuntimePhase)
	}
	if rec.CurrentDeviceName != "Integrated Camera" {
		t.Errorf("device name: got %q", rec.CurrentDeviceName)
	}
	if rec.LastHeartbeat.IsZero() {
		t.Error("entering streaming should stamp a heartbeat")
	}

	p.UpdatePhase(coord.StreamingState{Phase: coord.PhaseError, LastError: "device unplugged"}, "Integrated Camera")
	rec = status.Read()
	if rec.RuntimePhase != "error" || rec.LastErrorMessage != "device unplugged" {
		t.Errorf("error phase record: %+v", rec)
	}
}

func TestPublisher_heartbeat_only_while_streaming(t *testing.T) {
	dir := t.TempDir()
	status := ipc.NewStatusStore(dir)
	p := New(testSpec, nil, &countingListener{}, status, 20*time.Millisecond, testLogger(), nil)
	defer p.Close()

	p.UpdatePhase(coord.StreamingState{Phase: coord.PhaseStreaming}, "Cam")
	first := status.Read().LastHeartbeat
	waitFor(t, func() bool { return status.Read().LastHeartbeat.After(first) })

	// Leaving streaming cancels the timer; the heartbeat goes quiet.
	p.UpdatePhase(coord.StreamingState{Phase: coord.PhaseIdle}, "Cam")
	p.Close() // wait for the timer goroutine to finish any in-flight write
	settled := status.Read().LastHeartbeat
	time.Sleep(100 * time.Millisecond)
	if got := status.Read().LastHeartbeat; !got.Equal(settled) {
		t.Error("heartbeat must stop once the phase leaves streaming")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never satisfied")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
