package camera

import (
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	testPatternMinRate = 1
	testPatternMaxRate = 60
)

// TestPatternDevice is a pure-Go capture device that synthesizes a moving
// gradient at the requested frame rate. It stands in for a hardware backend
// during development and in tests, and doubles as the capture source when the
// daemon runs on a machine without a usable camera.
type TestPatternDevice struct {
	id   string
	name string

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewTestPatternDevice returns a test pattern device with a stable random ID.
func NewTestPatternDevice(name string) *TestPatternDevice {
	return &TestPatternDevice{id: uuid.NewString(), name: name}
}

// ID implements Device.ID.
func (d *TestPatternDevice) ID() string { return d.id }

// Name implements Device.Name.
func (d *TestPatternDevice) Name() string { return d.name }

// Virtual implements Device.Virtual.
func (d *TestPatternDevice) Virtual() bool { return false }

// Supports implements Device.Supports. The synthesizer renders any positive
// resolution at 1..60 fps.
func (d *TestPatternDevice) Supports(spec StreamSpec) bool {
	return spec.Width > 0 && spec.Height > 0 &&
		spec.FrameRate >= testPatternMinRate && spec.FrameRate <= testPatternMaxRate
}

// Start implements Device.Start. Frames are generated on a dedicated
// goroutine; ticks missed while cb runs long are coalesced by the ticker, so
// a slow consumer sees dropped frames rather than a growing queue.
func (d *TestPatternDevice) Start(spec StreamSpec, cb FrameCallback) error {
	if !d.Supports(spec) {
		return ErrUnsupportedSpec
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return ErrDeviceBusy
	}

	stop := make(chan struct{})
	d.stop = stop
	d.wg.Add(1)

	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(spec.Interval())
		defer ticker.Stop()

		n := 0
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				cb(CapturedFrame{
					Buffer: renderTestPattern(spec.Width, spec.Height, n),
					Width:  spec.Width,
					Height: spec.Height,
					Format: FormatRGBA,
					PTS:    now,
				})
				n++
			}
		}
	}()

	return nil
}

// Stop implements Device.Stop. Safe to call multiple times; returns after the
// generator goroutine has exited.
func (d *TestPatternDevice) Stop() {
	d.mu.Lock()
	if d.stop == nil {
		d.mu.Unlock()
		return
	}
	close(d.stop)
	d.stop = nil
	d.mu.Unlock()

	d.wg.Wait()
}

// renderTestPattern draws a diagonal gradient shifted by frame index so
// consecutive frames differ.
func renderTestPattern(w, h, n int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x + n) % 256),
				G: uint8((y + n) % 256),
				B: uint8((x + y) % 256),
				A: 255,
			})
		}
	}
	return img
}
