package daemon

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"vcam-daemon/internal/camera"
	"vcam-daemon/internal/compose"
	"vcam-daemon/internal/coord"
	"vcam-daemon/internal/ipc"
	"vcam-daemon/internal/overlay"
	"vcam-daemon/internal/platform/metrics"
	"vcam-daemon/internal/publish"
)

// Options carries the collaborators the daemon wires together.
type Options struct {
	Session           *camera.SessionManager
	Overlays          *overlay.Store
	Status            *ipc.StatusStore
	Bus               *ipc.Bus
	Metrics           *metrics.Metrics
	Log               *slog.Logger
	Spec              camera.StreamSpec
	Authorize         publish.AuthorizeFunc
	HeartbeatInterval time.Duration
	RefreshInterval   time.Duration
}

// Daemon assembles the frame pipeline (capture → composite → publish) and
// the control plane (bus signals → coordinator events, status record
// mirroring, periodic independent re-reads of the shared records).
type Daemon struct {
	log      *slog.Logger
	met      *metrics.Metrics
	session  *camera.SessionManager
	overlays *overlay.Store
	status   *ipc.StatusStore
	bus      *ipc.Bus
	comp     *compose.Compositor
	coord    *coord.Coordinator
	pub      *publish.Publisher

	frameInterval time.Duration
	refreshEvery  time.Duration

	// Current overlay snapshot, swapped wholesale on update/clear. Read on
	// the capture execution context, so no lock.
	asset atomic.Pointer[overlay.Asset]
}

// New wires a Daemon. The coordinator's auto-start preference is seeded from
// the shared status record (controlling-application owned, default enabled).
func New(opts Options) *Daemon {
	d := &Daemon{
		log:           opts.Log,
		met:           opts.Metrics,
		session:       opts.Session,
		overlays:      opts.Overlays,
		status:        opts.Status,
		bus:           opts.Bus,
		comp:          compose.NewCompositor(opts.Spec.Width, opts.Spec.Height),
		frameInterval: opts.Spec.Interval(),
		refreshEvery:  opts.RefreshInterval,
	}
	if d.refreshEvery <= 0 {
		d.refreshEvery = 5 * time.Second
	}

	autoStart := opts.Status.Read().AutoStartEnabled
	d.coord = coord.New(opts.Session, autoStart, opts.Log, d.onStateChange)
	d.pub = publish.New(opts.Spec, opts.Authorize, d.coord, opts.Status, opts.HeartbeatInterval, opts.Log, opts.Metrics)

	opts.Session.SetSink(d.handleFrame)
	opts.Bus.Notify(d.HandleSignal)
	if opts.Metrics != nil {
		opts.Bus.OnDrop(opts.Metrics.IncSignalsDropped)
	}

	d.ReloadOverlay()
	return d
}

// Publisher returns the publisher for HTTP route registration.
func (d *Daemon) Publisher() *publish.Publisher { return d.pub }

// Coordinator returns the streaming state coordinator.
func (d *Daemon) Coordinator() *coord.Coordinator { return d.coord }

// Run re-reads the shared records on a fixed schedule until ctx is done,
// then tears the pipeline down. Signals only hint at changes; this loop is
// what makes a lost signal harmless.
func (d *Daemon) Run(ctx context.Context) {
	ticker := time.NewTicker(d.refreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.pub.Close()
			d.session.Stop()
			return
		case <-ticker.C:
			d.ReloadOverlay()
			rec := d.status.Read()
			d.coord.SetAutoStart(rec.AutoStartEnabled)
		}
	}
}

// HandleSignal maps an incoming bus signal to its coordinator event or shared
// record re-read.
func (d *Daemon) HandleSignal(sig ipc.Signal) {
	switch sig {
	case ipc.SignalRequestStart:
		d.coord.AppStart()
	case ipc.SignalRequestStop:
		d.coord.AppStop()
	case ipc.SignalRequestSwitchDevice:
		d.switchDevice()
	case ipc.SignalOverlayUpdated, ipc.SignalOverlayCleared:
		d.ReloadOverlay()
	}
}

// ReloadOverlay re-reads the shared overlay store and swaps the snapshot the
// compositor sees. Absence, or a half-written asset that fails to decode,
// simply means "no overlay".
func (d *Daemon) ReloadOverlay() {
	asset, ok := d.overlays.Read()
	if !ok {
		if d.asset.Swap(nil) != nil {
			d.comp.Invalidate()
			d.log.Info("overlay cleared")
		}
		return
	}
	prev := d.asset.Swap(asset)
	if prev == nil || prev.Meta.ContentHash != asset.Meta.ContentHash {
		d.log.Info("overlay updated",
			"preset", asset.Meta.PresetID,
			"hash", asset.Meta.ContentHash,
			"version", asset.Meta.Version,
		)
	}
}

// switchDevice re-reads the persisted device selection and re-configures the
// session under one transaction. The new device name lands in the status
// record; failure surfaces through the coordinator's error path.
func (d *Daemon) switchDevice() {
	rec := d.status.Read()
	if !d.session.SwitchDevice(rec.SelectedDeviceID) {
		err := d.session.LastError()
		if err == nil {
			err = camera.ErrNoDevice
		}
		d.coord.DeviceError(err)
		return
	}
	d.onStateChange(d.coord.State())
}

// handleFrame runs on the capture execution context: one composite cycle per
// frame, publish, and drop accounting when composition overruns the frame
// interval (the device ticker coalesces the missed tick).
func (d *Daemon) handleFrame(f camera.CapturedFrame) {
	start := time.Now()
	if d.met != nil {
		d.met.IncFramesCaptured()
	}

	out := d.comp.Composite(f, d.asset.Load())
	if err := d.pub.Publish(out); err != nil {
		d.log.Error("frame publish failed", "error", err)
		return
	}
	if d.met != nil {
		d.met.IncFramesComposited()
		if d.frameInterval > 0 && time.Since(start) > d.frameInterval {
			d.met.IncFramesDropped()
		}
	}
}

// onStateChange mirrors every coordinator transition into the status record
// and announces it on the bus.
func (d *Daemon) onStateChange(st coord.StreamingState) {
	_, name, _ := d.session.CurrentDevice()
	d.pub.UpdatePhase(st, name)
	d.bus.Publish(ipc.SignalStatusChanged)
	if d.met != nil {
		d.met.IncSignalsSent()
	}
}
