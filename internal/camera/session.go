package camera

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Capture presets tried in order during configuration. If the device supports
// neither, configuration fails.
var (
	PresetHigh     = StreamSpec{Width: 1280, Height: 720, FrameRate: 30}
	PresetFallback = StreamSpec{Width: 640, Height: 480, FrameRate: 30}
)

var (
	// ErrPermissionDenied is returned when capture permission is denied or
	// restricted. Terminal until external user action.
	ErrPermissionDenied = errors.New("camera permission denied or restricted")

	// ErrPermissionPending is recorded when permission is not determined and
	// an asynchronous request is in flight.
	ErrPermissionPending = errors.New("camera permission not determined, request pending")

	// ErrNoDevice is returned when no usable capture device can be resolved.
	ErrNoDevice = errors.New("no capture device available")

	// ErrUnsupportedSpec is returned when a device supports none of the
	// capture presets.
	ErrUnsupportedSpec = errors.New("no supported capture preset")

	// ErrNotConfigured is returned by Start before a successful Configure.
	ErrNotConfigured = errors.New("capture session not configured")

	// ErrDeviceBusy is returned when a device already has an active session.
	// Retried only if the caller explicitly re-invokes Configure.
	ErrDeviceBusy = errors.New("capture device busy")
)

// SessionManager owns the physical camera device and its capture session.
// Configuration is transactional: any failure rolls the manager back to
// unconfigured rather than leaving a half-built session. At most one session
// is active at a time.
type SessionManager struct {
	log  *slog.Logger
	enum Enumerator
	auth Authorizer

	// sink is read on the capture execution context, so it lives outside the
	// control-path mutex.
	sink atomic.Value // FrameCallback

	mu         sync.Mutex
	device     Device
	spec       StreamSpec
	configured bool
	running    bool
	lastErr    error
}

// NewSessionManager returns a SessionManager that resolves devices through
// enum and checks capture permission through auth.
func NewSessionManager(enum Enumerator, auth Authorizer, log *slog.Logger) *SessionManager {
	return &SessionManager{log: log, enum: enum, auth: auth}
}

// SetSink registers the frame callback for subsequent frames. May be called
// while running.
func (m *SessionManager) SetSink(cb FrameCallback) {
	m.sink.Store(cb)
}

// Configure resolves a device and negotiates a capture preset. deviceID is
// the persisted stable identifier; empty means "no explicit selection".
// Resolution order: explicit ID if still present, then the platform default,
// then the first enumerated device that is not a virtual camera.
//
// If permission is not yet determined, Configure triggers an asynchronous
// permission request and returns false immediately; on a granted result it
// re-invokes itself from the permission callback. It never blocks the caller.
func (m *SessionManager) Configure(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configureLocked(deviceID)
}

func (m *SessionManager) configureLocked(deviceID string) bool {
	m.configured = false
	m.device = nil

	switch m.auth.Status() {
	case AuthDenied, AuthRestricted:
		m.lastErr = ErrPermissionDenied
		m.log.Error("capture configuration failed", "error", m.lastErr)
		return false
	case AuthNotDetermined:
		m.lastErr = ErrPermissionPending
		m.auth.Request(func(granted bool) {
			if granted {
				m.Configure(deviceID)
			}
		})
		return false
	}

	dev := m.resolveDeviceLocked(deviceID)
	if dev == nil {
		m.lastErr = ErrNoDevice
		m.log.Error("capture configuration failed", "error", m.lastErr)
		return false
	}

	spec, ok := negotiatePreset(dev)
	if !ok {
		m.lastErr = ErrUnsupportedSpec
		m.log.Error("capture configuration failed",
			"device", dev.Name(), "error", m.lastErr)
		return false
	}

	m.device = dev
	m.spec = spec
	m.configured = true
	m.lastErr = nil
	m.log.Info("capture session configured",
		"device_id", dev.ID(),
		"device", dev.Name(),
		"width", spec.Width,
		"height", spec.Height,
		"fps", spec.FrameRate,
	)
	return true
}

// resolveDeviceLocked applies the device resolution policy.
func (m *SessionManager) resolveDeviceLocked(deviceID string) Device {
	devices := m.enum.Devices()

	if deviceID != "" {
		for _, d := range devices {
			if d.ID() == deviceID && !d.Virtual() {
				return d
			}
		}
	}
	if d, ok := m.enum.Default(); ok {
		return d
	}
	for _, d := range devices {
		if !d.Virtual() {
			return d
		}
	}
	return nil
}

func negotiatePreset(dev Device) (StreamSpec, bool) {
	if dev.Supports(PresetHigh) {
		return PresetHigh, true
	}
	if dev.Supports(PresetFallback) {
		return PresetFallback, true
	}
	return StreamSpec{}, false
}

// Start begins frame delivery from the configured device. Idempotent while
// running.
func (m *SessionManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked()
}

func (m *SessionManager) startLocked() error {
	if !m.configured {
		if m.lastErr == nil {
			m.lastErr = ErrNotConfigured
		}
		return m.lastErr
	}
	if m.running {
		return nil
	}
	if err := m.device.Start(m.spec, m.dispatch); err != nil {
		m.lastErr = err
		m.log.Error("capture start failed", "device", m.device.Name(), "error", err)
		return err
	}
	m.running = true
	m.log.Info("capture session started", "device", m.device.Name())
	return nil
}

// Stop halts frame delivery. Idempotent.
func (m *SessionManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *SessionManager) stopLocked() {
	if !m.running {
		return
	}
	m.device.Stop()
	m.running = false
	m.log.Info("capture session stopped", "device", m.device.Name())
}

// SwitchDevice swaps the capture device under one configuration transaction.
// While running, the old device is stopped and the new one started before the
// lock is released, so no frame is emitted from a torn-down session. On
// failure the manager rolls back to unconfigured.
func (m *SessionManager) SwitchDevice(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasRunning := m.running
	if wasRunning {
		m.stopLocked()
	}
	if !m.configureLocked(deviceID) {
		return false
	}
	if wasRunning {
		if err := m.startLocked(); err != nil {
			m.configured = false
			m.device = nil
			return false
		}
	}
	return true
}

// Running reports whether a capture session is active.
func (m *SessionManager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Spec returns the negotiated stream spec. Valid only after a successful
// Configure.
func (m *SessionManager) Spec() StreamSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spec
}

// CurrentDevice returns the configured device's stable ID and display name.
func (m *SessionManager) CurrentDevice() (id, name string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return "", "", false
	}
	return m.device.ID(), m.device.Name(), true
}

// LastError returns the most recent terminal configuration failure, or nil.
func (m *SessionManager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// dispatch forwards a frame to the registered sink without touching the
// control-path mutex.
func (m *SessionManager) dispatch(f CapturedFrame) {
	if cb, ok := m.sink.Load().(FrameCallback); ok && cb != nil {
		cb(f)
	}
}
