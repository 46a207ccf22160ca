package camera

import "sync"

// Device is a video capture source. Start begins asynchronous frame delivery
// to cb and returns immediately; Stop is idempotent and blocks until no
// further callbacks will fire. Implementations backed by hardware APIs
// (V4L2, GStreamer, OpenCV) plug in behind this interface.
type Device interface {
	ID() string
	Name() string
	// Virtual reports whether this device is itself a virtual camera output.
	// The session manager never captures from such a device.
	Virtual() bool
	Supports(spec StreamSpec) bool
	Start(spec StreamSpec, cb FrameCallback) error
	Stop()
}

// Enumerator lists the capture devices currently present.
type Enumerator interface {
	Devices() []Device
	// Default returns the platform-preferred capture device, if any.
	Default() (Device, bool)
}

// Registry is an Enumerator over explicitly registered devices. The first
// registered non-virtual device is the default.
type Registry struct {
	mu      sync.RWMutex
	devices []Device
}

// NewRegistry returns an empty device registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a device to the registry.
func (r *Registry) Register(d Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = append(r.devices, d)
}

// Devices implements Enumerator.Devices.
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// Default implements Enumerator.Default.
func (r *Registry) Default() (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if !d.Virtual() {
			return d, true
		}
	}
	return nil, false
}
