package ipc

// Signal is a named, payload-less cross-process notification. A signal is a
// "consider re-reading now" hint: receivers re-read the status record or
// overlay store, never the signal itself, for state. Delivery is best-effort.
type Signal string

const (
	// Controlling application → daemon.
	SignalRequestStart        Signal = "request-start"
	SignalRequestStop         Signal = "request-stop"
	SignalRequestSwitchDevice Signal = "request-switch-device"

	// Daemon → controlling application. Overlay signals also originate from
	// the external overlay renderer after it writes the shared asset.
	SignalStatusChanged  Signal = "status-changed"
	SignalOverlayUpdated Signal = "overlay-updated"
	SignalOverlayCleared Signal = "overlay-cleared"
)

// Valid reports whether s is a known signal name.
func (s Signal) Valid() bool {
	switch s {
	case SignalRequestStart, SignalRequestStop, SignalRequestSwitchDevice,
		SignalStatusChanged, SignalOverlayUpdated, SignalOverlayCleared:
		return true
	}
	return false
}
