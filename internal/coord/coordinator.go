package coord

import (
	"log/slog"
	"sync"
)

// CaptureController is the slice of the capture session the coordinator
// drives. Implemented by camera.SessionManager.
type CaptureController interface {
	Start() error
	Stop()
}

// Coordinator is the single synchronization point for streaming state.
// Consumer connect/disconnect notifications arrive concurrently with
// app-initiated start/stop from unrelated goroutines; every transition runs
// under one mutex, and the camera runs if and only if
// ConsumerRefCount > 0 OR AppControlled.
type Coordinator struct {
	log      *slog.Logger
	ctrl     CaptureController
	onChange func(StreamingState)

	mu sync.Mutex
	st StreamingState
}

// New returns a Coordinator in the Idle phase. onChange, if non-nil, is
// invoked with a state snapshot after every transition, outside the lock.
func New(ctrl CaptureController, autoStart bool, log *slog.Logger, onChange func(StreamingState)) *Coordinator {
	return &Coordinator{
		log:      log,
		ctrl:     ctrl,
		onChange: onChange,
		st: StreamingState{
			AutoStartEnabled: autoStart,
			Phase:            PhaseIdle,
		},
	}
}

// ConsumerConnect records one more attached consumer and starts the camera if
// either actor wants it running. Auto-start never sets AppControlled: a
// consumer-driven start is not a user choice.
func (c *Coordinator) ConsumerConnect() {
	c.mu.Lock()
	c.st.ConsumerRefCount++
	if !c.runningLocked() && (c.st.AppControlled || c.st.AutoStartEnabled) {
		c.startLocked("consumer connect")
	}
	snap := c.st
	c.mu.Unlock()
	c.notify(snap)
}

// ConsumerDisconnect records one fewer attached consumer and stops the camera
// only when nobody is left watching AND the app holds no claim. It must never
// clear AppControlled: "no consumer is watching" is not "the user turned the
// camera off".
func (c *Coordinator) ConsumerDisconnect() {
	c.mu.Lock()
	if c.st.ConsumerRefCount > 0 {
		c.st.ConsumerRefCount--
	}
	if c.st.ConsumerRefCount == 0 && !c.st.AppControlled && c.runningLocked() {
		c.stopLocked("last consumer disconnect")
	}
	snap := c.st
	c.mu.Unlock()
	c.notify(snap)
}

// AppStart records the controlling application's explicit start and ensures
// the camera is running.
func (c *Coordinator) AppStart() {
	c.mu.Lock()
	c.st.AppControlled = true
	if !c.runningLocked() {
		c.startLocked("app start")
	}
	snap := c.st
	c.mu.Unlock()
	c.notify(snap)
}

// AppStop releases the application's claim. Consumers still attached keep the
// camera running; the app's stop never forcibly disconnects them.
func (c *Coordinator) AppStop() {
	c.mu.Lock()
	c.st.AppControlled = false
	if c.st.ConsumerRefCount == 0 && c.runningLocked() {
		c.stopLocked("app stop")
	}
	snap := c.st
	c.mu.Unlock()
	c.notify(snap)
}

// DeviceError transitions to the Error phase, preserving the counters for
// diagnosis. The message surfaces through the status record.
func (c *Coordinator) DeviceError(err error) {
	c.mu.Lock()
	c.st.Phase = PhaseError
	c.st.LastError = err.Error()
	c.log.Error("device error", "error", err)
	snap := c.st
	c.mu.Unlock()
	c.notify(snap)
}

// SetAutoStart updates the auto-start preference. Takes effect on the next
// consumer connect; it does not start or stop anything by itself.
func (c *Coordinator) SetAutoStart(enabled bool) {
	c.mu.Lock()
	c.st.AutoStartEnabled = enabled
	c.mu.Unlock()
}

// State returns a snapshot of the current streaming state.
func (c *Coordinator) State() StreamingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

func (c *Coordinator) runningLocked() bool {
	return c.st.Phase == PhaseStarting || c.st.Phase == PhaseStreaming
}

func (c *Coordinator) startLocked(reason string) {
	c.st.Phase = PhaseStarting
	if err := c.ctrl.Start(); err != nil {
		c.st.Phase = PhaseError
		c.st.LastError = err.Error()
		c.log.Error("capture start failed", "reason", reason, "error", err)
		return
	}
	c.st.Phase = PhaseStreaming
	c.st.LastError = ""
	c.log.Info("camera started", "reason", reason)
}

func (c *Coordinator) stopLocked(reason string) {
	c.st.Phase = PhaseStopping
	c.ctrl.Stop()
	c.st.Phase = PhaseIdle
	c.log.Info("camera stopped", "reason", reason)
}

func (c *Coordinator) notify(snap StreamingState) {
	if c.onChange != nil {
		c.onChange(snap)
	}
}
