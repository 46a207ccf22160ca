package coord

// Phase is the publish-side lifecycle state. Stored as a string because it is
// exchanged verbatim through the shared status record.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseStarting  Phase = "starting"
	PhaseStreaming Phase = "streaming"
	PhaseStopping  Phase = "stopping"
	PhaseError     Phase = "error"
)

// StreamingState reconciles the two independent actors that can keep the
// camera on. ConsumerRefCount counts attached external consumers;
// AppControlled is the controlling application's sticky "keep the camera on"
// claim. They are deliberately separate variables combined with OR — folding
// them into one flag is how a consumer disconnect once cancelled an explicit
// user start.
type StreamingState struct {
	ConsumerRefCount int
	AppControlled    bool
	AutoStartEnabled bool
	Phase            Phase
	LastError        string
}

// ShouldRun reports whether the physical camera should be running for this
// state.
func (s StreamingState) ShouldRun() bool {
	return s.ConsumerRefCount > 0 || s.AppControlled
}
