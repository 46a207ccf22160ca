package ipc

import "time"

// Health is the controlling application's view of daemon liveness.
type Health string

const (
	HealthHealthy      Health = "healthy"
	HealthUnresponsive Health = "unresponsive"
)

// DefaultHeartbeatTimeout is the staleness threshold beyond which a streaming
// daemon is considered unresponsive.
const DefaultHeartbeatTimeout = 15 * time.Second

// EvaluateHealth checks heartbeat staleness against the runtime phase.
// Staleness only matters while streaming: an idle daemon is expected to have
// a stale heartbeat, so any non-streaming phase is healthy regardless of
// timestamp age.
func EvaluateHealth(st Status, now time.Time, timeout time.Duration) Health {
	if st.RuntimePhase != "streaming" {
		return HealthHealthy
	}
	if now.Sub(st.LastHeartbeat) > timeout {
		return HealthUnresponsive
	}
	return HealthHealthy
}
