package ipc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const statusFile = "status.json"

// Status is the shared key/value record of daemon runtime state. It is the
// only authoritative cross-process state: bus signals are hints to re-read
// it, never substitutes for it. The controlling application owns
// SelectedDeviceID and AutoStartEnabled; the daemon owns the rest.
type Status struct {
	RuntimePhase      string    `json:"runtime_phase"`
	LastHeartbeat     time.Time `json:"last_heartbeat"`
	SelectedDeviceID  string    `json:"selected_device_id"`
	AutoStartEnabled  bool      `json:"auto_start_enabled"`
	CurrentDeviceName string    `json:"current_device_name"`
	LastErrorMessage  string    `json:"last_error_message"`
}

// DefaultStatus is the record reported before anything has been written.
// Auto-start defaults to enabled.
func DefaultStatus() Status {
	return Status{RuntimePhase: "idle", AutoStartEnabled: true}
}

// StatusStore persists the status record in the shared container directory
// using the same atomic-replace discipline as the overlay store, so a
// concurrent reader in the other process never sees a torn record.
type StatusStore struct {
	path string

	// Serializes read-modify-write cycles within this process. Cross-process
	// writers each own disjoint fields, so rename atomicity is enough between
	// processes.
	mu sync.Mutex
}

// NewStatusStore returns a StatusStore rooted at the shared directory dir.
func NewStatusStore(dir string) *StatusStore {
	return &StatusStore{path: filepath.Join(dir, statusFile)}
}

// Read returns the current record, or DefaultStatus if none has been written
// or the file is unreadable.
func (s *StatusStore) Read() Status {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return DefaultStatus()
	}
	st := DefaultStatus()
	if err := json.Unmarshal(data, &st); err != nil {
		return DefaultStatus()
	}
	return st
}

// Update applies mutate to the current record and writes the result back
// atomically.
func (s *StatusStore) Update(mutate func(*Status)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.Read()
	mutate(&st)

	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Heartbeat refreshes the heartbeat timestamp.
func (s *StatusStore) Heartbeat(now time.Time) error {
	return s.Update(func(st *Status) { st.LastHeartbeat = now })
}
