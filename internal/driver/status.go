package driver

import (
	"encoding/json"
	"time"

	"github.com/ralph-loop/ralph/internal/store"
)

// SessionStatus is the externally inspectable snapshot the driver writes
// to status.json after every iteration. Other components treat it as
// read-only.
type SessionStatus struct {
	Timestamp         time.Time `json:"timestamp"`
	LoopCount         int       `json:"loop_count"`
	CallsMadeThisHour uint      `json:"calls_made_this_hour"`
	MaxCallsPerHour   uint      `json:"max_calls_per_hour"`
	LastAction        string    `json:"last_action"`
	Status            string    `json:"status"`
}

// Last-action values reported in status.json.
const (
	ActionRateLimited  = "rate_limited"
	ActionCircuitOpen  = "circuit_open"
	ActionAgentInvoked = "agent_invoked"
)

// Status values reported in status.json.
const (
	StatusRunning = "running"
	StatusWaiting = "waiting"
	StatusStalled = "stalled"
	StatusStopped = "stopped"
)

// WriteStatus atomically persists the status snapshot.
func WriteStatus(dir *store.Dir, st SessionStatus) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return dir.Write(store.StatusFile, data)
}

// ReadStatus loads the last persisted status snapshot. The boolean is
// false when no status file exists or it cannot be parsed.
func ReadStatus(dir *store.Dir) (SessionStatus, bool) {
	data, err := dir.Read(store.StatusFile)
	if err != nil {
		return SessionStatus{}, false
	}
	var st SessionStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return SessionStatus{}, false
	}
	return st, true
}
