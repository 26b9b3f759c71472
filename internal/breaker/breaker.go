// Package breaker guards the agent pipeline with a circuit breaker. The
// loop driver only depends on the Breaker interface; the file-backed
// implementation here is one policy choice and can be swapped out without
// touching the driver.
package breaker

import (
	"encoding/json"
	"time"

	"github.com/ralph-loop/ralph/internal/store"
)

// State is the externally visible breaker state.
type State string

const (
	// Closed means the pipeline is healthy and invocations proceed.
	Closed State = "CLOSED"
	// Open means too many consecutive failures; invocations are skipped
	// until the cooldown elapses.
	Open State = "OPEN"
	// HalfOpen means the cooldown elapsed and the next iteration probes
	// whether the pipeline has recovered.
	HalfOpen State = "HALF_OPEN"
)

// Outcome is the result of one loop iteration as reported to the breaker.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Breaker is the contract the loop driver consumes. The driver skips
// agent invocation whenever Status() != Closed.
type Breaker interface {
	// Init prepares the breaker for a new process tree.
	Init() error
	// RecordLoopResult feeds one iteration's outcome into the breaker.
	RecordLoopResult(outcome Outcome) error
	// Status returns the current breaker state.
	Status() State
	// Reset forces the breaker closed, recording the operator's reason.
	Reset(reason string) error
}

// Local policy for the file-backed breaker: consecutive failed iterations
// before tripping, and how long an open breaker cools down before probing.
const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 5 * time.Minute
)

// persistedState is the breaker's on-disk record.
type persistedState struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
	LastResetReason     string    `json:"last_reset_reason,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// FileBreaker persists breaker state in the ralph state directory so it
// survives restarts alongside the rest of the loop state.
type FileBreaker struct {
	dir       *store.Dir
	threshold int
	cooldown  time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewFileBreaker creates a breaker over the given state directory with the
// default trip threshold and cooldown.
func NewFileBreaker(dir *store.Dir) *FileBreaker {
	return &FileBreaker{
		dir:       dir,
		threshold: DefaultFailureThreshold,
		cooldown:  DefaultCooldown,
		now:       time.Now,
	}
}

// Init writes an initial closed record if none exists yet. Existing state
// is kept so an open breaker stays open across restarts.
func (b *FileBreaker) Init() error {
	if b.dir.Exists(store.CircuitStateFile) {
		return nil
	}
	return b.save(persistedState{State: Closed, UpdatedAt: b.now()})
}

// load reads the persisted record, degrading to a closed breaker on
// absent or corrupt state.
func (b *FileBreaker) load() persistedState {
	data, err := b.dir.Read(store.CircuitStateFile)
	if err != nil {
		return persistedState{State: Closed}
	}
	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		return persistedState{State: Closed}
	}
	if ps.State == "" {
		ps.State = Closed
	}
	return ps
}

func (b *FileBreaker) save(ps persistedState) error {
	data, err := json.MarshalIndent(ps, "", "  ")
	if err != nil {
		return err
	}
	return b.dir.Write(store.CircuitStateFile, data)
}

// Status returns the current state, promoting Open to HalfOpen once the
// cooldown has elapsed.
func (b *FileBreaker) Status() State {
	ps := b.load()
	if ps.State == Open && b.now().Sub(ps.OpenedAt) >= b.cooldown {
		ps.State = HalfOpen
		ps.UpdatedAt = b.now()
		b.save(ps)
	}
	return ps.State
}

// RecordLoopResult updates the failure counter and the state machine:
// threshold consecutive failures trip Closed to Open; in HalfOpen a
// success closes the breaker and a failure re-opens it.
func (b *FileBreaker) RecordLoopResult(outcome Outcome) error {
	// Run the cooldown promotion first so a result recorded after the
	// cooldown is judged against HalfOpen.
	state := b.Status()
	ps := b.load()
	ps.State = state

	switch outcome {
	case OutcomeSuccess:
		ps.ConsecutiveFailures = 0
		if ps.State != Closed {
			ps.State = Closed
			ps.OpenedAt = time.Time{}
		}
	case OutcomeFailure:
		ps.ConsecutiveFailures++
		if ps.State == HalfOpen || ps.ConsecutiveFailures >= b.threshold {
			ps.State = Open
			ps.OpenedAt = b.now()
		}
	}

	ps.UpdatedAt = b.now()
	return b.save(ps)
}

// Snapshot is the operator-facing view of the breaker record.
type Snapshot struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
	LastResetReason     string    `json:"last_reset_reason,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Snapshot returns the current record after applying the cooldown
// promotion.
func (b *FileBreaker) Snapshot() Snapshot {
	state := b.Status()
	ps := b.load()
	return Snapshot{
		State:               state,
		ConsecutiveFailures: ps.ConsecutiveFailures,
		OpenedAt:            ps.OpenedAt,
		LastResetReason:     ps.LastResetReason,
		UpdatedAt:           ps.UpdatedAt,
	}
}

// Reset forces the breaker closed and records the operator's reason.
func (b *FileBreaker) Reset(reason string) error {
	return b.save(persistedState{
		State:           Closed,
		LastResetReason: reason,
		UpdatedAt:       b.now(),
	})
}

// Verify FileBreaker implements Breaker at compile time.
var _ Breaker = (*FileBreaker)(nil)
