// Package budget implements the hourly call budget that gates agent
// invocations. The budget is two scalar records in the state directory:
// the call count and the hour marker of the window it belongs to. When the
// clock rolls into a new hour the count resets to zero.
//
// Missing or unreadable records are treated as a count of zero: the
// tracker fails open and never blocks the loop on absent state.
package budget

import (
	"strconv"
	"strings"
	"time"

	"github.com/ralph-loop/ralph/internal/store"
)

// DefaultMaxCallsPerHour is the default invocation budget per hour window.
const DefaultMaxCallsPerHour = 100

// windowKeyFormat renders an hour-granularity window marker (YYYYMMDDHH).
const windowKeyFormat = "2006010215"

// Tracker enforces the hourly call budget over the persisted records.
type Tracker struct {
	dir     *store.Dir
	maxPerH uint

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Tracker over the given state directory. maxPerHour must be
// validated as positive by the caller; zero falls back to the default.
func New(dir *store.Dir, maxPerHour uint) *Tracker {
	if maxPerHour == 0 {
		maxPerHour = DefaultMaxCallsPerHour
	}
	return &Tracker{dir: dir, maxPerH: maxPerHour, now: time.Now}
}

// MaxCallsPerHour returns the configured budget.
func (t *Tracker) MaxCallsPerHour() uint {
	return t.maxPerH
}

// CanMakeCall reports whether another agent invocation is permitted in the
// current hour window. The hourly reset is applied first, so a stale count
// from a previous hour never blocks a call.
func (t *Tracker) CanMakeCall() bool {
	t.resetIfNewHour()
	return t.CallsMade() < t.maxPerH
}

// CallsMade returns the persisted call count for the current window.
// Absent or unreadable counts read as zero.
func (t *Tracker) CallsMade() uint {
	data, err := t.dir.Read(store.CallCountFile)
	if err != nil {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0
	}
	return uint(n)
}

// IncrementCallCounter adds one call to the current window and persists
// the new count. It returns the count after the increment.
func (t *Tracker) IncrementCallCounter() (uint, error) {
	t.resetIfNewHour()

	n := t.CallsMade() + 1
	if err := t.dir.Write(store.CallCountFile, []byte(strconv.FormatUint(uint64(n), 10))); err != nil {
		return 0, err
	}
	return n, nil
}

// windowKey returns the marker for the current hour.
func (t *Tracker) windowKey() string {
	return t.now().Format(windowKeyFormat)
}

// resetIfNewHour zeroes the call count when the stored window marker does
// not match the current hour. The marker record is rewritten either way so
// a missing marker heals itself.
func (t *Tracker) resetIfNewHour() {
	current := t.windowKey()

	stored := ""
	if data, err := t.dir.Read(store.LastResetFile); err == nil {
		stored = strings.TrimSpace(string(data))
	}

	if stored == current {
		return
	}

	// Window rolled over (or marker missing): start a fresh count.
	// A failed reset leaves the old count in place; it never stops the loop.
	t.dir.Write(store.CallCountFile, []byte("0"))
	t.dir.Write(store.LastResetFile, []byte(current))
}
