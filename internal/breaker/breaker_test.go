package breaker

import (
	"testing"
	"time"

	"github.com/ralph-loop/ralph/internal/store"
)

func newTestBreaker(t *testing.T) *FileBreaker {
	t.Helper()

	dir, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	b := NewFileBreaker(dir)
	if err := b.Init(); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	return b
}

func TestInitStartsClosed(t *testing.T) {
	b := newTestBreaker(t)
	if got := b.Status(); got != Closed {
		t.Errorf("Status() = %v, want %v", got, Closed)
	}
}

func TestInitKeepsExistingState(t *testing.T) {
	b := newTestBreaker(t)
	for i := 0; i < DefaultFailureThreshold; i++ {
		if err := b.RecordLoopResult(OutcomeFailure); err != nil {
			t.Fatalf("RecordLoopResult() error: %v", err)
		}
	}
	if got := b.Status(); got != Open {
		t.Fatalf("Status() = %v, want %v", got, Open)
	}

	// A restart re-runs Init; the open state must survive.
	if err := b.Init(); err != nil {
		t.Fatalf("second Init() error: %v", err)
	}
	if got := b.Status(); got != Open {
		t.Errorf("Status() after re-Init = %v, want %v", got, Open)
	}
}

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	b := newTestBreaker(t)

	for i := 0; i < DefaultFailureThreshold-1; i++ {
		b.RecordLoopResult(OutcomeFailure)
		if got := b.Status(); got != Closed {
			t.Fatalf("Status() after %d failures = %v, want %v", i+1, got, Closed)
		}
	}

	b.RecordLoopResult(OutcomeFailure)
	if got := b.Status(); got != Open {
		t.Errorf("Status() at threshold = %v, want %v", got, Open)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker(t)

	for i := 0; i < DefaultFailureThreshold-1; i++ {
		b.RecordLoopResult(OutcomeFailure)
	}
	b.RecordLoopResult(OutcomeSuccess)
	for i := 0; i < DefaultFailureThreshold-1; i++ {
		b.RecordLoopResult(OutcomeFailure)
	}

	if got := b.Status(); got != Closed {
		t.Errorf("Status() = %v, want %v; success should clear the streak", got, Closed)
	}
}

func TestCooldownPromotesToHalfOpen(t *testing.T) {
	b := newTestBreaker(t)

	frozen := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return frozen }

	for i := 0; i < DefaultFailureThreshold; i++ {
		b.RecordLoopResult(OutcomeFailure)
	}
	if got := b.Status(); got != Open {
		t.Fatalf("Status() = %v, want %v", got, Open)
	}

	// Just before the cooldown: still open.
	b.now = func() time.Time { return frozen.Add(DefaultCooldown - time.Second) }
	if got := b.Status(); got != Open {
		t.Errorf("Status() before cooldown = %v, want %v", got, Open)
	}

	// After the cooldown: probing.
	b.now = func() time.Time { return frozen.Add(DefaultCooldown) }
	if got := b.Status(); got != HalfOpen {
		t.Errorf("Status() after cooldown = %v, want %v", got, HalfOpen)
	}
}

func TestHalfOpenTransitions(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		want    State
	}{
		{name: "success closes", outcome: OutcomeSuccess, want: Closed},
		{name: "failure reopens", outcome: OutcomeFailure, want: Open},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBreaker(t)

			frozen := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
			b.now = func() time.Time { return frozen }
			for i := 0; i < DefaultFailureThreshold; i++ {
				b.RecordLoopResult(OutcomeFailure)
			}

			b.now = func() time.Time { return frozen.Add(DefaultCooldown + time.Second) }
			if got := b.Status(); got != HalfOpen {
				t.Fatalf("Status() = %v, want %v", got, HalfOpen)
			}

			b.RecordLoopResult(tt.outcome)
			if got := b.Status(); got != tt.want {
				t.Errorf("Status() after %s in half-open = %v, want %v", tt.outcome, got, tt.want)
			}
		})
	}
}

func TestResetForcesClosed(t *testing.T) {
	b := newTestBreaker(t)

	for i := 0; i < DefaultFailureThreshold; i++ {
		b.RecordLoopResult(OutcomeFailure)
	}
	if got := b.Status(); got != Open {
		t.Fatalf("Status() = %v, want %v", got, Open)
	}

	if err := b.Reset("operator requested"); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if got := b.Status(); got != Closed {
		t.Errorf("Status() after reset = %v, want %v", got, Closed)
	}

	ps := b.load()
	if ps.LastResetReason != "operator requested" {
		t.Errorf("LastResetReason = %q, want %q", ps.LastResetReason, "operator requested")
	}
	if ps.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", ps.ConsecutiveFailures)
	}
}

func TestCorruptStateReadsClosed(t *testing.T) {
	dir, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	dir.Write(store.CircuitStateFile, []byte("not json"))

	b := NewFileBreaker(dir)
	if got := b.Status(); got != Closed {
		t.Errorf("Status() over corrupt state = %v, want %v", got, Closed)
	}
}
