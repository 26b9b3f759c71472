// Package decision combines the accumulated exit signals, the latest
// response analysis and the fix plan into a single graceful-exit verdict.
package decision

import (
	"github.com/ralph-loop/ralph/internal/plan"
	"github.com/ralph-loop/ralph/internal/signals"
)

// ExitReason identifies why the loop should stop. Empty means keep going.
type ExitReason string

const (
	// None means no stop condition is met and the loop continues.
	None ExitReason = ""
	// TestSaturation means too many loops did nothing but run tests.
	TestSaturation ExitReason = "TEST_SATURATION"
	// CompletionSignals means the analyzer reported "done" language in
	// enough consecutive responses.
	CompletionSignals ExitReason = "COMPLETION_SIGNALS"
	// ProjectComplete means repeated completion indicators were
	// corroborated by the agent's own explicit exit signal.
	ProjectComplete ExitReason = "PROJECT_COMPLETE"
	// PlanComplete means every item in the fix plan is checked off.
	PlanComplete ExitReason = "PLAN_COMPLETE"
)

// Thresholds are the boundary-inclusive trip counts for each evidence
// stream.
type Thresholds struct {
	// MaxConsecutiveTestLoops trips TestSaturation.
	MaxConsecutiveTestLoops int
	// MaxConsecutiveDoneSignals trips CompletionSignals.
	MaxConsecutiveDoneSignals int
	// MinCompletionIndicators is the indicator count required before an
	// exit signal can confirm ProjectComplete.
	MinCompletionIndicators int
}

// DefaultThresholds returns the stock trip counts.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxConsecutiveTestLoops:   3,
		MaxConsecutiveDoneSignals: 2,
		MinCompletionIndicators:   2,
	}
}

// Input carries everything one evaluation consumes.
type Input struct {
	// Log is the persisted exit signal log.
	Log signals.ExitSignalLog
	// LogReadable is false when the persisted log could not be loaded at
	// all, which short-circuits the decision to None.
	LogReadable bool
	// Latest is the most recent response analysis; a neutral record when
	// absent or unparsable, so its ExitSignal defaults to false.
	Latest signals.ResponseAnalysisRecord
	// FixPlan is the checklist document, empty when absent.
	FixPlan string
}

// ShouldExitGracefully evaluates the exit conditions as an ordered chain;
// the first match wins. Cheaper, more defensive signals are checked before
// stronger but more error-prone ones, so a saturated test-only streak
// stops the loop even when completion evidence exists alongside it.
func ShouldExitGracefully(in Input, th Thresholds) ExitReason {
	if !in.LogReadable {
		return None
	}

	if len(in.Log.TestOnlyLoops) >= th.MaxConsecutiveTestLoops {
		return TestSaturation
	}

	if len(in.Log.DoneSignals) >= th.MaxConsecutiveDoneSignals {
		return CompletionSignals
	}

	// Dual confirmation: repeated indicators alone are not enough, the
	// latest response must carry the agent's explicit exit signal.
	if len(in.Log.CompletionIndicators) >= th.MinCompletionIndicators && in.Latest.Analysis.ExitSignal {
		return ProjectComplete
	}

	if plan.IsPlanComplete(in.FixPlan) {
		return PlanComplete
	}

	return None
}
