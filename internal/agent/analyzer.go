package agent

import (
	"context"

	"github.com/ralph-loop/ralph/internal/signals"
)

// Analyzer turns one iteration's raw agent output into a structured
// response analysis record. The classification itself is external to the
// supervisor; the loop driver only consumes the record and substitutes a
// neutral one whenever analysis fails.
type Analyzer interface {
	Analyze(ctx context.Context, loopNumber int, output []byte) (signals.ResponseAnalysisRecord, error)
}

// RecordAnalyzer delegates to an external analyzer process and then reads
// back the record it wrote to the state directory.
type RecordAnalyzer struct {
	runner  commandRunner
	store   *signals.Store
	command string
	args    []string
}

// commandRunner is the subset of exec.CommandRunner the analyzer needs.
type commandRunner interface {
	Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error)
}

// NewRecordAnalyzer creates a RecordAnalyzer. When command is empty the
// analyzer step is a pure read of the record some external process
// maintains.
func NewRecordAnalyzer(runner commandRunner, st *signals.Store, command string, args ...string) *RecordAnalyzer {
	return &RecordAnalyzer{runner: runner, store: st, command: command, args: args}
}

// Analyze optionally runs the external analyzer command and returns the
// latest persisted record, stamped with the current loop number when the
// analyzer left it unset.
func (a *RecordAnalyzer) Analyze(ctx context.Context, loopNumber int, output []byte) (signals.ResponseAnalysisRecord, error) {
	if a.command != "" {
		if _, err := a.runner.Run(ctx, "", a.command, a.args...); err != nil {
			return signals.NeutralRecord(loopNumber), err
		}
	}

	rec := a.store.LoadLatestAnalysis()
	if rec.LoopNumber == 0 {
		rec.LoopNumber = loopNumber
	}
	return rec, nil
}

var _ Analyzer = (*RecordAnalyzer)(nil)
