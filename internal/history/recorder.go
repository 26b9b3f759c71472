package history

import (
	"time"

	"github.com/ralph-loop/ralph/internal/signals"
)

// Recorder adapts DB to the loop driver's per-iteration recording hook.
type Recorder struct {
	DB *DB
}

// RecordIteration stores one loop iteration derived from the driver's
// view of the response analysis.
func (r *Recorder) RecordIteration(sessionID string, loopNumber int, startedAt time.Time, duration time.Duration, lastAction string, rec signals.ResponseAnalysisRecord) error {
	return r.DB.RecordIteration(&Iteration{
		SessionID:       sessionID,
		LoopNumber:      loopNumber,
		StartedAt:       startedAt,
		Duration:        duration,
		LastAction:      lastAction,
		ExitSignal:      rec.Analysis.ExitSignal,
		FilesModified:   rec.Analysis.FilesModified,
		ConfidenceScore: rec.Analysis.ConfidenceScore,
	})
}
