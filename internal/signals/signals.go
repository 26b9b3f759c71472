// Package signals tracks the three independent streams of stop evidence
// the supervisor accumulates across loop iterations, and the per-iteration
// response analysis record they are derived from.
//
// Every load in this package fails open: an absent, empty or corrupt
// record degrades to zero values, never to an error that could stop the
// loop or force an exit decision.
package signals

import (
	"encoding/json"
	"os"
	"time"

	"github.com/ralph-loop/ralph/internal/store"
)

// OutputFormat is the agent output mode the analyzer saw.
type OutputFormat string

const (
	OutputJSON OutputFormat = "json"
	OutputText OutputFormat = "text"
)

// Analysis is the structured classification of one agent response.
// All fields default to their zero value when missing from the persisted
// record, so a partial document can never fabricate a stop signal.
type Analysis struct {
	HasCompletionSignal bool   `json:"has_completion_signal"`
	IsTestOnly          bool   `json:"is_test_only"`
	IsStuck             bool   `json:"is_stuck"`
	HasProgress         bool   `json:"has_progress"`
	FilesModified       int    `json:"files_modified"`
	ConfidenceScore     int    `json:"confidence_score"`
	ExitSignal          bool   `json:"exit_signal"`
	WorkSummary         string `json:"work_summary"`
}

// ResponseAnalysisRecord is the analyzer's verdict on the most recent
// iteration. It is ephemeral and overwritten every loop.
type ResponseAnalysisRecord struct {
	LoopNumber   int          `json:"loop_number"`
	Timestamp    time.Time    `json:"timestamp"`
	OutputFormat OutputFormat `json:"output_format"`
	Analysis     Analysis     `json:"analysis"`
}

// NeutralRecord returns the record used when the analyzer fails or its
// output is unreadable: every boolean false, so no branch of the exit
// decision can fire on missing data.
func NeutralRecord(loopNumber int) ResponseAnalysisRecord {
	return ResponseAnalysisRecord{
		LoopNumber: loopNumber,
		Timestamp:  time.Now(),
	}
}

// ExitSignalLog holds the loop indices at which each stop evidence stream
// fired. Only the lengths are consulted by the exit decision.
type ExitSignalLog struct {
	TestOnlyLoops        []int `json:"test_only_loops"`
	DoneSignals          []int `json:"done_signals"`
	CompletionIndicators []int `json:"completion_indicators"`
}

// emptyLog returns a log with allocated (non-nil) lists so the persisted
// JSON always carries all three arrays.
func emptyLog() ExitSignalLog {
	return ExitSignalLog{
		TestOnlyLoops:        []int{},
		DoneSignals:          []int{},
		CompletionIndicators: []int{},
	}
}

// Store persists the exit signal log and the latest response analysis in
// the state directory.
type Store struct {
	dir *store.Dir
}

// NewStore creates a Store over the given state directory.
func NewStore(dir *store.Dir) *Store {
	return &Store{dir: dir}
}

// Load returns the persisted exit signal log. An absent, empty or
// unparsable document yields the empty log; corruption never propagates
// as an error.
func (s *Store) Load() ExitSignalLog {
	log, _ := s.LoadChecked()
	return log
}

// LoadChecked is Load plus a flag reporting whether the persisted document
// was actually readable. An absent or empty document is a normal session
// start and reads as the empty log with ok=true; an I/O failure or a
// document that fails to parse reads as the empty log with ok=false, which
// the exit decision uses to short-circuit to "keep going".
func (s *Store) LoadChecked() (ExitSignalLog, bool) {
	data, err := s.dir.Read(store.ExitSignalsFile)
	if err != nil {
		return emptyLog(), os.IsNotExist(err)
	}
	if len(data) == 0 {
		return emptyLog(), true
	}

	var log ExitSignalLog
	if err := json.Unmarshal(data, &log); err != nil {
		return emptyLog(), false
	}
	if log.TestOnlyLoops == nil {
		log.TestOnlyLoops = []int{}
	}
	if log.DoneSignals == nil {
		log.DoneSignals = []int{}
	}
	if log.CompletionIndicators == nil {
		log.CompletionIndicators = []int{}
	}
	return log, true
}

// Save atomically persists the exit signal log.
func (s *Store) Save(log ExitSignalLog) error {
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return err
	}
	return s.dir.Write(store.ExitSignalsFile, data)
}

// LoadLatestAnalysis returns the most recent response analysis record.
// Absent or corrupt records yield a neutral record with every signal off.
func (s *Store) LoadLatestAnalysis() ResponseAnalysisRecord {
	data, err := s.dir.Read(store.ResponseAnalysisFile)
	if err != nil || len(data) == 0 {
		return NeutralRecord(0)
	}

	var rec ResponseAnalysisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return NeutralRecord(0)
	}
	return rec
}

// SaveAnalysis atomically persists the latest response analysis record,
// replacing the previous iteration's record.
func (s *Store) SaveAnalysis(rec ResponseAnalysisRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return s.dir.Write(store.ResponseAnalysisFile, data)
}

// UpdateExitSignals appends the analysis' loop number to the evidence
// streams its flags warrant and returns the updated log.
//
// CompletionIndicators is gated on ExitSignal alone: the agent's explicit
// claim that work is complete. ConfidenceScore and HasCompletionSignal
// never cause an append here, alone or combined. Some agent output modes
// always report a confidence of 70 or higher, so any gate on confidence
// would fire on every loop.
func UpdateExitSignals(analysis ResponseAnalysisRecord, log ExitSignalLog) ExitSignalLog {
	if analysis.Analysis.IsTestOnly {
		log.TestOnlyLoops = append(log.TestOnlyLoops, analysis.LoopNumber)
	}
	if analysis.Analysis.HasCompletionSignal {
		log.DoneSignals = append(log.DoneSignals, analysis.LoopNumber)
	}
	if analysis.Analysis.ExitSignal {
		log.CompletionIndicators = append(log.CompletionIndicators, analysis.LoopNumber)
	}
	return log
}

// Apply runs UpdateExitSignals against the persisted log and saves the
// result. This is the single load-mutate-persist cycle the driver calls
// once per iteration.
func (s *Store) Apply(analysis ResponseAnalysisRecord) (ExitSignalLog, error) {
	log := UpdateExitSignals(analysis, s.Load())
	if err := s.Save(log); err != nil {
		return log, err
	}
	return log, nil
}
