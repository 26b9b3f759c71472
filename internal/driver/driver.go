// Package driver orchestrates the supervisor loop: one iteration checks
// the call budget and the circuit breaker, invokes the external agent,
// feeds the analyzed response into the exit signal store, and evaluates
// whether the session should stop.
//
// The driver is the only stateful orchestrator; every other component is
// a pure function over the persisted records, which is what makes the
// loop crash-resumable.
package driver

import (
	"context"
	"time"

	"github.com/fatih/color"

	"github.com/ralph-loop/ralph/internal/breaker"
	"github.com/ralph-loop/ralph/internal/budget"
	"github.com/ralph-loop/ralph/internal/decision"
	"github.com/ralph-loop/ralph/internal/signals"
	"github.com/ralph-loop/ralph/internal/store"
)

// Invoker runs one agent iteration and returns its combined output.
type Invoker interface {
	Invoke(ctx context.Context) ([]byte, error)
}

// Analyzer turns agent output into a response analysis record.
type Analyzer interface {
	Analyze(ctx context.Context, loopNumber int, output []byte) (signals.ResponseAnalysisRecord, error)
}

// HistoryRecorder persists per-iteration history. Satisfied by
// *history.DB; nil disables recording.
type HistoryRecorder interface {
	RecordIteration(sessionID string, loopNumber int, startedAt time.Time, duration time.Duration, lastAction string, rec signals.ResponseAnalysisRecord) error
}

// Options configures a Driver.
type Options struct {
	Budget     *budget.Tracker
	Breaker    breaker.Breaker
	Signals    *signals.Store
	Invoker    Invoker
	Analyzer   Analyzer
	History    HistoryRecorder
	Logger     *Logger
	Thresholds decision.Thresholds

	// SessionID tags status and history records for this run.
	SessionID string
	// RateLimitWait is the sleep before rechecking a spent budget.
	RateLimitWait time.Duration
	// CircuitBackoff is the sleep before rechecking an open breaker.
	CircuitBackoff time.Duration
	// SingleIteration stops after one full iteration regardless of the
	// decision (--no-continue).
	SingleIteration bool
	// Verbose echoes progress to the console.
	Verbose bool
}

// Driver runs the supervisor loop over a state directory.
type Driver struct {
	dir  *store.Dir
	opts Options

	loopCount int

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Driver. The breaker must already be initialized.
func New(dir *store.Dir, opts Options) *Driver {
	if opts.Logger == nil {
		opts.Logger = NopLogger()
	}
	if opts.RateLimitWait <= 0 {
		opts.RateLimitWait = 60 * time.Second
	}
	if opts.CircuitBackoff <= 0 {
		opts.CircuitBackoff = 30 * time.Second
	}
	return &Driver{
		dir:   dir,
		opts:  opts,
		sleep: sleepCtx,
	}
}

// Run executes loop iterations until an exit condition fires or the
// context is canceled. It returns the exit reason; decision.None means
// the loop ended for another cause (context cancellation or
// SingleIteration).
func (d *Driver) Run(ctx context.Context) (decision.ExitReason, error) {
	for {
		if err := ctx.Err(); err != nil {
			return decision.None, err
		}

		reason, ran, err := d.iterate(ctx)
		if err != nil {
			return decision.None, err
		}
		if reason != decision.None {
			return reason, nil
		}
		if d.opts.SingleIteration && ran {
			return decision.None, nil
		}
	}
}

// iterate runs one pass of the loop state machine. ran reports whether
// the agent was actually invoked (false for rate-limited and circuit-open
// passes).
func (d *Driver) iterate(ctx context.Context) (reason decision.ExitReason, ran bool, err error) {
	// CHECK_BUDGET: a spent budget skips the iteration entirely, no
	// invocation and no counter increment.
	if !d.opts.Budget.CanMakeCall() {
		d.opts.Logger.Log("rate limited: %d/%d calls this hour", d.opts.Budget.CallsMade(), d.opts.Budget.MaxCallsPerHour())
		d.echoWarn("Rate limit reached (%d/%d), waiting...", d.opts.Budget.CallsMade(), d.opts.Budget.MaxCallsPerHour())
		d.writeStatus(ActionRateLimited, StatusWaiting)
		return decision.None, false, d.sleep(ctx, d.opts.RateLimitWait)
	}

	// CHECK_CIRCUIT: anything but a closed breaker stalls the iteration.
	if state := d.opts.Breaker.Status(); state != breaker.Closed {
		d.opts.Logger.Log("circuit breaker %s, backing off", state)
		d.echoWarn("Circuit breaker %s, backing off...", state)
		d.writeStatus(ActionCircuitOpen, StatusStalled)
		return decision.None, false, d.sleep(ctx, d.opts.CircuitBackoff)
	}

	// INVOKE
	d.loopCount++
	loop := d.loopCount
	started := time.Now()

	if _, err := d.opts.Budget.IncrementCallCounter(); err != nil {
		d.opts.Logger.Log("increment call counter: %v", err)
	}

	d.echoInfo("Loop %d: invoking agent...", loop)
	output, invokeErr := d.opts.Invoker.Invoke(ctx)
	if invokeErr != nil {
		d.opts.Logger.Log("loop %d: agent invocation failed: %v", loop, invokeErr)
		d.echoWarn("Loop %d: agent failed: %v", loop, invokeErr)
	}
	if path, err := WriteTranscript(d.dir, loop, output); err != nil {
		d.opts.Logger.Log("loop %d: %v", loop, err)
	} else {
		d.opts.Logger.Log("loop %d: transcript %s", loop, path)
	}

	// ANALYZE: a failed analyzer degrades to a neutral record; analysis
	// failure never crashes the loop.
	rec, analyzeErr := d.opts.Analyzer.Analyze(ctx, loop, output)
	if analyzeErr != nil {
		d.opts.Logger.Log("loop %d: analyzer failed, using neutral record: %v", loop, analyzeErr)
		rec = signals.NeutralRecord(loop)
	}
	rec.LoopNumber = loop

	// UPDATE_SIGNALS
	if _, err := d.opts.Signals.Apply(rec); err != nil {
		d.opts.Logger.Log("loop %d: persist exit signals: %v", loop, err)
	}

	outcome := breaker.OutcomeSuccess
	if invokeErr != nil {
		outcome = breaker.OutcomeFailure
	}
	if err := d.opts.Breaker.RecordLoopResult(outcome); err != nil {
		d.opts.Logger.Log("loop %d: record breaker outcome: %v", loop, err)
	}

	// DECIDE
	log, readable := d.opts.Signals.LoadChecked()
	fixPlan := ""
	if data, err := d.dir.Read(store.FixPlanFile); err == nil {
		fixPlan = string(data)
	}
	reason = decision.ShouldExitGracefully(decision.Input{
		Log:         log,
		LogReadable: readable,
		Latest:      rec,
		FixPlan:     fixPlan,
	}, d.opts.Thresholds)

	d.recordHistory(loop, started, time.Since(started), rec, reason)

	if reason != decision.None {
		d.opts.Logger.Log("loop %d: exiting gracefully: %s", loop, reason)
		d.echoDone("Loop %d: exiting gracefully: %s", loop, reason)
		d.writeStatus("exiting: "+string(reason), StatusStopped)
		return reason, true, nil
	}

	d.writeStatus(ActionAgentInvoked, StatusRunning)
	return decision.None, true, nil
}

// writeStatus persists the status snapshot; failures are logged, never
// fatal.
func (d *Driver) writeStatus(lastAction, status string) {
	st := SessionStatus{
		Timestamp:         time.Now(),
		LoopCount:         d.loopCount,
		CallsMadeThisHour: d.opts.Budget.CallsMade(),
		MaxCallsPerHour:   d.opts.Budget.MaxCallsPerHour(),
		LastAction:        lastAction,
		Status:            status,
	}
	if err := WriteStatus(d.dir, st); err != nil {
		d.opts.Logger.Log("write status: %v", err)
	}
}

func (d *Driver) recordHistory(loop int, started time.Time, dur time.Duration, rec signals.ResponseAnalysisRecord, reason decision.ExitReason) {
	if d.opts.History == nil {
		return
	}
	lastAction := ActionAgentInvoked
	if reason != decision.None {
		lastAction = "exiting: " + string(reason)
	}
	if err := d.opts.History.RecordIteration(d.opts.SessionID, loop, started, dur, lastAction, rec); err != nil {
		d.opts.Logger.Log("loop %d: record history: %v", loop, err)
	}
}

func (d *Driver) echoInfo(format string, args ...interface{}) {
	if d.opts.Verbose {
		color.Cyan(format, args...)
	}
}

func (d *Driver) echoWarn(format string, args ...interface{}) {
	if d.opts.Verbose {
		color.Yellow(format, args...)
	}
}

func (d *Driver) echoDone(format string, args ...interface{}) {
	if d.opts.Verbose {
		color.Green(format, args...)
	}
}

// sleepCtx sleeps for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
