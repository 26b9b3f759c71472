package driver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ralph-loop/ralph/internal/breaker"
	"github.com/ralph-loop/ralph/internal/budget"
	"github.com/ralph-loop/ralph/internal/decision"
	"github.com/ralph-loop/ralph/internal/signals"
	"github.com/ralph-loop/ralph/internal/store"
)

// scriptedInvoker returns canned output per call.
type scriptedInvoker struct {
	calls  int
	output []byte
	err    error
}

func (s *scriptedInvoker) Invoke(ctx context.Context) ([]byte, error) {
	s.calls++
	return s.output, s.err
}

// scriptedAnalyzer returns one record per call, repeating the last.
type scriptedAnalyzer struct {
	records []signals.ResponseAnalysisRecord
	errs    []error
	calls   int
}

func (s *scriptedAnalyzer) Analyze(ctx context.Context, loopNumber int, output []byte) (signals.ResponseAnalysisRecord, error) {
	i := s.calls
	s.calls++
	if i >= len(s.records) {
		i = len(s.records) - 1
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	rec := s.records[i]
	rec.LoopNumber = loopNumber
	return rec, err
}

type fixture struct {
	dir      *store.Dir
	driver   *Driver
	invoker  *scriptedInvoker
	analyzer *scriptedAnalyzer
	breaker  *breaker.FileBreaker
	sigStore *signals.Store
	slept    []time.Duration
}

func newFixture(t *testing.T, maxCalls uint, analyzer *scriptedAnalyzer) *fixture {
	t.Helper()

	dir, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	dir.Write(store.PromptFile, []byte("prompt"))

	brk := breaker.NewFileBreaker(dir)
	if err := brk.Init(); err != nil {
		t.Fatalf("breaker.Init() error: %v", err)
	}

	f := &fixture{
		dir:      dir,
		invoker:  &scriptedInvoker{output: []byte("ok")},
		analyzer: analyzer,
		breaker:  brk,
		sigStore: signals.NewStore(dir),
	}
	f.driver = New(dir, Options{
		Budget:     budget.New(dir, maxCalls),
		Breaker:    brk,
		Signals:    f.sigStore,
		Invoker:    f.invoker,
		Analyzer:   analyzer,
		Thresholds: decision.DefaultThresholds(),
		SessionID:  "test-session",
	})
	f.driver.sleep = func(ctx context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		return nil
	}
	return f
}

func neutralRecords(n int) []signals.ResponseAnalysisRecord {
	out := make([]signals.ResponseAnalysisRecord, n)
	for i := range out {
		out[i] = signals.NeutralRecord(i + 1)
	}
	return out
}

func TestSingleIterationStops(t *testing.T) {
	f := newFixture(t, 100, &scriptedAnalyzer{records: neutralRecords(1)})
	f.driver.opts.SingleIteration = true

	reason, err := f.driver.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if reason != decision.None {
		t.Errorf("Run() reason = %q, want none", reason)
	}
	if f.invoker.calls != 1 {
		t.Errorf("invoker calls = %d, want 1", f.invoker.calls)
	}

	st, ok := ReadStatus(f.dir)
	if !ok {
		t.Fatal("status.json not written")
	}
	if st.LoopCount != 1 {
		t.Errorf("LoopCount = %d, want 1", st.LoopCount)
	}
	if st.LastAction != ActionAgentInvoked {
		t.Errorf("LastAction = %q, want %q", st.LastAction, ActionAgentInvoked)
	}
	if st.CallsMadeThisHour != 1 {
		t.Errorf("CallsMadeThisHour = %d, want 1", st.CallsMadeThisHour)
	}
}

func TestRateLimitSkipsInvocation(t *testing.T) {
	f := newFixture(t, 1, &scriptedAnalyzer{records: neutralRecords(1)})
	f.driver.opts.SingleIteration = true

	// First run consumes the entire budget of 1.
	if _, err := f.driver.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error: %v", err)
	}

	// The next pass must skip the agent, report waiting, and sleep.
	if _, _, err := f.driver.iterate(context.Background()); err != nil {
		t.Fatalf("iterate() error: %v", err)
	}
	if f.invoker.calls != 1 {
		t.Errorf("invoker calls = %d, want 1 (second pass must not invoke)", f.invoker.calls)
	}
	if len(f.slept) != 1 {
		t.Fatalf("sleeps = %d, want 1", len(f.slept))
	}

	st, ok := ReadStatus(f.dir)
	if !ok {
		t.Fatal("status.json not written")
	}
	if st.LastAction != ActionRateLimited {
		t.Errorf("LastAction = %q, want %q", st.LastAction, ActionRateLimited)
	}
	if st.Status != StatusWaiting {
		t.Errorf("Status = %q, want %q", st.Status, StatusWaiting)
	}
}

func TestOpenCircuitSkipsInvocation(t *testing.T) {
	f := newFixture(t, 100, &scriptedAnalyzer{records: neutralRecords(1)})

	for i := 0; i < breaker.DefaultFailureThreshold; i++ {
		f.breaker.RecordLoopResult(breaker.OutcomeFailure)
	}

	if _, _, err := f.driver.iterate(context.Background()); err != nil {
		t.Fatalf("iterate() error: %v", err)
	}
	if f.invoker.calls != 0 {
		t.Errorf("invoker calls = %d, want 0 with open breaker", f.invoker.calls)
	}

	st, ok := ReadStatus(f.dir)
	if !ok {
		t.Fatal("status.json not written")
	}
	if st.LastAction != ActionCircuitOpen {
		t.Errorf("LastAction = %q, want %q", st.LastAction, ActionCircuitOpen)
	}
	if st.Status != StatusStalled {
		t.Errorf("Status = %q, want %q", st.Status, StatusStalled)
	}
}

func TestAnalyzerFailureUsesNeutralRecord(t *testing.T) {
	rec := signals.NeutralRecord(1)
	rec.Analysis.ExitSignal = true

	f := newFixture(t, 100, &scriptedAnalyzer{
		records: []signals.ResponseAnalysisRecord{rec},
		errs:    []error{errors.New("analyzer crashed")},
	})
	f.driver.opts.SingleIteration = true

	if _, err := f.driver.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// The error path must discard the record's signals.
	log := f.sigStore.Load()
	if len(log.CompletionIndicators) != 0 {
		t.Errorf("CompletionIndicators len = %d, want 0 after analyzer failure", len(log.CompletionIndicators))
	}
}

func TestInvokeFailureFeedsBreaker(t *testing.T) {
	f := newFixture(t, 100, &scriptedAnalyzer{records: neutralRecords(1)})
	f.invoker.err = errors.New("exit status 1")

	for i := 0; i < breaker.DefaultFailureThreshold; i++ {
		if _, _, err := f.driver.iterate(context.Background()); err != nil {
			t.Fatalf("iterate() error: %v", err)
		}
	}

	if got := f.breaker.Status(); got != breaker.Open {
		t.Errorf("breaker status = %v, want %v after repeated failures", got, breaker.Open)
	}
}

func TestExitOnTestSaturation(t *testing.T) {
	rec := signals.NeutralRecord(0)
	rec.Analysis.IsTestOnly = true

	f := newFixture(t, 100, &scriptedAnalyzer{records: []signals.ResponseAnalysisRecord{rec}})

	reason, err := f.driver.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if reason != decision.TestSaturation {
		t.Errorf("Run() reason = %q, want %q", reason, decision.TestSaturation)
	}
	if f.invoker.calls != 3 {
		t.Errorf("invoker calls = %d, want 3 (threshold)", f.invoker.calls)
	}

	st, ok := ReadStatus(f.dir)
	if !ok {
		t.Fatal("status.json not written")
	}
	if st.Status != StatusStopped {
		t.Errorf("Status = %q, want %q", st.Status, StatusStopped)
	}
	if st.LastAction != "exiting: TEST_SATURATION" {
		t.Errorf("LastAction = %q", st.LastAction)
	}
}

func TestExitOnPlanComplete(t *testing.T) {
	f := newFixture(t, 100, &scriptedAnalyzer{records: neutralRecords(1)})
	f.dir.Write(store.FixPlanFile, []byte("- [x] a\n- [x] b\n"))

	reason, err := f.driver.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if reason != decision.PlanComplete {
		t.Errorf("Run() reason = %q, want %q", reason, decision.PlanComplete)
	}
	if f.invoker.calls != 1 {
		t.Errorf("invoker calls = %d, want 1", f.invoker.calls)
	}
}

func TestContextCancellationStopsLoop(t *testing.T) {
	f := newFixture(t, 100, &scriptedAnalyzer{records: neutralRecords(1)})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	f.driver.opts.Invoker = invokerFunc(func(c context.Context) ([]byte, error) {
		calls++
		if calls >= 3 {
			cancel()
		}
		return []byte("ok"), nil
	})

	_, err := f.driver.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

type invokerFunc func(ctx context.Context) ([]byte, error)

func (f invokerFunc) Invoke(ctx context.Context) ([]byte, error) { return f(ctx) }

// End-to-end scenario: a 25-call budget is consumed, the 26th check is
// rate limited without any exit reason, and four test-only loops trip
// TEST_SATURATION.
func TestEndToEndScenario(t *testing.T) {
	dir, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}

	tr := budget.New(dir, 25)
	for i := 0; i < 25; i++ {
		if !tr.CanMakeCall() {
			t.Fatalf("CanMakeCall() false at call %d", i+1)
		}
		if _, err := tr.IncrementCallCounter(); err != nil {
			t.Fatalf("IncrementCallCounter() error: %v", err)
		}
	}
	if tr.CanMakeCall() {
		t.Error("CanMakeCall() true on 26th check, want false")
	}

	sigStore := signals.NewStore(dir)
	for loop := 1; loop <= 4; loop++ {
		rec := signals.NeutralRecord(loop)
		rec.Analysis.IsTestOnly = true
		if _, err := sigStore.Apply(rec); err != nil {
			t.Fatalf("Apply() error: %v", err)
		}

		log, readable := sigStore.LoadChecked()
		reason := decision.ShouldExitGracefully(decision.Input{
			Log:         log,
			LogReadable: readable,
			Latest:      rec,
		}, decision.DefaultThresholds())

		if loop < 3 && reason != decision.None {
			t.Errorf("loop %d: reason = %q, want none below threshold", loop, reason)
		}
		if loop >= 3 && reason != decision.TestSaturation {
			t.Errorf("loop %d: reason = %q, want %q", loop, reason, decision.TestSaturation)
		}
	}
}
