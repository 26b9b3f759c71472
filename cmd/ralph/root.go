package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ralph-loop/ralph/internal/agent"
	"github.com/ralph-loop/ralph/internal/breaker"
	"github.com/ralph-loop/ralph/internal/budget"
	"github.com/ralph-loop/ralph/internal/config"
	"github.com/ralph-loop/ralph/internal/decision"
	"github.com/ralph-loop/ralph/internal/driver"
	"github.com/ralph-loop/ralph/internal/exec"
	"github.com/ralph-loop/ralph/internal/history"
	"github.com/ralph-loop/ralph/internal/signals"
	"github.com/ralph-loop/ralph/internal/store"
)

var (
	flagCalls         int
	flagTimeout       int
	flagOutputFormat  string
	flagStatus        bool
	flagResetCircuit  bool
	flagCircuitStatus bool
	flagNoContinue    bool
	flagVerbose       bool
	flagMonitor       bool
)

var rootCmd = &cobra.Command{
	Use:   "ralph",
	Short: "Autonomous agent loop supervisor",
	Long: `Ralph supervises an autonomous coding-agent loop: it invokes the agent
against PROMPT.md, tracks an hourly call budget, guards the pipeline with
a circuit breaker, and decides from the agent's own signals when the work
is done.

All loop state lives in the .ralph/ directory, so an interrupted session
resumes where it left off.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          runRoot,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().IntVarP(&flagCalls, "calls", "c", 0, "Max agent calls per hour")
	rootCmd.Flags().IntVarP(&flagTimeout, "timeout", "t", 0, "Per-call timeout in minutes (1-120)")
	rootCmd.Flags().StringVar(&flagOutputFormat, "output-format", "", "Agent output format: json or text")
	rootCmd.Flags().BoolVarP(&flagStatus, "status", "s", false, "Print the current session status and exit")
	rootCmd.Flags().BoolVar(&flagResetCircuit, "reset-circuit", false, "Force the circuit breaker closed and exit")
	rootCmd.Flags().BoolVar(&flagCircuitStatus, "circuit-status", false, "Print the circuit breaker state and exit")
	rootCmd.Flags().BoolVar(&flagNoContinue, "no-continue", false, "Run a single iteration and exit")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "Echo loop progress to the console")
	rootCmd.Flags().BoolVarP(&flagMonitor, "monitor", "m", false, "Open the live status monitor")

	rootCmd.SetFlagErrorFunc(flagError)
	rootCmd.AddCommand(versionCmd)
}

// flagError rewrites pflag parse errors into this tool's diagnostics.
// Flag errors are caller mistakes and must fail before any state file is
// touched.
func flagError(cmd *cobra.Command, err error) error {
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "unknown flag:"),
		strings.HasPrefix(msg, "unknown shorthand flag:"):
		return fmt.Errorf("Unknown option: %s\n%s", flagFromError(msg), cmd.UsageString())
	case strings.Contains(msg, "--timeout"):
		return fmt.Errorf("timeout must be a positive integer between 1 and 120")
	case strings.Contains(msg, "--calls"):
		return fmt.Errorf("calls must be a positive integer")
	}
	return fmt.Errorf("%s\n%s", msg, cmd.UsageString())
}

// flagFromError extracts the offending flag from a pflag error message.
func flagFromError(msg string) string {
	if i := strings.Index(msg, ": "); i >= 0 {
		flag := msg[i+2:]
		// Shorthand errors read: unknown shorthand flag: 'x' in -xyz
		if j := strings.Index(flag, " in "); j >= 0 {
			return strings.Trim(flag[:j], "'")
		}
		return flag
	}
	return msg
}

func runRoot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	switch {
	case flagStatus:
		return runStatus(cfg)
	case flagCircuitStatus:
		return runCircuitStatus(cfg)
	case flagResetCircuit:
		return runResetCircuit(cfg)
	case flagMonitor:
		return runMonitor(cfg)
	}
	return runLoop(cfg)
}

// applyFlags layers explicitly set CLI flags over the loaded config.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("calls") {
		cfg.MaxCallsPerHour = flagCalls
	}
	if cmd.Flags().Changed("timeout") {
		cfg.TimeoutMinutes = flagTimeout
	}
	if cmd.Flags().Changed("output-format") {
		cfg.OutputFormat = flagOutputFormat
	}
}

// runLoop wires the supervisor together and drives it until an exit
// condition fires or the process is signaled.
func runLoop(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir, err := store.Open(cfg.StateDir)
	if err != nil {
		return err
	}

	db, err := history.Open(history.Path(dir.Root()))
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate history: %w", err)
	}

	sessionID := uuid.New().String()
	if err := db.CreateSession(&history.Session{
		ID:              sessionID,
		StartedAt:       time.Now(),
		MaxCallsPerHour: cfg.MaxCallsPerHour,
		Status:          history.SessionActive,
	}); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	brk := breaker.NewFileBreaker(dir)
	if err := brk.Init(); err != nil {
		return fmt.Errorf("init circuit breaker: %w", err)
	}

	runner := exec.NewRunner()
	inv := agent.NewInvoker(runner, dir, cfg.TimeoutMinutes, signals.OutputFormat(cfg.OutputFormat))
	inv.SetCommand(cfg.AgentCommand)

	sigStore := signals.NewStore(dir)
	logger := driver.NewLogger(dir)
	defer logger.Close()

	th := cfg.DecisionThresholds()
	d := driver.New(dir, driver.Options{
		Budget:   budget.New(dir, uint(cfg.MaxCallsPerHour)),
		Breaker:  brk,
		Signals:  sigStore,
		Invoker:  inv,
		Analyzer: agent.NewRecordAnalyzer(runner, sigStore, cfg.AnalyzerCommand),
		History:  &history.Recorder{DB: db},
		Logger:   logger,
		Thresholds: decision.Thresholds{
			MaxConsecutiveTestLoops:   th.MaxTestLoops,
			MaxConsecutiveDoneSignals: th.MaxDoneSignals,
			MinCompletionIndicators:   th.MinCompletionIndicators,
		},
		SessionID:       sessionID,
		RateLimitWait:   cfg.Loop.RateLimitWait,
		CircuitBackoff:  cfg.Loop.CircuitBackoff,
		SingleIteration: flagNoContinue,
		Verbose:         flagVerbose,
	})

	reason, runErr := d.Run(ctx)

	endStatus := history.SessionCompleted
	exitReason := string(reason)
	switch {
	case runErr == context.Canceled:
		exitReason = "interrupted"
	case runErr != nil:
		endStatus = history.SessionFailed
		exitReason = runErr.Error()
	}
	if err := db.EndSession(sessionID, endStatus, exitReason); err != nil {
		logger.Log("end session: %v", err)
	}

	switch {
	case runErr == context.Canceled:
		fmt.Println("Interrupted; session state saved")
		return nil
	case runErr != nil:
		return runErr
	case reason != decision.None:
		fmt.Printf("Exiting gracefully: %s\n", reason)
	}
	return nil
}
