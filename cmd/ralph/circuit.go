package main

import (
	"fmt"
	"time"

	"github.com/ralph-loop/ralph/internal/breaker"
	"github.com/ralph-loop/ralph/internal/config"
	"github.com/ralph-loop/ralph/internal/store"
)

// runCircuitStatus prints the circuit breaker record.
func runCircuitStatus(cfg *config.Config) error {
	dir, err := store.Open(cfg.StateDir)
	if err != nil {
		return err
	}

	snap := breaker.NewFileBreaker(dir).Snapshot()
	fmt.Printf("Circuit breaker: %s\n", snap.State)
	fmt.Printf("  Consecutive failures: %d\n", snap.ConsecutiveFailures)
	if snap.State != breaker.Closed && !snap.OpenedAt.IsZero() {
		fmt.Printf("  Opened: %s ago\n", formatDuration(time.Since(snap.OpenedAt)))
	}
	if snap.LastResetReason != "" {
		fmt.Printf("  Last reset: %s\n", snap.LastResetReason)
	}
	return nil
}

// runResetCircuit forces the breaker closed.
func runResetCircuit(cfg *config.Config) error {
	dir, err := store.Open(cfg.StateDir)
	if err != nil {
		return err
	}

	brk := breaker.NewFileBreaker(dir)
	if err := brk.Reset("manual reset"); err != nil {
		return fmt.Errorf("reset circuit breaker: %w", err)
	}
	fmt.Println("Circuit breaker reset to CLOSED")
	return nil
}
