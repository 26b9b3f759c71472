package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ralph-loop/ralph/internal/config"
	"github.com/ralph-loop/ralph/internal/store"
	"github.com/ralph-loop/ralph/internal/tui"
)

// runMonitor opens the live status view over the state directory.
func runMonitor(cfg *config.Config) error {
	dir, err := store.Open(cfg.StateDir)
	if err != nil {
		return err
	}

	p := tea.NewProgram(tui.NewMonitor(dir), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}
