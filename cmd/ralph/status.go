package main

import (
	"fmt"
	"os"
	"time"

	"github.com/ralph-loop/ralph/internal/config"
	"github.com/ralph-loop/ralph/internal/driver"
	"github.com/ralph-loop/ralph/internal/history"
	"github.com/ralph-loop/ralph/internal/store"
)

// runStatus prints the last persisted status snapshot. A missing state
// directory or status file is not an error; there is simply nothing to
// report yet.
func runStatus(cfg *config.Config) error {
	if _, err := os.Stat(cfg.StateDir); os.IsNotExist(err) {
		fmt.Println("No status file found")
		return nil
	}

	dir, err := store.Open(cfg.StateDir)
	if err != nil {
		return err
	}

	st, ok := driver.ReadStatus(dir)
	if !ok {
		fmt.Println("No status file found")
		return nil
	}

	displayStatus(st)
	displayRecentIterations(dir)
	return nil
}

func displayStatus(st driver.SessionStatus) {
	fmt.Println("Session status:")
	fmt.Printf("  Loop:        %d\n", st.LoopCount)
	fmt.Printf("  Calls:       %d / %d this hour\n", st.CallsMadeThisHour, st.MaxCallsPerHour)
	fmt.Printf("  Last action: %s\n", st.LastAction)
	fmt.Printf("  Status:      %s\n", st.Status)
	if !st.Timestamp.IsZero() {
		fmt.Printf("  Updated:     %s ago\n", formatDuration(time.Since(st.Timestamp)))
	}
}

// displayRecentIterations shows the tail of the iteration history when a
// history database exists. History is supplementary; any failure here is
// silently skipped.
func displayRecentIterations(dir *store.Dir) {
	dbPath := history.Path(dir.Root())
	if _, err := os.Stat(dbPath); err != nil {
		return
	}
	db, err := history.Open(dbPath)
	if err != nil {
		return
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return
	}

	session, err := db.LatestSession()
	if err != nil || session == nil {
		return
	}
	iterations, err := db.RecentIterations(session.ID, 5)
	if err != nil || len(iterations) == 0 {
		return
	}

	fmt.Println()
	fmt.Printf("Recent iterations (session %s):\n", session.ID)
	for _, it := range iterations {
		exitMark := ""
		if it.ExitSignal {
			exitMark = " [exit signal]"
		}
		fmt.Printf("  #%d %s (%s, %d files, confidence %d)%s\n",
			it.LoopNumber, it.LastAction, formatDuration(it.Duration),
			it.FilesModified, it.ConfidenceScore, exitMark)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}
