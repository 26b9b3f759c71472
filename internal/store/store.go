// Package store provides the file-backed state directory for the ralph
// supervisor. All loop state lives in a single directory (default .ralph/)
// as small, independently-written records, which makes the loop
// crash-resumable: after a restart the driver reconstructs its position
// entirely from these files.
//
// The store assumes a single writer per directory. Every write goes through
// a write-then-rename so a record is always either the previous complete
// version or the new complete version, never a partial one.
package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultDirName is the default state directory, relative to the project root.
const DefaultDirName = ".ralph"

// Well-known record names inside the state directory.
const (
	PromptFile           = "PROMPT.md"
	FixPlanFile          = "fix_plan.md"
	StatusFile           = "status.json"
	CallCountFile        = ".call_count"
	LastResetFile        = ".last_reset"
	ExitSignalsFile      = ".exit_signals"
	ResponseAnalysisFile = ".response_analysis"
	CircuitStateFile     = ".circuit_state"
	LogsDir              = "logs"
)

// Dir is a handle to a ralph state directory.
type Dir struct {
	root string
}

// Open returns a handle to the state directory at root, creating it and
// its logs/ subdirectory if they do not exist.
func Open(root string) (*Dir, error) {
	if root == "" {
		root = DefaultDirName
	}
	if err := os.MkdirAll(filepath.Join(root, LogsDir), 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &Dir{root: root}, nil
}

// Root returns the state directory path.
func (d *Dir) Root() string {
	return d.root
}

// Path returns the absolute path of a named record.
func (d *Dir) Path(name string) string {
	return filepath.Join(d.root, name)
}

// Read returns the raw contents of a record. Callers that implement the
// fail-open rule should treat any error as "record absent".
func (d *Dir) Read(name string) ([]byte, error) {
	return os.ReadFile(d.Path(name))
}

// Write atomically replaces a record: the contents are written to a
// temporary file in the same directory and renamed over the target.
func (d *Dir) Write(name string, data []byte) error {
	target := d.Path(name)
	tmp, err := os.CreateTemp(d.root, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write record %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close record %s: %w", name, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit record %s: %w", name, err)
	}
	return nil
}

// Remove deletes a record. Missing records are not an error.
func (d *Dir) Remove(name string) error {
	err := os.Remove(d.Path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove record %s: %w", name, err)
	}
	return nil
}

// Exists reports whether a record is present.
func (d *Dir) Exists(name string) bool {
	_, err := os.Stat(d.Path(name))
	return err == nil
}
