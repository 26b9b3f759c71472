package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ralph-loop/ralph/internal/store"
)

// Logger provides debug logging for the loop driver. It wraps file-based
// logging with thread-safe access; a zero Logger is a no-op.
type Logger struct {
	mu   sync.Mutex
	file *os.File
}

// NewLogger creates a logger writing to supervisor.log in the state
// directory's logs/ folder. Returns a no-op logger if the file cannot be
// opened.
func NewLogger(dir *store.Dir) *Logger {
	logPath := filepath.Join(dir.Root(), store.LogsDir, "supervisor.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return &Logger{}
	}

	l := &Logger{file: f}
	l.Log("=== Supervisor log started at %s ===", time.Now().Format(time.RFC3339))
	return l
}

// NopLogger returns a no-op logger for testing or when logging is disabled.
func NopLogger() *Logger {
	return &Logger{}
}

// Log writes a timestamped message. No-op when the logger has no file.
func (l *Logger) Log(format string, args ...interface{}) {
	if l == nil || l.file == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(l.file, "[%s] %s\n", timestamp, msg)
	l.file.Sync()
}

// Close closes the log file. Safe to call on a no-op logger.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// WriteTranscript stores one iteration's combined agent output under
// logs/. Transcript failures are reported but never stop the loop.
func WriteTranscript(dir *store.Dir, loopNumber int, output []byte) (string, error) {
	name := fmt.Sprintf("loop_%04d_%s.log", loopNumber, time.Now().Format("20060102T150405"))
	path := filepath.Join(dir.Root(), store.LogsDir, name)
	if err := os.WriteFile(path, output, 0644); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	return path, nil
}
