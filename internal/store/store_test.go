package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenCreatesDirectoryAndLogs(t *testing.T) {
	root := filepath.Join(t.TempDir(), "state", ".ralph")

	d, err := Open(root)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	if d.Root() != root {
		t.Errorf("Root() = %q, want %q", d.Root(), root)
	}

	info, err := os.Stat(filepath.Join(root, LogsDir))
	if err != nil {
		t.Fatalf("logs directory not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("logs path is not a directory")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	if err := d.Write(CallCountFile, []byte("42")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	data, err := d.Read(CallCountFile)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if string(data) != "42" {
		t.Errorf("Read() = %q, want %q", data, "42")
	}
}

func TestWriteReplacesAtomically(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	if err := d.Write(StatusFile, []byte(`{"status":"running"}`)); err != nil {
		t.Fatalf("first Write() error: %v", err)
	}
	if err := d.Write(StatusFile, []byte(`{"status":"stopped"}`)); err != nil {
		t.Fatalf("second Write() error: %v", err)
	}

	data, err := d.Read(StatusFile)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if string(data) != `{"status":"stopped"}` {
		t.Errorf("Read() = %q, want new contents", data)
	}

	// No temp files should survive a completed write.
	entries, err := os.ReadDir(d.Root())
	if err != nil {
		t.Fatalf("ReadDir() error: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}

func TestReadMissingRecord(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	if _, err := d.Read(ExitSignalsFile); err == nil {
		t.Error("Read() of missing record should return an error")
	}
	if d.Exists(ExitSignalsFile) {
		t.Error("Exists() should be false for missing record")
	}
}

func TestRemoveMissingRecordIsNoError(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	if err := d.Remove(CallCountFile); err != nil {
		t.Errorf("Remove() of missing record: %v", err)
	}
}
