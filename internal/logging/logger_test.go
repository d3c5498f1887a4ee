package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupNoLog(t *testing.T) {
	l, err := Setup(t.TempDir(), false, true)
	if err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	if l != nil {
		t.Fatal("Setup with noLog=true should return nil logger")
	}
	// Methods on a nil *FileLogger must be safe no-ops.
	l.Info("ignored")
	l.Close()
}

func TestSetupCreatesLogFile(t *testing.T) {
	dir := t.TempDir()
	l, err := Setup(dir, false, false)
	if err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	defer l.Close()

	if l.FilePath() == "" {
		t.Fatal("expected non-empty file path")
	}
	if filepath.Dir(l.FilePath()) != dir {
		t.Errorf("expected log file under %s, got %s", dir, l.FilePath())
	}

	l.Info("fov %d complete", 3)
	l.Debug("should not be written, verbose disabled")

	data, err := os.ReadFile(l.FilePath())
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "fov 3 complete") {
		t.Errorf("expected info message in log, got: %s", content)
	}
	if strings.Contains(content, "should not be written") {
		t.Error("debug message should be suppressed when verbose is false")
	}
}

func TestSetupVerboseEnablesDebug(t *testing.T) {
	l, err := Setup(t.TempDir(), true, false)
	if err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	defer l.Close()

	l.Debug("detail")

	data, err := os.ReadFile(l.FilePath())
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "detail") {
		t.Error("expected debug message to be written when verbose is true")
	}
}
