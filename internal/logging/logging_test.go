package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewDisabledLoggerDiscards(t *testing.T) {
	l := New(Config{Enabled: false})
	l.Info("should not appear")
}

func TestNewWritesToOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf, Enabled: true})
	l.Info("hello world")

	if !strings.Contains(buf.String(), "hello world") {
		t.Errorf("expected log output to contain message, got: %s", buf.String())
	}
}

func TestWithStageGroupsFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf, Enabled: true})
	staged := l.WithStage("segment")
	staged.Info("running", "fov", 3)

	if !strings.Contains(buf.String(), "segment") {
		t.Errorf("expected output to contain stage group name, got: %s", buf.String())
	}
}

func TestGlobalLogger(t *testing.T) {
	if Global() == nil {
		t.Fatal("Global() returned nil")
	}
}
