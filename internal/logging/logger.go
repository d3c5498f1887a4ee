// Package logging provides file logging for the livecell CLI.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

// FileLevel represents the file logger's verbosity level.
type FileLevel int

const (
	// FileLevelInfo is the default logging level.
	FileLevelInfo FileLevel = iota
	// FileLevelDebug enables verbose debug logging.
	FileLevelDebug
)

// FileLogger wraps the standard logger with level filtering and file
// output, for the run log the CLI writes alongside a pipeline run.
type FileLogger struct {
	level    FileLevel
	logger   *log.Logger
	file     *os.File
	filePath string
}

// Setup creates a new logger that writes to a timestamped log file.
// Returns nil if logging is disabled (noLog=true).
func Setup(logDir string, verbose, noLog bool) (*FileLogger, error) {
	if noLog {
		return nil, nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("livecell_run_%s.log", timestamp)
	filePath := filepath.Join(logDir, filename)

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file %s: %w", filePath, err)
	}

	level := FileLevelInfo
	if verbose {
		level = FileLevelDebug
	}

	logger := log.New(file, "", log.LstdFlags)

	l := &FileLogger{
		level:    level,
		logger:   logger,
		file:     file,
		filePath: filePath,
	}

	l.Info("livecell pipeline starting")
	if verbose {
		l.Info("debug level logging enabled")
	}
	l.Info("log file: %s", filePath)

	return l, nil
}

// Close closes the log file.
func (l *FileLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// FilePath returns the path to the log file.
func (l *FileLogger) FilePath() string {
	if l == nil {
		return ""
	}
	return l.filePath
}

// Info logs an info-level message.
func (l *FileLogger) Info(format string, args ...any) {
	if l == nil {
		return
	}
	l.logger.Printf("[INFO] "+format, args...)
}

// Debug logs a debug-level message (only if verbose mode is enabled).
func (l *FileLogger) Debug(format string, args ...any) {
	if l == nil || l.level < FileLevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] "+format, args...)
}

// Warn logs a warning message.
func (l *FileLogger) Warn(format string, args ...any) {
	if l == nil {
		return
	}
	l.logger.Printf("[WARN] "+format, args...)
}

// Error logs an error message.
func (l *FileLogger) Error(format string, args ...any) {
	if l == nil {
		return
	}
	l.logger.Printf("[ERROR] "+format, args...)
}

// Writer returns an io.Writer that writes to the log file. Useful for
// redirecting other loggers or capturing subprocess output.
func (l *FileLogger) Writer() io.Writer {
	if l == nil || l.file == nil {
		return io.Discard
	}
	return l.file
}
