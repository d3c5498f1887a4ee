// Package config provides configuration types and defaults for livecell.
package config

import "errors"

// Sentinel errors for configuration validation.
var (
	// ErrInvalidSegment indicates a Segmenter parameter is out of range.
	ErrInvalidSegment = errors.New("invalid segment configuration")

	// ErrInvalidBackground indicates a Background Corrector parameter is out of range.
	ErrInvalidBackground = errors.New("invalid background configuration")

	// ErrInvalidTracker indicates a Tracker parameter is out of range.
	ErrInvalidTracker = errors.New("invalid tracker configuration")

	// ErrInvalidParallel indicates a worker/batch sizing parameter is out of range.
	ErrInvalidParallel = errors.New("invalid parallel execution configuration")

	// ErrInvalidFOVRange indicates a malformed field-of-view range.
	ErrInvalidFOVRange = errors.New("invalid fov range")
)
