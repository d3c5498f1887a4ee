package config

import (
	"errors"
	"testing"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/input", "/output", "/log")

	if cfg.InputDir != "/input" {
		t.Errorf("expected InputDir=/input, got %s", cfg.InputDir)
	}
	if cfg.OutputDir != "/output" {
		t.Errorf("expected OutputDir=/output, got %s", cfg.OutputDir)
	}
	if cfg.LogDir != "/log" {
		t.Errorf("expected LogDir=/log, got %s", cfg.LogDir)
	}

	// Check defaults
	if cfg.Segment.WindowHalfSize != DefaultWindowHalfSize {
		t.Errorf("expected WindowHalfSize=%d, got %d", DefaultWindowHalfSize, cfg.Segment.WindowHalfSize)
	}
	if cfg.Segment.HistogramBins != DefaultHistogramBins {
		t.Errorf("expected HistogramBins=%d, got %d", DefaultHistogramBins, cfg.Segment.HistogramBins)
	}
	if cfg.Segment.StructuringElementSide != DefaultStructuringElementSide {
		t.Errorf("expected StructuringElementSide=%d, got %d", DefaultStructuringElementSide, cfg.Segment.StructuringElementSide)
	}
	if cfg.Segment.MorphologyIterations != DefaultMorphologyIterations {
		t.Errorf("expected MorphologyIterations=%d, got %d", DefaultMorphologyIterations, cfg.Segment.MorphologyIterations)
	}
	if cfg.Background.DilationRadius != DefaultDilationRadius {
		t.Errorf("expected DilationRadius=%d, got %d", DefaultDilationRadius, cfg.Background.DilationRadius)
	}
	if cfg.Background.TileHeight != DefaultTileHeight || cfg.Background.TileWidth != DefaultTileWidth {
		t.Errorf("expected tile %dx%d, got %dx%d", DefaultTileHeight, DefaultTileWidth, cfg.Background.TileHeight, cfg.Background.TileWidth)
	}
	if cfg.Tracker.IoUThreshold != DefaultIoUThreshold {
		t.Errorf("expected IoUThreshold=%g, got %g", DefaultIoUThreshold, cfg.Tracker.IoUThreshold)
	}
	if cfg.Tracker.MinTraceLength != DefaultMinTraceLength {
		t.Errorf("expected MinTraceLength=%d, got %d", DefaultMinTraceLength, cfg.Tracker.MinTraceLength)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name         string
		modify       func(*Config)
		wantErr      bool
		wantSentinel error
	}{
		{
			name:    "default config is valid",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:         "negative window half-size is invalid",
			modify:       func(c *Config) { c.Segment.WindowHalfSize = -1 },
			wantErr:      true,
			wantSentinel: ErrInvalidSegment,
		},
		{
			name:         "one histogram bin is invalid",
			modify:       func(c *Config) { c.Segment.HistogramBins = 1 },
			wantErr:      true,
			wantSentinel: ErrInvalidSegment,
		},
		{
			name:         "zero structuring element side is invalid",
			modify:       func(c *Config) { c.Segment.StructuringElementSide = 0 },
			wantErr:      true,
			wantSentinel: ErrInvalidSegment,
		},
		{
			name:         "negative dilation radius is invalid",
			modify:       func(c *Config) { c.Background.DilationRadius = -1 },
			wantErr:      true,
			wantSentinel: ErrInvalidBackground,
		},
		{
			name:         "zero tile dimensions are invalid",
			modify:       func(c *Config) { c.Background.TileHeight = 0 },
			wantErr:      true,
			wantSentinel: ErrInvalidBackground,
		},
		{
			name:         "iou threshold above 1 is invalid",
			modify:       func(c *Config) { c.Tracker.IoUThreshold = 1.5 },
			wantErr:      true,
			wantSentinel: ErrInvalidTracker,
		},
		{
			name:         "zero min trace length is invalid",
			modify:       func(c *Config) { c.Tracker.MinTraceLength = 0 },
			wantErr:      true,
			wantSentinel: ErrInvalidTracker,
		},
		{
			name:         "zero workers is invalid",
			modify:       func(c *Config) { c.Workers = 0 },
			wantErr:      true,
			wantSentinel: ErrInvalidParallel,
		},
		{
			name:         "zero batch size is invalid",
			modify:       func(c *Config) { c.BatchSize = 0 },
			wantErr:      true,
			wantSentinel: ErrInvalidParallel,
		},
		{
			name:         "fov range end before start is invalid",
			modify:       func(c *Config) { c.FOVs = FOVRange{Start: 5, End: 2} },
			wantErr:      true,
			wantSentinel: ErrInvalidFOVRange,
		},
		{
			name:    "empty fov range (start == end) is valid",
			modify:  func(c *Config) { c.FOVs = FOVRange{Start: 3, End: 3} },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("/input", "/output", "/log")
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantSentinel != nil && !errors.Is(err, tt.wantSentinel) {
				t.Errorf("Validate() error = %v, want sentinel %v", err, tt.wantSentinel)
			}
		})
	}
}

func TestGetTempDir(t *testing.T) {
	cfg := NewConfig("/input", "/output", "/log")
	if got := cfg.GetTempDir(); got != "/output" {
		t.Errorf("GetTempDir() = %s, want /output (fallback)", got)
	}
	cfg.TempDir = "/tmp/scratch"
	if got := cfg.GetTempDir(); got != "/tmp/scratch" {
		t.Errorf("GetTempDir() = %s, want /tmp/scratch", got)
	}
}
