package background

import (
	"math"
	"testing"

	"github.com/basslab/livecell/internal/config"
)

func TestCorrectFrameRemovesLinearGradient(t *testing.T) {
	const height, width = 64, 64
	frame := make([]float32, height*width)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			frame[y*width+x] = float32(100 + 0.5*float64(x))
		}
	}
	mask := make([]bool, height*width) // no foreground

	corrected, err := CorrectFrame(frame, mask, height, width, config.DefaultBackgroundConfig())
	if err != nil {
		t.Fatalf("CorrectFrame: %v", err)
	}
	if len(corrected) != height*width {
		t.Fatalf("corrected length = %d, want %d", len(corrected), height*width)
	}

	var sum float64
	for i, v := range corrected {
		if math.Abs(float64(v)) > 2 {
			t.Fatalf("residual %g at index %d exceeds interpolation bound", v, i)
		}
		sum += float64(v)
	}
	mean := sum / float64(len(corrected))
	if math.Abs(mean) > 0.5 {
		t.Errorf("mean residual = %g, want near zero", mean)
	}
}

func TestCorrectFrameFullForegroundFallsBackToGlobalMedian(t *testing.T) {
	const height, width = 32, 32
	frame := make([]float32, height*width)
	mask := make([]bool, height*width)
	for i := range frame {
		frame[i] = 50
		mask[i] = true // dilates to full foreground
	}

	corrected, err := CorrectFrame(frame, mask, height, width, config.DefaultBackgroundConfig())
	if err != nil {
		t.Fatalf("CorrectFrame: %v", err)
	}
	for i, v := range corrected {
		if math.Abs(float64(v)) > 1e-3 {
			t.Fatalf("corrected[%d] = %g, want 0 after global-median fallback", i, v)
		}
	}
}

func TestCorrectFrameExcludesForegroundFromEstimate(t *testing.T) {
	const height, width = 64, 64
	frame := make([]float32, height*width)
	mask := make([]bool, height*width)
	for i := range frame {
		frame[i] = 10
	}
	// A bright masked square should not drag the background surface up.
	for y := 20; y < 30; y++ {
		for x := 20; x < 30; x++ {
			frame[y*width+x] = 1000
			mask[y*width+x] = true
		}
	}

	cfg := config.DefaultBackgroundConfig()
	cfg.DilationRadius = 2
	corrected, err := CorrectFrame(frame, mask, height, width, cfg)
	if err != nil {
		t.Fatalf("CorrectFrame: %v", err)
	}

	// Background pixels far from the square stay near zero.
	if v := corrected[5*width+5]; math.Abs(float64(v)) > 1 {
		t.Errorf("background pixel corrected to %g, want near 0", v)
	}
	// The bright square keeps most of its signal.
	if v := corrected[25*width+25]; v < 900 {
		t.Errorf("foreground pixel corrected to %g, want near 990", v)
	}
}

func TestCorrectFrameShapeMismatch(t *testing.T) {
	_, err := CorrectFrame(make([]float32, 10), make([]bool, 20), 4, 5, config.DefaultBackgroundConfig())
	if err == nil {
		t.Fatal("expected shape error")
	}
}

func TestAdaptiveTileSize(t *testing.T) {
	tests := []struct {
		name           string
		h, w, th, tw   int
		wantTH, wantTW int
	}{
		{"frame larger than tile", 512, 512, 256, 256, 256, 256},
		{"frame smaller than tile", 64, 64, 256, 256, 32, 32},
		{"mixed", 64, 512, 256, 256, 32, 256},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th, tw := adaptiveTileSize(tt.h, tt.w, tt.th, tt.tw)
			if th != tt.wantTH || tw != tt.wantTW {
				t.Errorf("adaptiveTileSize = (%d,%d), want (%d,%d)", th, tw, tt.wantTH, tt.wantTW)
			}
		})
	}
}

func TestSpline1DReproducesLinearData(t *testing.T) {
	x := []float64{10, 30, 50}
	y := []float64{20, 60, 100} // slope 2
	xs := []float64{0, 5, 10, 25, 50, 60}
	out := spline1D(x, y, xs)
	for i, xi := range xs {
		want := 2 * xi
		if math.Abs(out[i]-want) > 1e-9 {
			t.Errorf("spline1D(%g) = %g, want %g", xi, out[i], want)
		}
	}
}
