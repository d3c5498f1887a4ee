package segment

import (
	"testing"

	"github.com/basslab/livecell/internal/config"
)

func TestSegmentFrameFindsDisk(t *testing.T) {
	height, width := 32, 32
	frame := make([]float32, height*width)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			frame[y*width+x] = 10 // flat background
		}
	}
	for y := 10; y < 22; y++ {
		for x := 10; x < 22; x++ {
			dy, dx := float64(y-16), float64(x-16)
			if dy*dy+dx*dx <= 36 {
				frame[y*width+x] = 200
			}
		}
	}

	cfg := config.DefaultSegmentConfig()
	mask, err := SegmentFrame(frame, height, width, cfg)
	if err != nil {
		t.Fatalf("SegmentFrame: %v", err)
	}

	count := 0
	for _, v := range mask {
		if v {
			count++
		}
	}
	if count == 0 {
		t.Fatal("expected non-empty mask for sharp edge disk")
	}
}

func TestSegmentFrameRejectsWrongShape(t *testing.T) {
	cfg := config.DefaultSegmentConfig()
	_, err := SegmentFrame(make([]float32, 10), 4, 4, cfg)
	if err == nil {
		t.Fatal("expected shape error")
	}
}

func TestSegmentFrameEmptyMaskIsValid(t *testing.T) {
	height, width := 8, 8
	frame := make([]float32, height*width)
	for i := range frame {
		frame[i] = 5 // perfectly flat: zero variance everywhere
	}
	cfg := config.DefaultSegmentConfig()
	mask, err := SegmentFrame(frame, height, width, cfg)
	if err != nil {
		t.Fatalf("SegmentFrame: %v", err)
	}
	for _, v := range mask {
		if v {
			t.Fatal("expected all-background mask on flat input")
		}
	}
}

func TestFillHolesClosesInterior(t *testing.T) {
	height, width := 5, 5
	mask := make([]bool, height*width)
	// Ring of foreground around a single background hole at (2,2).
	for y := 1; y <= 3; y++ {
		for x := 1; x <= 3; x++ {
			mask[y*width+x] = true
		}
	}
	mask[2*width+2] = false

	filled := fillHoles(mask, height, width)
	if !filled[2*width+2] {
		t.Fatal("expected interior hole to be filled")
	}
}

func TestDeterministicAcrossRuns(t *testing.T) {
	height, width := 16, 16
	frame := make([]float32, height*width)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dy, dx := float64(y-8), float64(x-8)
			if dy*dy+dx*dx <= 25 {
				frame[y*width+x] = 150
			} else {
				frame[y*width+x] = 20
			}
		}
	}
	cfg := config.DefaultSegmentConfig()

	m1, err := SegmentFrame(frame, height, width, cfg)
	if err != nil {
		t.Fatalf("SegmentFrame: %v", err)
	}
	m2, err := SegmentFrame(frame, height, width, cfg)
	if err != nil {
		t.Fatalf("SegmentFrame: %v", err)
	}
	for i := range m1 {
		if m1[i] != m2[i] {
			t.Fatalf("non-deterministic mask at index %d", i)
		}
	}
}
