package measure

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basslab/livecell/internal/arrayfile"
	"github.com/basslab/livecell/internal/config"
	"github.com/basslab/livecell/internal/logging"
	"github.com/basslab/livecell/internal/reporter"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Enabled: false})
}

// writeArrays stages a labeled int32 array and a constant-valued
// float32 intensity array of the same shape.
func writeArrays(t *testing.T, dir string, labels [][]int32, height, width int, intensity float32) (labeled, fl *arrayfile.Reader) {
	t.Helper()
	shape := [3]uint32{uint32(len(labels)), uint32(height), uint32(width)}

	labeledPath := filepath.Join(dir, "labeled.arr")
	lw, err := arrayfile.CreateArray(labeledPath, shape, arrayfile.DTypeInt32)
	if err != nil {
		t.Fatalf("CreateArray: %v", err)
	}
	for i, f := range labels {
		if err := lw.WriteFrame(i, arrayfile.EncodeInt32Frame(f)); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	if err := lw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	flPath := filepath.Join(dir, "fl.arr")
	fw, err := arrayfile.CreateArray(flPath, shape, arrayfile.DTypeFloat32)
	if err != nil {
		t.Fatalf("CreateArray: %v", err)
	}
	frame := make([]float32, height*width)
	for i := range frame {
		frame[i] = intensity
	}
	for i := range labels {
		if err := fw.WriteFrame(i, arrayfile.EncodeFloat32Frame(frame)); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	labeled, err = arrayfile.OpenArray(labeledPath)
	if err != nil {
		t.Fatalf("OpenArray: %v", err)
	}
	t.Cleanup(func() { labeled.Close() })
	fl, err = arrayfile.OpenArray(flPath)
	if err != nil {
		t.Fatalf("OpenArray: %v", err)
	}
	t.Cleanup(func() { fl.Close() })
	return labeled, fl
}

// labelSquare paints label into a [r0,r1)x[c0,c1) block.
func labelSquare(frame []int32, width, r0, c0, r1, c1 int, label int32) {
	for y := r0; y < r1; y++ {
		for x := c0; x < c1; x++ {
			frame[y*width+x] = label
		}
	}
}

func TestMeasureSingleCell(t *testing.T) {
	const height, width, nFrames = 16, 16, 4
	labels := make([][]int32, nFrames)
	for i := range labels {
		labels[i] = make([]int32, height*width)
		labelSquare(labels[i], width, 4, 6, 8, 10, 1) // 4x4, bbox rows 4-7 cols 6-9
	}
	dir := t.TempDir()
	labeled, fl := writeArrays(t, dir, labels, height, width, 2.5)

	timepoints := []float64{0, 0.5, 1.0, 1.5}
	cfg := config.MeasureConfig{MinTraceLength: 1}
	csvPath := filepath.Join(dir, "traces.csv")
	cells, skipped, err := Measure(context.Background(), labeled, fl, timepoints, cfg, 3, csvPath, testLogger(), reporter.NullReporter{})
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if skipped {
		t.Fatal("fresh output reported as skipped")
	}
	if cells != 1 {
		t.Fatalf("cells = %d, want 1", cells)
	}

	rows, err := ReadCSV(csvPath)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(rows) != nFrames {
		t.Fatalf("got %d rows, want %d", len(rows), nFrames)
	}
	for i, r := range rows {
		if r.FOV != 3 || r.Cell != 1 || r.Frame != i {
			t.Errorf("row %d = %+v, want fov 3 cell 1 frame %d", i, r, i)
		}
		if r.Area != 16 {
			t.Errorf("row %d area = %d, want 16", i, r.Area)
		}
		if r.IntensityTotal != 16*2.5 {
			t.Errorf("row %d intensity = %g, want %g", i, r.IntensityTotal, 16*2.5)
		}
		if r.PositionX != 7.5 || r.PositionY != 5.5 {
			t.Errorf("row %d position = (%g,%g), want (7.5,5.5)", i, r.PositionX, r.PositionY)
		}
		if !r.Good {
			t.Errorf("row %d good = false, want true", i)
		}
		if r.Time != timepoints[i] {
			t.Errorf("row %d time = %g, want %g", i, r.Time, timepoints[i])
		}
	}
}

func TestMeasureCSVFormat(t *testing.T) {
	const height, width = 8, 8
	labels := [][]int32{make([]int32, height*width)}
	labelSquare(labels[0], width, 0, 0, 2, 2, 1)
	dir := t.TempDir()
	labeled, fl := writeArrays(t, dir, labels, height, width, 1)

	csvPath := filepath.Join(dir, "traces.csv")
	_, _, err := Measure(context.Background(), labeled, fl, []float64{2.5}, config.MeasureConfig{MinTraceLength: 1}, 0, csvPath, testLogger(), reporter.NullReporter{})
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}

	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != "fov,cell,frame,time,good,position_x,position_y,area,intensity_total" {
		t.Errorf("header = %q", lines[0])
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	fields := strings.Split(lines[1], ",")
	if fields[3] != "2.500000" {
		t.Errorf("time rendered as %q, want fixed 6 decimals", fields[3])
	}
	if fields[4] != "True" {
		t.Errorf("good rendered as %q, want True", fields[4])
	}
}

func TestMeasureFiltersShortCells(t *testing.T) {
	const height, width, nFrames = 16, 16, 6
	labels := make([][]int32, nFrames)
	for i := range labels {
		labels[i] = make([]int32, height*width)
		labelSquare(labels[i], width, 2, 2, 6, 6, 1) // present every frame
		if i < 2 {
			labelSquare(labels[i], width, 10, 10, 14, 14, 2) // present twice
		}
	}
	dir := t.TempDir()
	labeled, fl := writeArrays(t, dir, labels, height, width, 1)

	cfg := config.MeasureConfig{MinTraceLength: 3}
	csvPath := filepath.Join(dir, "traces.csv")
	cells, _, err := Measure(context.Background(), labeled, fl, make([]float64, nFrames), cfg, 0, csvPath, testLogger(), reporter.NullReporter{})
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if cells != 1 {
		t.Errorf("cells = %d, want 1 after the length filter", cells)
	}
	rows, err := ReadCSV(csvPath)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	for _, r := range rows {
		if r.Cell != 1 {
			t.Errorf("cell %d survived the filter", r.Cell)
		}
	}
	if len(rows) != nFrames {
		t.Errorf("got %d rows, want %d", len(rows), nFrames)
	}
}

func TestMeasureRowOrderAndUniqueness(t *testing.T) {
	const height, width, nFrames = 16, 16, 3
	labels := make([][]int32, nFrames)
	for i := range labels {
		labels[i] = make([]int32, height*width)
		labelSquare(labels[i], width, 2, 2, 6, 6, 2)
		labelSquare(labels[i], width, 10, 10, 14, 14, 1)
	}
	dir := t.TempDir()
	labeled, fl := writeArrays(t, dir, labels, height, width, 1)

	csvPath := filepath.Join(dir, "traces.csv")
	_, _, err := Measure(context.Background(), labeled, fl, make([]float64, nFrames), config.MeasureConfig{MinTraceLength: 1}, 0, csvPath, testLogger(), reporter.NullReporter{})
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	rows, err := ReadCSV(csvPath)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(rows) != 2*nFrames {
		t.Fatalf("got %d rows, want %d", len(rows), 2*nFrames)
	}
	seen := make(map[[2]int]bool)
	for i, r := range rows {
		key := [2]int{r.Cell, r.Frame}
		if seen[key] {
			t.Fatalf("duplicate (cell,frame) = %v", key)
		}
		seen[key] = true
		if i > 0 {
			prev := rows[i-1]
			if r.Cell < prev.Cell || (r.Cell == prev.Cell && r.Frame <= prev.Frame) {
				t.Fatalf("rows out of (cell,frame) order at index %d", i)
			}
		}
	}
}

func TestMeasureSkipsExistingOutput(t *testing.T) {
	const height, width = 8, 8
	labels := [][]int32{make([]int32, height*width)}
	labelSquare(labels[0], width, 0, 0, 2, 2, 1)
	dir := t.TempDir()
	labeled, fl := writeArrays(t, dir, labels, height, width, 1)

	csvPath := filepath.Join(dir, "traces.csv")
	cfg := config.MeasureConfig{MinTraceLength: 1}
	if _, _, err := Measure(context.Background(), labeled, fl, []float64{0}, cfg, 0, csvPath, testLogger(), reporter.NullReporter{}); err != nil {
		t.Fatalf("first Measure: %v", err)
	}
	_, skipped, err := Measure(context.Background(), labeled, fl, []float64{0}, cfg, 0, csvPath, testLogger(), reporter.NullReporter{})
	if err != nil {
		t.Fatalf("second Measure: %v", err)
	}
	if !skipped {
		t.Error("second Measure did not skip the existing csv")
	}
}
