// Package measure implements the Feature Measurer stage: per-cell
// per-frame measurements written as a tabular per-FOV CSV.
package measure

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/basslab/livecell/internal/arrayfile"
	"github.com/basslab/livecell/internal/config"
	cerrors "github.com/basslab/livecell/internal/errors"
	"github.com/basslab/livecell/internal/logging"
	"github.com/basslab/livecell/internal/reporter"
	"github.com/basslab/livecell/internal/util"
)

// Row is one (cell, frame) measurement. Position is the bounding-box
// center, not the mass centroid.
type Row struct {
	FOV            int
	Cell           int
	Frame          int
	Time           float64
	Good           bool
	PositionX      float64
	PositionY      float64
	Area           int
	IntensityTotal float64
}

// Header lists the CSV columns in output order.
var Header = []string{"fov", "cell", "frame", "time", "good", "position_x", "position_y", "area", "intensity_total"}

// TracesFilename returns the canonical on-disk name for an FOV's
// per-channel trace CSV inside its fov_NNN directory.
func TracesFilename(baseName string, fov, channel int) string {
	return fmt.Sprintf("%s_fov_%03d_traces_ch_%d.csv", baseName, fov, channel)
}

// Measure reads a labeled segmentation ArrayFile and an intensity
// ArrayFile (corrected fluorescence if present, else raw), and writes
// rows ordered by (cell_id, frame) to csvPath. Cells with fewer than
// MinTraceLength rows are dropped. Returns the number of distinct
// cells written. If csvPath already exists and is non-empty, the
// stage is skipped and Measure returns (0, true, nil).
func Measure(ctx context.Context, labeled, intensity *arrayfile.Reader, timepoints []float64, cfg config.MeasureConfig, fov int, csvPath string, log *logging.Logger, rep reporter.Reporter) (int, bool, error) {
	if size, err := util.GetFileSize(csvPath); err == nil && size > 0 {
		log.Debug("measure: skip existing", "path", csvPath)
		return 0, true, nil
	}

	lh := labeled.Header()
	ih := intensity.Header()
	if lh.Shape != ih.Shape {
		return 0, false, cerrors.NewShapeError(fmt.Sprintf("labeled shape %v does not match intensity shape %v", lh.Shape, ih.Shape))
	}
	nFrames := int(lh.Shape[0])
	if len(timepoints) != nFrames {
		return 0, false, cerrors.NewShapeError(fmt.Sprintf("%d timepoints for %d frames", len(timepoints), nFrames))
	}

	rows, err := measureFrames(ctx, labeled, intensity, timepoints, fov, rep)
	if err != nil {
		return 0, false, err
	}

	rows = filterShortCells(rows, cfg.MinTraceLength)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Cell != rows[j].Cell {
			return rows[i].Cell < rows[j].Cell
		}
		return rows[i].Frame < rows[j].Frame
	})

	if err := WriteCSV(csvPath, rows); err != nil {
		return 0, false, err
	}

	cells := make(map[int]bool)
	for _, r := range rows {
		cells[r.Cell] = true
	}
	return len(cells), false, nil
}

// measureFrames accumulates one Row per (label, frame) appearance.
func measureFrames(ctx context.Context, labeled, intensity *arrayfile.Reader, timepoints []float64, fov int, rep reporter.Reporter) ([]Row, error) {
	h := labeled.Header()
	width := int(h.Shape[2])
	nFrames := int(h.Shape[0])
	reportEvery := 30

	var rows []Row
	for t := 0; t < nFrames; t++ {
		select {
		case <-ctx.Done():
			return nil, cerrors.NewCancelledError()
		default:
		}

		labels, err := arrayfile.ReadInt32Frame(labeled, t)
		if err != nil {
			return nil, cerrors.NewReadError(fmt.Sprintf("read labeled frame %d", t), err)
		}
		values, err := arrayfile.ReadFloat32Frame(intensity, t)
		if err != nil {
			return nil, cerrors.NewReadError(fmt.Sprintf("read intensity frame %d", t), err)
		}

		type acc struct {
			area           int
			total          float64
			r0, c0, r1, c1 int
		}
		cells := make(map[int32]*acc)
		for i, lbl := range labels {
			if lbl == 0 {
				continue
			}
			y := i / width
			x := i % width
			a, ok := cells[lbl]
			if !ok {
				a = &acc{r0: y, c0: x, r1: y, c1: x}
				cells[lbl] = a
			}
			a.area++
			a.total += float64(values[i])
			if y < a.r0 {
				a.r0 = y
			}
			if y > a.r1 {
				a.r1 = y
			}
			if x < a.c0 {
				a.c0 = x
			}
			if x > a.c1 {
				a.c1 = x
			}
		}

		for lbl, a := range cells {
			rows = append(rows, Row{
				FOV:            fov,
				Cell:           int(lbl),
				Frame:          t,
				Time:           timepoints[t],
				Good:           true,
				PositionX:      float64(a.c0+a.c1) / 2,
				PositionY:      float64(a.r0+a.r1) / 2,
				Area:           a.area,
				IntensityTotal: a.total,
			})
		}

		if t%reportEvery == 0 && rep != nil {
			rep.StageProgress(reporter.StageProgress{
				FOV: fov, Stage: "measure",
				Percent: float32(t+1) / float32(nFrames) * 100,
				Message: fmt.Sprintf("frame %d/%d", t+1, nFrames),
			})
		}
	}
	return rows, nil
}

// filterShortCells drops every cell_id with fewer than minLength rows.
func filterShortCells(rows []Row, minLength int) []Row {
	counts := make(map[int]int)
	for _, r := range rows {
		counts[r.Cell]++
	}
	out := rows[:0]
	for _, r := range rows {
		if counts[r.Cell] >= minLength {
			out = append(out, r)
		}
	}
	return out
}

// WriteCSV writes rows to path atomically (temp file + rename), with
// the header row, `time` at fixed 6 decimal places, and `good`
// rendered as True/False.
func WriteCSV(path string, rows []Row) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return cerrors.NewWriteError("create trace csv", err)
	}

	w := csv.NewWriter(f)
	writeErr := w.Write(Header)
	for _, r := range rows {
		if writeErr != nil {
			break
		}
		good := "False"
		if r.Good {
			good = "True"
		}
		writeErr = w.Write([]string{
			strconv.Itoa(r.FOV),
			strconv.Itoa(r.Cell),
			strconv.Itoa(r.Frame),
			fmt.Sprintf("%.6f", r.Time),
			good,
			formatFloat(r.PositionX),
			formatFloat(r.PositionY),
			strconv.Itoa(r.Area),
			formatFloat(r.IntensityTotal),
		})
	}
	w.Flush()
	if writeErr == nil {
		writeErr = w.Error()
	}
	if err := f.Close(); err != nil && writeErr == nil {
		writeErr = err
	}
	if writeErr != nil {
		_ = os.Remove(tmp)
		return cerrors.NewWriteError("write trace csv", writeErr)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return cerrors.NewWriteError("rename trace csv", err)
	}
	return nil
}

// ReadCSV loads a trace CSV back into rows, used by resume checks and
// tests.
func ReadCSV(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, cerrors.NewReadError(fmt.Sprintf("open trace csv %s", filepath.Base(path)), err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, cerrors.NewReadError("parse trace csv", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != len(Header) {
			return nil, cerrors.NewReadError(fmt.Sprintf("trace csv row has %d columns, want %d", len(rec), len(Header)), nil)
		}
		var r Row
		r.FOV, _ = strconv.Atoi(rec[0])
		r.Cell, _ = strconv.Atoi(rec[1])
		r.Frame, _ = strconv.Atoi(rec[2])
		r.Time, _ = strconv.ParseFloat(rec[3], 64)
		r.Good = rec[4] == "True"
		r.PositionX, _ = strconv.ParseFloat(rec[5], 64)
		r.PositionY, _ = strconv.ParseFloat(rec[6], 64)
		r.Area, _ = strconv.Atoi(rec[7])
		r.IntensityTotal, _ = strconv.ParseFloat(rec[8], 64)
		rows = append(rows, r)
	}
	return rows, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
