// Package background implements the Background Corrector stage:
// per-frame tiled-median background surfaces subtracted from
// fluorescence, using the segmentation mask to exclude foreground.
package background

import (
	"context"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/basslab/livecell/internal/arrayfile"
	"github.com/basslab/livecell/internal/config"
	cerrors "github.com/basslab/livecell/internal/errors"
	"github.com/basslab/livecell/internal/logging"
	"github.com/basslab/livecell/internal/reporter"
	"github.com/basslab/livecell/internal/segment"
)

// CorrectedFilename returns the canonical on-disk name for an FOV's
// background-corrected fluorescence array for channel k.
func CorrectedFilename(baseName string, fov, channel int) string {
	return fmt.Sprintf("%s_fov_%03d_fl_corrected_ch_%d.arr", baseName, fov, channel)
}

// Correct reads a fluorescence ArrayFile and its paired segmentation
// mask, writing a float32 corrected ArrayFile of identical shape at
// outPath. If outPath already holds a valid array, the stage is
// skipped and Correct returns (nil, nil).
func Correct(ctx context.Context, fl, seg *arrayfile.Reader, outPath string, cfg config.BackgroundConfig, fov, channel int, log *logging.Logger, rep reporter.Reporter) (*arrayfile.Writer, error) {
	flHeader := fl.Header()
	segHeader := seg.Header()
	if flHeader.Shape != segHeader.Shape {
		return nil, cerrors.NewShapeError(fmt.Sprintf("fluorescence shape %v does not match segmentation shape %v", flHeader.Shape, segHeader.Shape))
	}

	shape := flHeader.Shape
	if arrayfile.Exists(outPath, shape, arrayfile.DTypeFloat32) {
		log.Debug("background: skip existing", "path", outPath)
		return nil, nil
	}

	w, err := arrayfile.CreateArray(outPath, shape, arrayfile.DTypeFloat32)
	if err != nil {
		return nil, cerrors.NewWriteError("create corrected array", err)
	}

	height := int(shape[1])
	width := int(shape[2])
	nFrames := int(shape[0])
	reportEvery := 30

	for t := 0; t < nFrames; t++ {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return nil, cerrors.NewCancelledError()
		default:
		}

		frame, err := arrayfile.ReadFloat32Frame(fl, t)
		if err != nil {
			_ = w.Close()
			return nil, cerrors.NewReadError(fmt.Sprintf("read fluorescence frame %d", t), err)
		}
		mask, err := arrayfile.ReadBoolFrame(seg, t)
		if err != nil {
			_ = w.Close()
			return nil, cerrors.NewReadError(fmt.Sprintf("read mask frame %d", t), err)
		}

		corrected, err := CorrectFrame(frame, mask, height, width, cfg)
		if err != nil {
			_ = w.Close()
			return nil, err
		}

		if err := w.WriteFrame(t, arrayfile.EncodeFloat32Frame(corrected)); err != nil {
			_ = w.Close()
			return nil, cerrors.NewWriteError(fmt.Sprintf("write corrected frame %d", t), err)
		}

		if t%reportEvery == 0 && rep != nil {
			rep.StageProgress(reporter.StageProgress{
				FOV: fov, Stage: "background",
				Percent: float32(t+1) / float32(nFrames) * 100,
				Message: fmt.Sprintf("channel %d frame %d/%d", channel, t+1, nFrames),
			})
		}
	}

	return w, nil
}

// CorrectFrame corrects a single (height x width) fluorescence frame
// against its paired mask: dilate the foreground, take overlapping
// tile medians of the remaining background, spline the coarse grid
// onto the full frame, and subtract.
func CorrectFrame(frame []float32, mask []bool, height, width int, cfg config.BackgroundConfig) ([]float32, error) {
	if len(frame) != height*width || len(mask) != height*width {
		return nil, cerrors.NewShapeError("fluorescence/mask length does not match height*width")
	}

	footprint := 2*cfg.DilationRadius + 1
	dilated := segment.DilateMask(mask, height, width, footprint)

	th, tw := adaptiveTileSize(height, width, cfg.TileHeight, cfg.TileWidth)
	rowCenters, colCenters := tileCenters(height, width, th, tw)

	globalMedian := globalFiniteMedian(frame, dilated)

	// The coarse grid S of tile medians, located at the tile centers.
	grid := mat.NewDense(len(rowCenters), len(colCenters), nil)
	for ri, rc := range rowCenters {
		for ci, cc := range colCenters {
			grid.Set(ri, ci, tileMedian(frame, dilated, height, width, rc, cc, th, tw, globalMedian))
		}
	}

	surface := Interpolate2D(rowCenters, colCenters, grid, height, width)

	out := make([]float32, height*width)
	for i := range frame {
		out[i] = float32(float64(frame[i]) - surface[i])
	}
	return out, nil
}

// adaptiveTileSize shrinks the tile dimensions when the frame is
// smaller than the configured tile, so at least a 2x2 tile grid
// exists.
func adaptiveTileSize(height, width, th, tw int) (int, int) {
	if height < th {
		th = maxInt(height/2, 1)
	}
	if width < tw {
		tw = maxInt(width/2, 1)
	}
	return th, tw
}

// tileCenters returns tile-center coordinates along each axis, spaced
// at 50% overlap (stride = size/2) from size/2 for as long as the whole
// tile fits inside the frame; no clamped center is added at the border.
func tileCenters(height, width, th, tw int) (rows, cols []float64) {
	rows = axisCenters(height, th)
	cols = axisCenters(width, tw)
	return
}

func axisCenters(length, size int) []float64 {
	stride := maxInt(size/2, 1)
	half := size / 2
	var centers []float64
	for c := half; c+half <= length; c += stride {
		centers = append(centers, float64(c))
	}
	// A tile median sits at its window's true center only while the
	// window fits inside the frame; the margin past the last center is
	// covered by the spline's endpoint-tangent extrapolation.
	if len(centers) == 0 {
		centers = append(centers, float64(length)/2)
	}
	return centers
}

func tileMedian(frame []float32, dilatedMask []bool, height, width int, centerY, centerX float64, th, tw int, fallback float64) float64 {
	y0 := clampInt(int(centerY)-th/2, 0, height-1)
	y1 := clampInt(int(centerY)+th/2, 0, height-1)
	x0 := clampInt(int(centerX)-tw/2, 0, width-1)
	x1 := clampInt(int(centerX)+tw/2, 0, width-1)

	var values []float64
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			idx := y*width + x
			if !dilatedMask[idx] {
				values = append(values, float64(frame[idx]))
			}
		}
	}
	if len(values) == 0 {
		return fallback
	}
	return median(values)
}

func globalFiniteMedian(frame []float32, dilatedMask []bool) float64 {
	var values []float64
	for i, v := range frame {
		if !dilatedMask[i] {
			values = append(values, float64(v))
		}
	}
	if len(values) == 0 {
		for _, v := range frame {
			values = append(values, float64(v))
		}
	}
	return median(values)
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
