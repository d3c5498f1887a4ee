// Package segment implements the Segmenter stage: per-frame adaptive
// binary masks from phase-contrast via local log-stddev, a
// histogram-derived threshold, and morphological cleanup.
package segment

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/basslab/livecell/internal/arrayfile"
	"github.com/basslab/livecell/internal/config"
	cerrors "github.com/basslab/livecell/internal/errors"
	"github.com/basslab/livecell/internal/logging"
	"github.com/basslab/livecell/internal/reporter"
)

const epsilon = 1e-12

// MaskFilename returns the canonical on-disk name for an FOV's
// segmentation mask array inside its fov_NNN directory.
func MaskFilename(baseName string, fov int) string {
	return fmt.Sprintf("%s_fov_%03d_seg.arr", baseName, fov)
}

// Segment reads a phase-contrast ArrayFile and writes a boolean mask
// ArrayFile of identical shape at outPath. Frames are processed
// independently and deterministically. If
// outPath already holds a valid mask matching the expected shape, the
// stage is skipped and Segment returns (nil, nil); callers that need
// a Reader afterward should OpenArray(outPath) themselves.
func Segment(ctx context.Context, pc *arrayfile.Reader, outPath string, cfg config.SegmentConfig, fov int, log *logging.Logger, rep reporter.Reporter) (*arrayfile.Writer, error) {
	h := pc.Header()
	if len(h.Shape) != 3 {
		return nil, cerrors.NewShapeError("phase-contrast array must be 3D")
	}
	shape := h.Shape
	if arrayfile.Exists(outPath, shape, arrayfile.DTypeBool) {
		log.Debug("segment: skip existing", "path", outPath)
		return nil, nil
	}

	w, err := arrayfile.CreateArray(outPath, shape, arrayfile.DTypeBool)
	if err != nil {
		return nil, cerrors.NewWriteError("create segmentation array", err)
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

		frame, err := arrayfile.ReadFloat32Frame(pc, t)
		if err != nil {
			_ = w.Close()
			return nil, cerrors.NewReadError(fmt.Sprintf("read pc frame %d", t), err)
		}

		mask, err := SegmentFrame(frame, height, width, cfg)
		if err != nil {
			_ = w.Close()
			return nil, err
		}

		if err := w.WriteFrame(t, arrayfile.EncodeBoolFrame(mask)); err != nil {
			_ = w.Close()
			return nil, cerrors.NewWriteError(fmt.Sprintf("write mask frame %d", t), err)
		}

		if t%reportEvery == 0 && rep != nil {
			rep.StageProgress(reporter.StageProgress{
				FOV: fov, Stage: "segment",
				Percent: float32(t+1) / float32(nFrames) * 100,
				Message: fmt.Sprintf("frame %d/%d", t+1, nFrames),
			})
		}
	}

	return w, nil
}

// SegmentFrame segments a single (height x width) row-major frame:
// local log-stddev, histogram threshold, then hole fill, opening,
// and closing.
func SegmentFrame(frame []float32, height, width int, cfg config.SegmentConfig) ([]bool, error) {
	if len(frame) != height*width {
		return nil, cerrors.NewShapeError(fmt.Sprintf("frame length %d does not match %dx%d", len(frame), height, width))
	}

	logVar := localLogStddev(frame, height, width, cfg.WindowHalfSize)
	tau := selectThreshold(logVar, cfg.HistogramBins, cfg.ThresholdSigmaMultiple)

	mask := make([]bool, height*width)
	for i, v := range logVar {
		mask[i] = v > tau
	}

	mask = fillHoles(mask, height, width)
	mask = opening(mask, height, width, cfg.StructuringElementSide, cfg.MorphologyIterations)
	mask = closing(mask, height, width, cfg.StructuringElementSide, cfg.MorphologyIterations)

	return mask, nil
}

// localLogStddev computes L[y,x] = log(max(var[y,x], eps)) where var
// is the local variance over a (2w+1)x(2w+1) window, via box-sum
// integral images so the cost is O(H*W) independent of window size.
func localLogStddev(frame []float32, height, width, w int) []float64 {
	f64 := make([]float64, len(frame))
	sq := make([]float64, len(frame))
	for i, v := range frame {
		f64[i] = float64(v)
		sq[i] = float64(v) * float64(v)
	}

	sumInt := integralImage(f64, height, width)
	sqInt := integralImage(sq, height, width)

	out := make([]float64, height*width)
	for y := 0; y < height; y++ {
		y0 := clampInt(y-w, 0, height-1)
		y1 := clampInt(y+w, 0, height-1)
		for x := 0; x < width; x++ {
			x0 := clampInt(x-w, 0, width-1)
			x1 := clampInt(x+w, 0, width-1)

			n := float64((y1 - y0 + 1) * (x1 - x0 + 1))
			s := boxSum(sumInt, width, y0, x0, y1, x1)
			sSq := boxSum(sqInt, width, y0, x0, y1, x1)

			mean := s / n
			variance := sSq/n - mean*mean
			if variance < epsilon {
				variance = epsilon
			}
			out[y*width+x] = math.Log(variance)
		}
	}
	return out
}

// integralImage builds a summed-area table with a one-pixel border of
// zeros so box sums can be read without additional bounds checks.
func integralImage(values []float64, height, width int) []float64 {
	ih, iw := height+1, width+1
	table := make([]float64, ih*iw)
	for y := 1; y < ih; y++ {
		rowSum := 0.0
		for x := 1; x < iw; x++ {
			rowSum += values[(y-1)*width+(x-1)]
			table[y*iw+x] = table[(y-1)*iw+x] + rowSum
		}
	}
	return table
}

// boxSum reads the sum over [y0,y1]x[x0,x1] (inclusive) from a
// summed-area table with stride width+1 and a zero border at row/col 0.
func boxSum(table []float64, width, y0, x0, y1, x1 int) float64 {
	iw := width + 1
	br := table[(y1+1)*iw+(x1+1)]
	tl := table[y0*iw+x0]
	tr := table[y0*iw+(x1+1)]
	bl := table[(y1+1)*iw+x0]
	return br - tr - bl + tl
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

// selectThreshold finds the histogram mode center and the stddev of
// values at or below it, returning tau = mode + k*sigma.
func selectThreshold(values []float64, bins int, sigmaMultiple float64) float64 {
	if len(values) == 0 {
		return 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi <= lo {
		hi = lo + 1
	}

	dividers := make([]float64, bins+1)
	for i := range dividers {
		dividers[i] = lo + (hi-lo)*float64(i)/float64(bins)
	}
	// stat.Histogram needs sorted data and a top divider strictly
	// above the largest value.
	dividers[bins] = math.Nextafter(hi, math.Inf(1))
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	counts := make([]float64, bins)
	counts = stat.Histogram(counts, dividers, sorted, nil)

	modeBin := 0
	for i, c := range counts {
		if c > counts[modeBin] {
			modeBin = i
		}
	}
	modeCenter := (dividers[modeBin] + dividers[modeBin+1]) / 2

	var sum, sumSq float64
	var n int
	for _, v := range values {
		if v <= modeCenter {
			sum += v
			sumSq += v * v
			n++
		}
	}
	sigma := 0.0
	if n > 0 {
		mean := sum / float64(n)
		variance := sumSq/float64(n) - mean*mean
		if variance < 0 {
			variance = 0
		}
		sigma = math.Sqrt(variance)
	}

	return modeCenter + sigmaMultiple*sigma
}
