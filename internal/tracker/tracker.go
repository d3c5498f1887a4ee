package tracker

import (
	"context"
	"fmt"
	"math"

	"github.com/basslab/livecell/internal/arrayfile"
	"github.com/basslab/livecell/internal/config"
	cerrors "github.com/basslab/livecell/internal/errors"
	"github.com/basslab/livecell/internal/logging"
	"github.com/basslab/livecell/internal/reporter"
)

// LabeledFilename returns the canonical on-disk name for an FOV's
// labeled segmentation array inside its fov_NNN directory.
func LabeledFilename(baseName string, fov int) string {
	return fmt.Sprintf("%s_fov_%03d_seg_labeled.arr", baseName, fov)
}

// Trace records one cell's region label in each frame it was matched.
// Traces originate only in frame 0 and are contiguous by construction:
// a frame with no match ends the trace.
type Trace struct {
	ID     int
	First  int
	Last   int
	Labels map[int]int // frame index -> region label in that frame
}

// Span returns the number of frames the trace covers.
func (tr *Trace) Span() int {
	return tr.Last - tr.First + 1
}

// Track reads a boolean segmentation ArrayFile and writes an int32
// labeled ArrayFile of identical shape at outPath, where every
// nonzero pixel carries a stable trace ID. Returns the surviving
// traces after the trace-length filter, renumbered densely 1..N.
// If outPath already holds a valid labeled array, the stage is
// skipped and Track returns (nil, true, nil).
func Track(ctx context.Context, seg *arrayfile.Reader, outPath string, cfg config.TrackerConfig, fov int, log *logging.Logger, rep reporter.Reporter) ([]Trace, bool, error) {
	h := seg.Header()
	shape := h.Shape
	if arrayfile.Exists(outPath, shape, arrayfile.DTypeInt32) {
		log.Debug("tracker: skip existing", "path", outPath)
		return nil, true, nil
	}

	height := int(shape[1])
	width := int(shape[2])
	nFrames := int(shape[0])

	regionsAt := func(t int) ([]Region, error) {
		mask, err := arrayfile.ReadBoolFrame(seg, t)
		if err != nil {
			return nil, cerrors.NewReadError(fmt.Sprintf("read mask frame %d", t), err)
		}
		return LabelFrame(mask, height, width, cfg.MinRegionSize, cfg.MaxRegionSize), nil
	}

	traces, err := linkTraces(ctx, regionsAt, nFrames, cfg.IoUThreshold, fov, rep)
	if err != nil {
		return nil, false, err
	}

	kept := filterTraces(traces, cfg.MinTraceLength)
	log.Debug("tracker: traces", "initial", len(traces), "kept", len(kept))

	if err := renderLabeled(ctx, regionsAt, kept, outPath, shape); err != nil {
		return nil, false, err
	}
	return kept, false, nil
}

// linkTraces runs the frame-to-frame assignment pass: traces are
// seeded from frame 0's regions and extended while a
// feasible (IoU >= threshold) optimal match continues them.
func linkTraces(ctx context.Context, regionsAt func(int) ([]Region, error), nFrames int, iouThreshold float64, fov int, rep reporter.Reporter) ([]*Trace, error) {
	prev, err := regionsAt(0)
	if err != nil {
		return nil, err
	}

	traces := make([]*Trace, len(prev))
	// active maps an index into prev to the trace ending at that region.
	active := make(map[int]*Trace, len(prev))
	for i := range prev {
		traces[i] = &Trace{First: 0, Last: 0, Labels: map[int]int{0: prev[i].Label}}
		active[i] = traces[i]
	}

	reportEvery := 30
	for t := 0; t+1 < nFrames; t++ {
		select {
		case <-ctx.Done():
			return nil, cerrors.NewCancelledError()
		default:
		}

		cur, err := regionsAt(t + 1)
		if err != nil {
			return nil, err
		}

		assign := matchRegions(prev, cur, iouThreshold)

		next := make(map[int]*Trace, len(active))
		for ai := 0; ai < len(prev); ai++ {
			bi := assign[ai]
			if bi < 0 {
				continue
			}
			tr, ok := active[ai]
			if !ok {
				// Matched region belongs to no live trace; new traces
				// never open after frame 0 in this design.
				continue
			}
			tr.Labels[t+1] = cur[bi].Label
			tr.Last = t + 1
			next[bi] = tr
		}
		active = next
		prev = cur

		if t%reportEvery == 0 && rep != nil {
			rep.StageProgress(reporter.StageProgress{
				FOV: fov, Stage: "track",
				Percent: float32(t+1) / float32(nFrames) * 100,
				Message: fmt.Sprintf("frame %d/%d, %d live traces", t+1, nFrames, len(active)),
			})
		}
	}

	return traces, nil
}

// matchRegions builds the 1-IoU cost matrix with sub-threshold pairs
// forbidden at +Inf and solves the linear sum assignment.
func matchRegions(a, b []Region, iouThreshold float64) []int {
	if len(a) == 0 || len(b) == 0 {
		out := make([]int, len(a))
		for i := range out {
			out[i] = -1
		}
		return out
	}
	cost := make([][]float64, len(a))
	for i := range a {
		cost[i] = make([]float64, len(b))
		for j := range b {
			iou := IoU(a[i].BBox, b[j].BBox)
			if iou < iouThreshold {
				cost[i][j] = math.Inf(1)
			} else {
				cost[i][j] = 1 - iou
			}
		}
	}
	return Solve(cost)
}

// filterTraces drops traces spanning fewer than minLength frames and
// renumbers the survivors densely 1..N in seeding order.
func filterTraces(traces []*Trace, minLength int) []Trace {
	var kept []Trace
	for _, tr := range traces {
		if tr.Span() < minLength {
			continue
		}
		out := *tr
		out.ID = len(kept) + 1
		kept = append(kept, out)
	}
	return kept
}

// renderLabeled writes the labeled array: every pixel of a region
// held by a surviving trace at frame t gets that trace's ID, every
// other pixel stays 0.
func renderLabeled(ctx context.Context, regionsAt func(int) ([]Region, error), traces []Trace, outPath string, shape [3]uint32) error {
	w, err := arrayfile.CreateArray(outPath, shape, arrayfile.DTypeInt32)
	if err != nil {
		return cerrors.NewWriteError("create labeled array", err)
	}
	defer w.Close()

	height := int(shape[1])
	width := int(shape[2])
	nFrames := int(shape[0])

	for t := 0; t < nFrames; t++ {
		select {
		case <-ctx.Done():
			return cerrors.NewCancelledError()
		default:
		}

		// Region labels at frame t -> trace ID.
		idByLabel := make(map[int]int32)
		for i := range traces {
			if lbl, ok := traces[i].Labels[t]; ok {
				idByLabel[lbl] = int32(traces[i].ID)
			}
		}

		regions, err := regionsAt(t)
		if err != nil {
			return err
		}

		frame := make([]int32, height*width)
		for _, r := range regions {
			id, ok := idByLabel[r.Label]
			if !ok {
				continue
			}
			for _, idx := range r.Pixels {
				frame[idx] = id
			}
		}

		if err := w.WriteFrame(t, arrayfile.EncodeInt32Frame(frame)); err != nil {
			return cerrors.NewWriteError(fmt.Sprintf("write labeled frame %d", t), err)
		}
	}
	return nil
}
