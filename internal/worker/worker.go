// Package worker implements the per-FOV worker: the job description a
// worker process receives, the NDJSON event protocol it speaks back to
// the coordinator, and the sequential segment → correct → track →
// measure loop it runs over its FOV range.
package worker

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/basslab/livecell/internal/arrayfile"
	"github.com/basslab/livecell/internal/background"
	"github.com/basslab/livecell/internal/config"
	cerrors "github.com/basslab/livecell/internal/errors"
	"github.com/basslab/livecell/internal/extractor"
	"github.com/basslab/livecell/internal/logging"
	"github.com/basslab/livecell/internal/manifest"
	"github.com/basslab/livecell/internal/measure"
	"github.com/basslab/livecell/internal/reporter"
	"github.com/basslab/livecell/internal/segment"
	"github.com/basslab/livecell/internal/tracker"
)

// Job is the full description one worker invocation needs: its FOV
// range, the acquisition dimensions, and every stage's parameters.
// Workers share no state with the coordinator beyond this job, the
// output directory, and the event stream.
type Job struct {
	OutputDir  string                  `json:"output_dir"`
	BaseName   string                  `json:"base_name"`
	FOVs       []int                   `json:"fovs"`
	NFrames    int                     `json:"n_frames"`
	Height     int                     `json:"height"`
	Width      int                     `json:"width"`
	Timepoints []float64               `json:"timepoints"`
	TimeUnit   config.TimeUnit         `json:"time_unit"`
	Channels   config.ChannelSelection `json:"channels"`
	Segment    config.SegmentConfig    `json:"segment"`
	Background config.BackgroundConfig `json:"background"`
	Tracker    config.TrackerConfig    `json:"tracker"`
	Measure    config.MeasureConfig    `json:"measure"`
	Verbose    bool                    `json:"verbose"`
}

// RunJob processes the job's FOVs sequentially, emitting one terminal
// fov_status event per FOV. Failures are contained: a FAILED FOV does
// not stop the remaining FOVs; cancellation does. The returned map
// holds this worker's FovArtifacts for the coordinator merge.
func RunJob(ctx context.Context, job Job, rep reporter.Reporter, emit EmitFunc, log *logging.Logger) map[int]*manifest.FovArtifacts {
	out := make(map[int]*manifest.FovArtifacts, len(job.FOVs))
	cancelled := false

	for _, fov := range job.FOVs {
		if cancelled || ctxDone(ctx) {
			cancelled = true
			a := &manifest.FovArtifacts{Status: manifest.StatusCancelled}
			out[fov] = a
			emit(Event{Type: EventFOVStatus, FOV: fov, Status: a.Status, Artifacts: a})
			continue
		}

		rep.FOVStarted(reporter.FOVStartInfo{FOV: fov, TotalFOVs: len(job.FOVs)})
		a, traces, err := runFOV(ctx, job, fov, rep, log.WithFOV(fov))
		out[fov] = a

		switch {
		case err == nil:
			a.Status = manifest.StatusDone
			rep.FOVComplete(reporter.FOVResult{FOV: fov, Traces: traces})
		case cerrors.IsCancelled(err):
			a.Status = manifest.StatusCancelled
			cancelled = true
		default:
			a.Status = manifest.StatusFailed
			a.Error = err.Error()
			rep.Error(reporter.ReporterError{
				Title:   fmt.Sprintf("FOV %d failed", fov),
				Message: err.Error(),
			})
		}
		emit(Event{Type: EventFOVStatus, FOV: fov, Status: a.Status, Error: a.Error, Traces: traces, Artifacts: a})
	}
	return out
}

// runFOV runs the four worker-side stages for one FOV. Any panic in
// stage code is caught here, at the worker boundary, and recorded as
// an unexpected failure for this FOV only.
func runFOV(ctx context.Context, job Job, fov int, rep reporter.Reporter, log *logging.Logger) (a *manifest.FovArtifacts, traces int, err error) {
	a = &manifest.FovArtifacts{Status: manifest.StatusExtracted}
	stage := "segment"
	defer func() {
		if r := recover(); r != nil {
			err = cerrors.NewUnexpectedError(stage, r)
		}
	}()

	fovDir := filepath.Join(job.OutputDir, extractor.FOVDir(fov))
	shape := [3]uint32{uint32(job.NFrames), uint32(job.Height), uint32(job.Width)}

	// Extraction ran in the coordinator process; workers only verify
	// the inputs they were promised are on disk with matching headers.
	pcPath := filepath.Join(fovDir, extractor.PhaseContrastFilename(job.BaseName, fov))
	if !arrayfile.Exists(pcPath, shape, arrayfile.DTypeFloat32) {
		return a, 0, cerrors.NewIncompatibleArtifactError(pcPath, "missing or mismatched phase-contrast array")
	}
	a.PC = pcPath
	for _, ch := range job.Channels.MeasureChannels {
		flPath := filepath.Join(fovDir, extractor.FluorescenceFilename(job.BaseName, fov, ch))
		if !arrayfile.Exists(flPath, shape, arrayfile.DTypeFloat32) {
			return a, 0, cerrors.NewIncompatibleArtifactError(flPath, "missing or mismatched fluorescence array")
		}
		a.FL = append(a.FL, manifest.ChannelPath{Channel: ch, Path: flPath})
	}

	// Segment.
	pc, err := arrayfile.OpenArray(pcPath)
	if err != nil {
		return a, 0, err
	}
	defer pc.Close()

	segPath := filepath.Join(fovDir, segment.MaskFilename(job.BaseName, fov))
	w, err := segment.Segment(ctx, pc, segPath, job.Segment, fov, log, rep)
	if err != nil {
		return a, 0, err
	}
	if w != nil {
		if err := w.Close(); err != nil {
			return a, 0, err
		}
	}
	a.Seg = segPath
	a.Status = manifest.StatusSegmented

	segReader, err := arrayfile.OpenArray(segPath)
	if err != nil {
		return a, 0, err
	}
	defer segReader.Close()

	// Correct, per fluorescence channel.
	stage = "background"
	for _, cp := range a.FL {
		fl, err := arrayfile.OpenArray(cp.Path)
		if err != nil {
			return a, 0, err
		}
		corrPath := filepath.Join(fovDir, background.CorrectedFilename(job.BaseName, fov, cp.Channel))
		cw, err := background.Correct(ctx, fl, segReader, corrPath, job.Background, fov, cp.Channel, log, rep)
		_ = fl.Close()
		if err != nil {
			return a, 0, err
		}
		if cw != nil {
			if err := cw.Close(); err != nil {
				return a, 0, err
			}
		}
		a.FLCorrected = append(a.FLCorrected, manifest.ChannelPath{Channel: cp.Channel, Path: corrPath})
	}
	a.Status = manifest.StatusCorrected

	// Track.
	stage = "track"
	labeledPath := filepath.Join(fovDir, tracker.LabeledFilename(job.BaseName, fov))
	kept, _, err := tracker.Track(ctx, segReader, labeledPath, job.Tracker, fov, log, rep)
	if err != nil {
		return a, 0, err
	}
	a.SegLabeled = labeledPath
	a.Status = manifest.StatusTracked
	traces = len(kept)

	labeled, err := arrayfile.OpenArray(labeledPath)
	if err != nil {
		return a, 0, err
	}
	defer labeled.Close()

	// Measure, per fluorescence channel, preferring the corrected
	// array when present.
	stage = "measure"
	for _, cp := range a.FLCorrected {
		intensity, err := arrayfile.OpenArray(cp.Path)
		if err != nil {
			return a, 0, err
		}
		csvPath := filepath.Join(fovDir, measure.TracesFilename(job.BaseName, fov, cp.Channel))
		cells, skipped, err := measure.Measure(ctx, labeled, intensity, job.Timepoints, job.Measure, fov, csvPath, log, rep)
		_ = intensity.Close()
		if err != nil {
			return a, 0, err
		}
		if !skipped && cells > traces {
			traces = cells
		}
		a.Traces = append(a.Traces, manifest.ChannelPath{Channel: cp.Channel, Path: csvPath})
	}
	a.Status = manifest.StatusMeasured

	return a, traces, nil
}

func ctxDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
