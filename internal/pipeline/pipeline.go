package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/basslab/livecell/internal/config"
	cerrors "github.com/basslab/livecell/internal/errors"
	"github.com/basslab/livecell/internal/extractor"
	"github.com/basslab/livecell/internal/logging"
	"github.com/basslab/livecell/internal/manifest"
	"github.com/basslab/livecell/internal/measure"
	"github.com/basslab/livecell/internal/reader"
	"github.com/basslab/livecell/internal/reporter"
	"github.com/basslab/livecell/internal/util"
	"github.com/basslab/livecell/internal/worker"
)

// Coordinator orchestrates the five pipeline stages across many FOVs
// with bounded parallelism, resumable execution, and live progress
// reporting.
type Coordinator struct {
	Config   *config.Config
	Source   reader.Source
	Reporter reporter.Reporter
	Logger   *logging.Logger
	Launcher Launcher
}

// Run executes the pipeline over the configured FOV range. It returns
// true iff every in-scope FOV reached DONE; per-FOV statuses are
// persisted in the manifest either way. Configuration problems are
// reported as KindConfig errors before any work starts.
func (c *Coordinator) Run(ctx context.Context) (bool, error) {
	cfg := c.Config
	rep := c.Reporter
	if rep == nil {
		rep = reporter.NullReporter{}
	}
	log := c.Logger
	if log == nil {
		log = logging.Global()
	}
	if c.Launcher == nil {
		c.Launcher = &InProcessLauncher{Log: log}
	}

	if err := cfg.Validate(); err != nil {
		return false, cerrors.NewConfigError(err.Error())
	}

	meta, err := c.Source.ReadMetadata()
	if err != nil {
		return false, err
	}
	if err := reader.ValidateChannelSelection(cfg.Channels, len(meta.ChannelNames)); err != nil {
		return false, err
	}
	timepoints := meta.Timepoints
	if len(timepoints) == 0 {
		timepoints = reader.SynthesizeTimepoints(meta.NFrames)
	}

	fovs, err := resolveFOVs(cfg.FOVs, meta.NFOVs)
	if err != nil {
		return false, err
	}

	if err := util.EnsureDirectory(cfg.OutputDir); err != nil {
		return false, cerrors.NewWriteError("create output directory", err)
	}

	m := c.loadOrCreateManifest(meta)
	start := time.Now()

	workers := cfg.Workers
	sys := util.GetSystemInfo()
	if util.AvailableMemoryBytes() > 0 {
		// One FOV worker holds a handful of mmap'd frames plus stage
		// scratch; clamp concurrency when memory is tight.
		perWorker := uint64(meta.Height) * uint64(meta.Width) * 4 * 64
		if fit := util.MaxWorkersForMemory(perWorker, 0.8); fit < workers {
			log.Warn("reducing workers to fit memory", "requested", workers, "using", fit)
			workers = fit
		}
	}
	rep.Hardware(reporter.HardwareSummary{Hostname: sys.Hostname, NumCPU: sys.NumCPU, Workers: workers})

	rep.Initialization(reporter.RunSummary{
		InputDir:     cfg.InputDir,
		OutputDir:    cfg.OutputDir,
		NFOVs:        len(fovs),
		NFrames:      meta.NFrames,
		Height:       meta.Height,
		Width:        meta.Width,
		ChannelNames: meta.ChannelNames,
	})

	completed := 0
	batches := batchFOVs(fovs, cfg.BatchSize)
	for _, batch := range batches {
		if ctx.Err() != nil {
			markCancelled(m, batch)
			continue
		}

		c.runBatch(ctx, batch, meta, timepoints, m, workers, rep, log)

		for _, fov := range batch {
			if m.FOV(fov).Status == manifest.StatusDone {
				completed++
			}
		}
		rep.BatchProgress(reporter.BatchProgress{
			CompletedFOVs: completed,
			TotalFOVs:     len(fovs),
			ElapsedTime:   time.Since(start),
		})
	}

	manifestPath := filepath.Join(cfg.OutputDir, manifest.Filename)
	if err := m.Save(manifestPath); err != nil {
		return false, err
	}

	done, cancelled, failed := countStatuses(m, fovs)
	log.Info("pipeline finished", "done", done, "cancelled", cancelled, "failed", failed)
	rep.RunComplete(reporter.RunOutcome{
		TotalFOVs:      len(fovs),
		SuccessfulFOVs: done,
		FailedFOVs:     failed,
		TotalTraces:    TotalTraces(m, fovs),
		TotalDuration:  time.Since(start),
	})

	return m.AllDone(fovs), nil
}

// runBatch extracts the batch in the coordinator process (the source
// reader is not required to be multi-process safe), then fans the
// batch out across worker partitions and drains their shared event
// stream until all workers return.
func (c *Coordinator) runBatch(ctx context.Context, batch []int, meta reader.AcquisitionMetadata, timepoints []float64, m *manifest.Manifest, workers int, rep reporter.Reporter, log *logging.Logger) {
	cfg := c.Config

	var extracted []int
	for _, fov := range batch {
		if ctx.Err() != nil {
			m.FOV(fov).Status = manifest.StatusCancelled
			continue
		}
		res, err := extractor.Extract(ctx, c.Source, meta, cfg.Channels, fov, cfg.OutputDir, log, rep)
		a := m.FOV(fov)
		if err != nil {
			if cerrors.IsCancelled(err) {
				a.Status = manifest.StatusCancelled
			} else {
				a.Status = manifest.StatusFailed
				a.Error = err.Error()
				rep.Error(reporter.ReporterError{
					Title:   fmt.Sprintf("FOV %d extraction failed", fov),
					Message: err.Error(),
				})
			}
			continue
		}
		a.PC = res.PhaseContrast
		a.FL = nil
		for _, ch := range res.Fluorescence {
			a.FL = append(a.FL, manifest.ChannelPath{Channel: ch.Channel, Path: ch.Path})
		}
		a.Status = manifest.StatusExtracted
		extracted = append(extracted, fov)
	}
	if len(extracted) == 0 {
		return
	}

	parts := partitionFOVs(extracted, workers)

	events := make(chan worker.Event, 256)
	outcomes := make(chan map[int]*manifest.FovArtifacts, 1)
	go drainEvents(events, rep, outcomes)

	var wg sync.WaitGroup
	for _, part := range parts {
		job := worker.Job{
			OutputDir:  cfg.OutputDir,
			BaseName:   meta.BaseName,
			FOVs:       part,
			NFrames:    meta.NFrames,
			Height:     meta.Height,
			Width:      meta.Width,
			Timepoints: timepoints,
			TimeUnit:   meta.TimeUnit,
			Channels:   cfg.Channels,
			Segment:    cfg.Segment,
			Background: cfg.Background,
			Tracker:    cfg.Tracker,
			Measure:    cfg.Measure,
			Verbose:    cfg.Verbose,
		}
		wg.Add(1)
		go func(job worker.Job) {
			defer wg.Done()
			if err := c.Launcher.Launch(ctx, job, events); err != nil {
				log.Error("worker launch failed", "fovs", job.FOVs, "error", err)
			}
		}(job)
	}
	wg.Wait()
	close(events)

	merged := <-outcomes
	m.Merge(merged)

	// A worker that died without reporting leaves its FOVs with no
	// terminal status; record those as failed rather than silently
	// pending.
	for _, fov := range extracted {
		if a := m.FOV(fov); !a.Status.Terminal() {
			if ctx.Err() != nil {
				a.Status = manifest.StatusCancelled
			} else {
				a.Status = manifest.StatusFailed
				a.Error = "worker exited without reporting a status"
			}
		}
	}
}

// drainEvents is the dedicated drainer task: it consumes the shared
// event stream, forwards progress to the pluggable reporter, and
// collects terminal fov_status events. Drainer failures never
// propagate; unknown event types are dropped.
func drainEvents(events <-chan worker.Event, rep reporter.Reporter, outcomes chan<- map[int]*manifest.FovArtifacts) {
	collected := make(map[int]*manifest.FovArtifacts)
	for ev := range events {
		switch ev.Type {
		case worker.EventFOVStatus:
			if ev.Artifacts != nil {
				collected[ev.FOV] = ev.Artifacts
			}
		case worker.EventFOVStarted:
			rep.FOVStarted(reporter.FOVStartInfo{FOV: ev.FOV, TotalFOVs: ev.TotalFOVs})
		case worker.EventStageProgress:
			rep.StageProgress(reporter.StageProgress{FOV: ev.FOV, Stage: ev.Stage, Percent: ev.Percent, Message: ev.Message})
		case worker.EventFOVComplete:
			rep.FOVComplete(reporter.FOVResult{FOV: ev.FOV, Traces: ev.Traces, Resumed: ev.Resumed})
		case worker.EventWarning:
			rep.Warning(ev.Message)
		case worker.EventError:
			rep.Error(reporter.ReporterError{Title: ev.Title, Message: ev.Message})
		}
	}
	outcomes <- collected
}

// loadOrCreateManifest resumes an existing manifest when the output
// directory already holds one, so prior per-FOV entries outside the
// current scope survive the rewrite.
func (c *Coordinator) loadOrCreateManifest(meta reader.AcquisitionMetadata) *manifest.Manifest {
	path := filepath.Join(c.Config.OutputDir, manifest.Filename)
	m := manifest.New(c.Config.OutputDir, meta.BaseName, meta.NFOVs, meta.NFrames, c.Config.Channels, meta.TimeUnit)
	if util.FileExists(path) {
		if prior, err := manifest.Load(path); err == nil {
			// Per-FOV entries outside the current scope ride along
			// unchanged; everything else is rewritten from the current
			// run's metadata and parameters.
			m.FOVData = prior.FOVData
		}
	}
	m.Timepoints = meta.Timepoints
	m.Extra["segment"] = c.Config.Segment
	m.Extra["background"] = c.Config.Background
	m.Extra["tracker"] = c.Config.Tracker
	return m
}

// resolveFOVs expands the configured range into an explicit index
// list. End <= 0 means "through the last FOV", covering omitted and
// -1 endpoints alike.
func resolveFOVs(r config.FOVRange, nFOVs int) ([]int, error) {
	start := r.Start
	end := r.End
	if end <= 0 {
		end = nFOVs
	}
	if start < 0 || start >= nFOVs || end > nFOVs {
		return nil, cerrors.NewConfigError(fmt.Sprintf("fov range [%d,%d) out of bounds for %d fovs", start, end, nFOVs))
	}
	if end <= start {
		return nil, cerrors.NewConfigError(fmt.Sprintf("empty fov range [%d,%d)", start, end))
	}
	fovs := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		fovs = append(fovs, i)
	}
	return fovs, nil
}

// batchFOVs splits FOV indices into contiguous batches of size
// batchSize.
func batchFOVs(fovs []int, batchSize int) [][]int {
	var batches [][]int
	for len(fovs) > 0 {
		n := batchSize
		if n > len(fovs) {
			n = len(fovs)
		}
		batches = append(batches, fovs[:n])
		fovs = fovs[n:]
	}
	return batches
}

// partitionFOVs splits a batch into up to n contiguous ranges of
// near-equal size, remainder distributed to the earliest ranges.
func partitionFOVs(fovs []int, n int) [][]int {
	if n > len(fovs) {
		n = len(fovs)
	}
	if n < 1 {
		return nil
	}
	base := len(fovs) / n
	rem := len(fovs) % n
	parts := make([][]int, 0, n)
	idx := 0
	for i := 0; i < n; i++ {
		size := base
		if i < rem {
			size++
		}
		parts = append(parts, fovs[idx:idx+size])
		idx += size
	}
	return parts
}

func markCancelled(m *manifest.Manifest, fovs []int) {
	for _, fov := range fovs {
		if a := m.FOV(fov); !a.Status.Terminal() {
			a.Status = manifest.StatusCancelled
		}
	}
}

func countStatuses(m *manifest.Manifest, fovs []int) (done, cancelled, failed int) {
	for _, fov := range fovs {
		switch m.FOV(fov).Status {
		case manifest.StatusDone:
			done++
		case manifest.StatusCancelled:
			cancelled++
		case manifest.StatusFailed:
			failed++
		}
	}
	return
}

// TotalTraces sums, over every DONE FOV, the number of distinct cell
// IDs in that FOV's first-channel trace CSV, for the final run summary.
func TotalTraces(m *manifest.Manifest, fovs []int) int {
	total := 0
	for _, fov := range fovs {
		a := m.FOV(fov)
		if a.Status != manifest.StatusDone || len(a.Traces) == 0 {
			continue
		}
		rows, err := measure.ReadCSV(a.Traces[0].Path)
		if err != nil {
			continue
		}
		cells := make(map[int]bool)
		for _, r := range rows {
			cells[r.Cell] = true
		}
		total += len(cells)
	}
	return total
}
