// Package livecell provides a Go library for processing live-cell
// time-lapse microscopy acquisitions into per-cell fluorescence and
// morphology traces.
//
// The pipeline runs five stages per field-of-view — extract, segment,
// correct, track, measure — with bounded-memory frame-by-frame
// execution, multi-process parallelism across FOVs, and resumable
// artifacts on disk.
//
// Basic usage:
//
//	pipe, err := livecell.New(
//	    livecell.WithOutputDir("results/"),
//	    livecell.WithChannels(0, []int{1}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	src, err := livecell.OpenAcquisition("experiment/")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer src.Close()
//
//	ok, err := pipe.Run(ctx, src)
package livecell

import (
	"context"

	"github.com/basslab/livecell/internal/config"
	"github.com/basslab/livecell/internal/logging"
	"github.com/basslab/livecell/internal/pipeline"
	"github.com/basslab/livecell/internal/reader"
	"github.com/basslab/livecell/internal/reporter"
)

// Source is the microscopy reader contract the pipeline consumes.
type Source = reader.Source

// AcquisitionMetadata describes an acquisition's dimensions and
// channels.
type AcquisitionMetadata = reader.AcquisitionMetadata

// Reporter is the pluggable progress sink.
type Reporter = reporter.Reporter

// OpenAcquisition opens a file-backed acquisition directory.
func OpenAcquisition(dir string) (*reader.FileSource, error) {
	return reader.OpenFileSource(dir)
}

// Pipeline is the main entry point for processing acquisitions.
type Pipeline struct {
	config   *config.Config
	reporter reporter.Reporter
	launcher pipeline.Launcher
}

// Option configures the pipeline.
type Option func(*Pipeline)

// New creates a Pipeline with the given options. Workers run
// in-process by default; the CLI swaps in the OS-process launcher.
func New(opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		config:   config.NewConfig(".", ".", "."),
		reporter: reporter.NullReporter{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.config.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// WithOutputDir sets the output directory.
func WithOutputDir(dir string) Option {
	return func(p *Pipeline) { p.config.OutputDir = dir }
}

// WithChannels selects the phase-contrast channel and the measured
// fluorescence channels.
func WithChannels(pc int, fl []int) Option {
	return func(p *Pipeline) {
		p.config.Channels = config.ChannelSelection{PhaseContrastChannel: pc, MeasureChannels: fl}
	}
}

// WithFOVRange restricts processing to [start, end); end <= 0 means
// through the last FOV.
func WithFOVRange(start, end int) Option {
	return func(p *Pipeline) { p.config.FOVs = config.FOVRange{Start: start, End: end} }
}

// WithWorkers sets the number of concurrent FOV workers.
func WithWorkers(n int) Option {
	return func(p *Pipeline) { p.config.Workers = n }
}

// WithBatchSize sets the number of FOVs per scheduling batch.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) { p.config.BatchSize = n }
}

// WithMinTraceLength sets L_min for the trace-length filter.
func WithMinTraceLength(n int) Option {
	return func(p *Pipeline) {
		p.config.Tracker.MinTraceLength = n
		p.config.Measure.MinTraceLength = n
	}
}

// WithReporter sets the progress sink.
func WithReporter(rep Reporter) Option {
	return func(p *Pipeline) { p.reporter = rep }
}

// WithConfig replaces the whole configuration; later options still
// apply on top.
func WithConfig(cfg *config.Config) Option {
	return func(p *Pipeline) { p.config = cfg }
}

// WithProcessWorkers runs FOV workers as separate OS processes by
// re-invoking the current executable's hidden worker subcommand. Only
// meaningful from the livecell binary itself.
func WithProcessWorkers() Option {
	return func(p *Pipeline) {
		if l, err := pipeline.NewProcessLauncher(); err == nil {
			p.launcher = l
		}
	}
}

// Config exposes the pipeline's configuration to the CLI layer.
func (p *Pipeline) Config() *config.Config {
	return p.config
}

// Run processes the configured FOV range of src. It returns true iff
// every in-scope FOV completed; per-FOV statuses and artifact paths
// are persisted to the output directory's manifest either way.
func (p *Pipeline) Run(ctx context.Context, src Source) (bool, error) {
	coord := &pipeline.Coordinator{
		Config:   p.config,
		Source:   src,
		Reporter: p.reporter,
		Logger:   logging.Global(),
		Launcher: p.launcher,
	}
	return coord.Run(ctx)
}
