// Package main provides the CLI entry point for livecell.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/basslab/livecell"
	"github.com/basslab/livecell/internal/config"
	cerrors "github.com/basslab/livecell/internal/errors"
	"github.com/basslab/livecell/internal/logging"
	"github.com/basslab/livecell/internal/manifest"
	"github.com/basslab/livecell/internal/reporter"
	"github.com/basslab/livecell/internal/worker"
)

const (
	appName    = "livecell"
	appVersion = "0.1.0"

	exitOK          = 0
	exitIncomplete  = 1
	exitConfigError = 2
)

type runFlags struct {
	input          string
	output         string
	logDir         string
	pcChannel      int
	flChannels     []int
	fovStart       int
	fovEnd         int
	workers        int
	batchSize      int
	minTraceLength int
	verbose        bool
	noLog          bool
	jsonOutput     bool
}

func main() {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Live-cell time-lapse microscopy processing pipeline",
		Version:       appVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd(), newResumeCmd(), newInspectCmd(), newWorkerCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	if cerrors.IsKind(err, cerrors.KindConfig) {
		return exitConfigError
	}
	return exitIncomplete
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process an acquisition directory into per-cell traces",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(f, false)
		},
	}
	addRunFlags(cmd, &f)
	return cmd
}

func newResumeCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume an interrupted run, recomputing only missing artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(f, true)
		},
	}
	addRunFlags(cmd, &f)
	return cmd
}

func addRunFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().StringVarP(&f.input, "input", "i", "", "acquisition directory (required)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output directory (required)")
	cmd.Flags().StringVar(&f.logDir, "log-dir", "", "log directory (defaults to <output>/logs)")
	cmd.Flags().IntVar(&f.pcChannel, "pc", 0, "phase-contrast channel index")
	cmd.Flags().IntSliceVar(&f.flChannels, "fl", []int{1}, "fluorescence channel indices")
	cmd.Flags().IntVar(&f.fovStart, "fov-start", 0, "first FOV to process")
	cmd.Flags().IntVar(&f.fovEnd, "fov-end", -1, "last FOV bound, exclusive (-1 = all)")
	cmd.Flags().IntVar(&f.workers, "workers", config.DefaultWorkers, "concurrent FOV worker processes")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", config.DefaultBatchSize, "FOVs per scheduling batch")
	cmd.Flags().IntVar(&f.minTraceLength, "min-trace-length", config.DefaultMinTraceLength, "minimum trace length in frames")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "verbose output")
	cmd.Flags().BoolVar(&f.noLog, "no-log", false, "disable the run log file")
	cmd.Flags().BoolVar(&f.jsonOutput, "json", false, "emit NDJSON progress instead of the terminal UI")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
}

func runPipeline(f runFlags, resume bool) error {
	logDir := f.logDir
	if logDir == "" {
		logDir = filepath.Join(f.output, "logs")
	}

	if resume {
		// Channel selection follows the manifest on resume, so a rerun
		// cannot silently diverge from the original run's layout.
		m, err := manifest.Load(filepath.Join(f.output, manifest.Filename))
		if err != nil {
			return cerrors.NewConfigError(fmt.Sprintf("resume requires an existing manifest in %s: %v", f.output, err))
		}
		f.pcChannel = m.Channels.PC
		f.flChannels = m.Channels.FL
	}

	fileLog, err := logging.Setup(logDir, f.verbose, f.noLog)
	if err != nil {
		return cerrors.NewConfigError(err.Error())
	}
	if fileLog != nil {
		defer fileLog.Close()
		logging.SetGlobal(logging.New(logging.Config{
			Level:   logLevel(f.verbose),
			Output:  fileLog.Writer(),
			Enabled: true,
		}))
	}

	var rep reporter.Reporter
	if f.jsonOutput {
		rep = reporter.NewJSONReporter()
	} else {
		rep = reporter.NewTerminalReporter()
	}

	pipe, err := livecell.New(
		livecell.WithOutputDir(f.output),
		livecell.WithChannels(f.pcChannel, f.flChannels),
		livecell.WithFOVRange(f.fovStart, fovEndBound(f.fovEnd)),
		livecell.WithWorkers(f.workers),
		livecell.WithBatchSize(f.batchSize),
		livecell.WithMinTraceLength(f.minTraceLength),
		livecell.WithReporter(rep),
		livecell.WithProcessWorkers(),
	)
	if err != nil {
		return cerrors.NewConfigError(err.Error())
	}
	pipe.Config().InputDir = f.input
	pipe.Config().LogDir = logDir
	pipe.Config().Verbose = f.verbose

	src, err := livecell.OpenAcquisition(f.input)
	if err != nil {
		return err
	}
	defer src.Close()

	ctx, cancel := signalContext()
	defer cancel()

	ok, err := pipe.Run(ctx, src)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("one or more FOVs did not complete; see %s", filepath.Join(f.output, manifest.Filename))
	}
	return nil
}

func fovEndBound(end int) int {
	if end < 0 {
		return 0 // 0 means "through the last FOV" internally
	}
	return end
}

func logLevel(verbose bool) slog.Level {
	if verbose {
		return logging.LevelDebug
	}
	return logging.LevelInfo
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <output-dir>",
		Short: "Print a summary of a run's manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Load(filepath.Join(args[0], manifest.Filename))
			if err != nil {
				return err
			}
			printManifest(m)
			return nil
		},
	}
}

func printManifest(m *manifest.Manifest) {
	fmt.Printf("project:    %s\n", m.ProjectPath)
	fmt.Printf("base name:  %s\n", m.BaseName)
	fmt.Printf("fovs:       %d  frames: %d\n", m.NFOV, m.NFrames)
	fmt.Printf("channels:   pc=%d fl=%v\n", m.Channels.PC, m.Channels.FL)
	fmt.Printf("time units: %s\n", m.TimeUnits)

	done, cancelled, failed := 0, 0, 0
	for fov := 0; fov < m.NFOV; fov++ {
		a, ok := m.FOVData[fov]
		if !ok {
			continue
		}
		switch a.Status {
		case manifest.StatusDone:
			done++
		case manifest.StatusCancelled:
			cancelled++
		case manifest.StatusFailed:
			failed++
			fmt.Printf("  fov %03d FAILED: %s\n", fov, a.Error)
		}
	}
	fmt.Printf("status:     %d done, %d cancelled, %d failed\n", done, cancelled, failed)
}

// newWorkerCmd is the hidden subcommand the coordinator re-invokes to
// run one worker process over its FOV partition. It reads the job
// description from the given path and writes NDJSON events to stdout.
func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "__worker <job-file>",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := worker.LoadJob(args[0])
			if err != nil {
				return err
			}

			// Worker logs go to stderr; stdout is reserved for the
			// event protocol.
			logging.SetGlobal(logging.New(logging.Config{
				Level:   logLevel(job.Verbose),
				Output:  os.Stderr,
				Enabled: job.Verbose,
			}))

			ctx, cancel := signalContext()
			defer cancel()

			em := worker.NewEmitter(os.Stdout)
			worker.RunJob(ctx, job, worker.ChannelReporter{Emit: em.Emit}, em.Emit, logging.Global())
			return nil
		},
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, the
// cooperative cancel flag every stage checks at frame boundaries.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigs)
	}()
	return ctx, cancel
}
