package reporter

import (
	"fmt"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/basslab/livecell/internal/util"
)

// TerminalReporter outputs human-friendly text to the terminal.
type TerminalReporter struct {
	mu         sync.Mutex
	progress   *progressbar.ProgressBar
	maxPercent float32
	lastStage  string
	cyan       *color.Color
	green      *color.Color
	yellow     *color.Color
	red        *color.Color
	magenta    *color.Color
	bold       *color.Color
}

// NewTerminalReporter creates a new terminal reporter.
func NewTerminalReporter() *TerminalReporter {
	return &TerminalReporter{
		cyan:    color.New(color.FgCyan, color.Bold),
		green:   color.New(color.FgGreen),
		yellow:  color.New(color.FgYellow, color.Bold),
		red:     color.New(color.FgRed, color.Bold),
		magenta: color.New(color.FgMagenta),
		bold:    color.New(color.Bold),
	}
}

func (r *TerminalReporter) finishProgress() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.progress != nil {
		_ = r.progress.Finish()
		r.progress = nil
	}
	r.maxPercent = 0
}

func (r *TerminalReporter) Hardware(summary HardwareSummary) {
	fmt.Println()
	_, _ = r.cyan.Println("HARDWARE")
	r.printLabel(10, "Hostname:", summary.Hostname)
	r.printLabel(10, "CPUs:", fmt.Sprintf("%d", summary.NumCPU))
	r.printLabel(10, "Workers:", fmt.Sprintf("%d", summary.Workers))
}

// printLabel prints a bold label with fixed width padding followed by a value.
// Width is applied to the plain text before styling to ensure proper alignment.
func (r *TerminalReporter) printLabel(width int, label, value string) {
	paddedLabel := fmt.Sprintf("%-*s", width, label)
	fmt.Printf("  %s %s\n", r.bold.Sprint(paddedLabel), value)
}

func (r *TerminalReporter) Initialization(summary RunSummary) {
	fmt.Println()
	_, _ = r.cyan.Println("ACQUISITION")
	r.printLabel(10, "Input:", summary.InputDir)
	r.printLabel(10, "Output:", summary.OutputDir)
	r.printLabel(10, "FOVs:", fmt.Sprintf("%d", summary.NFOVs))
	r.printLabel(10, "Frames:", fmt.Sprintf("%d", summary.NFrames))
	r.printLabel(10, "Frame:", fmt.Sprintf("%dx%d", summary.Height, summary.Width))
	r.printLabel(10, "Channels:", fmt.Sprintf("%v", summary.ChannelNames))
}

func (r *TerminalReporter) FOVStarted(info FOVStartInfo) {
	fmt.Printf("\n%s %s\n",
		r.bold.Sprint("FOV"),
		r.bold.Sprintf("%d of %d", info.FOV, info.TotalFOVs))
}

func (r *TerminalReporter) StageProgress(update StageProgress) {
	r.mu.Lock()
	if r.lastStage != update.Stage {
		r.mu.Unlock()
		_, _ = r.cyan.Printf("  %s\n", update.Stage)
		r.mu.Lock()
		r.lastStage = update.Stage
	}
	r.mu.Unlock()
	fmt.Printf("  %s %s\n", r.magenta.Sprint("›"), update.Message)
}

func (r *TerminalReporter) FOVComplete(result FOVResult) {
	if result.Resumed {
		fmt.Printf("  %s fov %d already complete, skipped\n", r.green.Sprint("✓"), result.FOV)
		return
	}
	fmt.Printf("  %s fov %d: %d traces in %s\n",
		r.green.Sprint("✓"), result.FOV, result.Traces,
		util.FormatDurationFromSecs(int64(result.Duration.Seconds())))
}

func (r *TerminalReporter) BatchProgress(progress BatchProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.progress == nil {
		r.progress = progressbar.NewOptions64(
			int64(progress.TotalFOVs),
			progressbar.OptionSetDescription(""),
			progressbar.OptionSetWidth(40),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionShowDescriptionAtLineEnd(),
			progressbar.OptionSetElapsedTime(false),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "Processing [",
				BarEnd:        "]",
			}),
		)
	}

	_ = r.progress.Set(progress.CompletedFOVs)
	desc := fmt.Sprintf("%d/%d fovs, avg %s/fov",
		progress.CompletedFOVs, progress.TotalFOVs,
		util.FormatDurationFromSecs(int64(progress.AverageFOVTime.Seconds())))
	r.progress.Describe(desc)
}

func (r *TerminalReporter) RunComplete(outcome RunOutcome) {
	r.finishProgress()

	fmt.Println()
	_, _ = r.cyan.Println("RESULTS")
	fmt.Printf("  %s\n", r.bold.Sprintf("%d of %d fovs succeeded", outcome.SuccessfulFOVs, outcome.TotalFOVs))
	if outcome.FailedFOVs > 0 {
		fmt.Printf("  %s\n", r.red.Sprintf("%d fovs failed", outcome.FailedFOVs))
	}
	fmt.Printf("  %s %d\n", r.bold.Sprint("Traces:"), outcome.TotalTraces)
	fmt.Printf("  %s %s\n", r.bold.Sprint("Time:"),
		util.FormatDurationFromSecs(int64(outcome.TotalDuration.Seconds())))
}

func (r *TerminalReporter) Warning(message string) {
	fmt.Println()
	_, _ = r.yellow.Printf("WARN: %s\n", message)
}

func (r *TerminalReporter) Error(err ReporterError) {
	_, _ = fmt.Fprintln(os.Stderr)
	_, _ = r.red.Fprintf(os.Stderr, "ERROR %s\n", err.Title)
	_, _ = fmt.Fprintf(os.Stderr, "  %s\n", err.Message)
	if err.Context != "" {
		_, _ = fmt.Fprintf(os.Stderr, "  Context: %s\n", err.Context)
	}
	if err.Suggestion != "" {
		_, _ = fmt.Fprintf(os.Stderr, "  Suggestion: %s\n", err.Suggestion)
	}
}

func (r *TerminalReporter) OperationComplete(message string) {
	fmt.Println()
	fmt.Printf("%s %s\n", r.green.Add(color.Bold).Sprint("✓"), r.bold.Sprint(message))
}

func (r *TerminalReporter) Verbose(message string) {
	fmt.Printf("  %s\n", color.New(color.Faint).Sprint(message))
}
