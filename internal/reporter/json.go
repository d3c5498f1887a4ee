package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// JSONReporter outputs NDJSON events. This is also reused verbatim as
// the wire format a worker subprocess writes to stdout for the
// coordinator to drain, not just a CLI display option.
type JSONReporter struct {
	writer             io.Writer
	mu                 sync.Mutex
	lastProgressBucket int
	lastProgressTime   time.Time
}

// NewJSONReporter creates a new JSON reporter that writes to stdout.
func NewJSONReporter() *JSONReporter {
	return &JSONReporter{
		writer:             os.Stdout,
		lastProgressBucket: -1,
	}
}

// NewJSONReporterWithWriter creates a JSON reporter with a custom writer.
func NewJSONReporterWithWriter(w io.Writer) *JSONReporter {
	return &JSONReporter{
		writer:             w,
		lastProgressBucket: -1,
	}
}

func (r *JSONReporter) timestamp() int64 {
	return time.Now().Unix()
}

func (r *JSONReporter) write(v interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintln(r.writer, string(data))
}

func (r *JSONReporter) Hardware(summary HardwareSummary) {
	r.write(map[string]interface{}{
		"type":      "hardware",
		"hostname":  summary.Hostname,
		"num_cpu":   summary.NumCPU,
		"workers":   summary.Workers,
		"timestamp": r.timestamp(),
	})
}

func (r *JSONReporter) Initialization(summary RunSummary) {
	r.write(map[string]interface{}{
		"type":          "initialization",
		"input_dir":     summary.InputDir,
		"output_dir":    summary.OutputDir,
		"n_fovs":        summary.NFOVs,
		"n_frames":      summary.NFrames,
		"height":        summary.Height,
		"width":         summary.Width,
		"channel_names": summary.ChannelNames,
		"timestamp":     r.timestamp(),
	})
}

func (r *JSONReporter) FOVStarted(info FOVStartInfo) {
	r.write(map[string]interface{}{
		"type":       "fov_started",
		"fov":        info.FOV,
		"total_fovs": info.TotalFOVs,
		"timestamp":  r.timestamp(),
	})
}

func (r *JSONReporter) StageProgress(update StageProgress) {
	event := map[string]interface{}{
		"type":      "stage_progress",
		"fov":       update.FOV,
		"stage":     update.Stage,
		"percent":   update.Percent,
		"message":   update.Message,
		"timestamp": r.timestamp(),
	}
	if update.ETA != nil {
		event["eta_seconds"] = int64(update.ETA.Seconds())
	}
	r.write(event)
}

func (r *JSONReporter) FOVComplete(result FOVResult) {
	r.write(map[string]interface{}{
		"type":             "fov_complete",
		"fov":              result.FOV,
		"traces":           result.Traces,
		"duration_seconds": result.Duration.Seconds(),
		"resumed":          result.Resumed,
		"timestamp":        r.timestamp(),
	})
}

func (r *JSONReporter) BatchProgress(progress BatchProgress) {
	const progressBucketSize = 1
	const minInterval = 5 * time.Second

	total := progress.TotalFOVs
	if total == 0 {
		total = 1
	}
	bucket := (progress.CompletedFOVs * 100 / total) / progressBucketSize
	now := time.Now()

	r.mu.Lock()
	intervalElapsed := r.lastProgressTime.IsZero() || now.Sub(r.lastProgressTime) >= minInterval
	shouldEmit := bucket > r.lastProgressBucket || intervalElapsed || progress.CompletedFOVs >= progress.TotalFOVs

	if !shouldEmit {
		r.mu.Unlock()
		return
	}
	if bucket > r.lastProgressBucket {
		r.lastProgressBucket = bucket
	}
	r.lastProgressTime = now
	r.mu.Unlock()

	r.write(map[string]interface{}{
		"type":                "batch_progress",
		"completed_fovs":      progress.CompletedFOVs,
		"total_fovs":          progress.TotalFOVs,
		"elapsed_seconds":     progress.ElapsedTime.Seconds(),
		"average_fov_seconds": progress.AverageFOVTime.Seconds(),
		"timestamp":           r.timestamp(),
	})
}

func (r *JSONReporter) RunComplete(outcome RunOutcome) {
	r.write(map[string]interface{}{
		"type":             "run_complete",
		"total_fovs":       outcome.TotalFOVs,
		"successful_fovs":  outcome.SuccessfulFOVs,
		"failed_fovs":      outcome.FailedFOVs,
		"total_traces":     outcome.TotalTraces,
		"duration_seconds": outcome.TotalDuration.Seconds(),
		"timestamp":        r.timestamp(),
	})
}

func (r *JSONReporter) Warning(message string) {
	r.write(map[string]interface{}{
		"type":      "warning",
		"message":   message,
		"timestamp": r.timestamp(),
	})
}

func (r *JSONReporter) Error(err ReporterError) {
	r.write(map[string]interface{}{
		"type":       "error",
		"title":      err.Title,
		"message":    err.Message,
		"context":    err.Context,
		"suggestion": err.Suggestion,
		"timestamp":  r.timestamp(),
	})
}

func (r *JSONReporter) OperationComplete(message string) {
	r.write(map[string]interface{}{
		"type":      "operation_complete",
		"message":   message,
		"timestamp": r.timestamp(),
	})
}

func (r *JSONReporter) Verbose(message string) {
	r.write(map[string]interface{}{
		"type":      "verbose",
		"message":   message,
		"timestamp": r.timestamp(),
	})
}
