package worker

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	cerrors "github.com/basslab/livecell/internal/errors"
	"github.com/basslab/livecell/internal/manifest"
	"github.com/basslab/livecell/internal/reporter"
)

// Event types carried over the worker's NDJSON stdout stream. The
// progress types reuse reporter.JSONReporter's wire shape verbatim;
// EventFOVStatus is the one worker-specific addition, carrying each
// FOV's terminal status and artifact paths back for the manifest
// merge.
const (
	EventFOVStatus     = "fov_status"
	EventFOVStarted    = "fov_started"
	EventFOVComplete   = "fov_complete"
	EventStageProgress = "stage_progress"
	EventWarning       = "warning"
	EventError         = "error"
)

// Event is one NDJSON line of the worker protocol. Fields are a
// superset across event types; unknown fields on a line are ignored,
// and malformed lines are dropped by the coordinator's drainer rather
// than propagated.
type Event struct {
	Type      string                 `json:"type"`
	FOV       int                    `json:"fov,omitempty"`
	TotalFOVs int                    `json:"total_fovs,omitempty"`
	Stage     string                 `json:"stage,omitempty"`
	Percent   float32                `json:"percent,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Title     string                 `json:"title,omitempty"`
	Traces    int                    `json:"traces,omitempty"`
	Resumed   bool                   `json:"resumed,omitempty"`
	Status    manifest.FOVStatus     `json:"status,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Artifacts *manifest.FovArtifacts `json:"artifacts,omitempty"`
	Timestamp int64                  `json:"timestamp,omitempty"`
}

// EmitFunc sends one protocol event toward the coordinator.
type EmitFunc func(Event)

// Emitter writes protocol events as NDJSON lines. It shares stdout
// with a reporter.JSONReporter in a worker process; both serialize a
// whole line per write.
type Emitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewEmitter creates an Emitter writing to w.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{enc: json.NewEncoder(w)}
}

// Emit writes one event line; marshal failures are dropped, never
// propagated.
func (e *Emitter) Emit(ev Event) {
	ev.Timestamp = time.Now().Unix()
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.enc.Encode(ev)
}

// SaveJob writes a job description as JSON for a worker process to
// pick up.
func SaveJob(path string, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return cerrors.NewWriteError("marshal worker job", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return cerrors.NewWriteError("write worker job", err)
	}
	return nil
}

// LoadJob reads a job description written by SaveJob.
func LoadJob(path string) (Job, error) {
	var job Job
	data, err := os.ReadFile(path)
	if err != nil {
		return job, cerrors.NewReadError("read worker job", err)
	}
	if err := json.Unmarshal(data, &job); err != nil {
		return job, cerrors.NewReadError("parse worker job", err)
	}
	return job, nil
}

// ChannelReporter adapts the reporter interface onto an EmitFunc so
// in-process workers feed the same event stream a worker subprocess
// writes to stdout. Only the event types the drainer understands are
// forwarded; the rest are dropped silently, same as the subprocess
// path.
type ChannelReporter struct {
	Emit EmitFunc
}

func (c ChannelReporter) Hardware(reporter.HardwareSummary)  {}
func (c ChannelReporter) Initialization(reporter.RunSummary) {}

func (c ChannelReporter) FOVStarted(info reporter.FOVStartInfo) {
	c.Emit(Event{Type: EventFOVStarted, FOV: info.FOV, TotalFOVs: info.TotalFOVs})
}

func (c ChannelReporter) StageProgress(update reporter.StageProgress) {
	c.Emit(Event{Type: EventStageProgress, FOV: update.FOV, Stage: update.Stage, Percent: update.Percent, Message: update.Message})
}

func (c ChannelReporter) FOVComplete(result reporter.FOVResult) {
	c.Emit(Event{Type: EventFOVComplete, FOV: result.FOV, Traces: result.Traces, Resumed: result.Resumed})
}

func (c ChannelReporter) BatchProgress(reporter.BatchProgress) {}
func (c ChannelReporter) RunComplete(reporter.RunOutcome)      {}

func (c ChannelReporter) Warning(message string) {
	c.Emit(Event{Type: EventWarning, Message: message})
}

func (c ChannelReporter) Error(err reporter.ReporterError) {
	c.Emit(Event{Type: EventError, Title: err.Title, Message: err.Message})
}

func (c ChannelReporter) OperationComplete(string) {}
func (c ChannelReporter) Verbose(string)           {}

var _ reporter.Reporter = ChannelReporter{}
