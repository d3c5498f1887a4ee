// Package pipeline implements the Pipeline Coordinator: batching FOVs,
// spawning worker processes, draining the shared progress stream,
// merging per-worker state, and persisting the manifest.
package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/basslab/livecell/internal/logging"
	"github.com/basslab/livecell/internal/worker"
)

// Launcher runs one worker over its job and feeds its events into the
// coordinator's shared stream. Launch blocks until the worker
// finishes; the coordinator runs one Launch per partition
// concurrently.
type Launcher interface {
	Launch(ctx context.Context, job worker.Job, events chan<- worker.Event) error
}

// ProcessLauncher runs each worker as a separate OS process: the
// livecell binary re-invoked with its hidden worker subcommand, in
// its own process group so cancellation reaches the whole group with
// one signal. This is the production launcher: FOV workers run as
// separate OS processes, sharing only the filesystem and the event
// stream.
type ProcessLauncher struct {
	// Executable is the binary to invoke; empty means the current
	// executable.
	Executable string

	// WorkerCommand is the argv the worker subcommand expects ahead of
	// the job path.
	WorkerCommand []string
}

// NewProcessLauncher builds a launcher re-invoking the current binary.
func NewProcessLauncher() (*ProcessLauncher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve current executable: %w", err)
	}
	return &ProcessLauncher{Executable: exe, WorkerCommand: []string{"__worker"}}, nil
}

// Launch writes the job file, spawns the worker process, and scans
// its stdout for NDJSON events until it exits. Malformed lines are
// dropped. On context cancellation the worker's process group gets
// SIGTERM and the worker is expected to wind down cooperatively.
func (p *ProcessLauncher) Launch(ctx context.Context, job worker.Job, events chan<- worker.Event) error {
	jobFile, err := os.CreateTemp("", "livecell_job_*.json")
	if err != nil {
		return fmt.Errorf("create job file: %w", err)
	}
	jobPath := jobFile.Name()
	_ = jobFile.Close()
	defer os.Remove(jobPath)

	if err := worker.SaveJob(jobPath, job); err != nil {
		return err
	}

	args := append(append([]string(nil), p.WorkerCommand...), jobPath)
	cmd := exec.Command(p.Executable, args...)
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("worker stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			// Signal the whole process group; the worker checks the
			// signal at frame and stage boundaries.
			_ = unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev worker.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events <- ev
	}

	waitErr := cmd.Wait()
	close(done)
	if waitErr != nil && ctx.Err() == nil {
		return fmt.Errorf("worker exited: %w", waitErr)
	}
	return nil
}

// InProcessLauncher runs the worker loop inside the coordinator
// process. It is the default when livecell is embedded as a library
// (the host binary has no worker subcommand to re-invoke) and is what
// the end-to-end tests use.
type InProcessLauncher struct {
	Log *logging.Logger
}

// Launch runs the job synchronously, feeding events through the same
// protocol a subprocess would write to stdout.
func (l *InProcessLauncher) Launch(ctx context.Context, job worker.Job, events chan<- worker.Event) error {
	emit := func(ev worker.Event) { events <- ev }
	log := l.Log
	if log == nil {
		log = logging.Global()
	}
	worker.RunJob(ctx, job, worker.ChannelReporter{Emit: emit}, emit, log)
	return nil
}
