package worker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/basslab/livecell/internal/arrayfile"
	"github.com/basslab/livecell/internal/config"
	"github.com/basslab/livecell/internal/extractor"
	"github.com/basslab/livecell/internal/logging"
	"github.com/basslab/livecell/internal/manifest"
	"github.com/basslab/livecell/internal/measure"
	"github.com/basslab/livecell/internal/reader"
	"github.com/basslab/livecell/internal/reporter"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Enabled: false})
}

// texturedDisk paints a checkerboard-textured disk: local variance is
// high across the whole disk interior, so the adaptive threshold
// picks it up the way real phase-contrast cell texture would.
func texturedDisk(frame []float32, height, width int, cy, cx, radius float64) {
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dy := float64(y) - cy
			dx := float64(x) - cx
			if dy*dy+dx*dx <= radius*radius {
				v := float32(1.0)
				if (x+y)%2 == 0 {
					v = 0.5
				}
				frame[y*width+x] = v
			}
		}
	}
}

func testStageConfigs() (config.SegmentConfig, config.BackgroundConfig, config.TrackerConfig, config.MeasureConfig) {
	seg := config.DefaultSegmentConfig()
	seg.StructuringElementSide = 3
	seg.MorphologyIterations = 1
	bg := config.DefaultBackgroundConfig()
	bg.DilationRadius = 2
	tr := config.DefaultTrackerConfig()
	tr.MinTraceLength = 3
	me := config.DefaultMeasureConfig()
	me.MinTraceLength = 3
	return seg, bg, tr, me
}

// stageAcquisition builds a one-cell synthetic acquisition, extracts
// it, and returns the job covering its FOVs.
func stageAcquisition(t *testing.T, nFOVs, nFrames int) (Job, *reader.MemorySource) {
	t.Helper()
	const height, width = 48, 48

	meta := reader.AcquisitionMetadata{
		BaseName:     "exp",
		NFOVs:        nFOVs,
		NFrames:      nFrames,
		Height:       height,
		Width:        width,
		DType:        arrayfile.DTypeFloat32,
		ChannelNames: []string{"phase", "gfp"},
		Timepoints:   reader.SynthesizeTimepoints(nFrames),
		TimeUnit:     config.TimeUnitFrames,
	}
	src := reader.NewMemorySource(meta)
	for fov := 0; fov < nFOVs; fov++ {
		for tIdx := 0; tIdx < nFrames; tIdx++ {
			texturedDisk(src.Frames[[2]int{fov, 0}][tIdx], height, width, 24, 24, 10)
			reader.Disk(height, width, 24, 24, 10, 1000, src.Frames[[2]int{fov, 1}][tIdx])
		}
	}

	outDir := t.TempDir()
	ctx := context.Background()
	fovs := make([]int, nFOVs)
	for fov := 0; fov < nFOVs; fov++ {
		fovs[fov] = fov
		if _, err := extractor.Extract(ctx, src, meta, config.ChannelSelection{PhaseContrastChannel: 0, MeasureChannels: []int{1}}, fov, outDir, testLogger(), reporter.NullReporter{}); err != nil {
			t.Fatalf("Extract fov %d: %v", fov, err)
		}
	}

	segCfg, bgCfg, trCfg, meCfg := testStageConfigs()
	job := Job{
		OutputDir:  outDir,
		BaseName:   meta.BaseName,
		FOVs:       fovs,
		NFrames:    nFrames,
		Height:     height,
		Width:      width,
		Timepoints: meta.Timepoints,
		TimeUnit:   meta.TimeUnit,
		Channels:   config.ChannelSelection{PhaseContrastChannel: 0, MeasureChannels: []int{1}},
		Segment:    segCfg,
		Background: bgCfg,
		Tracker:    trCfg,
		Measure:    meCfg,
	}
	return job, src
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) emit(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) statuses() map[int]manifest.FOVStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[int]manifest.FOVStatus)
	for _, ev := range l.events {
		if ev.Type == EventFOVStatus {
			out[ev.FOV] = ev.Status
		}
	}
	return out
}

func TestRunJobCompletesFOV(t *testing.T) {
	job, _ := stageAcquisition(t, 1, 6)
	var log eventLog

	out := RunJob(context.Background(), job, ChannelReporter{Emit: log.emit}, log.emit, testLogger())

	a, ok := out[0]
	if !ok {
		t.Fatal("no artifacts for fov 0")
	}
	if a.Status != manifest.StatusDone {
		t.Fatalf("status = %s (%s), want done", a.Status, a.Error)
	}
	for _, p := range []string{a.PC, a.Seg, a.SegLabeled} {
		if p == "" {
			t.Fatalf("missing artifact path in %+v", a)
		}
	}
	if len(a.FLCorrected) != 1 || len(a.Traces) != 1 {
		t.Fatalf("artifacts = %+v, want one corrected array and one trace csv", a)
	}

	rows, err := measure.ReadCSV(a.Traces[0].Path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(rows) != job.NFrames {
		t.Errorf("got %d trace rows, want %d (one cell, every frame)", len(rows), job.NFrames)
	}
	for _, r := range rows {
		if r.Cell != 1 {
			t.Errorf("row cell = %d, want the single dense id 1", r.Cell)
		}
	}

	if st := log.statuses(); st[0] != manifest.StatusDone {
		t.Errorf("fov_status event reported %s, want done", st[0])
	}
}

func TestRunJobMissingInputFailsFOVOnly(t *testing.T) {
	job, _ := stageAcquisition(t, 2, 4)
	// Corrupt FOV 0's phase-contrast array; FOV 1 must still finish.
	badPC := filepath.Join(job.OutputDir, extractor.FOVDir(0), extractor.PhaseContrastFilename(job.BaseName, 0))
	if err := truncateFile(badPC); err != nil {
		t.Fatal(err)
	}

	var log eventLog
	out := RunJob(context.Background(), job, ChannelReporter{Emit: log.emit}, log.emit, testLogger())

	if out[0].Status != manifest.StatusFailed {
		t.Errorf("fov 0 status = %s, want failed", out[0].Status)
	}
	if out[0].Error == "" {
		t.Error("failed fov carries no error message")
	}
	if out[1].Status != manifest.StatusDone {
		t.Errorf("fov 1 status = %s (%s), want done despite fov 0 failing", out[1].Status, out[1].Error)
	}
}

func TestRunJobCancelledContext(t *testing.T) {
	job, _ := stageAcquisition(t, 2, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var log eventLog
	out := RunJob(ctx, job, ChannelReporter{Emit: log.emit}, log.emit, testLogger())

	for fov := 0; fov < 2; fov++ {
		if out[fov].Status != manifest.StatusCancelled {
			t.Errorf("fov %d status = %s, want cancelled", fov, out[fov].Status)
		}
	}
}

func TestRunJobResumesFromExistingArtifacts(t *testing.T) {
	job, _ := stageAcquisition(t, 1, 6)
	var log eventLog

	first := RunJob(context.Background(), job, ChannelReporter{Emit: log.emit}, log.emit, testLogger())
	if first[0].Status != manifest.StatusDone {
		t.Fatalf("first run status = %s", first[0].Status)
	}
	firstCSV := readFile(t, first[0].Traces[0].Path)

	second := RunJob(context.Background(), job, ChannelReporter{Emit: log.emit}, log.emit, testLogger())
	if second[0].Status != manifest.StatusDone {
		t.Fatalf("second run status = %s", second[0].Status)
	}
	if got := readFile(t, second[0].Traces[0].Path); got != firstCSV {
		t.Error("rerun changed the trace csv")
	}
}

// truncateFile chops a file short so its header check fails.
func truncateFile(path string) error {
	return os.Truncate(path, 10)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestJobRoundTrip(t *testing.T) {
	segCfg, bgCfg, trCfg, meCfg := testStageConfigs()
	job := Job{
		OutputDir:  "/out",
		BaseName:   "exp",
		FOVs:       []int{3, 4},
		NFrames:    10,
		Height:     64,
		Width:      64,
		Timepoints: []float64{0, 1},
		TimeUnit:   config.TimeUnitMinutes,
		Channels:   config.ChannelSelection{PhaseContrastChannel: 0, MeasureChannels: []int{1}},
		Segment:    segCfg,
		Background: bgCfg,
		Tracker:    trCfg,
		Measure:    meCfg,
	}
	path := filepath.Join(t.TempDir(), "job.json")
	if err := SaveJob(path, job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	got, err := LoadJob(path)
	if err != nil {
		t.Fatalf("LoadJob: %v", err)
	}
	if got.BaseName != job.BaseName || len(got.FOVs) != 2 || got.FOVs[0] != 3 {
		t.Errorf("LoadJob = %+v", got)
	}
	if got.Tracker.MinTraceLength != trCfg.MinTraceLength {
		t.Errorf("tracker config lost in round trip: %+v", got.Tracker)
	}
}
