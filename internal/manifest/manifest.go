// Package manifest implements the persisted run manifest: a typed,
// human-readable description of discovered/generated artifacts per
// FOV, resumable across runs.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/basslab/livecell/internal/config"
	cerrors "github.com/basslab/livecell/internal/errors"
	"github.com/basslab/livecell/internal/util"
)

// Filename is the manifest's canonical name inside the output
// directory.
const Filename = "processing_results.yml"

// FOVStatus is the per-FOV state machine value persisted at run end.
type FOVStatus string

const (
	StatusPending   FOVStatus = "pending"
	StatusExtracted FOVStatus = "extracted"
	StatusSegmented FOVStatus = "segmented"
	StatusCorrected FOVStatus = "corrected"
	StatusTracked   FOVStatus = "tracked"
	StatusMeasured  FOVStatus = "measured"
	StatusDone      FOVStatus = "done"
	StatusCancelled FOVStatus = "cancelled"
	StatusFailed    FOVStatus = "failed"
)

// Terminal reports whether the status is one of the three terminal
// states.
func (s FOVStatus) Terminal() bool {
	return s == StatusDone || s == StatusCancelled || s == StatusFailed
}

// ChannelPath pairs a channel index with an artifact path. It
// round-trips through YAML as the two-element sequence [k, path].
type ChannelPath struct {
	Channel int    `json:"channel"`
	Path    string `json:"path"`
}

// MarshalYAML renders the pair as a flow sequence [k, path].
func (c ChannelPath) MarshalYAML() (interface{}, error) {
	return []interface{}{c.Channel, c.Path}, nil
}

// UnmarshalYAML parses the [k, path] sequence form.
func (c *ChannelPath) UnmarshalYAML(node *yaml.Node) error {
	var pair []yaml.Node
	if err := node.Decode(&pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("channel path pair has %d elements, want 2", len(pair))
	}
	if err := pair[0].Decode(&c.Channel); err != nil {
		return err
	}
	return pair[1].Decode(&c.Path)
}

// FovArtifacts holds the per-FOV artifact paths produced so far, plus
// the FOV's terminal status. Optional fields stay empty until the
// producing stage completes.
type FovArtifacts struct {
	PC          string        `yaml:"pc,omitempty" json:"pc,omitempty"`
	FL          []ChannelPath `yaml:"fl,omitempty" json:"fl,omitempty"`
	Seg         string        `yaml:"seg,omitempty" json:"seg,omitempty"`
	SegLabeled  string        `yaml:"seg_labeled,omitempty" json:"seg_labeled,omitempty"`
	FLCorrected []ChannelPath `yaml:"fl_corrected,omitempty" json:"fl_corrected,omitempty"`
	Traces      []ChannelPath `yaml:"traces,omitempty" json:"traces,omitempty"`
	Status      FOVStatus     `yaml:"status,omitempty" json:"status,omitempty"`
	Error       string        `yaml:"error,omitempty" json:"error,omitempty"`
}

// Channels mirrors the manifest's channel-selection block.
type Channels struct {
	PC int   `yaml:"pc"`
	FL []int `yaml:"fl"`
}

// Manifest is the persisted run description: acquisition metadata,
// channel selection, per-FOV artifacts, and a free-form params map.
type Manifest struct {
	ProjectPath string                 `yaml:"project_path"`
	BaseName    string                 `yaml:"base_name"`
	NFOV        int                    `yaml:"n_fov"`
	NFrames     int                    `yaml:"n_frames"`
	Channels    Channels               `yaml:"channels"`
	TimeUnits   config.TimeUnit        `yaml:"time_units"`
	Timepoints  []float64              `yaml:"timepoints,omitempty"`
	FOVData     map[int]*FovArtifacts  `yaml:"fov_data"`
	Extra       map[string]interface{} `yaml:"extra,omitempty"`
}

// New builds an empty manifest for a run over nFOV fields-of-view.
func New(projectPath, baseName string, nFOV, nFrames int, sel config.ChannelSelection, timeUnits config.TimeUnit) *Manifest {
	return &Manifest{
		ProjectPath: projectPath,
		BaseName:    baseName,
		NFOV:        nFOV,
		NFrames:     nFrames,
		Channels:    Channels{PC: sel.PhaseContrastChannel, FL: append([]int(nil), sel.MeasureChannels...)},
		TimeUnits:   timeUnits,
		FOVData:     make(map[int]*FovArtifacts),
		Extra:       make(map[string]interface{}),
	}
}

// FOV returns the artifacts entry for an FOV, creating it on first
// access.
func (m *Manifest) FOV(i int) *FovArtifacts {
	if m.FOVData == nil {
		m.FOVData = make(map[int]*FovArtifacts)
	}
	a, ok := m.FOVData[i]
	if !ok {
		a = &FovArtifacts{Status: StatusPending}
		m.FOVData[i] = a
	}
	return a
}

// Merge copies a worker's per-FOV entries into the master manifest.
// Conflicts cannot occur by construction — each FOV is owned by
// exactly one worker per batch.
func (m *Manifest) Merge(other map[int]*FovArtifacts) {
	for fov, a := range other {
		m.FOVData[fov] = a
	}
}

// AllDone reports whether every FOV in fovs reached DONE.
func (m *Manifest) AllDone(fovs []int) bool {
	for _, fov := range fovs {
		a, ok := m.FOVData[fov]
		if !ok || a.Status != StatusDone {
			return false
		}
	}
	return true
}

// Save writes the manifest atomically (temp file + rename) to path.
func (m *Manifest) Save(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return cerrors.NewWriteError("marshal manifest", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return cerrors.NewWriteError("write manifest", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return cerrors.NewWriteError("rename manifest", err)
	}
	return nil
}

// Load reads a manifest from path and re-anchors artifact paths to
// the directory containing the manifest: if a declared path no longer
// exists, the last two path segments (FOV directory + filename) are
// treated as the stable identity and resolved under the manifest's
// own directory. ProjectPath is updated to the new root
// whenever re-anchoring occurred.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerrors.NewReadError("read manifest", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, cerrors.NewCorruptArtifactError(path, err)
	}

	root, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, cerrors.NewReadError("resolve manifest directory", err)
	}
	m.reanchor(root)
	return &m, nil
}

func (m *Manifest) reanchor(root string) {
	moved := false
	fix := func(p string) string {
		if p == "" || util.FileExists(p) {
			return p
		}
		candidate := filepath.Join(root, util.LastTwoSegments(p))
		if util.FileExists(candidate) {
			moved = true
			return candidate
		}
		return p
	}
	fixAll := func(paths []ChannelPath) {
		for i := range paths {
			paths[i].Path = fix(paths[i].Path)
		}
	}

	for _, a := range m.FOVData {
		if a == nil {
			continue
		}
		a.PC = fix(a.PC)
		a.Seg = fix(a.Seg)
		a.SegLabeled = fix(a.SegLabeled)
		fixAll(a.FL)
		fixAll(a.FLCorrected)
		fixAll(a.Traces)
	}
	if moved {
		m.ProjectPath = root
	}
}
