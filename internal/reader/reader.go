// Package reader defines the Microscopy Reader contract: the external
// collaborator the core treats as an interface yielding
// frames by (fov, frame, channel). It also ships an in-memory fake
// used to drive every stage's tests and the end-to-end scenarios.
package reader

import (
	"fmt"

	"github.com/basslab/livecell/internal/arrayfile"
	"github.com/basslab/livecell/internal/config"
	cerrors "github.com/basslab/livecell/internal/errors"
)

// AcquisitionMetadata describes an acquisition file's dimensions and
// channels, immutable for the duration of a run.
type AcquisitionMetadata struct {
	BaseName     string
	NFOVs        int
	NFrames      int
	Height       int
	Width        int
	DType        arrayfile.DType
	ChannelNames []string
	Timepoints   []float64
	TimeUnit     config.TimeUnit
}

// Source is the Microscopy Reader contract. Implementations are
// assumed neither thread- nor process-safe across the same handle;
// each process must open its own handle.
type Source interface {
	ReadMetadata() (AcquisitionMetadata, error)
	ReadFrame(fov, frame, channel int) ([]float32, error)
	Close() error
}

// ValidateChannelSelection checks that every selected channel index
// is in range and distinct across phase/fluorescence roles.
func ValidateChannelSelection(sel config.ChannelSelection, nChannels int) error {
	if sel.PhaseContrastChannel < 0 || sel.PhaseContrastChannel >= nChannels {
		return cerrors.NewConfigError(fmt.Sprintf("phase-contrast channel %d out of range [0,%d)", sel.PhaseContrastChannel, nChannels))
	}
	seen := map[int]bool{sel.PhaseContrastChannel: true}
	for _, k := range sel.MeasureChannels {
		if k < 0 || k >= nChannels {
			return cerrors.NewConfigError(fmt.Sprintf("fluorescence channel %d out of range [0,%d)", k, nChannels))
		}
		if seen[k] {
			return cerrors.NewConfigError(fmt.Sprintf("channel %d used in more than one role", k))
		}
		seen[k] = true
	}
	return nil
}

// SynthesizeTimepoints returns [0, 1, ..., nFrames-1] in frame units,
// used when the source has no recorded timepoints.
func SynthesizeTimepoints(nFrames int) []float64 {
	out := make([]float64, nFrames)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}
