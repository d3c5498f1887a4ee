package reader

import (
	"fmt"

	cerrors "github.com/basslab/livecell/internal/errors"
)

// MemorySource is an in-memory Source fake. It holds one []float32
// cube per (fov, channel), generated ahead of time by the caller
// (e.g. synthetic disks for the end-to-end scenario tests), and is
// the concrete stand-in for a real microscopy-file reader.
type MemorySource struct {
	Meta   AcquisitionMetadata
	Frames map[[2]int][][]float32 // key: (fov, channel) -> [frame][H*W]
}

// NewMemorySource builds a MemorySource with all-zero frames for
// every (fov, channel); callers mutate Frames to set up scenarios.
func NewMemorySource(meta AcquisitionMetadata) *MemorySource {
	m := &MemorySource{Meta: meta, Frames: make(map[[2]int][][]float32)}
	nChannels := len(meta.ChannelNames)
	for fov := 0; fov < meta.NFOVs; fov++ {
		for ch := 0; ch < nChannels; ch++ {
			frames := make([][]float32, meta.NFrames)
			for t := range frames {
				frames[t] = make([]float32, meta.Height*meta.Width)
			}
			m.Frames[[2]int{fov, ch}] = frames
		}
	}
	return m
}

// ReadMetadata returns the fake's fixed metadata.
func (m *MemorySource) ReadMetadata() (AcquisitionMetadata, error) {
	return m.Meta, nil
}

// ReadFrame returns the requested frame's pixel values.
func (m *MemorySource) ReadFrame(fov, frame, channel int) ([]float32, error) {
	cube, ok := m.Frames[[2]int{fov, channel}]
	if !ok {
		return nil, cerrors.NewReadError(fmt.Sprintf("no data for fov=%d channel=%d", fov, channel), nil)
	}
	if frame < 0 || frame >= len(cube) {
		return nil, cerrors.NewReadError(fmt.Sprintf("frame %d out of range for fov=%d channel=%d", frame, fov, channel), nil)
	}
	return cube[frame], nil
}

// Close is a no-op for the in-memory fake.
func (m *MemorySource) Close() error { return nil }

var _ Source = (*MemorySource)(nil)
