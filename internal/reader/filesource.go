package reader

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/basslab/livecell/internal/arrayfile"
	"github.com/basslab/livecell/internal/config"
	cerrors "github.com/basslab/livecell/internal/errors"
)

// MetadataFilename is the acquisition directory's metadata document.
const MetadataFilename = "acquisition.yml"

// acquisitionDoc is the on-disk form of AcquisitionMetadata inside an
// acquisition directory.
type acquisitionDoc struct {
	BaseName     string          `yaml:"base_name"`
	NFOVs        int             `yaml:"n_fovs"`
	NFrames      int             `yaml:"n_frames"`
	Height       int             `yaml:"height"`
	Width        int             `yaml:"width"`
	ChannelNames []string        `yaml:"channel_names"`
	Timepoints   []float64       `yaml:"timepoints,omitempty"`
	TimeUnit     config.TimeUnit `yaml:"time_unit,omitempty"`
}

// FileSource reads an acquisition laid out as a directory: one
// acquisition.yml metadata document plus one float32 array file per
// (fov, channel). It is the concrete Source the CLI operates on;
// handles are per-process and not shared.
type FileSource struct {
	dir     string
	meta    AcquisitionMetadata
	readers map[[2]int]*arrayfile.Reader
}

// SourceFrameFilename names the array file holding one (fov, channel)
// cube inside an acquisition directory.
func SourceFrameFilename(baseName string, fov, channel int) string {
	return fmt.Sprintf("%s_fov_%03d_ch_%d.arr", baseName, fov, channel)
}

// OpenFileSource validates the metadata document and prepares lazy
// per-(fov, channel) array readers.
func OpenFileSource(dir string) (*FileSource, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFilename))
	if err != nil {
		return nil, cerrors.NewReadError(fmt.Sprintf("read %s", MetadataFilename), err)
	}
	var doc acquisitionDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, cerrors.NewReadError(fmt.Sprintf("parse %s: unsupported format", MetadataFilename), err)
	}
	if doc.NFOVs < 1 || doc.NFrames < 1 || doc.Height < 1 || doc.Width < 1 || len(doc.ChannelNames) < 1 {
		return nil, cerrors.NewReadError(fmt.Sprintf("parse %s: incomplete acquisition dimensions", MetadataFilename), nil)
	}

	meta := AcquisitionMetadata{
		BaseName:     doc.BaseName,
		NFOVs:        doc.NFOVs,
		NFrames:      doc.NFrames,
		Height:       doc.Height,
		Width:        doc.Width,
		DType:        arrayfile.DTypeFloat32,
		ChannelNames: doc.ChannelNames,
		Timepoints:   doc.Timepoints,
		TimeUnit:     doc.TimeUnit,
	}
	if len(meta.Timepoints) == 0 {
		meta.Timepoints = SynthesizeTimepoints(meta.NFrames)
		meta.TimeUnit = config.TimeUnitFrames
	}
	if len(meta.Timepoints) != meta.NFrames {
		return nil, cerrors.NewReadError(fmt.Sprintf("%d timepoints for %d frames", len(meta.Timepoints), meta.NFrames), nil)
	}
	if meta.TimeUnit == "" {
		meta.TimeUnit = config.TimeUnitFrames
	}

	return &FileSource{dir: dir, meta: meta, readers: make(map[[2]int]*arrayfile.Reader)}, nil
}

// ReadMetadata returns the acquisition's parsed metadata.
func (s *FileSource) ReadMetadata() (AcquisitionMetadata, error) {
	return s.meta, nil
}

// ReadFrame returns one (fov, frame, channel) frame as float32.
func (s *FileSource) ReadFrame(fov, frame, channel int) ([]float32, error) {
	if fov < 0 || fov >= s.meta.NFOVs {
		return nil, cerrors.NewReadError(fmt.Sprintf("fov %d out of range [0,%d)", fov, s.meta.NFOVs), nil)
	}
	if channel < 0 || channel >= len(s.meta.ChannelNames) {
		return nil, cerrors.NewReadError(fmt.Sprintf("channel %d out of range [0,%d)", channel, len(s.meta.ChannelNames)), nil)
	}

	key := [2]int{fov, channel}
	r, ok := s.readers[key]
	if !ok {
		path := filepath.Join(s.dir, SourceFrameFilename(s.meta.BaseName, fov, channel))
		var err error
		r, err = arrayfile.OpenArray(path)
		if err != nil {
			return nil, err
		}
		h := r.Header()
		if int(h.Shape[0]) != s.meta.NFrames || int(h.Shape[1]) != s.meta.Height || int(h.Shape[2]) != s.meta.Width {
			_ = r.Close()
			return nil, cerrors.NewIncompatibleArtifactError(path, "shape does not match acquisition metadata")
		}
		s.readers[key] = r
	}
	return arrayfile.ReadFloat32Frame(r, frame)
}

// Close releases every open array mapping.
func (s *FileSource) Close() error {
	var firstErr error
	for key, r := range s.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.readers, key)
	}
	return firstErr
}

var _ Source = (*FileSource)(nil)

// WriteAcquisition materializes a Source into an acquisition
// directory FileSource can open — used to convert in-memory or
// foreign sources into the CLI's input format, and by tests to stage
// synthetic acquisitions on disk.
func WriteAcquisition(dir string, src Source) error {
	meta, err := src.ReadMetadata()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return cerrors.NewWriteError("create acquisition directory", err)
	}

	doc := acquisitionDoc{
		BaseName:     meta.BaseName,
		NFOVs:        meta.NFOVs,
		NFrames:      meta.NFrames,
		Height:       meta.Height,
		Width:        meta.Width,
		ChannelNames: meta.ChannelNames,
		Timepoints:   meta.Timepoints,
		TimeUnit:     meta.TimeUnit,
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return cerrors.NewWriteError("marshal acquisition metadata", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetadataFilename), data, 0644); err != nil {
		return cerrors.NewWriteError("write acquisition metadata", err)
	}

	shape := [3]uint32{uint32(meta.NFrames), uint32(meta.Height), uint32(meta.Width)}
	for fov := 0; fov < meta.NFOVs; fov++ {
		for ch := range meta.ChannelNames {
			path := filepath.Join(dir, SourceFrameFilename(meta.BaseName, fov, ch))
			w, err := arrayfile.CreateArray(path, shape, arrayfile.DTypeFloat32)
			if err != nil {
				return err
			}
			for t := 0; t < meta.NFrames; t++ {
				frame, err := src.ReadFrame(fov, t, ch)
				if err != nil {
					_ = w.Close()
					return err
				}
				if err := w.WriteFrame(t, arrayfile.EncodeFloat32Frame(frame)); err != nil {
					_ = w.Close()
					return err
				}
			}
			if err := w.Close(); err != nil {
				return err
			}
		}
	}
	return nil
}
