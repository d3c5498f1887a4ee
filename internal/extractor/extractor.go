// Package extractor implements the Extractor stage: materializing the
// selected phase and fluorescence channels for each FOV as
// ArrayFiles.
package extractor

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/basslab/livecell/internal/arrayfile"
	"github.com/basslab/livecell/internal/config"
	cerrors "github.com/basslab/livecell/internal/errors"
	"github.com/basslab/livecell/internal/logging"
	"github.com/basslab/livecell/internal/reader"
	"github.com/basslab/livecell/internal/reporter"
	"github.com/basslab/livecell/internal/util"
)

// ChannelArtifact names one extracted array file and the channel
// index it pertains to.
type ChannelArtifact struct {
	Channel int
	Path    string
}

// Result is an FOV's extraction output: the phase-contrast array path
// and one array path per selected fluorescence channel.
type Result struct {
	FOV          int
	PhaseContrast string
	Fluorescence []ChannelArtifact
}

// PhaseContrastFilename returns the canonical on-disk name for an
// FOV's phase-contrast array inside its fov_NNN directory.
func PhaseContrastFilename(baseName string, fov int) string {
	return fmt.Sprintf("%s_fov_%03d_pc.arr", baseName, fov)
}

// FluorescenceFilename returns the canonical on-disk name for an FOV's
// fluorescence array for channel k.
func FluorescenceFilename(baseName string, fov, channel int) string {
	return fmt.Sprintf("%s_fov_%03d_fl_ch_%d.arr", baseName, fov, channel)
}

// FOVDir returns the per-FOV output subdirectory name.
func FOVDir(fov int) string {
	return fmt.Sprintf("fov_%03d", fov)
}

// Extract copies the selected phase-contrast and fluorescence channels
// for one FOV from src into typed ArrayFiles under outDir/fov_NNN/.
// Idempotent: an existing file whose header already matches the
// expected shape/dtype is left untouched and skipped.
func Extract(ctx context.Context, src reader.Source, meta reader.AcquisitionMetadata, sel config.ChannelSelection, fov int, outDir string, log *logging.Logger, rep reporter.Reporter) (Result, error) {
	fovDir := filepath.Join(outDir, FOVDir(fov))
	if err := util.EnsureDirectory(fovDir); err != nil {
		return Result{}, cerrors.NewWriteError("create fov directory", err)
	}

	shape := [3]uint32{uint32(meta.NFrames), uint32(meta.Height), uint32(meta.Width)}

	pcPath := filepath.Join(fovDir, PhaseContrastFilename(meta.BaseName, fov))
	if err := extractChannel(ctx, src, fov, sel.PhaseContrastChannel, pcPath, shape, log, rep); err != nil {
		return Result{}, err
	}

	result := Result{FOV: fov, PhaseContrast: pcPath}
	for _, ch := range sel.MeasureChannels {
		select {
		case <-ctx.Done():
			return Result{}, cerrors.NewCancelledError()
		default:
		}
		path := filepath.Join(fovDir, FluorescenceFilename(meta.BaseName, fov, ch))
		if err := extractChannel(ctx, src, fov, ch, path, shape, log, rep); err != nil {
			return Result{}, err
		}
		result.Fluorescence = append(result.Fluorescence, ChannelArtifact{Channel: ch, Path: path})
	}

	return result, nil
}

// extractChannel copies one channel's (T,H,W) frames, sequentially —
// the source reader is not assumed thread-safe, so channels within
// one FOV are extracted one at a time.
func extractChannel(ctx context.Context, src reader.Source, fov, channel int, path string, shape [3]uint32, log *logging.Logger, rep reporter.Reporter) error {
	if arrayfile.Exists(path, shape, arrayfile.DTypeFloat32) {
		log.Debug("extractor: skip existing", "path", path)
		return nil
	}

	w, err := arrayfile.CreateArray(path, shape, arrayfile.DTypeFloat32)
	if err != nil {
		return cerrors.NewWriteError(fmt.Sprintf("create array for fov=%d channel=%d", fov, channel), err)
	}
	defer w.Close()

	nFrames := int(shape[0])
	reportEvery := 30
	for t := 0; t < nFrames; t++ {
		select {
		case <-ctx.Done():
			return cerrors.NewCancelledError()
		default:
		}

		frame, err := src.ReadFrame(fov, t, channel)
		if err != nil {
			return cerrors.NewReadError(fmt.Sprintf("read fov=%d frame=%d channel=%d", fov, t, channel), err)
		}
		if err := w.WriteFrame(t, arrayfile.EncodeFloat32Frame(frame)); err != nil {
			return cerrors.NewWriteError(fmt.Sprintf("write fov=%d frame=%d channel=%d", fov, t, channel), err)
		}

		if t%reportEvery == 0 && rep != nil {
			rep.StageProgress(reporter.StageProgress{
				FOV: fov, Stage: "extract",
				Percent: float32(t+1) / float32(nFrames) * 100,
				Message: fmt.Sprintf("channel %d frame %d/%d", channel, t+1, nFrames),
			})
		}
	}
	return nil
}
