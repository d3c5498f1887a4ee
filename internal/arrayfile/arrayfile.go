// Package arrayfile implements the Storage Layer: memory-mapped
// per-FOV/per-channel 3D array files (T,H,W) with a typed header.
package arrayfile

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	cerrors "github.com/basslab/livecell/internal/errors"
)

// DType identifies the element type stored in an array file.
type DType uint8

const (
	DTypeUint16 DType = iota
	DTypeFloat32
	DTypeBool
	DTypeInt32 // labeled segmentation
)

// Size returns the byte width of one element of this dtype.
func (d DType) Size() int {
	switch d {
	case DTypeUint16:
		return 2
	case DTypeFloat32:
		return 4
	case DTypeBool:
		return 1
	case DTypeInt32:
		return 4
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case DTypeUint16:
		return "uint16"
	case DTypeFloat32:
		return "float32"
	case DTypeBool:
		return "bool"
	case DTypeInt32:
		return "int32"
	default:
		return "unknown"
	}
}

const (
	magic        = "ARR1"
	formatVer    = uint16(1)
	orderLittle  = byte('L')
	headerLength = 4 + 2 + 1 + 4*3 + 1 // magic + version + dtype + shape(3xu32) + order
)

// Header is the fixed-size on-disk header preceding the row-major
// payload of every array file.
type Header struct {
	Magic   [4]byte
	Version uint16
	DType   DType
	Shape   [3]uint32 // T, H, W
	Order   byte
}

// FrameSize returns the byte length of a single (H,W) frame.
func (h Header) FrameSize() int {
	return int(h.Shape[1]) * int(h.Shape[2]) * h.DType.Size()
}

// PayloadSize returns the total byte length of the (T,H,W) payload.
func (h Header) PayloadSize() int64 {
	return int64(h.Shape[0]) * int64(h.FrameSize())
}

func encodeHeader(h Header) []byte {
	buf := make([]byte, headerLength)
	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	buf[6] = byte(h.DType)
	binary.LittleEndian.PutUint32(buf[7:11], h.Shape[0])
	binary.LittleEndian.PutUint32(buf[11:15], h.Shape[1])
	binary.LittleEndian.PutUint32(buf[15:19], h.Shape[2])
	buf[19] = h.Order
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < headerLength {
		return h, fmt.Errorf("header too short: %d bytes", len(buf))
	}
	copy(h.Magic[:], buf[0:4])
	h.Version = binary.LittleEndian.Uint16(buf[4:6])
	h.DType = DType(buf[6])
	h.Shape[0] = binary.LittleEndian.Uint32(buf[7:11])
	h.Shape[1] = binary.LittleEndian.Uint32(buf[11:15])
	h.Shape[2] = binary.LittleEndian.Uint32(buf[15:19])
	h.Order = buf[19]
	return h, nil
}

// Writer is produced only by CreateArray and provides frame-oriented,
// single-writer access to a newly created array file.
type Writer struct {
	file   *os.File
	mmap   mmap.MMap
	header Header
}

// Reader is produced only by OpenArray and provides random-access,
// multi-reader access to an existing array file.
type Reader struct {
	file   *os.File
	mmap   mmap.MMap
	header Header
}

// Exists reports whether path already holds a valid array file whose
// header matches the expected shape and dtype — the idempotence check
// every stage performs before recomputing.
func Exists(path string, shape [3]uint32, dtype DType) bool {
	r, err := OpenArray(path)
	if err != nil {
		return false
	}
	defer r.Close()
	return r.header.Shape == shape && r.header.DType == dtype
}

// CreateArray truncates path to header-size + payload-size and maps it
// read-write. Concurrent writers to the same file are forbidden by
// convention — each stage owns the files it creates.
func CreateArray(path string, shape [3]uint32, dtype DType) (*Writer, error) {
	h := Header{
		Magic:   [4]byte{magic[0], magic[1], magic[2], magic[3]},
		Version: formatVer,
		DType:   dtype,
		Shape:   shape,
		Order:   orderLittle,
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, cerrors.NewWriteError("create array file", err)
	}

	total := int64(headerLength) + h.PayloadSize()
	if err := f.Truncate(total); err != nil {
		_ = f.Close()
		return nil, cerrors.NewWriteError("truncate array file", err)
	}

	if _, err := f.WriteAt(encodeHeader(h), 0); err != nil {
		_ = f.Close()
		return nil, cerrors.NewWriteError("write array header", err)
	}

	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		_ = f.Close()
		return nil, cerrors.NewWriteError("mmap array file", err)
	}

	return &Writer{file: f, mmap: m, header: h}, nil
}

// OpenArray validates the header on disk and maps the file read-only.
// It fails with CorruptArtifact on a truncated file or unreadable
// header, not IncompatibleArtifact — shape/dtype expectations are the
// caller's concern, checked separately (see Exists, or compare Header
// fields directly).
func OpenArray(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, cerrors.NewReadError("open array file", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, cerrors.NewReadError("stat array file", err)
	}
	if info.Size() < headerLength {
		_ = f.Close()
		return nil, cerrors.NewCorruptArtifactError(path, fmt.Errorf("file too short for header"))
	}

	hdrBuf := make([]byte, headerLength)
	if _, err := f.ReadAt(hdrBuf, 0); err != nil {
		_ = f.Close()
		return nil, cerrors.NewCorruptArtifactError(path, err)
	}
	h, err := decodeHeader(hdrBuf)
	if err != nil {
		_ = f.Close()
		return nil, cerrors.NewCorruptArtifactError(path, err)
	}
	if string(h.Magic[:]) != magic {
		_ = f.Close()
		return nil, cerrors.NewIncompatibleArtifactError(path, "bad magic")
	}
	if h.Order != orderLittle {
		_ = f.Close()
		return nil, cerrors.NewIncompatibleArtifactError(path, "unsupported byte order")
	}

	expected := int64(headerLength) + h.PayloadSize()
	if info.Size() != expected {
		_ = f.Close()
		return nil, cerrors.NewCorruptArtifactError(path, fmt.Errorf("expected %d bytes, got %d", expected, info.Size()))
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		_ = f.Close()
		return nil, cerrors.NewReadError("mmap array file", err)
	}

	return &Reader{file: f, mmap: m, header: h}, nil
}

// Header returns the array's parsed header.
func (w *Writer) Header() Header { return w.header }

// Header returns the array's parsed header.
func (r *Reader) Header() Header { return r.header }

// WriteFrame copies data into frame t. len(data) must equal FrameSize().
func (w *Writer) WriteFrame(t int, data []byte) error {
	frameSize := w.header.FrameSize()
	if len(data) != frameSize {
		return cerrors.NewShapeError(fmt.Sprintf("frame %d: expected %d bytes, got %d", t, frameSize, len(data)))
	}
	if t < 0 || t >= int(w.header.Shape[0]) {
		return cerrors.NewShapeError(fmt.Sprintf("frame index %d out of range [0,%d)", t, w.header.Shape[0]))
	}
	offset := headerLength + t*frameSize
	copy(w.mmap[offset:offset+frameSize], data)
	return nil
}

// ReadFrame returns a copy of frame t's raw bytes.
func (r *Reader) ReadFrame(t int) ([]byte, error) {
	frameSize := r.header.FrameSize()
	if t < 0 || t >= int(r.header.Shape[0]) {
		return nil, cerrors.NewShapeError(fmt.Sprintf("frame index %d out of range [0,%d)", t, r.header.Shape[0]))
	}
	offset := headerLength + t*frameSize
	out := make([]byte, frameSize)
	copy(out, r.mmap[offset:offset+frameSize])
	return out, nil
}

// Close unmaps and closes the file. Safe to call multiple times.
func (w *Writer) Close() error {
	if w == nil || w.mmap == nil {
		return nil
	}
	err := w.mmap.Unmap()
	w.mmap = nil
	if cerr := w.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Close unmaps and closes the file. Safe to call multiple times.
func (r *Reader) Close() error {
	if r == nil || r.mmap == nil {
		return nil
	}
	err := r.mmap.Unmap()
	r.mmap = nil
	if cerr := r.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
