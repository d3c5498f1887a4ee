package arrayfile

import (
	"encoding/binary"
	"fmt"
	"math"

	cerrors "github.com/basslab/livecell/internal/errors"
)

// EncodeFloat32Frame packs a row-major (H*W) float32 frame into bytes.
func EncodeFloat32Frame(values []float32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// DecodeFloat32Frame unpacks bytes into a row-major float32 slice.
func DecodeFloat32Frame(data []byte) []float32 {
	n := len(data) / 4
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

// EncodeUint16Frame packs a row-major (H*W) uint16 frame into bytes.
func EncodeUint16Frame(values []uint16) []byte {
	out := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}

// DecodeUint16Frame unpacks bytes into a row-major uint16 slice.
func DecodeUint16Frame(data []byte) []uint16 {
	n := len(data) / 2
	out := make([]uint16, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(data[i*2:])
	}
	return out
}

// EncodeBoolFrame packs a row-major (H*W) bool frame into bytes (one byte per element).
func EncodeBoolFrame(values []bool) []byte {
	out := make([]byte, len(values))
	for i, v := range values {
		if v {
			out[i] = 1
		}
	}
	return out
}

// DecodeBoolFrame unpacks bytes into a row-major bool slice.
func DecodeBoolFrame(data []byte) []bool {
	out := make([]bool, len(data))
	for i, b := range data {
		out[i] = b != 0
	}
	return out
}

// EncodeInt32Frame packs a row-major (H*W) int32 frame into bytes.
func EncodeInt32Frame(values []int32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
	}
	return out
}

// DecodeInt32Frame unpacks bytes into a row-major int32 slice.
func DecodeInt32Frame(data []byte) []int32 {
	n := len(data) / 4
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

// ReadFloat32Frame reads and decodes frame t as float32, converting
// from the reader's underlying dtype (uint16 or float32) as needed.
func ReadFloat32Frame(r *Reader, t int) ([]float32, error) {
	data, err := r.ReadFrame(t)
	if err != nil {
		return nil, err
	}
	switch r.Header().DType {
	case DTypeFloat32:
		return DecodeFloat32Frame(data), nil
	case DTypeUint16:
		u16 := DecodeUint16Frame(data)
		out := make([]float32, len(u16))
		for i, v := range u16 {
			out[i] = float32(v)
		}
		return out, nil
	default:
		return nil, cerrors.NewDTypeError(fmt.Sprintf("cannot read dtype %s as float32", r.Header().DType))
	}
}

// ReadBoolFrame reads and decodes frame t as bool.
func ReadBoolFrame(r *Reader, t int) ([]bool, error) {
	data, err := r.ReadFrame(t)
	if err != nil {
		return nil, err
	}
	return DecodeBoolFrame(data), nil
}

// ReadInt32Frame reads and decodes frame t as int32.
func ReadInt32Frame(r *Reader, t int) ([]int32, error) {
	data, err := r.ReadFrame(t)
	if err != nil {
		return nil, err
	}
	return DecodeInt32Frame(data), nil
}
