package ingest

import (
	"encoding/binary"
	"math"

	"trigno-driver/models"
)

// Wire frame sizes, in float32 values.
const (
	EMGFrameValues = models.EMGChannels
	AccFrameValues = 3 * models.AccChannels
)

const floatSize = 4

// DecodeFloats fills dst from little-endian IEEE-754 float32 values in src.
// src must hold at least len(dst)*4 bytes.
func DecodeFloats(dst []float32, src []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*floatSize:]))
	}
}

// AppendFloats encodes vals the way the device puts them on the wire.
func AppendFloats(dst []byte, vals ...float32) []byte {
	for _, v := range vals {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}

// DemuxAccelerometer splits one 48-value frame into per-axis arrays. The
// device interleaves axes per sensor slot: X0,Y0,Z0,X1,Y1,Z1,...
func DemuxAccelerometer(vals []float32) models.AccelerometerSample {
	var s models.AccelerometerSample
	for i := 0; i < models.AccChannels; i++ {
		s.X[i] = vals[3*i]
		s.Y[i] = vals[3*i+1]
		s.Z[i] = vals[3*i+2]
	}
	return s
}

// frameAssembler turns an arbitrary byte stream into fixed-size frames.
// Bytes of an incomplete frame stay pending until the rest arrives, so a
// short read never shifts later frame boundaries.
type frameAssembler struct {
	frameBytes int
	pending    []byte
}

func newFrameAssembler(values int) *frameAssembler {
	return &frameAssembler{
		frameBytes: values * floatSize,
		pending:    make([]byte, 0, 4*values*floatSize),
	}
}

func (a *frameAssembler) write(p []byte) {
	a.pending = append(a.pending, p...)
}

// next decodes the oldest complete frame into dst.
func (a *frameAssembler) next(dst []float32) bool {
	if len(a.pending) < a.frameBytes {
		return false
	}
	DecodeFloats(dst, a.pending[:a.frameBytes])
	n := copy(a.pending, a.pending[a.frameBytes:])
	a.pending = a.pending[:n]
	return true
}

// buffered is the number of bytes waiting for the rest of their frame.
func (a *frameAssembler) buffered() int {
	return len(a.pending)
}
