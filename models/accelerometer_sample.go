package models

import "strconv"

// AccChannels is the number of sensor slots per axis in one accelerometer frame.
const AccChannels = 16

// AccelerometerSample holds one accelerometer frame split per axis.
type AccelerometerSample struct {
	X [AccChannels]float32 `json:"x"`
	Y [AccChannels]float32 `json:"y"`
	Z [AccChannels]float32 `json:"z"`
}

// NewAccelerometerSample copies up to AccChannels values per axis.
func NewAccelerometerSample(x, y, z []float32) AccelerometerSample {
	var s AccelerometerSample
	copy(s.X[:], x)
	copy(s.Y[:], y)
	copy(s.Z[:], z)
	return s
}

// IsZero reports whether every reading on every axis is zero.
func (s AccelerometerSample) IsZero() bool {
	return s == AccelerometerSample{}
}

func (AccelerometerSample) CSVHeader() []string {
	h := make([]string, 0, 3*AccChannels)
	for i := 1; i <= AccChannels; i++ {
		n := strconv.Itoa(i)
		h = append(h, "acc_x_"+n, "acc_y_"+n, "acc_z_"+n)
	}
	return h
}

// CSVRow keeps the wire interleave: x, y, z per sensor slot.
func (s *AccelerometerSample) CSVRow() []string {
	row := make([]string, 0, 3*AccChannels)
	for i := 0; i < AccChannels; i++ {
		row = append(row, f32toa(s.X[i]), f32toa(s.Y[i]), f32toa(s.Z[i]))
	}
	return row
}
