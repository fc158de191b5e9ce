package models

import "strconv"

// EMGChannels is the number of sensor slots in one EMG frame.
const EMGChannels = 16

// EMGSample holds one EMG frame: one reading per sensor slot, in arrival
// order. It is a value type; copies never share storage.
type EMGSample struct {
	Data [EMGChannels]float32 `json:"data"`
}

// NewEMGSample copies up to EMGChannels values from data. Missing values
// stay zero.
func NewEMGSample(data []float32) EMGSample {
	var s EMGSample
	copy(s.Data[:], data)
	return s
}

// IsZero reports whether every reading is zero, which is what an empty
// queue hands back.
func (s EMGSample) IsZero() bool {
	return s == EMGSample{}
}

func (EMGSample) CSVHeader() []string {
	h := make([]string, EMGChannels)
	for i := range h {
		h[i] = "emg_" + strconv.Itoa(i+1)
	}
	return h
}

func (s *EMGSample) CSVRow() []string {
	row := make([]string, EMGChannels)
	for i, v := range s.Data {
		row[i] = f32toa(v)
	}
	return row
}
