package views

import "trigno-driver/models"

// RecordType identifies a record kind for schema lookups.
type RecordType int

const (
	RecordEMG RecordType = iota
	RecordAccelerometer
	RecordSession
)

var recordNames = map[RecordType]string{
	RecordEMG:           "emg",
	RecordAccelerometer: "accelerometer",
	RecordSession:       "session",
}

func (r RecordType) String() string {
	if n, ok := recordNames[r]; ok {
		return n
	}
	return "unknown"
}

// SchemaColumns returns the canonical column list for a record kind. The
// models own their headers; this keeps one lookup for callers that only
// know the kind.
func SchemaColumns(r RecordType) []string {
	switch r {
	case RecordEMG:
		return models.EMGSample{}.CSVHeader()
	case RecordAccelerometer:
		return models.AccelerometerSample{}.CSVHeader()
	case RecordSession:
		return models.SessionRecord{}.CSVHeader()
	}
	return nil
}
