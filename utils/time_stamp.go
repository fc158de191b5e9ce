package utils

import "time"

// StampLayout is the wall-clock format used in log lines and session notes.
const StampLayout = "2006-01-02 15:04:05.000"

// FormatStamp renders a nanosecond Unix timestamp in local time. Zero
// renders as "-" so unset start times stay visible in logs.
func FormatStamp(ns int64) string {
	if ns == 0 {
		return "-"
	}
	return time.Unix(0, ns).Format(StampLayout)
}
