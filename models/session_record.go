package models

// Session outcomes.
const (
	OutcomeStopped = "stopped" // StopSampling was called
	OutcomeIdle    = "idle"    // EMG stream went quiet and the session was declared done
)

// SessionRecord summarises one streaming session for the timing log.
type SessionRecord struct {
	SessionID   string `json:"session_id"`
	StartedNs   int64  `json:"started_ns"`
	DurationMs  int64  `json:"duration_ms"`
	EMGFrames   uint64 `json:"emg_frames"`
	AccFrames   uint64 `json:"acc_frames"`
	Outcome     string `json:"outcome"`
	StopReplyOK bool   `json:"stop_reply_ok"`
}

func (SessionRecord) CSVHeader() []string {
	return []string{
		"session_id", "started_ns", "duration_ms",
		"emg_frames", "acc_frames", "outcome", "stop_reply_ok",
	}
}

func (r *SessionRecord) CSVRow() []string {
	ok := "false"
	if r.StopReplyOK {
		ok = "true"
	}
	return []string{
		r.SessionID,
		itoa64(r.StartedNs),
		itoa64(r.DurationMs),
		utoa64(r.EMGFrames),
		utoa64(r.AccFrames),
		r.Outcome,
		ok,
	}
}
