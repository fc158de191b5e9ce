package ingest

import (
	"net"
	"time"

	"trigno-driver/models"
)

// idleTimer measures how long the EMG stream has been silent. The zero
// value is disarmed.
type idleTimer struct {
	armedAt time.Time
}

// arm starts the timer at t unless it is already running.
func (t *idleTimer) arm(at time.Time) {
	if t.armedAt.IsZero() {
		t.armedAt = at
	}
}

func (t *idleTimer) reset() {
	t.armedAt = time.Time{}
}

func (t *idleTimer) expired(now time.Time, limit time.Duration) bool {
	return !t.armedAt.IsZero() && now.Sub(t.armedAt) > limit
}

// EMGReader decodes 16-value EMG frames into its queue and decides when the
// session is done: once the stream has been silent for longer than the idle
// timeout it marks the session done, which also ends streaming.
type EMGReader struct {
	*stream
	queue            *SampleQueue[models.EMGSample]
	idle             idleTimer
	idleTimeout      time.Duration
	firstDataTimeout time.Duration
}

// NewEMGReader wraps conn. Nothing is read until Run.
func NewEMGReader(conn net.Conn, queue *SampleQueue[models.EMGSample], cfg ReaderConfig) *EMGReader {
	return &EMGReader{
		stream:           newStream(StreamEMG, conn, EMGFrameValues, cfg),
		queue:            queue,
		idleTimeout:      cfg.IdleTimeout,
		firstDataTimeout: cfg.FirstDataTimeout,
	}
}

// Run reads until the session stops streaming. It returns after marking the
// session done, or within one read timeout of streaming being cleared.
func (r *EMGReader) Run(state SessionState) {
	// Until the device sends anything, the silence clock starts once the
	// first-data grace period is over.
	r.idle.arm(time.Now().Add(r.firstDataTimeout))

	socketLost := false
	for state.Streaming() {
		now := time.Now()
		if r.idle.expired(now, r.idleTimeout) {
			if state.MarkDone() {
				r.logger.Info("EMG stream idle for more than %v, acquisition done", r.idleTimeout)
			}
			break
		}

		if socketLost {
			time.Sleep(r.readTimeout)
			continue
		}

		outcome, err := r.poll(r.push)
		switch outcome {
		case pollData:
			// Any bytes count as activity, even an incomplete frame.
			r.idle.reset()
		case pollTimeout:
			r.idle.arm(now)
		case pollTransient:
			r.logger.Warn("EMGReader: %v", err)
			r.idle.arm(now)
			time.Sleep(r.readTimeout)
		case pollFatal:
			r.logger.Error("EMGReader: socket lost: %v", err)
			state.MarkDegraded(err)
			r.idle.arm(now)
			socketLost = true
		}
	}

	produced, errs := r.Stats()
	r.logger.Info("EMG reader stopped           (frames=%d, read_errors=%d)", produced, errs)
}

func (r *EMGReader) push(vals []float32) int {
	r.queue.Push(models.NewEMGSample(vals))
	return r.queue.Len()
}
