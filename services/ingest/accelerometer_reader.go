package ingest

import (
	"net"
	"time"

	"trigno-driver/models"
)

// AccelerometerReader decodes 48-value accelerometer frames into its queue.
// It never ends a session on its own; the EMG reader does that.
type AccelerometerReader struct {
	*stream
	queue *SampleQueue[models.AccelerometerSample]
}

// NewAccelerometerReader wraps conn. Nothing is read until Run.
func NewAccelerometerReader(conn net.Conn, queue *SampleQueue[models.AccelerometerSample], cfg ReaderConfig) *AccelerometerReader {
	return &AccelerometerReader{
		stream: newStream(StreamAccelerometer, conn, AccFrameValues, cfg),
		queue:  queue,
	}
}

// Run reads until the session stops streaming or the socket is lost.
func (r *AccelerometerReader) Run(state SessionState) {
	for state.Streaming() {
		outcome, err := r.poll(r.push)
		if outcome == pollTransient {
			r.logger.Warn("AccelerometerReader: %v", err)
			time.Sleep(r.readTimeout)
			continue
		}
		if outcome == pollFatal {
			r.logger.Error("AccelerometerReader: socket lost: %v", err)
			state.MarkDegraded(err)
			break
		}
	}

	produced, errs := r.Stats()
	r.logger.Info("accelerometer reader stopped (frames=%d, read_errors=%d)", produced, errs)
}

func (r *AccelerometerReader) push(vals []float32) int {
	r.queue.Push(DemuxAccelerometer(vals))
	return r.queue.Len()
}
