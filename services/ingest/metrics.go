package ingest

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stream label values.
const (
	StreamEMG           = "emg"
	StreamAccelerometer = "accelerometer"
)

// Metrics holds Prometheus collectors shared by both stream readers.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	framesDecoded *prometheus.CounterVec
	bytesReceived *prometheus.CounterVec
	readErrors    *prometheus.CounterVec
	pendingBytes  *prometheus.GaugeVec
	queueDepth    *prometheus.GaugeVec
	lastFrame     *prometheus.GaugeVec
}

// NewMetrics creates and registers the reader metrics. A nil registerer
// disables metrics and returns nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		framesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trigno",
			Subsystem: "stream",
			Name:      "frames_decoded_total",
			Help:      "Complete frames decoded and queued",
		}, []string{"stream"}),
		bytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trigno",
			Subsystem: "stream",
			Name:      "bytes_received_total",
			Help:      "Raw bytes read from the data socket",
		}, []string{"stream"}),
		readErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trigno",
			Subsystem: "stream",
			Name:      "read_errors_total",
			Help:      "Socket read failures other than deadline expiry",
		}, []string{"stream", "class"}),
		pendingBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "trigno",
			Subsystem: "stream",
			Name:      "pending_bytes",
			Help:      "Bytes of an incomplete frame waiting for the rest",
		}, []string{"stream"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "trigno",
			Subsystem: "stream",
			Name:      "queue_depth",
			Help:      "Samples waiting to be drained by the caller",
		}, []string{"stream"}),
		lastFrame: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "trigno",
			Subsystem: "stream",
			Name:      "last_frame_timestamp_seconds",
			Help:      "Unix time of the last decoded frame",
		}, []string{"stream"}),
	}

	for _, c := range []prometheus.Collector{
		m.framesDecoded, m.bytesReceived, m.readErrors,
		m.pendingBytes, m.queueDepth, m.lastFrame,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register stream metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) frame(stream string, depth int) {
	if m == nil {
		return
	}
	m.framesDecoded.WithLabelValues(stream).Inc()
	m.queueDepth.WithLabelValues(stream).Set(float64(depth))
	m.lastFrame.WithLabelValues(stream).Set(float64(time.Now().Unix()))
}

func (m *Metrics) received(stream string, n, pending int) {
	if m == nil {
		return
	}
	m.bytesReceived.WithLabelValues(stream).Add(float64(n))
	m.pendingBytes.WithLabelValues(stream).Set(float64(pending))
}

func (m *Metrics) readError(stream, class string) {
	if m == nil {
		return
	}
	m.readErrors.WithLabelValues(stream, class).Inc()
}

// SetQueueDepth records the queue depth after the caller drained a sample.
func (m *Metrics) SetQueueDepth(stream string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(stream).Set(float64(depth))
}
