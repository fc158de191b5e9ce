package ingest

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// SessionState is the slice of the driver's session a reader may observe
// and change.
type SessionState interface {
	// Streaming reports whether the session is still acquiring.
	Streaming() bool
	// MarkDone atomically sets done and clears streaming. It returns false
	// when the session was no longer streaming.
	MarkDone() bool
	// MarkDegraded records that a reader lost its socket.
	MarkDegraded(err error)
}

// Logger is what the readers log through.
type Logger interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// ReaderConfig carries the timing knobs shared by both readers.
type ReaderConfig struct {
	ReadTimeout      time.Duration
	IdleTimeout      time.Duration
	FirstDataTimeout time.Duration
	Metrics          *Metrics
	Logger           Logger
}

const readChunk = 64 * 1024

// pollOutcome classifies one bounded read.
type pollOutcome int

const (
	pollData      pollOutcome = iota // bytes arrived
	pollTimeout                      // deadline expired with nothing read
	pollTransient                    // read failed, socket may recover
	pollFatal                        // socket is gone
)

// stream owns one data socket and its frame assembler.
type stream struct {
	name        string
	conn        net.Conn
	readTimeout time.Duration
	frames      *frameAssembler
	values      []float32
	buf         []byte
	metrics     *Metrics
	logger      Logger

	firstData chan struct{}
	firstOnce sync.Once

	produced   atomic.Uint64
	readErrors atomic.Uint64
}

func newStream(name string, conn net.Conn, frameValues int, cfg ReaderConfig) *stream {
	return &stream{
		name:        name,
		conn:        conn,
		readTimeout: cfg.ReadTimeout,
		frames:      newFrameAssembler(frameValues),
		values:      make([]float32, frameValues),
		buf:         make([]byte, readChunk),
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		firstData:   make(chan struct{}),
	}
}

// poll performs one read bounded by readTimeout and hands every complete
// frame to emit. Partial frames stay buffered.
func (s *stream) poll(emit func(vals []float32) int) (pollOutcome, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	n, err := s.conn.Read(s.buf)

	if n > 0 {
		s.firstOnce.Do(func() { close(s.firstData) })
		s.frames.write(s.buf[:n])
		for s.frames.next(s.values) {
			depth := emit(s.values)
			s.produced.Add(1)
			s.metrics.frame(s.name, depth)
		}
		s.metrics.received(s.name, n, s.frames.buffered())
	}

	switch {
	case err == nil && n > 0:
		return pollData, nil
	case err == nil:
		return pollTimeout, nil
	case isTimeout(err):
		if n > 0 {
			return pollData, nil
		}
		return pollTimeout, nil
	}

	s.readErrors.Add(1)
	if isFatal(err) {
		s.metrics.readError(s.name, "fatal")
		return pollFatal, err
	}
	s.metrics.readError(s.name, "transient")
	return pollTransient, err
}

// FirstData is closed when the first byte arrives on the socket.
func (s *stream) FirstData() <-chan struct{} {
	return s.firstData
}

// Stats returns the number of frames produced and read failures seen.
func (s *stream) Stats() (uint64, uint64) {
	return s.produced.Load(), s.readErrors.Load()
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isFatal(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
