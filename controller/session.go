package controller

import (
	"sync"
	"sync/atomic"
	"time"

	"trigno-driver/services/ingest"
)

// State is the driver's connection/acquisition state.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateStreaming
	StateDone // streaming ended because the EMG stream went idle
)

var stateNames = [...]string{"disconnected", "connected", "streaming", "done"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Session is the state shared between the driver and its readers. The
// state word is the only value both sides write; the done transition is a
// single compare-and-swap so done and streaming never disagree.
type Session struct {
	state    atomic.Int32
	degraded atomic.Bool

	mu      sync.Mutex
	lastErr error
	id      string
	total   stopwatch
	open    bool // a streaming session has begun and has no timing record yet
}

var _ ingest.SessionState = (*Session)(nil)

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Streaming reports whether readers should keep running.
func (s *Session) Streaming() bool {
	return s.State() == StateStreaming
}

// MarkDone ends a streaming session because the EMG stream went idle.
func (s *Session) MarkDone() bool {
	if !s.state.CompareAndSwap(int32(StateStreaming), int32(StateDone)) {
		return false
	}
	s.mu.Lock()
	s.total.stop()
	s.mu.Unlock()
	return true
}

// MarkDegraded records that a reader lost its data socket.
func (s *Session) MarkDegraded(err error) {
	s.degraded.Store(true)
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// Degraded reports whether a reader lost its socket this session.
func (s *Session) Degraded() bool {
	return s.degraded.Load()
}

// LastError returns the error that degraded the session, if any.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// ID returns the current or last streaming session's id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) set(st State) {
	s.state.Store(int32(st))
}

// begin moves to streaming under a fresh session id.
func (s *Session) begin(id string) {
	s.mu.Lock()
	s.id = id
	s.lastErr = nil
	s.total = stopwatch{}
	s.open = true
	s.mu.Unlock()
	s.degraded.Store(false)
	s.set(StateStreaming)
}

// stop clears streaming after a manual stop. A session that already went
// idle keeps its done state.
func (s *Session) stop() {
	s.state.CompareAndSwap(int32(StateStreaming), int32(StateConnected))
}

func (s *Session) startTimer(at time.Time) {
	s.mu.Lock()
	s.total.start(at)
	s.mu.Unlock()
}

func (s *Session) stopTimer() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total.stop()
	return s.total.elapsed
}

// close returns the timing data of an open session and marks it recorded.
func (s *Session) close() (id string, started time.Time, elapsed time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return "", time.Time{}, 0, false
	}
	s.open = false
	s.total.stop()
	return s.id, s.total.started, s.total.elapsed, true
}

// stopwatch measures total collection time.
type stopwatch struct {
	started time.Time
	elapsed time.Duration
	running bool
}

func (w *stopwatch) start(at time.Time) {
	if w.running || !w.started.IsZero() {
		return
	}
	w.started = at
	w.running = true
}

func (w *stopwatch) stop() {
	if !w.running {
		return
	}
	w.elapsed = time.Since(w.started)
	w.running = false
}
