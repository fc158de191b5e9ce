package controller

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"trigno-driver/models"
	"trigno-driver/services/control"
	"trigno-driver/services/ingest"
	"trigno-driver/utils"
	"trigno-driver/views"
)

// Driver owns the command connection and both data connections of one
// Trigno base station. The caller drives its lifecycle
//
//	Connect → BeginSampling → (drain) → StopSampling → Disconnect
//
// while two reader goroutines decode the EMG and accelerometer streams into
// queues. Lifecycle calls are serialised; queries and drains never wait on
// them.
//
// Failures never panic: they are logged and returned, and the state stays
// where it was.
type Driver struct {
	cfg utils.Config

	mu      sync.Mutex
	session Session
	host    string

	command   *control.Channel
	emgConn   net.Conn
	accConn   net.Conn
	emgReader *ingest.EMGReader
	accReader *ingest.AccelerometerReader
	readers   sync.WaitGroup

	emgQueue *ingest.SampleQueue[models.EMGSample]
	accQueue *ingest.SampleQueue[models.AccelerometerSample]

	log        *utils.Logger
	console    *utils.Logger
	ownsLogger bool
	timing     *views.CSVWriter
	ownsTiming bool

	registerer prometheus.Registerer
	metrics    *ingest.Metrics
}

// Option customises a Driver.
type Option func(*Driver)

// WithLogger makes the driver log through l instead of opening the log file
// named in the config. The caller keeps ownership of l.
func WithLogger(l *utils.Logger) Option {
	return func(d *Driver) {
		d.log = l
		d.console = l
		d.ownsLogger = false
	}
}

// WithTimingWriter sends session records to w instead of the configured
// timing file. The caller keeps ownership of w.
func WithTimingWriter(w *views.CSVWriter) Option {
	return func(d *Driver) {
		d.timing = w
		d.ownsTiming = false
	}
}

// WithMetrics registers stream metrics on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(d *Driver) {
		d.registerer = reg
	}
}

// NewDriver builds a disconnected driver.
func NewDriver(cfg utils.Config, opts ...Option) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("driver config: %w", err)
	}

	d := &Driver{
		cfg:        cfg,
		emgQueue:   ingest.NewSampleQueue[models.EMGSample](),
		accQueue:   ingest.NewSampleQueue[models.AccelerometerSample](),
		ownsLogger: true,
		ownsTiming: true,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.log == nil {
		level, _ := utils.ParseLogLevel(cfg.Logging.Level)
		console, err := utils.NewLogger(level, "", os.Stderr)
		if err != nil {
			return nil, err
		}
		d.log = console
		d.console = console
	}

	metrics, err := ingest.NewMetrics(d.registerer)
	if err != nil {
		return nil, err
	}
	d.metrics = metrics
	return d, nil
}

// ─── Lifecycle ──────────────────────────────────────────────────────────

// Connect opens the command connection to host and reads the banner. An
// empty host means the configured one. Only valid while disconnected.
func (d *Driver) Connect(host string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if st := d.session.State(); st != StateDisconnected {
		d.log.Warn("Connect(): already %s", st)
		return utils.NewOpError("Connect", utils.ErrInvalidState, fmt.Errorf("state is %s", st))
	}

	d.openSinks()

	if host == "" {
		host = d.cfg.Device.Host
	}
	d.host = host
	d.emgQueue.Clear()
	d.accQueue.Clear()

	ch, err := control.Dial(d.cfg.Addr(host, d.cfg.Device.CommandPort), d.cfg.DialTimeout(), d.cfg.CommandTimeout())
	if err != nil {
		d.log.Error("Connect(): Could not connect-> %v", err)
		d.releaseSinks()
		return err
	}
	d.command = ch
	d.log.Info("Initial Server Response: %s", ch.Banner())

	d.session.set(StateConnected)
	return nil
}

// BeginSampling opens both data connections, starts the readers and sends
// START. Valid from connected, or from done to start a new session.
func (d *Driver) BeginSampling() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch st := d.session.State(); st {
	case StateConnected, StateDone:
	case StateStreaming:
		d.log.Warn("BeginSampling(): already streaming.")
		return utils.NewOpError("BeginSampling", utils.ErrInvalidState, fmt.Errorf("state is %s", st))
	default:
		d.log.Warn("BeginSampling(): Not connected, cannot get samples.")
		return utils.NewOpError("BeginSampling", utils.ErrInvalidState, fmt.Errorf("state is %s", st))
	}

	// Leftovers of an earlier session.
	d.recordSession(models.OutcomeIdle, false)
	d.closeDataConns()
	d.readers.Wait()

	emgConn, err := d.dialData(d.cfg.Device.EMGPort)
	if err != nil {
		d.log.Error("BeginSampling(): could not open EMG stream: %v", err)
		return err
	}
	accConn, err := d.dialData(d.cfg.Device.AccPort)
	if err != nil {
		emgConn.Close()
		d.log.Error("BeginSampling(): could not open accelerometer stream: %v", err)
		return err
	}
	d.emgConn, d.accConn = emgConn, accConn

	rcfg := ingest.ReaderConfig{
		ReadTimeout:      d.cfg.ReadTimeout(),
		IdleTimeout:      d.cfg.IdleTimeout(),
		FirstDataTimeout: d.cfg.FirstDataTimeout(),
		Metrics:          d.metrics,
		Logger:           d.log,
	}
	d.emgReader = ingest.NewEMGReader(emgConn, d.emgQueue, rcfg)
	d.accReader = ingest.NewAccelerometerReader(accConn, d.accQueue, rcfg)

	d.session.begin(uuid.NewString())
	d.readers.Add(2)
	go func(r *ingest.AccelerometerReader) {
		defer d.readers.Done()
		r.Run(&d.session)
	}(d.accReader)
	go func(r *ingest.EMGReader) {
		defer d.readers.Done()
		r.Run(&d.session)
	}(d.emgReader)

	if _, err := d.send("BeginSampling", control.CommandStart); err != nil {
		d.session.stop()
		d.session.close()
		d.closeDataConns()
		d.readers.Wait()
		return err
	}

	if !d.awaitFirstData() {
		d.log.Warn("BeginSampling(): no data within %v", d.cfg.FirstDataTimeout())
	}
	d.session.startTimer(time.Now())
	d.log.Info("BeginSampling(): session %s streaming", d.session.ID())
	return nil
}

// StopSampling sends STOP and ends streaming. The readers notice at their
// next read timeout; they are not joined here. A reply that does not start
// with "OK" is logged and otherwise ignored.
func (d *Driver) StopSampling() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session.State() == StateDisconnected {
		d.log.Warn("StopSampling(): Not connected.")
		return utils.NewOpError("StopSampling", utils.ErrInvalidState, fmt.Errorf("state is %s", StateDisconnected))
	}

	elapsed := d.session.stopTimer()
	d.log.Info("Total Collection Time: %d", elapsed.Milliseconds())

	outcome := models.OutcomeStopped
	if d.session.State() == StateDone {
		outcome = models.OutcomeIdle
	}
	d.session.stop()

	response, err := d.send("StopSampling", control.CommandStop)
	if err != nil {
		d.recordSession(outcome, false)
		return err
	}
	ok := strings.HasPrefix(response, "OK")
	if !ok {
		d.log.Warn("StopSampling(): Server failed to stop. Further actions may fail.")
	}
	d.recordSession(outcome, ok)
	return nil
}

// Disconnect sends QUIT and closes every connection. Refused while
// streaming.
func (d *Driver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch st := d.session.State(); st {
	case StateStreaming:
		d.log.Warn("Disconnect(): Can't quit while acquiring data!")
		return utils.NewOpError("Disconnect", utils.ErrInvalidState, fmt.Errorf("state is %s", st))
	case StateDisconnected:
		return nil
	}

	d.recordSession(models.OutcomeIdle, false)
	_, sendErr := d.send("Disconnect", control.CommandQuit)
	d.session.set(StateDisconnected)

	if err := d.command.Close(); err != nil {
		d.log.Warn("Disconnect(): closing command connection: %v", err)
	}
	d.command = nil
	d.closeDataConns()
	d.readers.Wait()

	d.releaseSinks()
	return sendErr
}

// ─── Trigger commands ───────────────────────────────────────────────────

// QueryTriggers returns the device's trigger configuration.
func (d *Driver) QueryTriggers() (string, error) {
	return d.sendCommand(control.CommandGetTriggers)
}

// SetStartTrigger arms the device's start trigger.
func (d *Driver) SetStartTrigger() (string, error) {
	return d.sendCommand(control.CommandSetStartTrigger)
}

// SetStopTrigger arms the device's stop trigger.
func (d *Driver) SetStopTrigger() (string, error) {
	return d.sendCommand(control.CommandSetStopTrigger)
}

func (d *Driver) sendCommand(cmd string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session.State() == StateDisconnected {
		d.log.Warn("SendCommand(): Not connected.")
		return "", utils.NewOpError(cmd, utils.ErrInvalidState, fmt.Errorf("state is %s", StateDisconnected))
	}
	return d.send("SendCommand", cmd)
}

// ─── Queries ────────────────────────────────────────────────────────────

func (d *Driver) IsConnected() bool { return d.session.State() != StateDisconnected }
func (d *Driver) IsStreaming() bool { return d.session.Streaming() }
func (d *Driver) IsDone() bool      { return d.session.State() == StateDone }

// IsDegraded reports whether a reader lost its socket during the current
// or last session.
func (d *Driver) IsDegraded() bool { return d.session.Degraded() }

// LastError returns the socket error that degraded the current or last
// session, or nil.
func (d *Driver) LastError() error { return d.session.LastError() }

// Status returns the current state.
func (d *Driver) Status() State { return d.session.State() }

// SessionID returns the id of the current or last streaming session.
func (d *Driver) SessionID() string { return d.session.ID() }

func (d *Driver) NumberOfEMGSamples() int           { return d.emgQueue.Len() }
func (d *Driver) NumberOfAccelerometerSamples() int { return d.accQueue.Len() }

// SamplingTimeEstimateMs estimates buffered acquisition time from the EMG
// queue depth. It is a heuristic, not a measured duration.
func (d *Driver) SamplingTimeEstimateMs() int {
	return d.emgQueue.Len() / 2
}

// Stats reports per-stream counters for the current or last session.
type Stats struct {
	EMGFrames     uint64
	EMGReadErrors uint64
	AccFrames     uint64
	AccReadErrors uint64
}

func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statsLocked()
}

func (d *Driver) statsLocked() Stats {
	var s Stats
	if d.emgReader != nil {
		s.EMGFrames, s.EMGReadErrors = d.emgReader.Stats()
	}
	if d.accReader != nil {
		s.AccFrames, s.AccReadErrors = d.accReader.Stats()
	}
	return s
}

// ─── Drain ──────────────────────────────────────────────────────────────

// GetEMGSample pops the oldest EMG sample, or a zero sample when none is
// queued. It never blocks.
func (d *Driver) GetEMGSample() models.EMGSample {
	s := d.emgQueue.Dequeue()
	d.metrics.SetQueueDepth(ingest.StreamEMG, d.emgQueue.Len())
	return s
}

// GetAccelerometerSample pops the oldest accelerometer sample, or a zero
// sample when none is queued. It never blocks.
func (d *Driver) GetAccelerometerSample() models.AccelerometerSample {
	s := d.accQueue.Dequeue()
	d.metrics.SetQueueDepth(ingest.StreamAccelerometer, d.accQueue.Len())
	return s
}

// ─── internals (callers hold d.mu) ─────────────────────────────────────

// send runs one command exchange and logs both sides.
func (d *Driver) send(op, cmd string) (string, error) {
	response, err := d.command.Send(cmd)
	if err != nil {
		d.log.Error("%s(): %s failed: %v", op, cmd, err)
		return "", err
	}
	d.log.Info("Command: %s", cmd)
	d.log.Info("Response: %s", response)
	return response, nil
}

func (d *Driver) dialData(port int) (net.Conn, error) {
	addr := d.cfg.Addr(d.host, port)

	var conn net.Conn
	op := func() error {
		c, err := net.DialTimeout("tcp", addr, d.cfg.DialTimeout())
		if err != nil {
			return err
		}
		conn = c
		return nil
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if maxElapsed := d.cfg.DataDialMaxElapsed(); maxElapsed > 0 {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 50 * time.Millisecond
		b.MaxInterval = 250 * time.Millisecond
		b.MaxElapsedTime = maxElapsed
		policy = b
	}

	if err := backoff.Retry(op, policy); err != nil {
		return nil, utils.NewOpError("BeginSampling", utils.ErrConnection, fmt.Errorf("dial %s: %w", addr, err))
	}
	return conn, nil
}

// awaitFirstData waits, bounded, for either stream to deliver a byte.
func (d *Driver) awaitFirstData() bool {
	timer := time.NewTimer(d.cfg.FirstDataTimeout())
	defer timer.Stop()

	select {
	case <-d.emgReader.FirstData():
		return true
	case <-d.accReader.FirstData():
		return true
	case <-timer.C:
		return false
	}
}

// closeDataConns closes the EMG then the accelerometer connection, which
// also unblocks any reader still waiting on a read.
func (d *Driver) closeDataConns() {
	if d.emgConn != nil {
		_ = d.emgConn.Close()
		d.emgConn = nil
	}
	if d.accConn != nil {
		_ = d.accConn.Close()
		d.accConn = nil
	}
}

// recordSession appends the open session, if any, to the timing log.
func (d *Driver) recordSession(outcome string, stopReplyOK bool) {
	id, started, elapsed, ok := d.session.close()
	if !ok || d.timing == nil {
		return
	}
	stats := d.statsLocked()
	rec := &models.SessionRecord{
		SessionID:   id,
		DurationMs:  elapsed.Milliseconds(),
		EMGFrames:   stats.EMGFrames,
		AccFrames:   stats.AccFrames,
		Outcome:     outcome,
		StopReplyOK: stopReplyOK,
	}
	if !started.IsZero() {
		rec.StartedNs = started.UnixNano()
	}
	d.timing.WriteRecord(rec)
	if err := d.timing.Flush(); err != nil {
		d.log.Warn("timing log: %v", err)
	}
}

// openSinks opens the log and timing files the driver owns. Failing to open
// either falls back to what is already there.
func (d *Driver) openSinks() {
	if d.ownsLogger && d.cfg.Logging.LogFile != "" {
		level, _ := utils.ParseLogLevel(d.cfg.Logging.Level)
		if l, err := utils.NewLogger(level, d.cfg.Logging.LogFile, os.Stderr); err != nil {
			d.console.Warn("Connect(): %v", err)
		} else {
			d.log = l
		}
	}
	if d.ownsTiming && d.timing == nil && d.cfg.Logging.TimingFile != "" {
		w, err := views.NewCSVWriter(d.cfg.Logging.TimingFile, 0, true, views.SchemaColumns(views.RecordSession))
		if err != nil {
			d.log.Warn("Connect(): %v", err)
		} else {
			d.timing = w
		}
	}
}

// releaseSinks closes the files openSinks opened.
func (d *Driver) releaseSinks() {
	if d.ownsTiming && d.timing != nil {
		if err := d.timing.Close(); err != nil {
			d.log.Warn("timing log: %v", err)
		}
		d.timing = nil
	}
	if d.ownsLogger && d.log != d.console {
		_ = d.log.Close()
		d.log = d.console
	}
}
