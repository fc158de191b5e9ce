package controller

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trigno-driver/services/control"
	"trigno-driver/testutil"
	"trigno-driver/utils"
	"trigno-driver/views"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	dev    *testutil.FakeDevice
	driver *Driver
	logs   *syncBuffer
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	dev, err := testutil.NewFakeDevice()
	require.NoError(t, err)
	t.Cleanup(dev.Close)

	logs := &syncBuffer{}
	logger, err := utils.NewLogger(utils.DEBUG, "", logs)
	require.NoError(t, err)

	d, err := NewDriver(dev.Config(), append([]Option{WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	return &harness{dev: dev, driver: d, logs: logs}
}

func emitEMG(n int) func(*testutil.FakeDevice) {
	return func(dev *testutil.FakeDevice) {
		frames := make([][]float32, n)
		for i := range frames {
			frames[i] = testutil.EMGFrame(float32(i * 100))
		}
		_ = dev.WriteEMG(frames...)
	}
}

func TestConnect_ReportsConnected(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.driver.Connect(""))

	assert.True(t, h.driver.IsConnected())
	assert.False(t, h.driver.IsStreaming())
	assert.False(t, h.driver.IsDone())
	assert.Equal(t, StateConnected, h.driver.Status())
	assert.Contains(t, h.logs.String(), "Initial Server Response: "+testutil.Banner)
}

func TestConnect_TwiceIsRefused(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.driver.Connect(""))

	err := h.driver.Connect("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrInvalidState))
	assert.True(t, h.driver.IsConnected())
}

func TestConnect_UnreachableStaysDisconnected(t *testing.T) {
	h := newHarness(t)
	h.dev.Close()

	err := h.driver.Connect("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrConnection))
	assert.False(t, h.driver.IsConnected())
	assert.Contains(t, h.logs.String(), "Connect(): Could not connect->")
}

func TestBeginSampling_NotConnectedIsRefused(t *testing.T) {
	h := newHarness(t)

	err := h.driver.BeginSampling()
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrInvalidState))
	assert.False(t, h.driver.IsStreaming())
	assert.Contains(t, h.logs.String(), "BeginSampling(): Not connected, cannot get samples.")
	assert.Empty(t, h.dev.Commands())
}

func TestBeginSampling_StreamsUntilIdle(t *testing.T) {
	h := newHarness(t)
	h.dev.OnStart(emitEMG(32))

	require.NoError(t, h.driver.Connect(""))
	require.NoError(t, h.driver.BeginSampling())
	assert.NotEmpty(t, h.driver.SessionID())

	// 32 frames, then the device falls silent for longer than the idle timeout.
	require.Eventually(t, h.driver.IsDone, 3*time.Second, 10*time.Millisecond)
	assert.False(t, h.driver.IsStreaming())
	assert.True(t, h.driver.IsConnected())
	assert.Equal(t, 32, h.driver.NumberOfEMGSamples())
	assert.Equal(t, 16, h.driver.SamplingTimeEstimateMs())

	first := h.driver.GetEMGSample()
	assert.Equal(t, testutil.EMGFrame(0), first.Data[:])
	assert.Equal(t, 31, h.driver.NumberOfEMGSamples())

	stats := h.driver.Stats()
	assert.Equal(t, uint64(32), stats.EMGFrames)
	assert.Contains(t, h.dev.Commands(), control.CommandStart)
}

func TestGetSamples_EmptyQueuesReturnZero(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.driver.Connect(""))

	assert.Equal(t, 0, h.driver.NumberOfEMGSamples())
	assert.True(t, h.driver.GetEMGSample().IsZero())
	assert.True(t, h.driver.GetAccelerometerSample().IsZero())
	assert.Equal(t, 0, h.driver.NumberOfEMGSamples())
	assert.Equal(t, 0, h.driver.SamplingTimeEstimateMs())
}

func TestAccelerometerSamples_AreDemuxed(t *testing.T) {
	h := newHarness(t)
	h.dev.OnStart(func(dev *testutil.FakeDevice) {
		_ = dev.WriteAccelerometer(testutil.AccFrame(1))
	})

	require.NoError(t, h.driver.Connect(""))
	require.NoError(t, h.driver.BeginSampling())
	require.Eventually(t, func() bool {
		return h.driver.NumberOfAccelerometerSamples() == 1
	}, 2*time.Second, 10*time.Millisecond)

	s := h.driver.GetAccelerometerSample()
	assert.Equal(t, float32(1), s.X[0])
	assert.Equal(t, float32(101), s.Y[0])
	assert.Equal(t, float32(201), s.Z[0])
	assert.Equal(t, float32(16), s.X[15])

	require.NoError(t, h.driver.StopSampling())
}

func TestStopSampling_ErrorReplyIsLoggedNotFatal(t *testing.T) {
	h := newHarness(t)
	h.dev.SetReply(control.CommandStop, "ERROR")

	require.NoError(t, h.driver.Connect(""))
	require.NoError(t, h.driver.BeginSampling())
	require.NoError(t, h.driver.StopSampling())

	assert.False(t, h.driver.IsStreaming())
	assert.True(t, h.driver.IsConnected())
	logs := h.logs.String()
	assert.Contains(t, logs, "StopSampling(): Server failed to stop. Further actions may fail.")
	assert.Contains(t, logs, "Total Collection Time:")
	assert.Contains(t, logs, "Command: STOP")
}

func TestStopSampling_KeepsDone(t *testing.T) {
	h := newHarness(t)
	h.dev.OnStart(emitEMG(1))

	require.NoError(t, h.driver.Connect(""))
	require.NoError(t, h.driver.BeginSampling())
	require.Eventually(t, h.driver.IsDone, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, h.driver.StopSampling())
	assert.True(t, h.driver.IsDone())
	assert.False(t, h.driver.IsStreaming())
}

func TestDisconnect_WhileStreamingIsRefused(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.driver.Connect(""))
	require.NoError(t, h.driver.BeginSampling())
	require.True(t, h.driver.IsStreaming())

	err := h.driver.Disconnect()
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrInvalidState))
	assert.True(t, h.driver.IsConnected())
	assert.True(t, h.driver.IsStreaming())
	assert.Contains(t, h.logs.String(), "Disconnect(): Can't quit while acquiring data!")
	assert.NotContains(t, h.dev.Commands(), control.CommandQuit)

	require.NoError(t, h.driver.StopSampling())
	require.NoError(t, h.driver.Disconnect())
	assert.False(t, h.driver.IsConnected())
}

func TestFullLifecycle_SendsCommandsInOrder(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.driver.Connect(""))
	require.NoError(t, h.driver.BeginSampling())
	require.NoError(t, h.driver.StopSampling())
	require.NoError(t, h.driver.Disconnect())

	assert.Equal(t, []string{control.CommandStart, control.CommandStop, control.CommandQuit}, h.dev.Commands())
	assert.Equal(t, StateDisconnected, h.driver.Status())
	assert.False(t, h.driver.IsDegraded())
	assert.NoError(t, h.driver.LastError())

	// Disconnecting twice is a no-op.
	require.NoError(t, h.driver.Disconnect())
}

func TestBeginSampling_AgainAfterDone(t *testing.T) {
	h := newHarness(t)
	h.dev.OnStart(emitEMG(2))

	require.NoError(t, h.driver.Connect(""))
	require.NoError(t, h.driver.BeginSampling())
	first := h.driver.SessionID()
	require.Eventually(t, h.driver.IsDone, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, h.driver.BeginSampling())
	assert.True(t, h.driver.IsStreaming())
	assert.NotEqual(t, first, h.driver.SessionID())
	require.NoError(t, h.driver.StopSampling())
}

func TestTriggers_SendCommands(t *testing.T) {
	h := newHarness(t)
	h.dev.SetReply(control.CommandGetTriggers, "START: OFF STOP: OFF")

	_, err := h.driver.QueryTriggers()
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrInvalidState))

	require.NoError(t, h.driver.Connect(""))
	reply, err := h.driver.QueryTriggers()
	require.NoError(t, err)
	assert.Equal(t, "START: OFF STOP: OFF", reply)

	_, err = h.driver.SetStartTrigger()
	require.NoError(t, err)
	_, err = h.driver.SetStopTrigger()
	require.NoError(t, err)

	assert.Equal(t, []string{
		control.CommandGetTriggers,
		control.CommandSetStartTrigger,
		control.CommandSetStopTrigger,
	}, h.dev.Commands())
}

func TestDataSocketLoss_MarksDegraded(t *testing.T) {
	h := newHarness(t)
	h.dev.OnStart(emitEMG(4))

	require.NoError(t, h.driver.Connect(""))
	require.NoError(t, h.driver.BeginSampling())
	require.Eventually(t, func() bool {
		return h.driver.NumberOfEMGSamples() == 4
	}, 2*time.Second, 10*time.Millisecond)

	h.dev.DropData()
	require.Eventually(t, h.driver.IsDegraded, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, h.driver.IsDone, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 4, h.driver.NumberOfEMGSamples())
	assert.Error(t, h.driver.LastError())
	assert.Contains(t, h.logs.String(), "socket lost")
}

func TestTimingWriter_RecordsSessions(t *testing.T) {
	out := &syncBuffer{}
	timing, err := views.NewCSVStream(out, 0, true, views.SchemaColumns(views.RecordSession))
	require.NoError(t, err)

	h := newHarness(t, WithTimingWriter(timing))
	h.dev.OnStart(emitEMG(3))

	require.NoError(t, h.driver.Connect(""))
	require.NoError(t, h.driver.BeginSampling())
	require.Eventually(t, func() bool {
		return h.driver.NumberOfEMGSamples() == 3
	}, 2*time.Second, 10*time.Millisecond)
	id := h.driver.SessionID()
	require.NoError(t, h.driver.StopSampling())
	require.NoError(t, h.driver.Disconnect())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "session_id,started_ns,duration_ms,emg_frames,acc_frames,outcome,stop_reply_ok", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], id+","))
	assert.True(t, strings.HasSuffix(lines[1], ",3,0,stopped,true"))
	assert.Equal(t, uint64(1), timing.Rows())
}

func TestWithMetrics_TracksDrain(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHarness(t, WithMetrics(reg))
	h.dev.OnStart(emitEMG(5))

	require.NoError(t, h.driver.Connect(""))
	require.NoError(t, h.driver.BeginSampling())
	require.Eventually(t, func() bool {
		return h.driver.NumberOfEMGSamples() == 5
	}, 2*time.Second, 10*time.Millisecond)

	h.driver.GetEMGSample()
	h.driver.GetEMGSample()

	n, err := promtest.GatherAndCount(reg, "trigno_stream_frames_decoded_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expected := `
# HELP trigno_stream_queue_depth Samples waiting to be drained by the caller
# TYPE trigno_stream_queue_depth gauge
trigno_stream_queue_depth{stream="emg"} 3
`
	assert.NoError(t, promtest.GatherAndCompare(reg, strings.NewReader(expected), "trigno_stream_queue_depth"))
	require.NoError(t, h.driver.StopSampling())
}

func TestDriver_OwnsLogAndTimingFiles(t *testing.T) {
	dev, err := testutil.NewFakeDevice()
	require.NoError(t, err)
	defer dev.Close()

	dir := t.TempDir()
	logPath := filepath.Join(dir, "log.txt")
	timingPath := filepath.Join(dir, "timer.csv")
	require.NoError(t, os.WriteFile(logPath, []byte("stale line\n"), 0o644))

	cfg := dev.Config()
	cfg.Logging.LogFile = logPath
	cfg.Logging.TimingFile = timingPath
	d, err := NewDriver(cfg)
	require.NoError(t, err)

	require.NoError(t, d.Connect(""))
	require.NoError(t, d.BeginSampling())
	require.NoError(t, d.StopSampling())
	require.NoError(t, d.Disconnect())

	logData, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(logData), "stale line")
	assert.Contains(t, string(logData), "Initial Server Response: "+testutil.Banner)
	assert.Contains(t, string(logData), "Command: QUIT")

	timingData, err := os.ReadFile(timingPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(timingData)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], ",stopped,true")
}

func TestDriver_DefaultConsoleIsStderr(t *testing.T) {
	dev, err := testutil.NewFakeDevice()
	require.NoError(t, err)
	defer dev.Close()

	outR, outW, err := os.Pipe()
	require.NoError(t, err)
	errR, errW, err := os.Pipe()
	require.NoError(t, err)
	oldOut, oldErr := os.Stdout, os.Stderr
	os.Stdout, os.Stderr = outW, errW

	d, err := NewDriver(dev.Config())
	if err == nil {
		err = d.Connect("")
		_ = d.Disconnect()
	}
	os.Stdout, os.Stderr = oldOut, oldErr
	require.NoError(t, err)
	require.NoError(t, outW.Close())
	require.NoError(t, errW.Close())

	stdout, err := io.ReadAll(outR)
	require.NoError(t, err)
	stderr, err := io.ReadAll(errR)
	require.NoError(t, err)
	assert.Empty(t, stdout)
	assert.Contains(t, string(stderr), "Initial Server Response: "+testutil.Banner)
}

func TestNewDriver_RejectsInvalidConfig(t *testing.T) {
	cfg := utils.DefaultConfig()
	cfg.Device.EMGPort = 0

	_, err := NewDriver(cfg)
	assert.Error(t, err)
}
