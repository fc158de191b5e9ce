// Package testutil provides an in-process stand-in for a Trigno base station.
package testutil

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"trigno-driver/services/ingest"
	"trigno-driver/utils"
)

// Banner is the first line the fake device sends on the command port.
const Banner = "Delsys Trigno System Digital Protocol Version 3.6.0"

// FakeDevice listens on three ephemeral ports laid out like the real device:
// a line-based command port and two binary data ports. Data connections are
// accepted at any time; frames are written only when a test asks for them or
// when the START command triggers the scripted burst.
type FakeDevice struct {
	cmdLn net.Listener
	emgLn net.Listener
	accLn net.Listener

	mu       sync.Mutex
	replies  map[string]string
	commands []string
	onStart  func(d *FakeDevice)
	conns    []net.Conn
	emgConn  net.Conn
	accConn  net.Conn
	emgReady chan struct{}
	accReady chan struct{}

	started   chan struct{}
	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewFakeDevice starts listening on 127.0.0.1.
func NewFakeDevice() (*FakeDevice, error) {
	d := &FakeDevice{
		replies:  map[string]string{},
		emgReady: make(chan struct{}),
		accReady: make(chan struct{}),
		started:  make(chan struct{}),
	}

	var err error
	if d.cmdLn, err = net.Listen("tcp", "127.0.0.1:0"); err != nil {
		return nil, err
	}
	if d.emgLn, err = net.Listen("tcp", "127.0.0.1:0"); err != nil {
		d.cmdLn.Close()
		return nil, err
	}
	if d.accLn, err = net.Listen("tcp", "127.0.0.1:0"); err != nil {
		d.cmdLn.Close()
		d.emgLn.Close()
		return nil, err
	}

	d.wg.Add(3)
	go d.serveCommands()
	go d.acceptData(d.emgLn, &d.emgConn, d.emgReady)
	go d.acceptData(d.accLn, &d.accConn, d.accReady)
	return d, nil
}

// Config returns a driver config aimed at the fake device with short
// timeouts and no log or timing files.
func (d *FakeDevice) Config() utils.Config {
	cfg := utils.DefaultConfig()
	cfg.Device.Host = "127.0.0.1"
	cfg.Device.CommandPort = port(d.cmdLn)
	cfg.Device.EMGPort = port(d.emgLn)
	cfg.Device.AccPort = port(d.accLn)
	cfg.Device.DialTimeoutMs = 1000
	cfg.Device.CommandTimeoutMs = 1000
	cfg.Acquisition.FirstDataTimeoutMs = 300
	cfg.Logging.LogFile = ""
	cfg.Logging.TimingFile = ""
	return cfg
}

// SetReply scripts the response to command. Unscripted commands get "OK",
// QUIT gets "BYE".
func (d *FakeDevice) SetReply(command, response string) {
	d.mu.Lock()
	d.replies[command] = response
	d.mu.Unlock()
}

// OnStart runs fn in its own goroutine after START has been answered.
func (d *FakeDevice) OnStart(fn func(d *FakeDevice)) {
	d.mu.Lock()
	d.onStart = fn
	d.mu.Unlock()
}

// Started is closed once the first START command arrives.
func (d *FakeDevice) Started() <-chan struct{} {
	return d.started
}

// Commands returns every command received so far, in order.
func (d *FakeDevice) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

// WriteEMG sends one 16-value frame per argument on the EMG port.
func (d *FakeDevice) WriteEMG(frames ...[]float32) error {
	return d.write(d.emgReady, func() net.Conn { return d.emgConn }, frames)
}

// WriteAccelerometer sends one 48-value frame per argument on the
// accelerometer port.
func (d *FakeDevice) WriteAccelerometer(frames ...[]float32) error {
	return d.write(d.accReady, func() net.Conn { return d.accConn }, frames)
}

// WriteEMGRaw sends raw bytes on the EMG port, for split-frame tests.
func (d *FakeDevice) WriteEMGRaw(p []byte) error {
	conn, err := d.await(d.emgReady, func() net.Conn { return d.emgConn })
	if err != nil {
		return err
	}
	_, err = conn.Write(p)
	return err
}

// DropData closes both data connections from the device side.
func (d *FakeDevice) DropData() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range []net.Conn{d.emgConn, d.accConn} {
		if c != nil {
			_ = c.Close()
		}
	}
}

// Close stops every listener and connection.
func (d *FakeDevice) Close() {
	d.cmdLn.Close()
	d.emgLn.Close()
	d.accLn.Close()
	d.mu.Lock()
	for _, c := range d.conns {
		_ = c.Close()
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// ─── internals ──────────────────────────────────────────────────────────

func port(ln net.Listener) int {
	return ln.Addr().(*net.TCPAddr).Port
}

func (d *FakeDevice) track(c net.Conn) {
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
}

func (d *FakeDevice) serveCommands() {
	defer d.wg.Done()
	for {
		conn, err := d.cmdLn.Accept()
		if err != nil {
			return
		}
		d.track(conn)
		d.wg.Add(1)
		go d.handleCommands(conn)
	}
}

func (d *FakeDevice) handleCommands(conn net.Conn) {
	defer d.wg.Done()
	defer conn.Close()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	w.WriteString(Banner + "\r\n\r\n")
	if w.Flush() != nil {
		return
	}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		if cmd == "" {
			continue
		}

		d.mu.Lock()
		d.commands = append(d.commands, cmd)
		reply, ok := d.replies[cmd]
		onStart := d.onStart
		d.mu.Unlock()
		if !ok {
			reply = "OK"
			if cmd == "QUIT" {
				reply = "BYE"
			}
		}

		w.WriteString(reply + "\r\n\r\n")
		if w.Flush() != nil {
			return
		}

		if cmd == "START" {
			d.startOnce.Do(func() { close(d.started) })
			if onStart != nil {
				go onStart(d)
			}
		}
		if cmd == "QUIT" {
			return
		}
	}
}

func (d *FakeDevice) acceptData(ln net.Listener, slot *net.Conn, ready chan struct{}) {
	defer d.wg.Done()
	once := sync.Once{}
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		d.track(conn)
		d.mu.Lock()
		*slot = conn
		d.mu.Unlock()
		once.Do(func() { close(ready) })
	}
}

func (d *FakeDevice) await(ready chan struct{}, get func() net.Conn) (net.Conn, error) {
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		return nil, errors.New("fake device: data port never connected")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return get(), nil
}

func (d *FakeDevice) write(ready chan struct{}, get func() net.Conn, frames [][]float32) error {
	conn, err := d.await(ready, get)
	if err != nil {
		return err
	}
	var buf []byte
	for _, f := range frames {
		buf = ingest.AppendFloats(buf, f...)
	}
	_, err = conn.Write(buf)
	return err
}

// EMGFrame returns a 16-value frame whose channel i holds base+i.
func EMGFrame(base float32) []float32 {
	f := make([]float32, ingest.EMGFrameValues)
	for i := range f {
		f[i] = base + float32(i)
	}
	return f
}

// AccFrame returns a 48-value interleaved frame: sensor i has
// x=base+i, y=base+100+i, z=base+200+i.
func AccFrame(base float32) []float32 {
	f := make([]float32, ingest.AccFrameValues)
	for i := 0; i < ingest.AccFrameValues/3; i++ {
		f[3*i] = base + float32(i)
		f[3*i+1] = base + 100 + float32(i)
		f[3*i+2] = base + 200 + float32(i)
	}
	return f
}
