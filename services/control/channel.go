package control

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"trigno-driver/utils"
)

// Device commands.
const (
	CommandQuit            = "QUIT"
	CommandGetTriggers     = "TRIGGER?"
	CommandSetStartTrigger = "TRIGGER START"
	CommandSetStopTrigger  = "TRIGGER STOP"
	CommandStart           = "START"
	CommandStop            = "STOP"
)

// lineEnd terminates every line sent to the device.
const lineEnd = "\r\n"

// Channel is the line-based command connection. Every request is a line
// plus an empty terminator line; every response is one line plus an empty
// terminator line.
type Channel struct {
	mu        sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader
	writer    *bufio.Writer
	ioTimeout time.Duration
	banner    string
}

// Dial connects to the command port and consumes the two-line banner.
// A zero ioTimeout leaves exchanges unbounded.
func Dial(addr string, dialTimeout, ioTimeout time.Duration) (*Channel, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, utils.NewOpError("control.Dial", utils.ErrConnection, err)
	}

	c := &Channel{
		conn:      conn,
		reader:    bufio.NewReader(conn),
		writer:    bufio.NewWriter(conn),
		ioTimeout: ioTimeout,
	}

	c.setDeadline()
	banner, err := c.readLine()
	if err == nil {
		_, err = c.readLine()
	}
	if err != nil {
		_ = conn.Close()
		return nil, utils.NewOpError("control.Dial", utils.ErrConnection,
			fmt.Errorf("read banner: %w", err))
	}
	c.banner = banner
	return c, nil
}

// Banner returns the informational line the device sent on connect.
func (c *Channel) Banner() string {
	return c.banner
}

// Send writes command, flushes, and returns the device's one-line reply.
func (c *Channel) Send(command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return "", utils.NewOpError("control.Send", utils.ErrProtocol, net.ErrClosed)
	}

	c.setDeadline()
	if _, err := c.writer.WriteString(command + lineEnd + lineEnd); err != nil {
		return "", utils.NewOpError("control.Send", utils.ErrProtocol,
			fmt.Errorf("write %q: %w", command, err))
	}
	if err := c.writer.Flush(); err != nil {
		return "", utils.NewOpError("control.Send", utils.ErrProtocol,
			fmt.Errorf("flush %q: %w", command, err))
	}

	response, err := c.readLine()
	if err != nil {
		return "", utils.NewOpError("control.Send", utils.ErrProtocol,
			fmt.Errorf("read reply to %q: %w", command, err))
	}
	if _, err := c.readLine(); err != nil {
		return response, utils.NewOpError("control.Send", utils.ErrProtocol,
			fmt.Errorf("read terminator after %q: %w", command, err))
	}
	return response, nil
}

// Close flushes the writer and closes the socket. Safe to call twice.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	_ = c.writer.Flush()
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Channel) setDeadline() {
	if c.ioTimeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.ioTimeout))
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}
}

// readLine returns the next line without its line ending.
func (c *Channel) readLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
