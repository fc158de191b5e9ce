package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/logutils"
)

// LogLevel enumerates severity tiers.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l LogLevel) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "UNKNOWN"
}

// ParseLogLevel maps a config string ("info", "WARN", ...) to a LogLevel.
func ParseLogLevel(s string) (LogLevel, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	if up == "" {
		return INFO, nil
	}
	for i, n := range levelNames {
		if n == up {
			return LogLevel(i), nil
		}
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

func filterLevels() []logutils.LogLevel {
	out := make([]logutils.LogLevel, len(levelNames))
	for i, n := range levelNames {
		out[i] = logutils.LogLevel(n)
	}
	return out
}

// Logger is a concurrency-safe, levelled line logger. Every line goes to the
// console sink and, when a path was given, to a log file. Lines below the
// minimum level are dropped by the level filter in front of both sinks.
type Logger struct {
	mu     sync.Mutex
	filter *logutils.LevelFilter
	inner  *log.Logger
	file   *os.File
}

var (
	globalLogger *Logger
	logOnce      sync.Once
)

// NewLogger opens logFilePath (truncating it) and returns a logger writing to
// both the file and console. An empty path logs to the console only; a nil
// console logs to the file only.
func NewLogger(minLevel LogLevel, logFilePath string, console io.Writer) (*Logger, error) {
	var writers []io.Writer
	if console != nil {
		writers = append(writers, console)
	}

	var f *os.File
	if logFilePath != "" {
		var err error
		f, err = os.Create(logFilePath)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", logFilePath, err)
		}
		writers = append(writers, f)
	}

	filter := &logutils.LevelFilter{
		Levels:   filterLevels(),
		MinLevel: logutils.LogLevel(minLevel.String()),
		Writer:   io.MultiWriter(writers...),
	}

	return &Logger{
		filter: filter,
		inner:  log.New(filter, "", 0),
		file:   f,
	}, nil
}

// InitLogger creates the process-wide logger. Call once at startup. Console
// lines go to stderr so stdout stays free for sample output.
func InitLogger(minLevel LogLevel, logFilePath string) *Logger {
	logOnce.Do(func() {
		l, err := NewLogger(minLevel, logFilePath, os.Stderr)
		if err != nil {
			log.Printf("[WARN] could not open log file %s: %v\n", logFilePath, err)
			l, _ = NewLogger(minLevel, "", os.Stderr)
		}
		globalLogger = l
	})
	return globalLogger
}

// L returns the process-wide logger, falling back to a stderr-only logger at
// DEBUG if InitLogger has not been called.
func L() *Logger {
	if globalLogger == nil {
		return InitLogger(DEBUG, "")
	}
	return globalLogger
}

// Close flushes and closes the log file, if any. Safe to call twice.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// SetMinLevel changes the level below which lines are dropped.
func (l *Logger) SetMinLevel(lvl LogLevel) {
	l.mu.Lock()
	l.filter.SetMinLevel(logutils.LogLevel(lvl.String()))
	l.mu.Unlock()
}

func (l *Logger) log(lvl LogLevel, format string, args ...any) {
	ts := time.Now().Format(StampLayout)
	msg := fmt.Sprintf(format, args...)
	l.mu.Lock()
	l.inner.Printf("[%s] %s  %s", lvl, ts, msg)
	l.mu.Unlock()
}

// Log writes one INFO line.
func (l *Logger) Log(message string) { l.log(INFO, "%s", message) }

func (l *Logger) Debug(f string, a ...any) { l.log(DEBUG, f, a...) }
func (l *Logger) Info(f string, a ...any)  { l.log(INFO, f, a...) }
func (l *Logger) Warn(f string, a ...any)  { l.log(WARN, f, a...) }
func (l *Logger) Error(f string, a ...any) { l.log(ERROR, f, a...) }

// Fatal logs and exits. Only the CLI uses it; the driver never does.
func (l *Logger) Fatal(f string, a ...any) {
	l.log(FATAL, f, a...)
	_ = l.Close()
	os.Exit(1)
}
