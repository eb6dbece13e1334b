package logger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// MaxLogLines is the number of lines kept in the log file; older lines are dropped on rotation
const MaxLogLines = 5000

// LogLevel represents the logging level
type LogLevel int

const (
	LogLevelTrace LogLevel = iota
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// String returns the string representation of a log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelTrace:
		return "TRACE"
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel parses a string into a LogLevel, defaulting to INFO
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LogLevelTrace
	case "DEBUG":
		return LogLevelDebug
	case "WARN", "WARNING":
		return LogLevelWarn
	case "ERROR":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// LimitedLogger is a leveled logger that keeps its file under MaxLogLines lines
type LimitedLogger struct {
	file      *os.File
	out       io.Writer // file, or stderr before Open
	lineCount int
	level     LogLevel
	mutex     sync.Mutex
}

var (
	globalMu     sync.RWMutex
	globalLogger = &LimitedLogger{out: os.Stderr, level: LogLevelInfo}
)

// noopFunc is returned by Trace when tracing is off, to avoid allocating a closure
var noopFunc = func() {}

// Open opens (or creates) the log file at path, installs it as the global
// logger and returns it. Caller must Close it.
func Open(path string, level LogLevel) (*LimitedLogger, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	ll := New(f, level)
	ll.countExistingLines()

	globalMu.Lock()
	globalLogger = ll
	globalMu.Unlock()
	return ll, nil
}

// New creates a logger writing to f without touching the global logger
func New(f *os.File, level LogLevel) *LimitedLogger {
	return &LimitedLogger{file: f, out: f, level: level}
}

func current() *LimitedLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// SetLevel sets the logging level
func (ll *LimitedLogger) SetLevel(level LogLevel) {
	ll.mutex.Lock()
	defer ll.mutex.Unlock()
	ll.level = level
}

// SetGlobalLevel sets the logging level on the global logger
func SetGlobalLevel(level LogLevel) {
	current().SetLevel(level)
}

func (ll *LimitedLogger) enabled(level LogLevel) bool {
	ll.mutex.Lock()
	defer ll.mutex.Unlock()
	return level >= ll.level
}

func (ll *LimitedLogger) logf(level LogLevel, format string, v ...any) {
	if !ll.enabled(level) {
		return
	}
	msg := fmt.Sprintf("%s [%s] %s\n", time.Now().Format("2006/01/02 15:04:05"), level, fmt.Sprintf(format, v...))
	ll.Write([]byte(msg))
}

func (ll *LimitedLogger) Debug(format string, v ...any) { ll.logf(LogLevelDebug, format, v...) }
func (ll *LimitedLogger) Info(format string, v ...any)  { ll.logf(LogLevelInfo, format, v...) }
func (ll *LimitedLogger) Warn(format string, v ...any)  { ll.logf(LogLevelWarn, format, v...) }
func (ll *LimitedLogger) Error(format string, v ...any) { ll.logf(LogLevelError, format, v...) }

// Trace returns a function that logs the time since Trace was called.
// Usage: defer logger.Trace("engine.Propose")()
func Trace(name string) func() {
	ll := current()
	if !ll.enabled(LogLevelTrace) {
		return noopFunc
	}
	start := time.Now()
	return func() {
		ll.logf(LogLevelTrace, "%s: %v", name, time.Since(start))
	}
}

func Debug(format string, v ...any) { current().Debug(format, v...) }
func Info(format string, v ...any)  { current().Info(format, v...) }
func Warn(format string, v ...any)  { current().Warn(format, v...) }
func Error(format string, v ...any) { current().Error(format, v...) }

// Fatal logs at ERROR and exits with code 1
func Fatal(format string, v ...any) {
	current().Error(format, v...)
	os.Exit(1)
}

func (ll *LimitedLogger) countExistingLines() {
	ll.mutex.Lock()
	defer ll.mutex.Unlock()

	ll.file.Seek(0, io.SeekStart)
	scanner := bufio.NewScanner(ll.file)
	count := 0
	for scanner.Scan() {
		count++
	}
	ll.lineCount = count
	ll.file.Seek(0, io.SeekEnd)
}

// Write implements io.Writer so the standard log package can be redirected here
func (ll *LimitedLogger) Write(p []byte) (n int, err error) {
	ll.mutex.Lock()
	defer ll.mutex.Unlock()

	n, err = ll.out.Write(p)
	if err != nil || ll.file == nil {
		return n, err
	}

	ll.lineCount += strings.Count(string(p), "\n")
	if ll.lineCount > MaxLogLines {
		ll.rotate()
	}
	return n, nil
}

// rotate keeps the newest MaxLogLines/2 lines so rotation does not run on every write.
// Caller holds the mutex.
func (ll *LimitedLogger) rotate() {
	if _, err := ll.file.Seek(0, io.SeekStart); err != nil {
		return
	}

	var lines []string
	scanner := bufio.NewScanner(ll.file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	keep := MaxLogLines / 2
	if len(lines) > keep {
		lines = lines[len(lines)-keep:]
	}

	ll.file.Truncate(0)
	ll.file.Seek(0, io.SeekStart)
	w := bufio.NewWriter(ll.file)
	for _, line := range lines {
		w.WriteString(line)
		w.WriteByte('\n')
	}
	w.Flush()

	ll.lineCount = len(lines)
}

// Close closes the underlying file
func (ll *LimitedLogger) Close() error {
	if ll.file == nil {
		return nil
	}
	return ll.file.Close()
}
