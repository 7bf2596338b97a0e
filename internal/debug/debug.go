// Package debug is the leveled logger shared by every module.
package debug

import (
	"io"
	"log"
	"os"
	"sync"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Session info (connect, exposure start/end, errors)
	LevelLive    = 2 // Live info (exposure progress, property updates)
	LevelVerbose = 3 // Verbose (widget reflection, decoder details)
	LevelTrace   = 4 // Trace (gphoto2 commands, GPIO lines)
)

var (
	mu     sync.RWMutex
	level  int
	out    io.Writer = os.Stdout
	logger *log.Logger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = session info (connection, exposures, failures)
// 2 = live info (exposure progress, property updates)
// 3 = verbose (widget reflection, decoding)
// 4 = trace (gphoto2 invocations, GPIO)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	if level > LevelOff {
		logger = log.New(out, "[gphotoccd] ", log.LstdFlags|log.Lmicroseconds)
	} else {
		logger = nil
	}
}

// SetOutput redirects debug output (e.g. to an io.MultiWriter feeding the web status stream).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	if logger != nil {
		logger.SetOutput(w)
	}
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

func printf(minLevel int, format string, args ...interface{}) {
	mu.RLock()
	l := logger
	enabled := level >= minLevel
	mu.RUnlock()
	if enabled && l != nil {
		l.Printf(format, args...)
	}
}

// --- Level 1 functions (Info) ---

// Info prints a level 1 message.
func Info(format string, args ...interface{}) {
	printf(LevelInfo, "[INFO] "+format, args...)
}

// Warn prints a level 1 warning.
func Warn(format string, args ...interface{}) {
	printf(LevelInfo, "[WARN] "+format, args...)
}

// Error prints a debug error (level 1+).
func Error(err error) {
	printf(LevelInfo, "[ERROR] %v", err)
}

// Value prints a named value (level 1).
func Value(name string, value interface{}) {
	printf(LevelInfo, "[INFO]   %s = %v", name, value)
}

// Section prints a section separator (level 1).
func Section(name string) {
	printf(LevelInfo, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	printf(LevelInfo, "  %s", name)
	printf(LevelInfo, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

// Step prints a numbered startup step (level 1).
func Step(num int, description string) {
	printf(LevelInfo, "[INFO] Step %d: %s", num, description)
}

// --- Level 2 functions (Live) ---

// Live prints a level 2 message.
func Live(format string, args ...interface{}) {
	printf(LevelLive, "[LIVE] "+format, args...)
}

// --- Level 3 functions (Verbose) ---

// Verbose prints a level 3 message.
func Verbose(format string, args ...interface{}) {
	printf(LevelVerbose, "[VERBOSE] "+format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	printf(LevelVerbose, "[VERBOSE] %s: %+v", name, v)
}

// --- Level 4 functions (Trace) ---

// Trace prints a level 4 message.
func Trace(format string, args ...interface{}) {
	printf(LevelTrace, "[TRACE] "+format, args...)
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	printf(LevelTrace, "[GPIO] %s pin=%d value=%v", operation, pin, value)
}

// Logger prefixes every message with a module name, e.g. "RealCamera - ".
type Logger struct {
	prefix string
}

// Module returns a Logger for the named module.
func Module(name string) Logger {
	if name == "" {
		return Logger{}
	}
	return Logger{prefix: name + " - "}
}

func (l Logger) Info(format string, args ...interface{})    { Info(l.prefix+format, args...) }
func (l Logger) Warn(format string, args ...interface{})    { Warn(l.prefix+format, args...) }
func (l Logger) Live(format string, args ...interface{})    { Live(l.prefix+format, args...) }
func (l Logger) Verbose(format string, args ...interface{}) { Verbose(l.prefix+format, args...) }
func (l Logger) Trace(format string, args ...interface{})   { Trace(l.prefix+format, args...) }

// Error logs err at level 1 with the module prefix.
func (l Logger) Error(err error) {
	printf(LevelInfo, "[ERROR] %s%v", l.prefix, err)
}
