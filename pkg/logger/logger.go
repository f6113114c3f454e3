// Package logger writes leveled, scoped log lines to a file so the
// interactive surface stays free of diagnostics.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level orders log severities.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string to a Level. Unknown values fall
// back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger writes formatted lines to a single destination.
type Logger struct {
	mu      sync.Mutex
	level   Level
	w       io.Writer
	closer  io.Closer
	service string
}

var globalLogger *Logger

// Init points the package-level logger at logPath. Until Init is
// called every logging function is a no-op. If the file cannot be
// opened, logging falls back to stdout so diagnostics are not lost.
func Init(logPath string, level Level, serviceName string) error {
	if dir := filepath.Dir(logPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cannot create log directory %s: %v\n", dir, err)
			globalLogger = &Logger{level: level, w: os.Stdout, service: serviceName}
			return nil
		}
	}

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot open log file %s: %v\n", logPath, err)
		globalLogger = &Logger{level: level, w: os.Stdout, service: serviceName}
		return nil
	}

	// File only. The terminal belongs to the event stream.
	globalLogger = &Logger{level: level, w: file, closer: file, service: serviceName}
	return nil
}

// Close flushes and releases the log file, if one is open.
func Close() {
	if globalLogger == nil || globalLogger.closer == nil {
		return
	}
	globalLogger.mu.Lock()
	defer globalLogger.mu.Unlock()
	_ = globalLogger.closer.Close()
	globalLogger.closer = nil
	globalLogger.w = io.Discard
}

func (l *Logger) log(level Level, scope, msg string, ctx map[string]interface{}) {
	if level < l.level {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	caller := "unknown:0"
	if ok {
		caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}

	if l.service != "" {
		if ctx == nil {
			ctx = make(map[string]interface{})
		}
		ctx["service"] = l.service
	}
	jsonCtx := ""
	if len(ctx) > 0 {
		data, _ := json.Marshal(ctx)
		jsonCtx = string(data)
	}

	out := fmt.Sprintf("[%s]\t[%s]\t[%s]\t[%s]\t%s",
		time.Now().Format("2006-01-02 15:04:05"), level, scope, caller, msg)
	if jsonCtx != "" {
		out += "\t" + jsonCtx
	}
	out += "\n"

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprint(l.w, out)
}

func Debug(scope, msg string, args ...map[string]interface{}) {
	if globalLogger == nil {
		return
	}
	globalLogger.log(DEBUG, scope, msg, getCtx(args))
}

func Info(scope, msg string, args ...map[string]interface{}) {
	if globalLogger == nil {
		return
	}
	globalLogger.log(INFO, scope, msg, getCtx(args))
}

func Warn(scope, msg string, args ...map[string]interface{}) {
	if globalLogger == nil {
		return
	}
	globalLogger.log(WARN, scope, msg, getCtx(args))
}

func Error(scope, msg string, args ...map[string]interface{}) {
	if globalLogger == nil {
		return
	}
	globalLogger.log(ERROR, scope, msg, getCtx(args))
}

func getCtx(args []map[string]interface{}) map[string]interface{} {
	if len(args) > 0 {
		return args[0]
	}
	return nil
}
