// Package debug provides a verbose structured logger for development diagnostics.
//
// When enabled via --debug (or SAILING_DEBUG=1), significant events in the
// supervisor runtime are written to a single .log file under
// ~/.sailing/debug/. Lines carry nanosecond timestamps, elapsed time, a
// process tag and caller locations so a run can be reconstructed after the
// fact.
//
// When disabled (the default), all logging functions are no-ops.
package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/quazardous/sailing/internal/hexid"
)

// Environment variables controlling debug logging in child/daemon processes.
const (
	EnvEnabled = "SAILING_DEBUG"
	EnvLogPath = "SAILING_DEBUG_LOG"
	EnvProcess = "SAILING_DEBUG_PROCESS"
)

var (
	logger   *Logger
	loggerMu sync.RWMutex
)

// Logger writes structured debug lines to a file.
type Logger struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	process   string
	startedAt time.Time
}

// ShouldEnableFromEnv reports whether the environment asks for debug logging.
// SAILING_DEBUG=0 always wins; otherwise SAILING_DEBUG=1 or an inherited
// SAILING_DEBUG_LOG path enables it.
func ShouldEnableFromEnv() bool {
	switch strings.TrimSpace(os.Getenv(EnvEnabled)) {
	case "0", "false", "off":
		return false
	case "1", "true", "on":
		return true
	}
	return strings.TrimSpace(os.Getenv(EnvLogPath)) != ""
}

// PropagatedEnv returns env extended so a spawned process appends to the
// same debug log under its own process tag. When debug is disabled the
// input is returned unchanged.
func PropagatedEnv(env []string, process string) []string {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l == nil {
		return env
	}
	out := make([]string, 0, len(env)+3)
	for _, kv := range env {
		if strings.HasPrefix(kv, EnvEnabled+"=") ||
			strings.HasPrefix(kv, EnvLogPath+"=") ||
			strings.HasPrefix(kv, EnvProcess+"=") {
			continue
		}
		out = append(out, kv)
	}
	out = append(out,
		EnvEnabled+"=1",
		EnvLogPath+"="+l.path,
		EnvProcess+"="+process,
	)
	return out
}

// Init initializes the global debug logger and returns the log file path.
// If SAILING_DEBUG_LOG points at an existing file (inherited from a parent
// process) it is appended to; otherwise a fresh file is created under
// ~/.sailing/debug/.
func Init() (string, error) {
	path := strings.TrimSpace(os.Getenv(EnvLogPath))
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("debug: user home dir: %w", err)
		}
		dir := filepath.Join(home, ".sailing", "debug")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("debug: create dir %s: %w", dir, err)
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%s.log", time.Now().Format("20060102T150405"), hexid.New()))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("debug: open log %s: %w", path, err)
	}

	now := time.Now()
	l := &Logger{
		file:      f,
		path:      path,
		process:   strings.TrimSpace(os.Getenv(EnvProcess)),
		startedAt: now,
	}
	tag := l.process
	if tag == "" {
		tag = "cli"
	}
	fmt.Fprintf(f, "=== sailing debug (%s) pid=%d started=%s ===\n",
		tag, os.Getpid(), now.Format(time.RFC3339Nano))

	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
	return path, nil
}

// Close flushes and closes the debug log. Safe to call when not initialized.
func Close() {
	loggerMu.Lock()
	l := logger
	logger = nil
	loggerMu.Unlock()
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.file, "=== closed (duration=%s) ===\n", time.Since(l.startedAt))
	l.file.Close()
}

// Enabled reports whether the debug logger is active.
func Enabled() bool {
	loggerMu.RLock()
	e := logger != nil
	loggerMu.RUnlock()
	return e
}

// Path returns the log file path, or "" if not enabled.
func Path() string {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l == nil {
		return ""
	}
	return l.path
}

// LogKV writes a debug line with key-value context pairs. No-op when
// debug is disabled.
// Usage: debug.LogKV("reap", "classify done", "task", id, "state", st)
func LogKV(component, msg string, kvs ...any) {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(kvs); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kvs[i], kvs[i+1])
	}
	l.write(component, b.String())
}

// Logf writes a formatted debug line. No-op when debug is disabled.
func Logf(component, format string, args ...any) {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l == nil {
		return
	}
	l.write(component, fmt.Sprintf(format, args...))
}

func (l *Logger) write(component, msg string) {
	now := time.Now()

	caller := "??:0"
	if _, file, line, ok := runtime.Caller(2); ok {
		if idx := strings.LastIndex(file, "/internal/"); idx >= 0 {
			file = file[idx+1:]
		} else if idx := strings.LastIndex(file, "/cmd/"); idx >= 0 {
			file = file[idx+1:]
		}
		caller = fmt.Sprintf("%s:%d", file, line)
	}

	tag := l.process
	if tag == "" {
		tag = fmt.Sprintf("pid:%d", os.Getpid())
	}

	out := fmt.Sprintf("%s +%12s [%s] [%-10s] %-38s | %s\n",
		now.Format("15:04:05.000000000"),
		now.Sub(l.startedAt).Truncate(time.Microsecond),
		tag,
		component,
		caller,
		msg,
	)

	l.mu.Lock()
	l.file.WriteString(out)
	l.mu.Unlock()
}
