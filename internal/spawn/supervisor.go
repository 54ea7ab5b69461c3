package spawn

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quazardous/sailing/internal/debug"
	"github.com/quazardous/sailing/internal/tail"
)

// killGrace is how long SIGTERM gets before SIGKILL.
const killGrace = 5 * time.Second

// superviseConfig parameterizes one supervision run.
type superviseConfig struct {
	TaskID    string
	Timeout   time.Duration // wall clock; 0 = unbounded
	Watchdog  time.Duration // inactivity window; 0 = disabled
	Heartbeat time.Duration // 0 = disabled

	HeartbeatOut io.Writer // defaults to os.Stderr
	RunLog       string    // child stdout/stderr target, tailed for activity
	JSONLog      string    // structured event extraction target
	NoLog        bool      // skip event extraction
	FromLogStart bool      // fresh log: ingest from offset zero

	OnEvent func(tail.RawEvent) // verbose display hook

	// signals is injectable for tests; when nil the supervisor installs
	// its own SIGINT/SIGTERM/SIGHUP handler.
	signals chan os.Signal
}

// superviseOutcome reports how supervision ended.
type superviseOutcome struct {
	ExitCode   int
	ExitSignal int
	Detached   bool
	TimedOut   bool // wall clock or watchdog fired
	Killed     bool // supervisor delivered the fatal signal
}

// supervise owns one child until it exits or the operator detaches.
//
// The child's stdout/stderr go straight to the run log file, so a detached
// child keeps logging with no supervisor attached; the supervisor tails
// the file for activity accounting and structured event extraction.
// Activity on either stream resets the watchdog window.
func supervise(c *child, sc superviseConfig) (*superviseOutcome, error) {
	out := sc.HeartbeatOut
	if out == nil {
		out = os.Stderr
	}

	sigCh := sc.signals
	if sigCh == nil {
		sigCh = make(chan os.Signal, 4)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		defer signal.Stop(sigCh)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- c.cmd.Wait() }()

	// Tail the run log for activity and event extraction.
	tailCtx, tailCancel := context.WithCancel(context.Background())
	defer tailCancel()
	activity := make(chan struct{}, 1)
	ingestDone := make(chan struct{})
	go func() {
		defer close(ingestDone)
		ingest(tailCtx, sc, activity)
	}()

	// Pty children need the master pumped into the run log by us.
	if c.pty != nil {
		go pumpPTY(c.pty, sc.RunLog)
	}

	started := time.Now()

	var heartbeat *time.Ticker
	var heartbeatC <-chan time.Time
	if sc.Heartbeat > 0 {
		heartbeat = time.NewTicker(sc.Heartbeat)
		heartbeatC = heartbeat.C
		defer heartbeat.Stop()
	}

	var wallC <-chan time.Time
	if sc.Timeout > 0 {
		wall := time.NewTimer(sc.Timeout)
		defer wall.Stop()
		wallC = wall.C
	}

	var watchdog *time.Timer
	var watchdogC <-chan time.Time
	if sc.Watchdog > 0 {
		watchdog = time.NewTimer(sc.Watchdog)
		defer watchdog.Stop()
		watchdogC = watchdog.C
	}

	printHeartbeat := func() {
		fmt.Fprintf(out, "[%s] heartbeat: elapsed=%s pid=%d state=running%s\n",
			sc.TaskID,
			time.Since(started).Truncate(time.Second),
			c.pid,
			memorySuffix(c.pid),
		)
	}

	// The wait error itself is redundant with the recorded exit status;
	// finish only needs to know how we got here.
	finish := func(timedOut, killed bool) (*superviseOutcome, error) {
		tailCancel()
		<-ingestDone
		code, sig := c.exitStatus()
		debug.LogKV("supervisor", "child exited",
			"task", sc.TaskID,
			"exit_code", code,
			"exit_signal", sig,
			"timed_out", timedOut,
			"elapsed", time.Since(started).Truncate(time.Millisecond),
		)
		return &superviseOutcome{
			ExitCode:   code,
			ExitSignal: sig,
			TimedOut:   timedOut,
			Killed:     killed,
		}, nil
	}

	terminate := func(reason string) {
		debug.LogKV("supervisor", "terminating child", "task", sc.TaskID, "reason", reason)
		c.signalGroup(syscall.SIGTERM)
		select {
		case <-waitCh:
		case <-time.After(killGrace):
			c.signalGroup(syscall.SIGKILL)
			<-waitCh
		}
	}

	for {
		select {
		case <-waitCh:
			return finish(false, false)

		case <-wallC:
			fmt.Fprintf(out, "[%s] timeout after %s; stopping child\n", sc.TaskID, sc.Timeout)
			terminate("wall clock timeout")
			return finish(true, true)

		case <-watchdogC:
			fmt.Fprintf(out, "[%s] no activity for %s; stopping child\n", sc.TaskID, sc.Watchdog)
			terminate("watchdog expired")
			return finish(true, true)

		case <-activity:
			if watchdog != nil {
				if !watchdog.Stop() {
					select {
					case <-watchdog.C:
					default:
					}
				}
				watchdog.Reset(sc.Watchdog)
			}

		case <-heartbeatC:
			printHeartbeat()

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGINT:
				// Detach: leave the child running, exit cleanly.
				fmt.Fprintf(out, "[%s] detaching; child pid %d keeps running (reattach with `sailing wait %s`)\n",
					sc.TaskID, c.pid, sc.TaskID)
				tailCancel()
				<-ingestDone
				return &superviseOutcome{Detached: true}, nil
			case syscall.SIGTERM:
				terminate("operator SIGTERM")
				return finish(false, true)
			case syscall.SIGHUP:
				printHeartbeat()
			}
		}
	}
}

// ingest tails the run log, counts every appended line as activity, and
// extracts JSON event lines into the structured log.
func ingest(ctx context.Context, sc superviseConfig, activity chan<- struct{}) {
	tailer := tail.NewTailer(sc.RunLog)
	if !sc.FromLogStart {
		// Appending to a previous run's log: start at EOF.
		tailer.TailLines(0)
	}

	var jsonOut *os.File
	if !sc.NoLog && sc.JSONLog != "" {
		flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
		if sc.FromLogStart {
			// A fresh run must not inherit the previous run's events.
			flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		}
		f, err := os.OpenFile(sc.JSONLog, flags, 0644)
		if err != nil {
			debug.LogKV("supervisor", "json log open failed", "path", sc.JSONLog, "error", err)
		} else {
			jsonOut = f
			defer f.Close()
		}
	}

	process := func(line string) {
		select {
		case activity <- struct{}{}:
		default:
		}
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "{") {
			return
		}
		ev := tail.ParseLine([]byte(trimmed))
		if ev.Err != nil {
			return
		}
		if jsonOut != nil {
			jsonOut.WriteString(trimmed + "\n")
		}
		if sc.OnEvent != nil {
			sc.OnEvent(ev)
		}
	}

	for line := range tailer.Follow(ctx, 200*time.Millisecond) {
		process(line)
	}
	// The child exited (or we are detaching); drain what the last poll
	// may have missed.
	if lines, err := tailer.ReadNew(); err == nil {
		for _, line := range lines {
			process(line)
		}
	}
}

func pumpPTY(master *os.File, runLog string) {
	f, err := os.OpenFile(runLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	io.Copy(f, master) // returns on child exit
}

// memorySuffix reads VmRSS from /proc when available.
func memorySuffix(pid int) string {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "VmRSS:") {
			return " mem=" + strings.Join(strings.Fields(strings.TrimPrefix(line, "VmRSS:")), "")
		}
	}
	return ""
}
