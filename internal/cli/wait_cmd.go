package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/quazardous/sailing/internal/escalate"
	"github.com/quazardous/sailing/internal/noise"
	"github.com/quazardous/sailing/internal/reap"
	"github.com/quazardous/sailing/internal/state"
	"github.com/quazardous/sailing/internal/tail"
)

// waitPollInterval is the safety-net poll while watching the state file.
const waitPollInterval = 2 * time.Second

var waitCmd = &cobra.Command{
	Use:   "wait <task>",
	Short: "Reattach to a running agent, tail its log, and reap on success",
	Long: `Wait attaches to an agent another supervisor spawned (or detached
from): it prints the recent log tail, streams additions, emits heartbeats,
and when the child exits cleanly runs the reap pipeline.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		taskID := args[0]
		flags := cmd.Flags()
		timeoutSecs, _ := flags.GetInt("timeout")
		noLog, _ := flags.GetBool("no-log")
		noHeartbeat, _ := flags.GetBool("no-heartbeat")
		heartbeatSecs, _ := flags.GetInt("heartbeat")
		lines, _ := flags.GetInt("lines")
		events, _ := flags.GetInt("events")
		raw, _ := flags.GetBool("raw")
		jsonOut, _ := flags.GetBool("json")

		st, err := rt.store.Load()
		if err != nil {
			return err
		}
		rec := st.Get(taskID)
		if rec == nil {
			return emitEscalation(escalate.New(escalate.KindNotFound,
				fmt.Sprintf("no agent record for task %s", taskID),
				"check `sailing status --all`",
			), jsonOut)
		}

		ctx := cmd.Context()
		if timeoutSecs > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSecs)*time.Second)
			defer cancel()
		}

		// Attach to the log streams.
		tailCtx, tailCancel := context.WithCancel(context.Background())
		defer tailCancel()
		if !noLog && !jsonOut {
			if events > 0 {
				go streamEvents(tailCtx, rt, taskID, events, raw)
			} else {
				go streamLines(tailCtx, rt.hv.RunLog(taskID), lines)
			}
		}

		var heartbeatC <-chan time.Time
		if !noHeartbeat && !jsonOut {
			if heartbeatSecs <= 0 {
				heartbeatSecs = rt.cfg.HeartbeatQuiet
			}
			ticker := time.NewTicker(time.Duration(heartbeatSecs) * time.Second)
			defer ticker.Stop()
			heartbeatC = ticker.C
		}

		started := time.Now()
		final, err := awaitTerminal(ctx, rt, taskID, heartbeatC, started)
		tailCancel()
		if err != nil {
			if ctx.Err() != nil {
				return &timeoutError{msg: fmt.Sprintf("agent for %s still running after %ds", taskID, timeoutSecs)}
			}
			return err
		}

		// A child whose supervisor detached exits with nobody to settle the
		// record; do it here so the reap can proceed.
		if final.Status.Live() {
			final, err = settleDetached(rt, taskID)
			if err != nil {
				return err
			}
		}

		// Auto-reap a clean finish.
		if final.Status == state.StatusCompleted && final.ReapedAt == nil {
			outcome, esc, err := rt.reaper.Reap(cmd.Context(), taskID, reap.Options{Wait: true, Timeout: 30 * time.Second})
			if err != nil {
				return err
			}
			if esc != nil {
				return emitEscalation(esc, jsonOut)
			}
			if jsonOut {
				return printJSON(outcome)
			}
			printReapOutcome(outcome)
			return nil
		}

		if jsonOut {
			return printJSON(final)
		}
		fmt.Printf("agent for %s ended: %s\n", taskID, final.Status)
		return nil
	},
}

// settleDetached closes out a record whose process died with no
// supervisor attached. A result file or done sentinel means the child
// finished its protocol and counts as completed; otherwise the record is
// orphaned and left to sync/reject.
func settleDetached(rt *runtime, taskID string) (*state.AgentRecord, error) {
	finished := false
	if _, err := os.Stat(rt.hv.ResultFile(taskID)); err == nil {
		finished = true
	}
	if _, err := os.Stat(rt.hv.DoneSentinel(taskID)); err == nil {
		finished = true
	}
	status := state.StatusOrphaned
	if finished {
		status = state.StatusCompleted
	}
	now := time.Now().UTC()
	err := rt.store.UpdateAgent(taskID, func(rec *state.AgentRecord) error {
		if !rec.Status.Live() {
			return nil
		}
		rec.Status = status
		rec.EndedAt = &now
		rec.PID = 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	st, err := rt.store.Load()
	if err != nil {
		return nil, err
	}
	return st.Get(taskID), nil
}

// awaitTerminal blocks until the record leaves a live state (or its pid
// dies), coalescing state-file notifications with a 2s poll.
func awaitTerminal(ctx context.Context, rt *runtime, taskID string, heartbeatC <-chan time.Time, started time.Time) (*state.AgentRecord, error) {
	watch := rt.store.Watch(ctx, waitPollInterval)
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		st, err := rt.store.Load()
		if err != nil {
			return nil, err
		}
		rec := st.Get(taskID)
		if rec == nil {
			return nil, fmt.Errorf("record for %s disappeared while waiting", taskID)
		}
		if !rec.Status.Live() {
			return rec, nil
		}
		if rec.PID != 0 && !state.PIDAlive(rec.PID) {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-watch:
		case <-ticker.C:
		case <-heartbeatC:
			fmt.Fprintf(os.Stderr, "[%s] waiting: elapsed=%s pid=%d\n",
				taskID, time.Since(started).Truncate(time.Second), rec.PID)
		}
	}
}

func streamLines(ctx context.Context, path string, lastN int) {
	tailer := tail.NewTailer(path)
	lines, err := tailer.TailLines(lastN)
	if err != nil {
		return
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	for line := range tailer.Follow(ctx, 0) {
		fmt.Println(line)
	}
}

func streamEvents(ctx context.Context, rt *runtime, taskID string, lastN int, raw bool) {
	filters, _ := noise.Load(rt.hv.NoiseFilters())
	epicID, prdID := taskScope(rt, taskID)

	path := rt.hv.RunJSONLog(taskID)
	events, _ := tail.ReadAllEvents(path)
	start := 0
	if len(events) > lastN {
		start = len(events) - lastN
	}
	emit := func(ev tail.RawEvent) {
		if ev.Err != nil {
			return
		}
		if ev.Parsed.Suppressed(filters, epicID, prdID) {
			return
		}
		if raw {
			fmt.Println(string(ev.Raw))
			return
		}
		fmt.Println(ev.Parsed.Summarize(160))
	}
	for _, ev := range events[start:] {
		emit(ev)
	}

	tailer := tail.NewTailer(path)
	tailer.TailLines(0)
	for ev := range tailer.FollowEvents(ctx, 0) {
		emit(ev)
	}
}

func taskScope(rt *runtime, taskID string) (epicID, prdID string) {
	if task, err := rt.tasks.GetTask(taskID); err == nil && task != nil {
		return task.EpicID, task.PRDID
	}
	return "", ""
}

var waitAllCmd = &cobra.Command{
	Use:   "wait-all [<task>...]",
	Short: "Wait for several agents (all live ones when none are listed)",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		any, _ := flags.GetBool("any")
		timeoutSecs, _ := flags.GetInt("timeout")
		heartbeatSecs, _ := flags.GetInt("heartbeat")
		jsonOut, _ := flags.GetBool("json")

		st, err := rt.store.Load()
		if err != nil {
			return err
		}
		targets := args
		if len(targets) == 0 {
			for id, rec := range st.Agents {
				if rec.Status.Live() {
					targets = append(targets, id)
				}
			}
			sort.Strings(targets)
		}
		if len(targets) == 0 {
			fmt.Println("no live agents to wait for")
			return nil
		}

		ctx := cmd.Context()
		if timeoutSecs > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSecs)*time.Second)
			defer cancel()
		}

		var heartbeatC <-chan time.Time
		if heartbeatSecs > 0 && !jsonOut {
			ticker := time.NewTicker(time.Duration(heartbeatSecs) * time.Second)
			defer ticker.Stop()
			heartbeatC = ticker.C
		}

		watch := rt.store.Watch(ctx, waitPollInterval)
		ticker := time.NewTicker(waitPollInterval)
		defer ticker.Stop()

		pending := make(map[string]struct{}, len(targets))
		for _, id := range targets {
			pending[id] = struct{}{}
		}
		finished := map[string]state.Status{}
		started := time.Now()

		for len(pending) > 0 {
			st, err := rt.store.Load()
			if err != nil {
				return err
			}
			for id := range pending {
				rec := st.Get(id)
				done := rec == nil || !rec.Status.Live() ||
					(rec.PID != 0 && !state.PIDAlive(rec.PID))
				if !done {
					continue
				}
				delete(pending, id)
				status := state.StatusOrphaned
				if rec != nil {
					status = rec.Status
				}
				finished[id] = status
				if !jsonOut {
					fmt.Printf("%s %s -> %s\n", render(styleOK, "finished:"), id, status)
				}
			}
			if any && len(finished) > 0 {
				break
			}
			if len(pending) == 0 {
				break
			}
			select {
			case <-ctx.Done():
				return &timeoutError{msg: fmt.Sprintf("%d agent(s) still running after %ds", len(pending), timeoutSecs)}
			case <-watch:
			case <-ticker.C:
			case <-heartbeatC:
				fmt.Fprintf(os.Stderr, "waiting for %d agent(s): elapsed=%s\n",
					len(pending), time.Since(started).Truncate(time.Second))
			}
		}

		if jsonOut {
			return printJSON(finished)
		}
		return nil
	},
}

func init() {
	f := waitCmd.Flags()
	f.Int("timeout", 0, "Give up after this many seconds (exit 2)")
	f.Bool("no-log", false, "Do not tail the log")
	f.Bool("no-heartbeat", false, "Disable the heartbeat")
	f.Int("heartbeat", 0, "Heartbeat period in seconds")
	f.IntP("lines", "n", 10, "Raw log lines to show on attach")
	f.IntP("events", "e", 0, "Stream summarized events instead of raw lines")
	f.Bool("raw", false, "With --events, print raw JSON lines")
	f.Bool("json", false, "JSON output")

	g := waitAllCmd.Flags()
	g.Bool("any", false, "Return after the first completion")
	g.Int("timeout", 0, "Give up after this many seconds (exit 2)")
	g.Int("heartbeat", 0, "Heartbeat period in seconds")
	g.Bool("json", false, "JSON output")

	rootCmd.AddCommand(waitCmd, waitAllCmd)
}
