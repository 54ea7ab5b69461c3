package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quazardous/sailing/internal/spawn"
	"github.com/quazardous/sailing/internal/tail"
)

var spawnCmd = &cobra.Command{
	Use:   "spawn <task>",
	Short: "Provision a workspace and run an agent for a task",
	Long: `Spawn launches a sandboxed agent child for one task: it checks the
environment, creates (or resumes) the task worktree, writes the mission,
sandbox and MCP config artifacts, starts the child, and supervises it
until it exits or you detach with Ctrl-C (SIGINT detaches; the child
keeps running and 'sailing wait' reattaches).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		timeout, _ := flags.GetInt("timeout")
		resume, _ := flags.GetBool("resume")
		noLog, _ := flags.GetBool("no-log")
		noHeartbeat, _ := flags.GetBool("no-heartbeat")
		heartbeat, _ := flags.GetInt("heartbeat")
		verbose, _ := flags.GetBool("verbose")
		jsonOut, _ := flags.GetBool("json")
		autoReap, _ := flags.GetBool("reap")
		appendLogs, _ := flags.GetBool("append-logs")

		opts := spawn.Options{
			TaskID:        args[0],
			Timeout:       timeout,
			Resume:        resume,
			NoLog:         noLog,
			NoHeartbeat:   noHeartbeat,
			HeartbeatSecs: heartbeat,
			Verbose:       verbose,
			AppendLogs:    appendLogs,
			AutoReap:      autoReap,
		}
		if flags.Changed("worktree") || flags.Changed("no-worktree") {
			useWt, _ := flags.GetBool("worktree")
			if noWt, _ := flags.GetBool("no-worktree"); noWt {
				useWt = false
			}
			opts.Worktree = &useWt
		}
		if verbose && !jsonOut {
			opts.OnEvent = func(ev tail.RawEvent) {
				fmt.Fprintln(os.Stderr, render(styleDim, ev.Parsed.Summarize(160)))
			}
		}

		outcome, esc, err := rt.spawner.Spawn(cmd.Context(), opts)
		if err != nil {
			return err
		}
		if esc != nil {
			return emitEscalation(esc, jsonOut)
		}
		if jsonOut {
			return printJSON(outcome)
		}
		printSpawnOutcome(outcome)
		return nil
	},
}

func printSpawnOutcome(outcome *spawn.Outcome) {
	switch {
	case outcome.Detached:
		fmt.Printf("%s supervisor detached; agent for %s is still running\n",
			render(styleWarn, "detached:"), outcome.TaskID)
	case outcome.Status == "completed":
		fmt.Printf("%s agent for %s finished (exit 0)\n", render(styleOK, "completed:"), outcome.TaskID)
	default:
		detail := fmt.Sprintf("exit %d", outcome.ExitCode)
		if outcome.ExitSignal != 0 {
			detail = fmt.Sprintf("signal %d", outcome.ExitSignal)
		}
		if outcome.TimedOut {
			detail += ", timed out"
		}
		fmt.Printf("%s agent for %s failed (%s)\n", render(styleErr, "error:"), outcome.TaskID, detail)
	}
	if outcome.Reap != nil {
		printReapOutcome(outcome.Reap)
	}
	if outcome.Diagnose != nil && !outcome.Diagnose.Clean() {
		fmt.Println(outcome.Diagnose.ActionRequired())
	}
}

func init() {
	f := spawnCmd.Flags()
	f.Int("timeout", 0, "Wall-clock budget in seconds (0 = config default)")
	f.Bool("worktree", true, "Run in an isolated git worktree")
	f.Bool("no-worktree", false, "Run inline in the repository checkout")
	f.Bool("resume", false, "Attach to an existing worktree left by a previous agent")
	f.Bool("no-log", false, "Skip structured event extraction")
	f.Bool("no-heartbeat", false, "Disable the heartbeat")
	f.Int("heartbeat", 0, "Heartbeat period in seconds")
	f.BoolP("verbose", "v", false, "Stream event summaries while the child runs")
	f.Bool("reap", false, "Reap immediately after a clean exit")
	f.Bool("append-logs", false, "Append to existing run logs instead of truncating")
	f.Bool("json", false, "JSON output")
	rootCmd.AddCommand(spawnCmd)
}
