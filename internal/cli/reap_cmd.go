package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quazardous/sailing/internal/reap"
	"github.com/quazardous/sailing/internal/state"
)

var reapCmd = &cobra.Command{
	Use:   "reap <task>",
	Short: "Reconcile a finished agent: merge its work and close the task",
	Long: `Reap waits for the agent to finish (unless --no-wait), reads its
result file, auto-commits anything left uncommitted, classifies the
worktree against trunk, merges under the configured strategy, transitions
the task artefact, and records the reap. Merge conflicts stop the reap
before trunk is touched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		noWait, _ := flags.GetBool("no-wait")
		timeout, _ := flags.GetInt("timeout")
		cleanup, _ := flags.GetBool("cleanup-worktree-after")
		jsonOut, _ := flags.GetBool("json")

		outcome, esc, err := rt.reaper.Reap(cmd.Context(), args[0], reap.Options{
			Wait:            !noWait,
			Timeout:         time.Duration(timeout) * time.Second,
			CleanupWorktree: cleanup,
		})
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
	},
}

func printReapOutcome(outcome *reap.Outcome) {
	verb := "nothing to merge"
	if outcome.Merged {
		verb = fmt.Sprintf("merged as %.12s", outcome.MergeCommit)
	}
	fmt.Printf("%s %s: %s, task -> %s (result %s)\n",
		render(styleOK, "reaped:"), outcome.TaskID, verb, outcome.Transitioned, outcome.ResultStatus)
	if outcome.AutoCommitted {
		fmt.Println(render(styleDim, "  uncommitted changes were auto-committed first"))
	}
	if outcome.PRURL != "" {
		fmt.Printf("  pr: %s\n", outcome.PRURL)
	}
}

var reapAllCmd = &cobra.Command{
	Use:   "reap-all [<task>...]",
	Short: "Reap every finished agent (or the listed tasks)",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		jsonOut, _ := cmd.Flags().GetBool("json")

		targets := args
		if len(targets) == 0 {
			st, err := rt.store.Load()
			if err != nil {
				return err
			}
			for id, rec := range st.Agents {
				if rec.Status == state.StatusCompleted {
					targets = append(targets, id)
				}
			}
		}

		type entry struct {
			TaskID  string        `json:"task_id"`
			Outcome *reap.Outcome `json:"outcome,omitempty"`
			Error   string        `json:"error,omitempty"`
		}
		var results []entry
		failures := 0
		for _, taskID := range targets {
			outcome, esc, err := rt.reaper.Reap(cmd.Context(), taskID, reap.Options{Wait: false})
			e := entry{TaskID: taskID, Outcome: outcome}
			switch {
			case err != nil:
				e.Error = err.Error()
				failures++
			case esc != nil:
				e.Error = esc.Reason
				failures++
			}
			results = append(results, e)
		}

		if jsonOut {
			if err := printJSON(results); err != nil {
				return err
			}
		} else {
			for _, e := range results {
				if e.Error != "" {
					fmt.Printf("%s %s: %s\n", render(styleErr, "blocked:"), e.TaskID, e.Error)
					continue
				}
				printReapOutcome(e.Outcome)
			}
			if len(results) == 0 {
				fmt.Println("nothing to reap")
			}
		}
		if failures > 0 {
			return fmt.Errorf("%d of %d reap(s) did not complete", failures, len(results))
		}
		return nil
	},
}

func init() {
	reapCmd.Flags().Bool("no-wait", false, "Escalate instead of waiting for a live child")
	reapCmd.Flags().Int("timeout", 300, "Seconds to wait for a live child")
	reapCmd.Flags().Bool("cleanup-worktree-after", false, "Remove the worktree after a successful reap")
	reapCmd.Flags().Bool("json", false, "JSON output")
	reapAllCmd.Flags().Bool("json", false, "JSON output")
	rootCmd.AddCommand(reapCmd, reapAllCmd)
}
