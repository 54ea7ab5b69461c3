package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quazardous/sailing/internal/collab"
	"github.com/quazardous/sailing/internal/state"
)

var rejectCmd = &cobra.Command{
	Use:   "reject <task>",
	Short: "Discard an agent's work: stop it, drop the worktree and branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		reason, _ := cmd.Flags().GetString("reason")
		status, _ := cmd.Flags().GetString("status")
		jsonOut, _ := cmd.Flags().GetBool("json")

		transition := ""
		switch status {
		case "blocked":
			transition = collab.TaskBlocked
		case "not-started":
			transition = "Not Started"
		case "":
		default:
			return fmt.Errorf("unknown --status %q (want blocked|not-started)", status)
		}

		esc, err := rt.spawner.Reject(args[0], reason, transition)
		if err != nil {
			return err
		}
		if esc != nil {
			return emitEscalation(esc, jsonOut)
		}
		if jsonOut {
			return printJSON(map[string]string{"task_id": args[0], "status": "rejected"})
		}
		fmt.Printf("%s %s\n", render(styleWarn, "rejected:"), args[0])
		return nil
	},
}

var killCmd = &cobra.Command{
	Use:   "kill <task>",
	Short: "Stop a running agent (SIGTERM, then SIGKILL after 5s)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		jsonOut, _ := cmd.Flags().GetBool("json")

		esc, err := rt.spawner.Kill(args[0])
		if err != nil {
			return err
		}
		if esc != nil {
			return emitEscalation(esc, jsonOut)
		}
		if jsonOut {
			return printJSON(map[string]string{"task_id": args[0], "status": "killed"})
		}
		fmt.Printf("%s %s\n", render(styleWarn, "killed:"), args[0])
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear [<task>]",
	Short: "Delete agent records (all records when no task is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")

		st, err := rt.store.Load()
		if err != nil {
			return err
		}
		targets := args
		if len(targets) == 0 {
			for id := range st.Agents {
				targets = append(targets, id)
			}
		}
		cleared := 0
		for _, id := range targets {
			rec := st.Get(id)
			if rec == nil {
				continue
			}
			if rec.PID != 0 && state.PIDAlive(rec.PID) && !force {
				fmt.Printf("%s %s has a running agent (pid %d); use --force or kill it first\n",
					render(styleWarn, "skipped:"), id, rec.PID)
				continue
			}
			if err := rt.store.DeleteAgent(id); err != nil {
				return err
			}
			cleared++
		}
		fmt.Printf("cleared %d record(s)\n", cleared)
		return nil
	},
}

func init() {
	rejectCmd.Flags().String("reason", "", "Why the work is rejected")
	rejectCmd.Flags().String("status", "blocked", "Task transition: blocked|not-started")
	rejectCmd.Flags().Bool("json", false, "JSON output")
	killCmd.Flags().Bool("json", false, "JSON output")
	clearCmd.Flags().Bool("force", false, "Clear records even with a live agent")
	rootCmd.AddCommand(rejectCmd, killCmd, clearCmd)
}
