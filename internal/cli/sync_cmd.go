package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the state file with worktrees and agent artifacts",
	Long: `Sync scans the worktrees directory, the agent artifact directories,
and the state file, and reports what is out of step: worktrees with no
record (added with an inferred status), records whose process or worktree
is gone (marked orphaned), and stale run claims. With --dry-run nothing
is written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		jsonOut, _ := cmd.Flags().GetBool("json")

		report, err := rt.reaper.Sync(cmd.Context(), dryRun)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(report)
		}

		if len(report.Added) == 0 && len(report.Updated) == 0 && len(report.Orphans) == 0 {
			fmt.Println("state is consistent; nothing to do")
			return nil
		}
		prefix := ""
		if report.DryRun {
			prefix = render(styleDim, "[dry-run] ")
		}
		for _, e := range report.Added {
			fmt.Printf("%s%s %s -> %s (%s)\n", prefix, render(styleOK, "added:"), e.TaskID, e.Status, e.Reason)
		}
		for _, e := range report.Updated {
			fmt.Printf("%s%s %s -> %s (%s)\n", prefix, render(styleWarn, "updated:"), e.TaskID, e.Status, e.Reason)
		}
		for _, id := range report.Orphans {
			fmt.Printf("%s%s stale run claim for %s\n", prefix, render(styleDim, "removed:"), id)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("dry-run", false, "Report without writing")
	syncCmd.Flags().Bool("json", false, "JSON output")
	rootCmd.AddCommand(syncCmd)
}
