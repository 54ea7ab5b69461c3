package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/quazardous/sailing/internal/state"
	"github.com/quazardous/sailing/internal/worktree"
)

var statusCmd = &cobra.Command{
	Use:   "status [<task>]",
	Short: "Show agent records",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		all, _ := flags.GetBool("all")
		active, _ := flags.GetBool("active")
		unmerged, _ := flags.GetBool("unmerged")
		since, _ := flags.GetString("since")
		withGit, _ := flags.GetBool("git")
		jsonOut, _ := flags.GetBool("json")

		var cutoff time.Time
		if since != "" {
			d, err := parseSince(since)
			if err != nil {
				return err
			}
			cutoff = time.Now().Add(-d)
		}

		st, err := rt.store.Load()
		if err != nil {
			return err
		}

		var ids []string
		for id, rec := range st.Agents {
			if len(args) == 1 && id != args[0] {
				continue
			}
			if active && !rec.Status.Live() {
				continue
			}
			if unmerged && (rec.Status == state.StatusReaped || rec.Status == state.StatusMerged ||
				rec.Status == state.StatusRejected) {
				continue
			}
			if !cutoff.IsZero() && (rec.SpawnedAt == nil || rec.SpawnedAt.Before(cutoff)) {
				continue
			}
			if !all && !active && !unmerged && len(args) == 0 && rec.Status.Terminal() {
				continue
			}
			ids = append(ids, id)
		}
		sort.Strings(ids)

		if len(args) == 1 && len(ids) == 0 {
			return fmt.Errorf("no agent record for task %s", args[0])
		}

		rows := make([]statusRow, 0, len(ids))
		for _, id := range ids {
			r := statusRow{AgentRecord: st.Agents[id]}
			if withGit {
				if gs, err := rt.wm.TaskStatus(cmd.Context(), id); err == nil {
					r.Git = gs
				}
			}
			rows = append(rows, r)
		}

		if jsonOut {
			return printJSON(rows)
		}
		if len(rows) == 0 {
			fmt.Println("no agent records")
			return nil
		}
		printStatusTable(rows)
		return nil
	},
}

// statusRow is one rendered record, optionally enriched with git info.
type statusRow struct {
	*state.AgentRecord
	Git *worktree.Status `json:"git,omitempty"`
}

func printStatusTable(rows []statusRow) {
	header := lipgloss.NewStyle().Bold(true).Underline(colorEnabled())
	fmt.Println(render(header, fmt.Sprintf("%-12s %-10s %-8s %-20s %s",
		"TASK", "STATUS", "PID", "SPAWNED", "DETAIL")))
	for _, r := range rows {
		spawned := "-"
		if r.SpawnedAt != nil {
			spawned = r.SpawnedAt.Local().Format("2006-01-02 15:04:05")
		}
		pid := "-"
		if r.PID != 0 {
			pid = strconv.Itoa(r.PID)
		}
		var details []string
		if r.Worktree != nil {
			details = append(details, r.Worktree.Branch)
		}
		if r.DirtyWorktree {
			details = append(details, fmt.Sprintf("dirty(%d)", r.UncommittedFiles))
		}
		if r.ResultStatus != "" {
			details = append(details, "result="+string(r.ResultStatus))
		}
		if r.ExitCode != nil && *r.ExitCode != 0 {
			details = append(details, fmt.Sprintf("exit=%d", *r.ExitCode))
		}
		if r.ExitSignal != nil {
			details = append(details, fmt.Sprintf("signal=%d", *r.ExitSignal))
		}
		if r.Git != nil {
			details = append(details, fmt.Sprintf("ahead=%d behind=%d", r.Git.Ahead, r.Git.Behind))
			if len(r.Git.ConflictFiles) > 0 {
				details = append(details, fmt.Sprintf("conflicts=%d", len(r.Git.ConflictFiles)))
			}
		}
		if r.PRURL != "" {
			details = append(details, r.PRURL)
		}
		statusStyle := styleDim
		switch r.Status {
		case state.StatusSpawned, state.StatusRunning:
			statusStyle = styleOK
		case state.StatusError, state.StatusKilled, state.StatusOrphaned:
			statusStyle = styleErr
		case state.StatusCompleted:
			statusStyle = styleWarn
		}
		fmt.Printf("%-12s %-10s %-8s %-20s %s\n",
			r.TaskID,
			render(statusStyle, string(r.Status)),
			pid, spawned, strings.Join(details, " "))
	}
}

// parseSince accepts "36h" style durations plus a "d" suffix for days.
func parseSince(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("bad --since %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("bad --since %q", s)
	}
	return d, nil
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List unmerged task branches that would conflict with trunk",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		jsonOut, _ := cmd.Flags().GetBool("json")

		st, err := rt.store.Load()
		if err != nil {
			return err
		}
		type entry struct {
			TaskID        string   `json:"task_id"`
			Branch        string   `json:"branch"`
			ConflictFiles []string `json:"conflict_files"`
		}
		var found []entry
		var ids []string
		for id := range st.Agents {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			rec := st.Agents[id]
			if rec.Worktree == nil || rec.Status == state.StatusReaped || rec.Status == state.StatusRejected {
				continue
			}
			gs, err := rt.wm.TaskStatus(cmd.Context(), id)
			if err != nil || !gs.Exists || len(gs.ConflictFiles) == 0 {
				continue
			}
			found = append(found, entry{TaskID: id, Branch: gs.Branch, ConflictFiles: gs.ConflictFiles})
		}

		if jsonOut {
			if found == nil {
				found = []entry{}
			}
			return printJSON(found)
		}
		if len(found) == 0 {
			fmt.Println("no conflicting branches")
			return nil
		}
		for _, e := range found {
			fmt.Printf("%s %s (%s)\n", render(styleErr, "conflict:"), e.TaskID, e.Branch)
			for _, f := range e.ConflictFiles {
				fmt.Printf("  - %s\n", f)
			}
		}
		return nil
	},
}

func init() {
	f := statusCmd.Flags()
	f.Bool("all", false, "Include terminal records")
	f.Bool("active", false, "Only live agents")
	f.Bool("unmerged", false, "Only records whose work is not landed")
	f.String("since", "", "Only records spawned in the last duration (e.g. 36h, 2d)")
	f.Bool("git", false, "Include ahead/behind/conflict info per branch")
	f.Bool("json", false, "JSON output")
	conflictsCmd.Flags().Bool("json", false, "JSON output")
	rootCmd.AddCommand(statusCmd, conflictsCmd)
}
