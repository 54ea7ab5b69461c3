package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quazardous/sailing/internal/noise"
	"github.com/quazardous/sailing/internal/tail"
)

var logCmd = &cobra.Command{
	Use:   "log <task>",
	Short: "Show an agent's run log or structured events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		taskID := args[0]
		flags := cmd.Flags()
		lines, _ := flags.GetInt("lines")
		follow, _ := flags.GetBool("tail")
		events, _ := flags.GetInt("events")
		raw, _ := flags.GetBool("raw")
		jsonOut, _ := flags.GetBool("json")

		if events > 0 || jsonOut {
			return showEvents(rt, taskID, events, raw, jsonOut)
		}

		tailer := tail.NewTailer(rt.hv.RunLog(taskID))
		tailLines, err := tailer.TailLines(lines)
		if err != nil {
			return err
		}
		if len(tailLines) == 0 && !follow {
			fmt.Printf("no run log for %s yet (%s)\n", taskID, rt.hv.RunLog(taskID))
			return nil
		}
		for _, line := range tailLines {
			fmt.Println(line)
		}
		if !follow {
			return nil
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		for line := range tailer.Follow(ctx, 0) {
			fmt.Println(line)
		}
		return nil
	},
}

func showEvents(rt *runtime, taskID string, lastN int, raw, jsonOut bool) error {
	all, err := tail.ReadAllEvents(rt.hv.RunJSONLog(taskID))
	if err != nil {
		return err
	}
	filters, _ := noise.Load(rt.hv.NoiseFilters())
	epicID, prdID := taskScope(rt, taskID)

	var kept []tail.RawEvent
	for _, ev := range all {
		if ev.Err != nil {
			continue
		}
		if ev.Parsed.Suppressed(filters, epicID, prdID) {
			continue
		}
		kept = append(kept, ev)
	}
	if lastN > 0 && len(kept) > lastN {
		kept = kept[len(kept)-lastN:]
	}

	if jsonOut {
		out := make([]any, 0, len(kept))
		for _, ev := range kept {
			out = append(out, ev.Parsed)
		}
		return printJSON(out)
	}
	for _, ev := range kept {
		if raw {
			fmt.Println(string(ev.Raw))
			continue
		}
		fmt.Println(ev.Parsed.Summarize(160))
	}
	if len(kept) == 0 {
		fmt.Fprintln(os.Stderr, render(styleDim, "no structured events"))
	}
	return nil
}

func init() {
	f := logCmd.Flags()
	f.IntP("lines", "n", 40, "Raw log lines to show")
	f.BoolP("tail", "t", false, "Keep following the log")
	f.IntP("events", "e", 0, "Show the last N structured events instead")
	f.Bool("raw", false, "Print raw JSON event lines")
	f.Bool("json", false, "JSON output (structured events)")
	rootCmd.AddCommand(logCmd)
}
