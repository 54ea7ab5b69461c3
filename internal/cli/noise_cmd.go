package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quazardous/sailing/internal/noise"
)

var noiseCmd = &cobra.Command{
	Use:   "noise",
	Short: "Manage learned noise filters for log summaries and diagnose",
}

var noiseAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Learn a new noise filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		description, _ := flags.GetString("description")
		eventType, _ := flags.GetString("type")
		contains, _ := flags.GetString("contains")
		pattern, _ := flags.GetString("pattern")
		epicID, _ := flags.GetString("epic")
		prdID, _ := flags.GetString("prd")
		jsonOut, _ := flags.GetBool("json")

		scope := noise.ScopeGlobal
		switch {
		case epicID != "" && prdID != "":
			return fmt.Errorf("--epic and --prd are mutually exclusive")
		case epicID != "":
			scope = noise.EpicScope(epicID)
		case prdID != "":
			scope = noise.PRDScope(prdID)
		}

		set, err := noise.Load(rt.hv.NoiseFilters())
		if err != nil {
			return err
		}
		filter, err := set.Add(description, scope, noise.Match{
			Type:     eventType,
			Contains: contains,
			Pattern:  pattern,
		})
		if err != nil {
			return err
		}
		if err := set.Save(rt.hv.NoiseFilters()); err != nil {
			return err
		}
		if jsonOut {
			return printJSON(filter)
		}
		fmt.Printf("%s filter %s\n", render(styleOK, "learned:"), filter.ID)
		return nil
	},
}

var noiseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List noise filters",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		jsonOut, _ := cmd.Flags().GetBool("json")
		set, err := noise.Load(rt.hv.NoiseFilters())
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(set.Filters)
		}
		if len(set.Filters) == 0 {
			fmt.Println("no noise filters")
			return nil
		}
		for _, f := range set.Filters {
			scope := f.Scope
			if scope == noise.ScopeGlobal {
				scope = "global"
			}
			fmt.Printf("%s  [%s]  type=%q contains=%q pattern=%q  %s\n",
				f.ID, scope, f.Match.Type, f.Match.Contains, f.Match.Pattern,
				render(styleDim, f.Description))
		}
		return nil
	},
}

var noiseRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a noise filter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		set, err := noise.Load(rt.hv.NoiseFilters())
		if err != nil {
			return err
		}
		if !set.Remove(args[0]) {
			return fmt.Errorf("no filter with id %s", args[0])
		}
		if err := set.Save(rt.hv.NoiseFilters()); err != nil {
			return err
		}
		fmt.Printf("removed filter %s\n", args[0])
		return nil
	},
}

func init() {
	f := noiseAddCmd.Flags()
	f.String("description", "", "Why this pattern is noise")
	f.String("type", "", "Match the event type exactly")
	f.String("contains", "", "Match a substring of the event text")
	f.String("pattern", "", "Match a regular expression over the event text")
	f.String("epic", "", "Scope to one epic")
	f.String("prd", "", "Scope to one PRD")
	f.Bool("json", false, "JSON output")
	noiseListCmd.Flags().Bool("json", false, "JSON output")
	noiseCmd.AddCommand(noiseAddCmd, noiseListCmd, noiseRemoveCmd)
	rootCmd.AddCommand(noiseCmd)
}
