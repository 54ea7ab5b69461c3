package cli

import (
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/quazardous/sailing/internal/mcp"
)

// checkResult is one environment probe.
type checkResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the environment is ready to spawn agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		timeoutSecs, _ := flags.GetInt("timeout")
		skipSpawn, _ := flags.GetBool("skip-spawn")
		jsonOut, _ := flags.GetBool("json")
		_ = timeoutSecs // the MCP probe carries its own 5s bound

		ctx := cmd.Context()
		var results []checkResult
		add := func(name string, ok bool, detail string) {
			results = append(results, checkResult{Name: name, OK: ok, Detail: detail})
		}

		add("haven", true, rt.hv.Root)

		if _, err := rt.store.Load(); err != nil {
			add("state", false, err.Error())
		} else {
			add("state", true, rt.hv.StateFile())
		}

		if rt.wm.IsRepo(ctx) {
			add("git repository", true, rt.hv.ProjectDir)
			if !rt.wm.HasCommits(ctx) {
				add("trunk", false, "no commits yet")
			} else if clean, err := rt.wm.TrunkClean(ctx); err != nil {
				add("trunk", false, err.Error())
			} else if !clean {
				add("trunk", false, "uncommitted changes on "+rt.cfg.Trunk)
			} else {
				add("trunk", true, rt.cfg.Trunk+" clean")
			}
		} else {
			add("git repository", false, "not a git checkout")
		}

		if d, esc := mcp.CheckAgentServer(rt.hv.MCPDescriptor()); esc != nil {
			add("mcp server", false, esc.Reason)
		} else {
			add("mcp server", true, fmt.Sprintf("%s (pid %d)", d.Mode, d.PID))
		}

		if path, err := exec.LookPath(rt.cfg.AgentCommand); err != nil {
			add("agent command", false, rt.cfg.AgentCommand+" not on PATH")
		} else {
			add("agent command", true, path)
		}
		if rt.cfg.Sandbox {
			if path, err := exec.LookPath(rt.cfg.SandboxCommand); err != nil {
				add("sandbox command", false, rt.cfg.SandboxCommand+" not on PATH")
			} else {
				add("sandbox command", true, path)
			}
		}
		if !skipSpawn {
			// The spawn probe is the MCP round trip plus the launcher
			// lookups above; a real child spawn is left to the operator.
			add("spawn preconditions", rt.cfg.UseSubprocess, detailIf(!rt.cfg.UseSubprocess, "use_subprocess is disabled"))
		}

		failed := 0
		for _, r := range results {
			if !r.OK {
				failed++
			}
		}

		if jsonOut {
			if err := printJSON(results); err != nil {
				return err
			}
		} else {
			for _, r := range results {
				mark := render(styleOK, "ok")
				if !r.OK {
					mark = render(styleErr, "fail")
				}
				fmt.Printf("%-6s %-20s %s\n", mark, r.Name, r.Detail)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d check(s) failed", failed)
		}
		return nil
	},
}

func detailIf(cond bool, detail string) string {
	if cond {
		return detail
	}
	return ""
}

func init() {
	checkCmd.Flags().Int("timeout", 5, "Ignored; the MCP probe always uses a fixed 5s bound")
	checkCmd.Flags().Bool("skip-spawn", false, "Skip the spawn precondition summary")
	checkCmd.Flags().Bool("json", false, "JSON output")
	rootCmd.AddCommand(checkCmd)
}
