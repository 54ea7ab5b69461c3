// Package cli implements the sailing command surface. Commands gather
// their collaborators through the runtime helper, render results as
// human-readable text or JSON, and map escalations to exit codes.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quazardous/sailing/internal/debug"
)

var rootCmd = &cobra.Command{
	Use:   "sailing",
	Short: "Agent lifecycle supervisor",
	Long: `sailing supervises autonomous code-writing agents against a
PRD -> Epic -> Task backlog: it provisions isolated git worktrees,
launches sandboxed children wired to a local MCP server, watches them to
completion, and reconciles their work back into the repository.

Getting started:
  sailing init                 Link this repository to a haven
  sailing spawn T001           Run an agent for task T001
  sailing wait T001            Reattach to a running agent
  sailing reap T001            Merge finished work and close the loop
  sailing status --all         Show every agent record`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable verbose debug logging to ~/.sailing/debug/")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		debugFlag, _ := cmd.Flags().GetBool("debug")
		if !debugFlag && !debug.ShouldEnableFromEnv() {
			return nil
		}
		logPath, err := debug.Init()
		if err != nil {
			return fmt.Errorf("initializing debug logger: %w", err)
		}
		fmt.Fprintf(os.Stderr, "[debug] logging to %s\n", logPath)
		debug.LogKV("cli", "sailing starting", "pid", os.Getpid(), "command", cmd.Name(), "args", args)
		return nil
	}
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	defer debug.Close()
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	return renderError(err)
}
