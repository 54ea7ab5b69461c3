package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quazardous/sailing/internal/backlog"
	"github.com/quazardous/sailing/internal/config"
	"github.com/quazardous/sailing/internal/haven"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Link this repository to a haven and write a starter config",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		hv, err := haven.Init(cwd)
		if err != nil {
			return err
		}
		if err := config.WriteStarter(hv.ProjectDir); err != nil {
			return err
		}
		fmt.Printf("%s haven %s\n", render(styleOK, "initialized:"), hv.Root)
		fmt.Printf("  config: %s/%s\n", hv.ProjectDir, config.FileName)
		fmt.Println("  next: add a task with `sailing task add`, then `sailing spawn <task>`")
		return nil
	},
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage backlog task artefacts",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <task>",
	Short: "Create a backlog task artefact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		title, _ := flags.GetString("title")
		prdID, _ := flags.GetString("prd")
		epicID, _ := flags.GetString("epic")
		body, _ := flags.GetString("body")

		if prdID == "" || epicID == "" {
			return fmt.Errorf("--prd and --epic are required")
		}
		err = rt.tasks.Put(&backlog.TaskFile{
			ID: args[0], Title: title, PRD: prdID, Epic: epicID,
			Status: "Not Started", Body: body,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s %s (%s / %s)\n", render(styleOK, "created:"), args[0], prdID, epicID)
		return nil
	},
}

func init() {
	f := taskAddCmd.Flags()
	f.String("title", "", "Task title")
	f.String("prd", "", "Parent PRD id")
	f.String("epic", "", "Parent epic id")
	f.String("body", "", "Task instructions")
	taskCmd.AddCommand(taskAddCmd)
	rootCmd.AddCommand(initCmd, taskCmd)
}
