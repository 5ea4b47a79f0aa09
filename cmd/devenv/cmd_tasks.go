package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devenv-go/devenv/internal/tasks"
)

var tasksMode string

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Run or list declared tasks",
}

var tasksRunCmd = &cobra.Command{
	Use:   "run [roots...]",
	Short: "Run a task set",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := rootContext()
		defer cancel()

		mode := tasks.RunMode(tasksMode)
		switch mode {
		case tasks.RunSingle, tasks.RunAfter, tasks.RunBefore, tasks.RunAll:
		default:
			return fmt.Errorf("invalid --mode %q: must be one of single, before, after, all", tasksMode)
		}

		results, err := driver.TasksRun(ctx, args, mode)
		if err != nil {
			return err
		}
		failed := false
		for name, r := range results {
			fmt.Printf("%-30s %s\n", name, r.Outcome)
			if r.Outcome == tasks.OutcomeFailed || r.Outcome == tasks.OutcomeDependencyFailed {
				failed = true
			}
		}
		if failed {
			return fmt.Errorf("one or more tasks failed")
		}
		return nil
	},
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the task tree",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := rootContext()
		defer cancel()

		list, err := driver.TasksList(ctx)
		if err != nil {
			return err
		}
		for _, t := range list {
			fmt.Printf("%-30s after=%v before=%v\n", t.Name, t.After, t.Before)
		}
		return nil
	},
}

func init() {
	tasksRunCmd.Flags().StringVar(&tasksMode, "mode", "single", "Scheduling mode: single, before, after, all")
	tasksCmd.AddCommand(tasksRunCmd, tasksListCmd)
}
