package main

import (
	"context"

	"github.com/spf13/cobra"
)

var processesDetach bool

var processesCmd = &cobra.Command{
	Use:   "processes",
	Short: "Start or stop declared processes",
}

var processesUpCmd = &cobra.Command{
	Use:   "up [names...]",
	Short: "Start processes",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := rootContext()
		defer cancel()

		if err := driver.ProcessesUp(ctx, args); err != nil {
			return err
		}
		if processesDetach {
			return nil
		}
		<-ctx.Done()
		return driver.ProcessesDown(context.Background())
	},
}

var processesDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop processes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := rootContext()
		defer cancel()
		return driver.ProcessesDown(ctx)
	},
}

func init() {
	processesUpCmd.Flags().BoolVar(&processesDetach, "detach", false, "Start processes and return immediately")
	processesCmd.AddCommand(processesUpCmd, processesDownCmd)
}
