package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update [input]",
	Short: "Refresh the lock file for one input, or every input",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := rootContext()
		defer cancel()

		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		l, err := driver.Update(ctx, name)
		if err != nil {
			return err
		}
		fmt.Printf("updated %d input(s)\n", len(l.Inputs))
		return nil
	},
}
