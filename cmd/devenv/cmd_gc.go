package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Reap dangling GC-root symlinks and collect store paths",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := rootContext()
		defer cancel()

		count, freed, err := driver.GC(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d store path(s), freed %d bytes\n", count, freed)
		return nil
	},
}
