package main

import "github.com/spf13/cobra"

var initCmd = &cobra.Command{
	Use:   "init [target]",
	Short: "Scaffold a new project (unsupported: always returns an error)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := rootContext()
		defer cancel()
		return driver.Init(ctx)
	},
}
