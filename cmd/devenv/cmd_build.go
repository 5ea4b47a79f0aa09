package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var buildGCRoot string

var buildCmd = &cobra.Command{
	Use:   "build [attrs...]",
	Short: "Build the specified attributes (with no arguments, nothing is built)",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := rootContext()
		defer cancel()

		paths, err := driver.Build(ctx, args, buildGCRoot)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Println(p)
		}
		return nil
	},
}

func init() {
	buildCmd.Flags().StringVar(&buildGCRoot, "gc-root", "", "Path at which to anchor the build's GC root (unset: no GC root is anchored)")
}
