package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search packages and options concurrently",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := rootContext()
		defer cancel()

		results, err := driver.Search(ctx, args[0])
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("[%s] %s\n    %s\n", r.Kind, r.Name, r.Description)
		}
		return nil
	},
}
