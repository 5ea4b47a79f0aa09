package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the inputs tree and user-defined config.info",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := rootContext()
		defer cancel()

		out, err := driver.Info(ctx)
		if err != nil {
			return err
		}
		cfg := driver.Config()
		fmt.Println("inputs:")
		for name, input := range cfg.Inputs {
			fmt.Printf("  %s: %s\n", name, input.URL)
		}
		fmt.Println(out)
		return nil
	},
}
