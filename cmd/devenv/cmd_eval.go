package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var evalCmd = &cobra.Command{
	Use:   "eval <attrs...>",
	Short: "Print JSON of each requested attribute",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := rootContext()
		defer cancel()

		out, err := driver.Eval(ctx, args)
		if err != nil {
			return err
		}
		if len(args) == 1 {
			fmt.Println(out[args[0]])
			return nil
		}
		enc, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(enc))
		return nil
	},
}
