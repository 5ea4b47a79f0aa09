package main

import (
	"os"

	"github.com/spf13/cobra"
)

var shellCmd = &cobra.Command{
	Use:   "shell [cmd] [args...]",
	Short: "Assemble the project and enter its shell environment",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := rootContext()
		defer cancel()

		if len(args) == 0 {
			sh, err := driver.Shell(ctx)
			if err != nil {
				return err
			}
			sh.Stdin = os.Stdin
			sh.Stdout = os.Stdout
			sh.Stderr = os.Stderr
			return sh.Run()
		}

		out, err := driver.RunInShell(ctx, args[0], args[1:])
		os.Stdout.Write(out)
		return err
	},
}
