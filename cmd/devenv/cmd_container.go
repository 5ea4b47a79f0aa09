package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var containerRegistry string

var containerCmd = &cobra.Command{
	Use:   "container",
	Short: "Container image pipeline: build, copy, run",
}

var containerBuildCmd = &cobra.Command{
	Use:   "build <name>",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := rootContext()
		defer cancel()
		path, err := driver.ContainerBuild(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

var containerCopyCmd = &cobra.Command{
	Use:   "copy <name> [-- args...]",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := rootContext()
		defer cancel()
		return driver.ContainerCopy(ctx, args[0], args[1:], containerRegistry)
	},
}

var containerRunCmd = &cobra.Command{
	Use:   "run <name> [-- args...]",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := rootContext()
		defer cancel()
		c, err := driver.ContainerRun(ctx, args[0], args[1:])
		if err != nil {
			return err
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		return c.Run()
	},
}

func init() {
	containerCopyCmd.Flags().StringVar(&containerRegistry, "registry", "", "Destination registry (e.g. docker-daemon:); empty copies nowhere")
	containerCmd.AddCommand(containerBuildCmd, containerCopyCmd, containerRunCmd)
}
