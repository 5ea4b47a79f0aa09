// Command devenv assembles and drives reproducible developer
// environments described by a devenv.yaml manifest.
//
// This file is the entry point and command registration hub. Individual
// subcommands are split across cmd_*.go files for maintainability.
//
// # File Index
//
//   - main.go            - entry point, rootCmd, global flags, driver construction
//   - cmd_shell.go       - shellCmd
//   - cmd_build.go       - buildCmd
//   - cmd_eval.go        - evalCmd
//   - cmd_update.go      - updateCmd
//   - cmd_info.go        - infoCmd
//   - cmd_search.go      - searchCmd
//   - cmd_gc.go          - gcCmd
//   - cmd_tasks.go       - tasksCmd, tasksRunCmd, tasksListCmd
//   - cmd_processes.go   - processesCmd, processesUpCmd, processesDownCmd
//   - cmd_testrun.go     - testCmd (named to avoid the _test.go build-exclusion suffix)
//   - cmd_container.go   - containerCmd, containerBuildCmd, containerCopyCmd, containerRunCmd
//   - cmd_repl.go        - replCmd
//   - cmd_init.go        - initCmd
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/devenv-go/devenv/internal/direrr"
	"github.com/devenv-go/devenv/internal/evaluator"
	"github.com/devenv-go/devenv/internal/facade"
	"github.com/devenv-go/devenv/internal/lock"
)

var (
	verbose      bool
	debugMode    bool
	workspace    string
	evaluatorBin string
	resolverBin  string
	pushDaemon   []string

	driver *facade.Driver
)

var rootCmd = &cobra.Command{
	Use:   "devenv",
	Short: "Assemble and drive reproducible developer environments",
	Long: `devenv assembles a project's devenv.yaml manifest, evaluates it through
a configurable external evaluator, and drives the resulting shell, build,
task, process, and container operations.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ws := workspace
		if ws == "" {
			var err error
			ws, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("determine workspace: %w", err)
			}
		} else if abs, err := filepath.Abs(ws); err == nil {
			ws = abs
		}

		evalBin := evaluatorBin
		if evalBin == "" {
			evalBin = os.Getenv("DEVENV_NIX")
		}
		if evalBin == "" {
			return direrr.Config("DEVENV_NIX must point at the evaluator binary (or pass --evaluator)", nil)
		}

		ev, err := evaluator.NewSubprocessEvaluator(evalBin)
		if err != nil {
			return err
		}

		var resolver lock.Resolver
		if resolverBin != "" {
			resolver = lock.NewCommandResolver(resolverBin)
		}

		d, err := facade.New(facade.Options{
			BaseDir:      ws,
			DebugMode:    debugMode,
			Verbose:      verbose,
			Evaluator:    ev,
			LockResolver: resolver,
			PushDaemon:   pushDaemon,
		})
		if err != nil {
			return err
		}
		driver = d
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if driver != nil {
			return driver.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose console logging")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable category file logging under .devenv/logs")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Project directory (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&evaluatorBin, "evaluator", "", "Path to the evaluator binary (default: $DEVENV_NIX)")
	rootCmd.PersistentFlags().StringVar(&resolverBin, "resolver", "", "Path to the input resolver binary (enables `devenv update`)")
	rootCmd.PersistentFlags().StringSliceVar(&pushDaemon, "push-daemon", nil, "Argv of the push daemon to spawn (disabled when empty)")

	rootCmd.AddCommand(
		shellCmd,
		buildCmd,
		evalCmd,
		updateCmd,
		infoCmd,
		searchCmd,
		gcCmd,
		tasksCmd,
		processesCmd,
		testCmd,
		containerCmd,
		replCmd,
		initCmd,
	)
}

// rootContext returns a context cancelled on SIGINT/SIGTERM, the signal
// set devenv.rs's cancellation path reacts to.
func rootContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// exitCode maps an error to the exit code contract in spec §6: 0 on
// success, 130 on cancellation, non-zero on any other fatal error.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	var derr *direrr.Error
	if errors.As(err, &derr) {
		fmt.Fprintf(os.Stderr, "Error: %s\n", derr.Error())
		if derr.Suggestion != "" {
			fmt.Fprintf(os.Stderr, "Suggestion: %s\n", derr.Suggestion)
		}
		return 1
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}
