package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/devenv-go/devenv/internal/direrr"
)

// Provider executes one task's command and returns its declared JSON
// output (read from DEVENV_TASK_OUTPUT_FILE). Implementations are either
// a local subprocess (the default) or an external task-server-protocol
// process discovered on PATH (spec §4.6 "Providers").
type Provider interface {
	Run(ctx context.Context, cfg TaskConfig, outputs map[string]json.RawMessage) (stdout, stderr string, output json.RawMessage, err error)
}

// LocalProvider runs a task's command directly on the host via the
// shell, the same trust model as the direct command executor it is
// grounded on: no sandboxing, full inheritance of the caller's
// environment plus the task-specific DEVENV_TASK_* variables.
type LocalProvider struct{}

func NewLocalProvider() *LocalProvider { return &LocalProvider{} }

// Run executes cfg.Command with the bash wrapper and env plumbing spec
// §4.6 names: DEVENV_TASK_INPUT (the task's declared inputs, JSON),
// DEVENV_TASK_OUTPUT_FILE (a path the command writes its JSON output
// to), DEVENV_TASKS_OUTPUTS (every predecessor's output keyed by task
// name), and DEVENV_TASK_ENV (shell-exportable env from predecessor
// outputs' devenv.env object, already applied to the process
// environment as well).
func (p *LocalProvider) Run(ctx context.Context, cfg TaskConfig, outputs map[string]json.RawMessage) (string, string, json.RawMessage, error) {
	outputFile, err := os.CreateTemp("", "devenv-task-output-*.json")
	if err != nil {
		return "", "", nil, direrr.Task("failed to create task output file", err)
	}
	outputPath := outputFile.Name()
	outputFile.Close()
	defer os.Remove(outputPath)

	cmd := exec.CommandContext(ctx, "bash", "-c", cfg.Command)
	cmd.Env = append(os.Environ(), buildTaskEnv(cfg, outputPath, outputs)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	output, _ := os.ReadFile(outputPath)
	if runErr != nil {
		return stdout.String(), stderr.String(), json.RawMessage(output), direrr.Task(
			fmt.Sprintf("task %q failed", cfg.Name), runErr)
	}
	return stdout.String(), stderr.String(), json.RawMessage(output), nil
}

func buildTaskEnv(cfg TaskConfig, outputPath string, outputs map[string]json.RawMessage) []string {
	env := []string{"DEVENV_TASK_OUTPUT_FILE=" + outputPath}
	if len(cfg.Inputs) > 0 {
		env = append(env, "DEVENV_TASK_INPUT="+string(cfg.Inputs))
	}

	combined := make(map[string]json.RawMessage, len(outputs))
	for k, v := range outputs {
		combined[k] = v
	}
	if outputsJSON, err := json.Marshal(combined); err == nil {
		env = append(env, "DEVENV_TASKS_OUTPUTS="+string(outputsJSON))
	}

	devenvEnv := ""
	for _, raw := range outputs {
		var parsed struct {
			Devenv struct {
				Env map[string]string `json:"env"`
			} `json:"devenv"`
		}
		if json.Unmarshal(raw, &parsed) != nil {
			continue
		}
		for k, v := range parsed.Devenv.Env {
			env = append(env, k+"="+v)
			devenvEnv += "export " + k + "=" + strconv.Quote(v) + "\n"
		}
	}
	env = append(env, "DEVENV_TASK_ENV="+devenvEnv)
	return env
}
