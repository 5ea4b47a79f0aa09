package lock

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"

	"github.com/devenv-go/devenv/internal/config"
	"github.com/devenv-go/devenv/internal/direrr"
)

// CommandResolver resolves an input by invoking a one-shot external
// command per input, the same "foreign resource behind a narrow
// interface" shape the evaluator and task-provider packages use for
// their out-of-process collaborators — except here each call is a
// single request/response rather than a persistent RPC session, since
// resolving an input's pinned revision is infrequent and does not
// benefit from a long-lived process.
//
// The command is invoked as:
//
//	<Executable> resolve --name <name> --url <url>
//
// and is expected to print a single JSON object on stdout:
//
//	{"resolved": "...", "narHash": "sha256-..."}
type CommandResolver struct {
	Executable string
}

// NewCommandResolver returns a Resolver that shells out to executable
// for every input it is asked to resolve.
func NewCommandResolver(executable string) *CommandResolver {
	return &CommandResolver{Executable: executable}
}

func (r *CommandResolver) Resolve(ctx context.Context, name string, input config.Input) (Entry, error) {
	cmd := exec.CommandContext(ctx, r.Executable, "resolve", "--name", name, "--url", input.URL)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Entry{}, direrr.Lock("failed to resolve input "+name+": "+stderr.String(), err)
	}

	var decoded struct {
		Resolved string `json:"resolved"`
		NarHash  string `json:"narHash"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &decoded); err != nil {
		return Entry{}, direrr.Lock("failed to parse resolver output for input "+name, err)
	}
	return Entry{URL: input.URL, Resolved: decoded.Resolved, NarHash: decoded.NarHash}, nil
}
