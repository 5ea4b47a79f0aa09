package tasks

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/devenv-go/devenv/internal/direrr"
)

// ExternalProvider talks to an out-of-process task server with
// line-delimited JSON over the server process's stdin and stdout pipes;
// no Unix socket is used. It is discovered by matching the
// executable's basename against a configured prefix list found on PATH.
type ExternalProvider struct {
	cmd *exec.Cmd

	mu          sync.Mutex
	stdin       *bufio.Writer
	nextID      int
	pending     map[int]chan rpcResponse
}

type rpcRequest struct {
	ID     int             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// DiscoverExternalExecutables finds every executable on PATH whose
// basename starts with one of the configured prefixes (e.g.
// "devenv-tsp-").
func DiscoverExternalExecutables(prefixes []string) []string {
	if len(prefixes) == 0 {
		return nil
	}
	var found []string
	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			for _, prefix := range prefixes {
				if strings.HasPrefix(entry.Name(), prefix) {
					found = append(found, filepath.Join(dir, entry.Name()))
				}
			}
		}
	}
	return found
}

// NewExternalProvider starts the task-server executable and connects its
// stdio as a JSON-RPC transport.
func NewExternalProvider(ctx context.Context, executable string) (*ExternalProvider, error) {
	cmd := exec.CommandContext(ctx, executable)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, direrr.Task("failed to open external task provider stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, direrr.Task("failed to open external task provider stdout", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, direrr.Task("failed to start external task provider "+executable, err)
	}

	p := &ExternalProvider{
		cmd:     cmd,
		stdin:   bufio.NewWriter(stdin),
		pending: make(map[int]chan rpcResponse),
	}
	go p.readLoop(stdout)
	return p, nil
}

func (p *ExternalProvider) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var resp rpcResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue
		}
		p.mu.Lock()
		ch, ok := p.pending[resp.ID]
		if ok {
			delete(p.pending, resp.ID)
		}
		p.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (p *ExternalProvider) call(method string, params any) (json.RawMessage, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	ch := make(chan rpcResponse, 1)
	p.pending[id] = ch
	req := rpcRequest{ID: id, Method: method, Params: data}
	line, _ := json.Marshal(req)
	_, werr := p.stdin.Write(append(line, '\n'))
	if werr == nil {
		werr = p.stdin.Flush()
	}
	p.mu.Unlock()
	if werr != nil {
		return nil, werr
	}

	resp := <-ch
	if resp.Error != "" {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return resp.Result, nil
}

// Run implements Provider by delegating to the external server's
// "run_task" RPC method.
func (p *ExternalProvider) Run(ctx context.Context, cfg TaskConfig, outputs map[string]json.RawMessage) (string, string, json.RawMessage, error) {
	result, err := p.call("run_task", map[string]any{
		"name":    cfg.Name,
		"command": cfg.Command,
		"inputs":  cfg.Inputs,
		"outputs": outputs,
	})
	if err != nil {
		return "", "", nil, direrr.Task("external task provider call failed for "+cfg.Name, err)
	}
	return "", "", result, nil
}

// Capabilities asks the external provider which task names it serves,
// via its "list_tasks" RPC method.
func (p *ExternalProvider) Capabilities() ([]string, error) {
	result, err := p.call("list_tasks", nil)
	if err != nil {
		return nil, direrr.Task("failed to list external provider tasks", err)
	}
	var names []string
	if err := json.Unmarshal(result, &names); err != nil {
		return nil, direrr.Task("failed to parse external provider task list", err)
	}
	return names, nil
}

func (p *ExternalProvider) Close() error {
	if p.cmd.Process != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}
