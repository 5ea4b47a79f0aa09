package evaluator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"

	"github.com/devenv-go/devenv/internal/direrr"
)

// SubprocessEvaluator drives an out-of-process expression evaluator over
// line-delimited JSON-RPC on its stdio pipes — the same framing idiom
// tasks.ExternalProvider uses for external task servers (spec §1
// Non-goals: "we do not specify how the expression evaluator parses or
// evaluates"; this is only the transport around an opaque foreign
// binary, not an evaluator implementation).
type SubprocessEvaluator struct {
	cmd *exec.Cmd

	mu      sync.Mutex
	stdin   *bufio.Writer
	nextID  int
	pending map[int]chan rpcResponse
}

type rpcRequest struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// NewSubprocessEvaluator starts executable with args and connects its
// stdio as the JSON-RPC transport. The process is not sent any request
// until Configure is called.
func NewSubprocessEvaluator(executable string, args ...string) (*SubprocessEvaluator, error) {
	cmd := exec.Command(executable, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, direrr.Eval("failed to open evaluator stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, direrr.Eval("failed to open evaluator stdout", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, direrr.Eval("failed to start evaluator subprocess "+executable, err)
	}

	e := &SubprocessEvaluator{
		cmd:     cmd,
		stdin:   bufio.NewWriter(stdin),
		pending: make(map[int]chan rpcResponse),
	}
	go e.readLoop(stdout)
	return e, nil
}

func (e *SubprocessEvaluator) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var resp rpcResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue
		}
		e.mu.Lock()
		ch, ok := e.pending[resp.ID]
		if ok {
			delete(e.pending, resp.ID)
		}
		e.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (e *SubprocessEvaluator) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	ch := make(chan rpcResponse, 1)
	e.pending[id] = ch
	line, err := json.Marshal(rpcRequest{ID: id, Method: method, Params: params})
	if err == nil {
		_, err = e.stdin.Write(append(line, '\n'))
	}
	if err == nil {
		err = e.stdin.Flush()
	}
	e.mu.Unlock()
	if err != nil {
		return nil, direrr.Eval("failed to write evaluator request", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, direrr.Eval(fmt.Sprintf("evaluator returned an error for %s", method), fmt.Errorf("%s", resp.Error))
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *SubprocessEvaluator) Configure(ctx context.Context, settings Settings, primops PrimopRegistry) error {
	_, err := e.call(ctx, "configure", map[string]any{
		"projectRoot":  settings.ProjectRoot,
		"envOverrides": settings.EnvOverrides,
		"offline":      settings.Offline,
		"pureEval":     settings.PureEval,
		"experimental": settings.Experimental,
	})
	return err
}

func (e *SubprocessEvaluator) Eval(ctx context.Context, attrPath string) (EvalResult, error) {
	result, err := e.call(ctx, "eval", map[string]any{"attrPath": attrPath})
	if err != nil {
		return EvalResult{}, err
	}
	var out EvalResult
	if err := json.Unmarshal(result, &out); err != nil {
		return EvalResult{}, direrr.Eval("failed to parse evaluator response", err)
	}
	return out, nil
}

func (e *SubprocessEvaluator) Build(ctx context.Context, attrPath string) (string, error) {
	result, err := e.call(ctx, "build", map[string]any{"attrPath": attrPath})
	if err != nil {
		return "", err
	}
	var path string
	if err := json.Unmarshal(result, &path); err != nil {
		return "", direrr.Eval("failed to parse evaluator build response", err)
	}
	return path, nil
}

// Interrupt sends SIGINT to the subprocess rather than going through the
// RPC channel, since the whole point is to interrupt an in-flight call.
func (e *SubprocessEvaluator) Interrupt() {
	if e.cmd.Process != nil {
		_ = e.cmd.Process.Signal(syscall.SIGINT)
	}
}

func (e *SubprocessEvaluator) Close() error {
	_, _ = e.call(context.Background(), "close", nil)
	if e.cmd.Process != nil {
		return e.cmd.Process.Kill()
	}
	return nil
}
