package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// FakeEvaluator is a minimal in-process stand-in for the foreign
// evaluator, sufficient to exercise the orchestrator's caching and replay
// logic in tests without a real expression-language backend (spec §1
// Non-goals). Attributes are registered ahead of time and echoed back as
// JSON; Build returns a deterministic synthetic store path.
type FakeEvaluator struct {
	mu         sync.Mutex
	configured bool
	settings   Settings
	primops    PrimopRegistry
	attrs      map[string]any
	evalCount  map[string]int
	interrupted bool
	closed     bool
}

func NewFakeEvaluator(attrs map[string]any) *FakeEvaluator {
	return &FakeEvaluator{attrs: attrs, evalCount: map[string]int{}}
}

func (f *FakeEvaluator) Configure(ctx context.Context, settings Settings, primops PrimopRegistry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configured = true
	f.settings = settings
	f.primops = primops
	return nil
}

// EvalCount reports how many times Eval actually ran for an attribute,
// letting tests assert cache hits avoided a redundant evaluator call.
func (f *FakeEvaluator) EvalCount(attrPath string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.evalCount[attrPath]
}

func (f *FakeEvaluator) Eval(ctx context.Context, attrPath string) (EvalResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evalCount[attrPath]++

	val, ok := f.attrs[attrPath]
	if !ok {
		return EvalResult{}, fmt.Errorf("attribute not found: %s", attrPath)
	}
	data, err := json.Marshal(val)
	if err != nil {
		return EvalResult{}, err
	}
	return EvalResult{JSONOutput: string(data)}, nil
}

func (f *FakeEvaluator) Build(ctx context.Context, attrPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evalCount[attrPath]++
	if _, ok := f.attrs[attrPath]; !ok {
		return "", fmt.Errorf("attribute not found: %s", attrPath)
	}
	return fmt.Sprintf("/nix/store/fake-%s", attrPath), nil
}

func (f *FakeEvaluator) Interrupt() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupted = true
}

func (f *FakeEvaluator) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
