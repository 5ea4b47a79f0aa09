package evaluator

import (
	"context"
	"sync"
)

// Handle serialises access to the single-threaded foreign evaluator
// behind an exclusive mutex (spec §4.2 "Concurrency": "The evaluator is
// serialised by an exclusive lock; cache lookups proceed without it").
type Handle struct {
	mu  sync.Mutex
	ev  Evaluator
}

func NewHandle(ev Evaluator) *Handle {
	return &Handle{ev: ev}
}

func (h *Handle) Configure(ctx context.Context, settings Settings, primops PrimopRegistry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ev.Configure(ctx, settings, primops)
}

func (h *Handle) Eval(ctx context.Context, attrPath string) (EvalResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ev.Eval(ctx, attrPath)
}

func (h *Handle) Build(ctx context.Context, attrPath string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ev.Build(ctx, attrPath)
}

// Interrupt does not take the lock: it must be deliverable while another
// call is in flight.
func (h *Handle) Interrupt() { h.ev.Interrupt() }

// Swap replaces the underlying evaluator with a fresh instance, used by
// Orchestrator.Invalidate to clear the evaluator's own file-evaluation
// cache on hot-reload (spec §4.2 "invalidate").
func (h *Handle) Swap(ev Evaluator) Evaluator {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.ev
	h.ev = ev
	return old
}
