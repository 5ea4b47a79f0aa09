package evalcache

import (
	"encoding/json"
	"fmt"
	"sync"
)

// PortAllocator is the process-wide, thread-safe resource manager that
// backs the "allocate_port" replayable side effect (spec §4.2 "Resource
// replay", §5 "Port allocator").
type PortAllocator struct {
	mu        sync.Mutex
	allocated map[string]int // "process/port_name" -> allocated port
}

func NewPortAllocator() *PortAllocator {
	return &PortAllocator{allocated: map[string]int{}}
}

type allocatePortParams struct {
	Process  string `json:"process"`
	PortName string `json:"port_name"`
	BasePort int    `json:"base_port"`
}

// Allocate reserves a port for (process, port_name), starting at basePort
// and probing upward until a free slot is found. The result is kept in
// the allocator's own map, so the same pair gets the same port for the
// allocator's lifetime; the orchestrator does not write allocations into
// any cache record.
func (p *PortAllocator) Allocate(process, portName string, basePort int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := process + "/" + portName
	if existing, ok := p.allocated[key]; ok {
		return existing, nil
	}
	used := map[int]bool{}
	for _, port := range p.allocated {
		used[port] = true
	}
	port := basePort
	for used[port] {
		port++
	}
	p.allocated[key] = port
	return port, nil
}

// Replay re-applies one recorded resource acquisition against the live
// allocator and confirms it still reproduces the cached result; mismatch
// means the record must be discarded and the evaluation recomputed (spec
// §4.2 "Resource replay").
func (p *PortAllocator) Replay(alloc ResourceAllocation) error {
	switch alloc.Kind {
	case "allocate_port":
		var params allocatePortParams
		if err := json.Unmarshal(alloc.Params, &params); err != nil {
			return fmt.Errorf("invalid allocate_port params: %w", err)
		}
		var wantPort int
		if err := json.Unmarshal(alloc.Result, &wantPort); err != nil {
			return fmt.Errorf("invalid allocate_port result: %w", err)
		}
		got, err := p.Allocate(params.Process, params.PortName, params.BasePort)
		if err != nil {
			return err
		}
		if got != wantPort {
			return fmt.Errorf("port %s/%s reallocated to %d, wanted replayed value %d", params.Process, params.PortName, got, wantPort)
		}
		return nil
	default:
		return fmt.Errorf("unknown resource kind %q", alloc.Kind)
	}
}

// ReplayAll replays every recorded allocation in order; the first failure
// aborts the replay so the caller can discard the whole record.
func ReplayAll(p *PortAllocator, allocations []ResourceAllocation) error {
	for _, alloc := range allocations {
		if err := p.Replay(alloc); err != nil {
			return err
		}
	}
	return nil
}

// RecordAllocation builds a ResourceAllocation entry for persistence into
// the currently-evaluating cache record.
func RecordAllocation(process, portName string, basePort, allocated int) ResourceAllocation {
	params, _ := json.Marshal(allocatePortParams{Process: process, PortName: portName, BasePort: basePort})
	result, _ := json.Marshal(allocated)
	return ResourceAllocation{Kind: "allocate_port", Params: params, Result: result}
}
