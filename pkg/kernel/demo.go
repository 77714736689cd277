package kernel

import (
	"context"
	"sort"
	"sync"
)

// DemoPort answers from canned outputs keyed by model id. It performs no
// I/O and is meant for tests, demos and offline fixtures.
type DemoPort struct {
	mu      sync.RWMutex
	outputs map[string]any
	calls   []RunRequest
}

// NewDemoPort creates a demo port seeded with outputs.
func NewDemoPort(outputs map[string]any) *DemoPort {
	p := &DemoPort{outputs: make(map[string]any, len(outputs))}
	for id, out := range outputs {
		p.outputs[id] = out
	}
	return p
}

// Set registers or replaces the canned output for a model id.
func (p *DemoPort) Set(modelID string, output any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outputs[modelID] = output
}

// Run returns the canned output for req.Model.ID, or UNKNOWN_MODEL.
func (p *DemoPort) Run(ctx context.Context, req RunRequest) RunResult {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	out, ok := p.outputs[req.Model.ID]
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return FailWith(CodeTimeout, err)
	}
	if !ok {
		return Fail(CodeUnknownModel, "no canned output for model %q", req.Model.ID)
	}
	return OK(cloneValue(out))
}

// cloneValue deep-copies the JSON-shaped parts of v so a caller mutating
// one run's output cannot change what the next run returns.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

// Calls returns the requests seen so far, in arrival order.
func (p *DemoPort) Calls() []RunRequest {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]RunRequest, len(p.calls))
	copy(out, p.calls)
	return out
}

// Models returns the registered model ids, sorted.
func (p *DemoPort) Models() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.outputs))
	for id := range p.outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
