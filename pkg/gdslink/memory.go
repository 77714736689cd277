package gdslink

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// GraphEntry is one graph in a kernel catalog.
type GraphEntry struct {
	Name              string `json:"name" yaml:"name"`
	NodeCount         int64  `json:"nodeCount" yaml:"nodeCount"`
	RelationshipCount int64  `json:"relationshipCount" yaml:"relationshipCount"`
}

// MemoryKernel is an in-process stand-in for the GDS boundary. It keeps a
// graph catalog in memory and answers the catalog, graph store and form
// evaluation calls it understands. Other ops of those facades are
// UNSUPPORTED_OP; every other facade, algorithms included, is
// UNSUPPORTED_FACADE.
// MemoryKernel.Invoke satisfies InvokeFunc.
type MemoryKernel struct {
	mu     sync.RWMutex
	graphs map[string]GraphEntry
}

// NewMemoryKernel creates a kernel whose catalog holds graphs.
func NewMemoryKernel(graphs ...GraphEntry) *MemoryKernel {
	k := &MemoryKernel{graphs: make(map[string]GraphEntry, len(graphs))}
	for _, g := range graphs {
		k.graphs[g.Name] = g
	}
	return k
}

// Invoke handles one request JSON. Only an undecodable request is an error;
// kernel-level failures are ok=false envelopes.
func (k *MemoryKernel) Invoke(ctx context.Context, request string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var req map[string]any
	if err := json.Unmarshal([]byte(request), &req); err != nil {
		return "", fmt.Errorf("invalid JSON request: %w", err)
	}
	out, err := json.Marshal(k.Handle(req))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Handle dispatches a decoded request by facade and op.
func (k *MemoryKernel) Handle(req map[string]any) Response {
	op, _ := req["op"].(string)
	facade, _ := req["facade"].(string)
	switch facade {
	case FacadeGraphStoreCatalog:
		return k.handleCatalog(op, req)
	case FacadeGraphStore:
		if op == "put" {
			return k.put(op, req)
		}
		return ErrorResponse(op, "UNSUPPORTED_OP", "Unsupported graph_store operation.")
	case FacadeFormEval:
		if op == "evaluate" {
			return k.evaluate(op, req)
		}
		return ErrorResponse(op, "UNSUPPORTED_OP", "Unsupported form_eval operation.")
	case "":
		if op == "ping" {
			return OKResponse(op, map[string]any{"nonce": req["nonce"]})
		}
		return ErrorResponse(op, "UNSUPPORTED_OP", "Unsupported operation.")
	default:
		return ErrorResponse(op, "UNSUPPORTED_FACADE", "Unsupported facade.")
	}
}

// Graphs returns the catalog sorted by name.
func (k *MemoryKernel) Graphs() []GraphEntry {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]GraphEntry, 0, len(k.graphs))
	for _, g := range k.graphs {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (k *MemoryKernel) handleCatalog(op string, req map[string]any) Response {
	switch op {
	case "list_graphs":
		return OKResponse(op, map[string]any{"entries": k.Graphs()})

	case "graph_memory_usage":
		name, ok := req["graphName"].(string)
		if !ok {
			return ErrorResponse(op, "INVALID_REQUEST", "Missing required field: graphName")
		}
		g, found := k.graph(name)
		if !found {
			return ErrorResponse(op, "NOT_FOUND", "Graph not found")
		}
		return OKResponse(op, map[string]any{
			"graphName":     name,
			"bytes":         g.NodeCount*16 + g.RelationshipCount*32,
			"nodes":         g.NodeCount,
			"relationships": g.RelationshipCount,
		})

	case "drop_graph":
		name, ok := req["graphName"].(string)
		if !ok {
			return ErrorResponse(op, "INVALID_REQUEST", "Missing required field: graphName")
		}
		return k.drop(op, []string{name}, req["failIfMissing"] == true)

	case "drop_graphs":
		var graphNames []string
		list, _ := req["graphNames"].([]any)
		for _, v := range list {
			if s, ok := v.(string); ok {
				graphNames = append(graphNames, s)
			}
		}
		return k.drop(op, graphNames, req["failIfMissing"] == true)

	default:
		return ErrorResponse(op, "UNSUPPORTED_OP", "Unsupported graph_store_catalog operation.")
	}
}

func (k *MemoryKernel) graph(name string) (GraphEntry, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	g, ok := k.graphs[name]
	return g, ok
}

func (k *MemoryKernel) drop(op string, graphNames []string, failIfMissing bool) Response {
	k.mu.Lock()
	defer k.mu.Unlock()

	if failIfMissing {
		for _, name := range graphNames {
			if _, ok := k.graphs[name]; !ok {
				return ErrorResponse(op, "NOT_FOUND", fmt.Sprintf("Graph %q not found", name))
			}
		}
	}
	dropped := []GraphEntry{}
	for _, name := range graphNames {
		if g, ok := k.graphs[name]; ok {
			dropped = append(dropped, g)
			delete(k.graphs, name)
		}
	}
	return OKResponse(op, map[string]any{"dropped": dropped})
}

func (k *MemoryKernel) put(op string, req map[string]any) Response {
	name, ok := req["graphName"].(string)
	if !ok {
		return ErrorResponse(op, "INVALID_REQUEST", "Missing required field: graphName")
	}
	snapshot, ok := req["snapshot"].(map[string]any)
	if !ok {
		return ErrorResponse(op, "INVALID_REQUEST", "Missing required field: snapshot")
	}

	nodes, _ := snapshot["nodes"].([]any)
	if len(nodes) == 0 {
		return ErrorResponse(op, "INVALID_REQUEST", "snapshot.nodes must be a non-empty integer array")
	}
	ids := make(map[int64]bool, len(nodes))
	for _, n := range nodes {
		f, ok := n.(float64)
		if !ok || f != float64(int64(f)) {
			return ErrorResponse(op, "INVALID_REQUEST", "snapshot.nodes must be a non-empty integer array")
		}
		ids[int64(f)] = true
	}

	rels, _ := snapshot["relationships"].([]any)
	for _, r := range rels {
		rel, _ := r.(map[string]any)
		if t, _ := rel["type"].(string); t == "" {
			return ErrorResponse(op, "INVALID_REQUEST", "snapshot.relationships[*].type must be a non-empty string")
		}
		for _, end := range []string{"source", "target"} {
			f, ok := rel[end].(float64)
			if !ok {
				return ErrorResponse(op, "INVALID_REQUEST", fmt.Sprintf("snapshot.relationships[*].%s must be an integer", end))
			}
			if !ids[int64(f)] {
				return ErrorResponse(op, "INVALID_REQUEST", fmt.Sprintf("snapshot.relationships[*].%s not found in snapshot.nodes", end))
			}
		}
	}

	entry := GraphEntry{Name: name, NodeCount: int64(len(ids)), RelationshipCount: int64(len(rels))}
	k.mu.Lock()
	k.graphs[name] = entry
	k.mu.Unlock()

	return OKResponse(op, map[string]any{
		"graphName":         name,
		"nodeCount":         entry.NodeCount,
		"relationshipCount": entry.RelationshipCount,
	})
}

func (k *MemoryKernel) evaluate(op string, req map[string]any) Response {
	name, ok := req["graphName"].(string)
	if !ok {
		return ErrorResponse(op, "INVALID_REQUEST", "Missing required field: graphName")
	}
	if _, found := k.graph(name); !found {
		return ErrorResponse(op, "FORM_EVAL_ERROR", fmt.Sprintf("Graph %q not found", name))
	}

	var patterns []string
	program, _ := req["program"].(map[string]any)
	morph, _ := program["morph"].(map[string]any)
	list, _ := morph["patterns"].([]any)
	for _, p := range list {
		if s, ok := p.(string); ok {
			patterns = append(patterns, s)
		}
	}
	if len(patterns) == 0 {
		return ErrorResponse(op, "INVALID_REQUEST", "program.morph.patterns must be a non-empty string array")
	}

	data := map[string]any{
		"graphName":         name,
		"operator":          patterns[len(patterns)-1],
		"execution_time_ms": 0,
		"proof":             map[string]any{"patterns": patterns},
	}
	if out, ok := req["outputGraphName"].(string); ok {
		data["outputGraphName"] = out
	}
	return OKResponse(op, data)
}
