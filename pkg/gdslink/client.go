package gdslink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/patmonardo/new-organon-sub002/pkg/kernel"
)

// Session is who a client acts as and where.
type Session struct {
	User       User
	DatabaseID string
}

// Client is a typed API over any kernel.Port that serves GDS-Link model ids.
// Failed calls come back as errors wrapping a kernel.Failure.
type Client struct {
	port     kernel.Port
	session  Session
	registry *Registry
}

// NewClient creates a client bound to session.
func NewClient(port kernel.Port, session Session) *Client {
	return &Client{port: port, session: session, registry: DefaultRegistry()}
}

type ListGraphsData struct {
	Entries []GraphEntry `json:"entries"`
}

type GraphMemoryUsageData struct {
	GraphName     string `json:"graphName"`
	Bytes         int64  `json:"bytes"`
	Nodes         int64  `json:"nodes"`
	Relationships int64  `json:"relationships"`
}

type DropGraphsData struct {
	Dropped []GraphEntry `json:"dropped"`
}

type PutGraphData struct {
	GraphName         string `json:"graphName"`
	NodeCount         int64  `json:"nodeCount"`
	RelationshipCount int64  `json:"relationshipCount"`
}

type EvaluateData struct {
	GraphName       string `json:"graphName"`
	OutputGraphName string `json:"outputGraphName,omitempty"`
	Operator        string `json:"operator"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
	Proof           any    `json:"proof,omitempty"`
}

// Snapshot is the graph payload of graph_store.put.
type Snapshot struct {
	Nodes         []int64                `json:"nodes"`
	Relationships []SnapshotRelationship `json:"relationships,omitempty"`
}

type SnapshotRelationship struct {
	Type   string `json:"type"`
	Source int64  `json:"source"`
	Target int64  `json:"target"`
}

// EvaluateArgs are the inputs of form_eval.evaluate.
type EvaluateArgs struct {
	GraphName       string
	OutputGraphName string
	Program         any
	Artifacts       map[string]any
}

// Call validates and sends a raw call for (facade, op), returning the
// response data undecoded.
func (c *Client) Call(ctx context.Context, facade, op string, args map[string]any) (any, error) {
	obj := Call{
		Kind:       FormKindApplication,
		Facade:     facade,
		Op:         op,
		User:       c.session.User,
		DatabaseID: c.session.DatabaseID,
		Args:       args,
	}.Fields()

	call, err := c.registry.Validate(obj)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", OperationID(facade, op), err)
	}
	res := c.port.Run(ctx, kernel.RunRequest{
		Model: kernel.ModelRef{ID: call.OperationID(), Kind: "gds"},
		Input: call,
	})
	if !res.OK {
		return nil, fmt.Errorf("%s: %w", call.OperationID(), failureOf(res))
	}
	return res.Output, nil
}

func (c *Client) ListGraphs(ctx context.Context) (ListGraphsData, error) {
	var out ListGraphsData
	err := c.decode(ctx, FacadeGraphStoreCatalog, "list_graphs", nil, &out)
	return out, err
}

func (c *Client) GraphMemoryUsage(ctx context.Context, graphName string) (GraphMemoryUsageData, error) {
	var out GraphMemoryUsageData
	err := c.decode(ctx, FacadeGraphStoreCatalog, "graph_memory_usage", map[string]any{"graphName": graphName}, &out)
	return out, err
}

func (c *Client) DropGraph(ctx context.Context, graphName string, failIfMissing bool) (DropGraphsData, error) {
	var out DropGraphsData
	err := c.decode(ctx, FacadeGraphStoreCatalog, "drop_graph", map[string]any{
		"graphName":     graphName,
		"failIfMissing": failIfMissing,
	}, &out)
	return out, err
}

func (c *Client) DropGraphs(ctx context.Context, graphNames []string, failIfMissing bool) (DropGraphsData, error) {
	var out DropGraphsData
	err := c.decode(ctx, FacadeGraphStoreCatalog, "drop_graphs", map[string]any{
		"graphNames":    graphNames,
		"failIfMissing": failIfMissing,
	}, &out)
	return out, err
}

func (c *Client) PutGraph(ctx context.Context, graphName string, snapshot Snapshot) (PutGraphData, error) {
	var out PutGraphData
	err := c.decode(ctx, FacadeGraphStore, "put", map[string]any{
		"graphName": graphName,
		"snapshot":  snapshot,
	}, &out)
	return out, err
}

func (c *Client) Evaluate(ctx context.Context, args EvaluateArgs) (EvaluateData, error) {
	fields := map[string]any{
		"graphName": args.GraphName,
		"program":   args.Program,
	}
	if args.OutputGraphName != "" {
		fields["outputGraphName"] = args.OutputGraphName
	}
	if args.Artifacts != nil {
		fields["artifacts"] = args.Artifacts
	}
	var out EvaluateData
	err := c.decode(ctx, FacadeFormEval, "evaluate", fields, &out)
	return out, err
}

// Algorithm runs an algorithms facade op in mode; config carries the
// algorithm parameters verbatim.
func (c *Client) Algorithm(ctx context.Context, op, graphName, mode string, config map[string]any) (any, error) {
	fields := make(map[string]any, len(config)+2)
	for k, v := range config {
		fields[k] = v
	}
	fields["graphName"] = graphName
	if mode != "" {
		fields["mode"] = mode
	}
	return c.Call(ctx, FacadeAlgorithms, op, fields)
}

type validatable interface {
	validate() error
}

func (c *Client) decode(ctx context.Context, facade, op string, args map[string]any, out validatable) error {
	data, err := c.Call(ctx, facade, op, args)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%s: re-encode data: %w", OperationID(facade, op), err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", OperationID(facade, op), err)
	}
	if err := out.validate(); err != nil {
		return fmt.Errorf("%s: %w", OperationID(facade, op), err)
	}
	return nil
}

func (e GraphEntry) validate() error {
	if e.Name == "" {
		return fmt.Errorf("catalog entry without name")
	}
	if e.NodeCount < 0 || e.RelationshipCount < 0 {
		return fmt.Errorf("catalog entry %q has negative counts", e.Name)
	}
	return nil
}

func (d *ListGraphsData) validate() error {
	for _, e := range d.Entries {
		if err := e.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (d *DropGraphsData) validate() error {
	for _, e := range d.Dropped {
		if err := e.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (d *GraphMemoryUsageData) validate() error {
	if d.GraphName == "" {
		return fmt.Errorf("memory usage without graphName")
	}
	if d.Bytes < 0 || d.Nodes < 0 || d.Relationships < 0 {
		return fmt.Errorf("memory usage for %q has negative values", d.GraphName)
	}
	return nil
}

func (d *PutGraphData) validate() error {
	return GraphEntry{Name: d.GraphName, NodeCount: d.NodeCount, RelationshipCount: d.RelationshipCount}.validate()
}

func (d *EvaluateData) validate() error {
	if d.GraphName == "" {
		return fmt.Errorf("evaluation without graphName")
	}
	return nil
}

func failureOf(res kernel.RunResult) kernel.Failure {
	if f, ok := res.Error.(kernel.Failure); ok {
		return f
	}
	return kernel.Failure{Code: res.Code(), Message: res.Message(), Detail: res.Error}
}
