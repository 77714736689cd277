package gdslink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/patmonardo/new-organon-sub002/pkg/kernel"
)

func aliceInput() map[string]any {
	return map[string]any{"user": map[string]any{"username": "alice"}, "databaseId": "db1"}
}

func TestOperationID(t *testing.T) {
	c := Call{Facade: FacadeGraphStoreCatalog, Op: "list_graphs"}
	require.Equal(t, "gds.graph_store_catalog.list_graphs", c.OperationID())
	require.Equal(t, c.OperationID(), c.OperationID())
}

func TestParseModelID(t *testing.T) {
	facade, op, err := ParseModelID("gds.form_eval.evaluate")
	require.NoError(t, err)
	require.Equal(t, "form_eval", facade)
	require.Equal(t, "evaluate", op)

	for _, bad := range []string{"", "gds", "gds.x", "gds..op", "neo.x.y", "gds.a.b.c", "gds.a."} {
		_, _, err := ParseModelID(bad)
		var f kernel.Failure
		require.ErrorAs(t, err, &f, bad)
		require.Equal(t, kernel.CodeProtocolMismatch, f.Code)
		require.Contains(t, f.Message, "gds.<facade>.<op>")
	}
}

func TestRegistry_FromModelID(t *testing.T) {
	call, err := DefaultRegistry().FromRequest(kernel.RunRequest{
		Model: kernel.ModelRef{ID: "gds.graph_store_catalog.drop_graph"},
		Input: map[string]any{
			"user":       map[string]any{"username": "alice"},
			"databaseId": "db1",
			"graphName":  "g1",
			"unexpected": "stripped",
		},
	})
	require.NoError(t, err)
	require.Equal(t, "drop_graph", call.Op)
	require.Equal(t, User{Username: "alice", IsAdmin: false}, call.User)
	require.Equal(t, map[string]any{"graphName": "g1", "failIfMissing": false}, call.Args)
}

func TestRegistry_InputCarriesFacadeAndOp(t *testing.T) {
	input := aliceInput()
	input["facade"] = FacadeGraphStoreCatalog
	input["op"] = "drop_graphs"

	// model.id is ignored when the input names its own operation.
	call, err := DefaultRegistry().FromRequest(kernel.RunRequest{Model: kernel.ModelRef{ID: "anything"}, Input: input})
	require.NoError(t, err)
	require.Equal(t, "gds.graph_store_catalog.drop_graphs", call.OperationID())
	require.Equal(t, []any{}, call.Args["graphNames"])
}

func TestRegistry_ModelIDWinsOverInputOp(t *testing.T) {
	input := aliceInput()
	input["op"] = "drop_graph"

	call, err := DefaultRegistry().FromRequest(kernel.RunRequest{
		Model: kernel.ModelRef{ID: "gds.graph_store_catalog.list_graphs"},
		Input: input,
	})
	require.NoError(t, err)
	require.Equal(t, "list_graphs", call.Op)
}

func TestRegistry_Failures(t *testing.T) {
	reg := DefaultRegistry()
	cases := []struct {
		name string
		req  kernel.RunRequest
		code string
		msg  string
	}{
		{"bad model id", kernel.RunRequest{Model: kernel.ModelRef{ID: "gds.pregel"}, Input: aliceInput()}, kernel.CodeProtocolMismatch, "gds.<facade>.<op>"},
		{"absent input", kernel.RunRequest{Model: kernel.ModelRef{ID: "gds.graph_store_catalog.list_graphs"}}, kernel.CodeInvalidRequest, "must be a JSON object"},
		{"array input", kernel.RunRequest{Model: kernel.ModelRef{ID: "gds.graph_store_catalog.list_graphs"}, Input: []string{"x"}}, kernel.CodeInvalidRequest, "an array"},
		{"unknown op", kernel.RunRequest{Model: kernel.ModelRef{ID: "gds.pregel.rank"}, Input: aliceInput()}, kernel.CodeProtocolMismatch, "unknown GDS call gds.pregel.rank"},
		{"missing field", kernel.RunRequest{Model: kernel.ModelRef{ID: "gds.graph_store_catalog.drop_graph"}, Input: aliceInput()}, kernel.CodeProtocolMismatch, "does not match its call shape"},
		{"missing user", kernel.RunRequest{Model: kernel.ModelRef{ID: "gds.graph_store_catalog.list_graphs"}, Input: map[string]any{"databaseId": "db1"}}, kernel.CodeProtocolMismatch, "call shape"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.FromRequest(tc.req)
			var f kernel.Failure
			require.ErrorAs(t, err, &f)
			require.Equal(t, tc.code, f.Code)
			require.Contains(t, f.Message, tc.msg)
		})
	}
}

func TestRegistry_DefaultsAreNotShared(t *testing.T) {
	reg := DefaultRegistry()
	input := aliceInput()
	input["graphName"] = "g1"
	input["program"] = map[string]any{"morph": map[string]any{"patterns": []any{"shine"}}}
	req := kernel.RunRequest{Model: kernel.ModelRef{ID: "gds.form_eval.evaluate"}, Input: input}

	a, err := reg.FromRequest(req)
	require.NoError(t, err)
	a.Args["artifacts"].(map[string]any)["x"] = 1

	b, err := reg.FromRequest(req)
	require.NoError(t, err)
	require.Empty(t, b.Args["artifacts"])
}

func TestRegistry_AlgorithmsKeepConfig(t *testing.T) {
	input := aliceInput()
	input["graphName"] = "g1"
	input["nodeProperties"] = []string{"embedding"}
	input["similarityCutoff"] = 0.5

	call, err := DefaultRegistry().FromRequest(kernel.RunRequest{Model: kernel.ModelRef{ID: "gds.algorithms.knn"}, Input: input})
	require.NoError(t, err)
	require.Equal(t, ModeStream, call.Args["mode"])
	require.Equal(t, 0.5, call.Args["similarityCutoff"])

	input["mode"] = "explode"
	_, err = DefaultRegistry().FromRequest(kernel.RunRequest{Model: kernel.ModelRef{ID: "gds.algorithms.knn"}, Input: input})
	require.Error(t, err)
}

func TestRegistry_KnnDefaults(t *testing.T) {
	for _, op := range []string{"knn", "filtered_knn"} {
		t.Run(op, func(t *testing.T) {
			input := aliceInput()
			input["graphName"] = "g1"

			call, err := DefaultRegistry().FromRequest(kernel.RunRequest{Model: kernel.ModelRef{ID: OperationID(FacadeAlgorithms, op)}, Input: input})
			require.NoError(t, err)
			require.Equal(t, []any{}, call.Args["nodeProperties"])
			require.EqualValues(t, 10, call.Args["topK"])

			input["nodeProperties"] = []string{}
			input["topK"] = 3
			call, err = DefaultRegistry().FromRequest(kernel.RunRequest{Model: kernel.ModelRef{ID: OperationID(FacadeAlgorithms, op)}, Input: input})
			require.NoError(t, err)
			require.Equal(t, []any{}, call.Args["nodeProperties"])
			require.EqualValues(t, 3, call.Args["topK"])
		})
	}
}

func TestRegistry_Register(t *testing.T) {
	reg, err := NewRegistry(Variant{Facade: "pregel", Op: "rank", Fields: []Field{{Name: "seed", Type: FieldNames, Required: true}}})
	require.NoError(t, err)
	require.Equal(t, []string{"gds.pregel.rank"}, reg.OperationIDs())
	require.Error(t, reg.Register(Variant{Facade: "pregel", Op: "rank"}))

	input := aliceInput()
	input["seed"] = []any{"e1"}
	call, err := reg.FromRequest(kernel.RunRequest{Model: kernel.ModelRef{ID: "gds.pregel.rank"}, Input: input})
	require.NoError(t, err)
	require.Equal(t, []any{"e1"}, call.Args["seed"])
}

func TestCall_JSONRoundTrip(t *testing.T) {
	call := Call{
		Kind:       FormKindApplication,
		Facade:     FacadeGraphStoreCatalog,
		Op:         "graph_memory_usage",
		User:       User{Username: "alice", IsAdmin: true},
		DatabaseID: "db1",
		Args:       map[string]any{"graphName": "g1"},
	}
	raw, err := json.Marshal(call)
	require.NoError(t, err)

	var back Call
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Equal(t, call, back)

	require.Error(t, json.Unmarshal([]byte(`{"facade":"graph_store_catalog","op":"nope"}`), &back))
}

func TestPort_WireCallScenario(t *testing.T) {
	var sent string
	port := NewPort(func(_ context.Context, request string) (string, error) {
		sent = request
		return `{"ok":true,"op":"list_graphs","data":{"entries":[{"name":"g1"}]}}`, nil
	})

	res := port.Run(context.Background(), kernel.RunRequest{
		Model: kernel.ModelRef{ID: "gds.graph_store_catalog.list_graphs"},
		Input: aliceInput(),
	})
	require.True(t, res.OK)
	require.Equal(t, map[string]any{"entries": []any{map[string]any{"name": "g1"}}}, res.Output)
	require.Nil(t, res.Error)

	var wire map[string]any
	require.NoError(t, json.Unmarshal([]byte(sent), &wire))
	require.Equal(t, "graph_store_catalog", wire["facade"])
	require.Equal(t, "list_graphs", wire["op"])
	require.Equal(t, map[string]any{"username": "alice", "isAdmin": false}, wire["user"])
	require.Equal(t, `{"databaseId":"db1","facade":"graph_store_catalog","op":"list_graphs","user":{"isAdmin":false,"username":"alice"}}`, sent)
}

func TestPort_Failures(t *testing.T) {
	req := kernel.RunRequest{Model: kernel.ModelRef{ID: "gds.graph_store_catalog.list_graphs"}, Input: aliceInput()}

	boom := NewPort(func(context.Context, string) (string, error) { return "", errors.New("socket closed") })
	res := boom.Run(context.Background(), req)
	require.False(t, res.OK)
	require.Equal(t, kernel.CodeTransport, res.Code())
	require.Contains(t, res.Message(), "socket closed")

	garbage := NewPort(func(context.Context, string) (string, error) { return "not json", nil })
	require.Equal(t, kernel.CodeTransport, garbage.Run(context.Background(), req).Code())

	panicky := NewPort(func(context.Context, string) (string, error) { panic("napi crashed") })
	res = panicky.Run(context.Background(), req)
	require.Equal(t, kernel.CodeTransport, res.Code())
	require.Contains(t, res.Message(), "napi crashed")

	notFound := NewPort(func(context.Context, string) (string, error) {
		return `{"ok":false,"op":"graph_memory_usage","error":{"code":"NOT_FOUND","message":"Graph not found"}}`, nil
	})
	res = notFound.Run(context.Background(), req)
	require.False(t, res.OK)
	require.Nil(t, res.Output)
	require.Equal(t, "NOT_FOUND", res.Code())

	bare := NewPort(func(context.Context, string) (string, error) { return `{"ok":false,"op":"x"}`, nil })
	res = bare.Run(context.Background(), req)
	require.Equal(t, kernel.CodeInternal, res.Code())

	invalid := NewPort(func(context.Context, string) (string, error) {
		t.Fatal("invoke must not be reached")
		return "", nil
	})
	res = invalid.Run(context.Background(), kernel.RunRequest{Model: kernel.ModelRef{ID: "kernel.rank"}, Input: aliceInput()})
	require.Equal(t, kernel.CodeProtocolMismatch, res.Code())
}

func TestPort_ResponseOpNotCrossChecked(t *testing.T) {
	port := NewPort(func(context.Context, string) (string, error) {
		return `{"ok":true,"op":"something_else","data":[]}`, nil
	})
	res := port.Run(context.Background(), kernel.RunRequest{
		Model: kernel.ModelRef{ID: "gds.graph_store_catalog.list_graphs"},
		Input: aliceInput(),
	})
	require.True(t, res.OK)
	require.Equal(t, []any{}, res.Output)
}

func TestMemoryKernel(t *testing.T) {
	mk := NewMemoryKernel(GraphEntry{Name: "g1", NodeCount: 3, RelationshipCount: 2})
	ctx := context.Background()

	out, err := mk.Invoke(ctx, `{"op":"ping","nonce":7}`)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true,"op":"ping","data":{"nonce":7}}`, out)

	_, err = mk.Invoke(ctx, `{`)
	require.Error(t, err)

	resp := mk.Handle(map[string]any{"facade": "graph_store_catalog", "op": "graph_memory_usage", "graphName": "missing"})
	require.False(t, resp.OK)
	require.Equal(t, "NOT_FOUND", resp.Error.(map[string]any)["code"])

	resp = mk.Handle(map[string]any{"facade": "nope", "op": "x"})
	require.Equal(t, "UNSUPPORTED_FACADE", resp.Error.(map[string]any)["code"])

	resp = mk.Handle(map[string]any{"facade": "algorithms", "op": "pagerank", "graphName": "g1"})
	require.False(t, resp.OK)
	require.Equal(t, "UNSUPPORTED_FACADE", resp.Error.(map[string]any)["code"])
}

func TestClient_OverMemoryKernel(t *testing.T) {
	mk := NewMemoryKernel(GraphEntry{Name: "g1", NodeCount: 3, RelationshipCount: 2})
	client := NewClient(NewPort(mk.Invoke), Session{User: User{Username: "alice"}, DatabaseID: "db1"})
	ctx := context.Background()

	graphs, err := client.ListGraphs(ctx)
	require.NoError(t, err)
	require.Equal(t, []GraphEntry{{Name: "g1", NodeCount: 3, RelationshipCount: 2}}, graphs.Entries)

	put, err := client.PutGraph(ctx, "g2", Snapshot{
		Nodes:         []int64{10, 20},
		Relationships: []SnapshotRelationship{{Type: "LINKS_TO", Source: 10, Target: 20}},
	})
	require.NoError(t, err)
	require.Equal(t, PutGraphData{GraphName: "g2", NodeCount: 2, RelationshipCount: 1}, put)

	_, err = client.PutGraph(ctx, "g3", Snapshot{Nodes: []int64{1}, Relationships: []SnapshotRelationship{{Type: "X", Source: 1, Target: 9}}})
	var f kernel.Failure
	require.ErrorAs(t, err, &f)
	require.Equal(t, "INVALID_REQUEST", f.Code)

	usage, err := client.GraphMemoryUsage(ctx, "g2")
	require.NoError(t, err)
	require.Equal(t, int64(2), usage.Nodes)

	eval, err := client.Evaluate(ctx, EvaluateArgs{
		GraphName: "g1",
		Program:   map[string]any{"morph": map[string]any{"patterns": []string{"shine", "reflect"}}},
	})
	require.NoError(t, err)
	require.Equal(t, "reflect", eval.Operator)

	dropped, err := client.DropGraphs(ctx, []string{"g1", "ghost"}, false)
	require.NoError(t, err)
	require.Len(t, dropped.Dropped, 1)

	_, err = client.DropGraph(ctx, "ghost", true)
	require.ErrorAs(t, err, &f)
	require.Equal(t, "NOT_FOUND", f.Code)

	_, err = client.GraphMemoryUsage(ctx, "")
	require.ErrorAs(t, err, &f)
	require.Equal(t, kernel.CodeProtocolMismatch, f.Code)

	_, err = client.Algorithm(ctx, "knn", "g2", ModeStream, map[string]any{"nodeProperties": []string{"p"}})
	require.ErrorAs(t, err, &f)
	require.Equal(t, "UNSUPPORTED_FACADE", f.Code)
}

func TestRedisTransport_Integration(t *testing.T) {
	transport := DialRedis("localhost:6379", "", 0, "organon:test:"+t.Name())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := transport.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	defer func() { _ = transport.Close() }()

	mk := NewMemoryKernel(GraphEntry{Name: "g1", NodeCount: 1})
	done := make(chan error, 1)
	go func() { done <- transport.Serve(ctx, mk.Invoke) }()

	client := NewClient(NewPort(transport.Invoke), Session{User: User{Username: "alice"}, DatabaseID: "db1"})
	graphs, err := client.ListGraphs(ctx)
	require.NoError(t, err)
	require.Equal(t, "g1", graphs.Entries[0].Name)

	cancel()
	require.NoError(t, <-done)
}
