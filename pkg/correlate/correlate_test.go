package correlate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/patmonardo/new-organon-sub002/pkg/kernel"
	"github.com/patmonardo/new-organon-sub002/pkg/taw"
	"github.com/patmonardo/new-organon-sub002/pkg/trace"
)

func rankRequest() kernel.RunRequest {
	return kernel.RunRequest{
		Model:  kernel.ModelRef{ID: "gds.pregel.rank"},
		Input:  map[string]any{"seed": []any{"e1"}},
		Params: map[string]any{"iterations": 10},
	}
}

func TestRequestToAct(t *testing.T) {
	req := rankRequest()
	opts := Options{GoalID: "g1", StepID: "s1", CorrelationID: "c1", Source: "test", Meta: trace.Meta{"loopId": "l1"}}

	act, err := RequestToAct(req, opts)
	require.NoError(t, err)
	require.Equal(t, taw.KindAct, act.Kind)
	require.Equal(t, kernel.ActionRun, act.Payload.Action)
	require.Equal(t, "s1", act.Payload.StepID)
	require.Equal(t, "c1", act.CorrelationID)
	require.Equal(t, req, act.Payload.Input)

	req.Params["iterations"] = 99
	opts.Meta["loopId"] = "changed"
	require.Equal(t, 10, act.Payload.Input.(kernel.RunRequest).Params["iterations"])
	require.Equal(t, "l1", act.Meta["loopId"])

	_, err = RequestToAct(kernel.RunRequest{}, opts)
	require.ErrorIs(t, err, kernel.ErrInvalidRequest)
}

func TestResultToEvent_Projection(t *testing.T) {
	ok := ResultToEvent(kernel.RunResult{OK: true, Output: 1, Error: "ignored"}, Options{GoalID: "g1"})
	require.True(t, ok.Payload.OK)
	require.Equal(t, 1, ok.Payload.Output)
	require.Nil(t, ok.Payload.Error)
	require.NoError(t, ok.Validate())

	failed := ResultToEvent(kernel.RunResult{OK: false, Output: "leak", Error: "boom"}, Options{GoalID: "g1"})
	require.False(t, failed.Payload.OK)
	require.Nil(t, failed.Payload.Output)
	require.Equal(t, "boom", failed.Payload.Error)
	require.NoError(t, failed.Validate())

	bare := ResultToEvent(kernel.RunResult{OK: false}, Options{GoalID: "g1"})
	require.NotNil(t, bare.Payload.Error)
	require.Equal(t, kernel.CodeInternal, bare.Payload.Error.(kernel.Failure).Code)
}

func TestTraceEvents(t *testing.T) {
	res := kernel.Fail(kernel.CodeTransport, "down")

	events := TraceEvents(rankRequest(), res, Options{CorrelationID: "c1", StepID: "s1", Meta: trace.Meta{"note": "x"}})
	require.Len(t, events, 2)
	require.Equal(t, trace.KindKernelRunRequest, events[0].Kind)
	require.Equal(t, trace.KindKernelRunResult, events[1].Kind)
	require.Equal(t, res, events[1].Payload)
	for _, ev := range events {
		require.Equal(t, "c1:s1:kernel.run", ev.Meta["runId"])
		require.Equal(t, "x", ev.Meta["note"])
	}

	events[0].Meta["note"] = "mutated"
	require.Equal(t, "x", events[1].Meta["note"])

	events = TraceEvents(rankRequest(), kernel.OK(1), Options{})
	require.Len(t, events, 2)
	require.Nil(t, events[0].Meta)
}

func TestRunID_Precedence(t *testing.T) {
	require.Equal(t, "c:s:kernel.run", RunID(Options{CorrelationID: "c", StepID: "s"}))
	require.Equal(t, "c:kernel.run", RunID(Options{CorrelationID: "c"}))
	require.Empty(t, RunID(Options{}))
	require.Empty(t, RunID(Options{StepID: "s"}))
	require.Equal(t, "explicit", RunID(Options{RunID: "explicit", CorrelationID: "c", StepID: "s"}))
}
