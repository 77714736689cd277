// Package correlate derives the loop events and trace of one kernel
// invocation. Every function here is pure.
package correlate

import (
	"fmt"

	"github.com/patmonardo/new-organon-sub002/pkg/kernel"
	"github.com/patmonardo/new-organon-sub002/pkg/taw"
	"github.com/patmonardo/new-organon-sub002/pkg/trace"
)

// Options carry the caller's correlation data for one invocation.
type Options struct {
	GoalID        string
	StepID        string
	CorrelationID string
	Source        string
	Meta          trace.Meta
	// RunID, when set, overrides the derived run id.
	RunID string
}

func (o Options) base() taw.Base {
	return taw.Base{Meta: o.Meta.Clone(), CorrelationID: o.CorrelationID, Source: o.Source}
}

// RequestToAct validates req and wraps it as the taw.act that precedes the
// kernel call. An invalid request is rejected, never coerced.
func RequestToAct(req kernel.RunRequest, opts Options) (taw.ActEvent, error) {
	if err := req.Validate(); err != nil {
		return taw.ActEvent{}, err
	}
	ev := taw.ActEvent{
		Kind: taw.KindAct,
		Payload: taw.ActPayload{
			GoalID: opts.GoalID,
			StepID: opts.StepID,
			Action: kernel.ActionRun,
			Input:  cloneRequest(req),
		},
		Base: opts.base(),
	}
	return ev, ev.Validate()
}

// ResultToEvent projects res onto a taw.result. Output is kept only when ok,
// error only when not; a failure without detail gets a generic one so the
// event always says why it failed.
func ResultToEvent(res kernel.RunResult, opts Options) taw.ResultEvent {
	payload := taw.ResultPayload{GoalID: opts.GoalID, StepID: opts.StepID, OK: res.OK}
	if res.OK {
		payload.Output = res.Output
	} else {
		payload.Error = res.Error
		if payload.Error == nil {
			payload.Error = kernel.Failure{Code: kernel.CodeInternal, Message: "kernel run failed without error detail"}
		}
	}
	return taw.ResultEvent{Kind: taw.KindResult, Payload: payload, Base: opts.base()}
}

// TraceEvents returns exactly [kernel.run.request, kernel.run.result], each
// carrying the caller meta and, when known, the run id.
func TraceEvents(req kernel.RunRequest, res kernel.RunResult, opts Options) []trace.Event {
	meta := opts.Meta.Clone()
	if runID := RunID(opts); runID != "" {
		meta = meta.With("runId", runID)
	}
	return []trace.Event{
		{Kind: trace.KindKernelRunRequest, Payload: cloneRequest(req), Meta: meta.Clone()},
		{Kind: trace.KindKernelRunResult, Payload: res, Meta: meta.Clone()},
	}
}

// RunID resolves the run id: an explicit RunID wins, then
// "<correlation>:<step>:kernel.run", then "<correlation>:kernel.run". Without
// a correlation id there is none.
func RunID(opts Options) string {
	switch {
	case opts.RunID != "":
		return opts.RunID
	case opts.CorrelationID != "" && opts.StepID != "":
		return fmt.Sprintf("%s:%s:%s", opts.CorrelationID, opts.StepID, kernel.ActionRun)
	case opts.CorrelationID != "":
		return fmt.Sprintf("%s:%s", opts.CorrelationID, kernel.ActionRun)
	default:
		return ""
	}
}

func cloneRequest(req kernel.RunRequest) kernel.RunRequest {
	if req.Params != nil {
		params := make(map[string]any, len(req.Params))
		for k, v := range req.Params {
			params[k] = v
		}
		req.Params = params
	}
	return req
}
