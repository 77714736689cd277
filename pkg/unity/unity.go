// Package unity runs one kernel invocation end to end and gathers
// everything it produced: request, result, the taw act/result pair and
// the trace.
package unity

import (
	"context"
	"errors"
	"log/slog"

	"github.com/patmonardo/new-organon-sub002/pkg/bus"
	"github.com/patmonardo/new-organon-sub002/pkg/canonicalize"
	"github.com/patmonardo/new-organon-sub002/pkg/correlate"
	"github.com/patmonardo/new-organon-sub002/pkg/kernel"
	"github.com/patmonardo/new-organon-sub002/pkg/observability"
	"github.com/patmonardo/new-organon-sub002/pkg/taw"
	"github.com/patmonardo/new-organon-sub002/pkg/trace"
)

// TawPair is the act that opened an invocation and the result that closed it.
type TawPair struct {
	Act    taw.ActEvent    `json:"act"`
	Result taw.ResultEvent `json:"result"`
}

// OrganicUnity is the aggregate of one kernel invocation.
type OrganicUnity struct {
	Request kernel.RunRequest `json:"request"`
	Result  kernel.RunResult  `json:"result"`
	Taw     TawPair           `json:"taw"`
	Trace   []trace.Event     `json:"trace"`
	RunID   string            `json:"runId,omitempty"`
}

// Digest is the canonical SHA-256 over request, result and trace. Two runs
// that saw the same kernel behaviour share a digest.
func (u *OrganicUnity) Digest() (string, error) {
	return canonicalize.CanonicalHash(struct {
		Request kernel.RunRequest `json:"request"`
		Result  kernel.RunResult  `json:"result"`
		Trace   []trace.Event     `json:"trace"`
	}{u.Request, u.Result, u.Trace})
}

// Orchestrator drives invocations through a port. The zero set of options
// makes it behave exactly like Run.
type Orchestrator struct {
	port     kernel.Port
	logger   *slog.Logger
	obs      *observability.Provider
	bus      *bus.Bus
	traceLog *trace.Log
}

// New creates an orchestrator over port.
func New(port kernel.Port) *Orchestrator {
	return &Orchestrator{
		port:   port,
		logger: slog.Default().With("component", "unity"),
	}
}

// WithLogger sets the logger.
func (o *Orchestrator) WithLogger(l *slog.Logger) *Orchestrator {
	o.logger = l.With("component", "unity")
	return o
}

// WithObservability wraps every port call in a tracked operation.
func (o *Orchestrator) WithObservability(p *observability.Provider) *Orchestrator {
	o.obs = p
	return o
}

// WithBus publishes the act, the result and both trace events, in that
// order. The act is published before the port is called.
func (o *Orchestrator) WithBus(b *bus.Bus) *Orchestrator {
	o.bus = b
	return o
}

// WithTraceLog appends every invocation's trace to l.
func (o *Orchestrator) WithTraceLog(l *trace.Log) *Orchestrator {
	o.traceLog = l
	return o
}

// Run invokes port once with the default orchestrator.
func Run(ctx context.Context, port kernel.Port, req kernel.RunRequest, opts correlate.Options) (*OrganicUnity, error) {
	return New(port).Run(ctx, req, opts)
}

// Run performs one invocation. The only error is an invalid request, which
// is rejected before the port is reached; kernel failures come back as a
// unity whose result is ok=false.
func (o *Orchestrator) Run(ctx context.Context, req kernel.RunRequest, opts correlate.Options) (*OrganicUnity, error) {
	act, err := correlate.RequestToAct(req, opts)
	if err != nil {
		o.logger.DebugContext(ctx, "kernel run rejected", "model_id", req.Model.ID, "error", err)
		return nil, err
	}
	runID := correlate.RunID(opts)
	if o.bus != nil {
		bus.PublishTaw(o.bus, act)
	}

	res := o.invoke(ctx, req, opts, runID)

	unity := &OrganicUnity{
		Request: req,
		Result:  res,
		Taw:     TawPair{Act: act, Result: correlate.ResultToEvent(res, opts)},
		Trace:   correlate.TraceEvents(req, res, opts),
		RunID:   runID,
	}

	if o.bus != nil {
		bus.PublishTaw(o.bus, unity.Taw.Result)
		for _, ev := range unity.Trace {
			bus.PublishTrace(o.bus, ev, opts.CorrelationID, opts.Source)
		}
	}
	if o.traceLog != nil {
		if _, err := o.traceLog.Append(ctx, unity.Trace...); err != nil {
			o.logger.WarnContext(ctx, "trace log append failed", "run_id", runID, "error", err)
		}
	}

	o.logger.DebugContext(ctx, "kernel run",
		"model_id", req.Model.ID,
		"run_id", runID,
		"ok", res.OK,
		"code", res.Code(),
	)
	return unity, nil
}

// invoke is the single suspend point of a run.
func (o *Orchestrator) invoke(ctx context.Context, req kernel.RunRequest, opts correlate.Options, runID string) kernel.RunResult {
	if o.obs == nil {
		return o.port.Run(ctx, req)
	}
	attrs := observability.KernelRun(req.Model.ID, req.Model.Kind, runID)
	attrs = append(attrs, observability.Correlation(opts.GoalID, opts.StepID, opts.CorrelationID)...)

	ctx, finish := o.obs.TrackOperation(ctx, kernel.ActionRun, attrs...)
	res := o.port.Run(ctx, req)
	finish(failureOf(res), observability.KernelOutcome(res.OK, res.Code())...)
	return res
}

// failureOf returns nil for a successful result and a Failure otherwise.
func failureOf(res kernel.RunResult) error {
	if res.OK {
		return nil
	}
	if err, ok := res.Error.(error); ok {
		var f kernel.Failure
		if errors.As(err, &f) {
			return f
		}
	}
	msg := res.Message()
	if msg == "" {
		msg = "kernel run failed"
	}
	return kernel.Failure{Code: res.Code(), Message: msg}
}
