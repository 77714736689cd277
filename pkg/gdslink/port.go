package gdslink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/patmonardo/new-organon-sub002/pkg/canonicalize"
	"github.com/patmonardo/new-organon-sub002/pkg/kernel"
)

// InvokeFunc sends one request JSON to the kernel and returns its response
// JSON. It is the only transport dependency of Port.
type InvokeFunc func(ctx context.Context, request string) (string, error)

// Port is a kernel.Port that speaks GDS-Link through an InvokeFunc.
type Port struct {
	invoke   InvokeFunc
	registry *Registry
	logger   *slog.Logger
}

// NewPort creates a wire port over invoke using the builtin call union.
func NewPort(invoke InvokeFunc) *Port {
	return &Port{
		invoke:   invoke,
		registry: DefaultRegistry(),
		logger:   slog.Default().With("component", "gdslink"),
	}
}

// WithRegistry swaps the call union, e.g. to add experimental operations.
func (p *Port) WithRegistry(r *Registry) *Port {
	p.registry = r
	return p
}

// WithLogger sets the port logger.
func (p *Port) WithLogger(l *slog.Logger) *Port {
	p.logger = l.With("component", "gdslink")
	return p
}

// Run validates req as a wire call and sends it. Every failure is returned
// as an ok=false result.
func (p *Port) Run(ctx context.Context, req kernel.RunRequest) kernel.RunResult {
	call, err := p.registry.FromRequest(req)
	if err != nil {
		p.logger.Debug("gds call rejected", "model_id", req.Model.ID, "error", err)
		return kernel.FailWith(kernel.CodeProtocolMismatch, err)
	}
	return p.Send(ctx, call)
}

// Send serializes call canonically and invokes the kernel.
func (p *Port) Send(ctx context.Context, call Call) kernel.RunResult {
	opID := call.OperationID()
	body, err := canonicalize.JCSString(call)
	if err != nil {
		return kernel.FailWith(kernel.CodeInvalidRequest, fmt.Errorf("encode %s: %w", opID, err))
	}
	if p.invoke == nil {
		return kernel.Fail(kernel.CodeTransport, "no invoke function configured for %s", opID)
	}

	raw, err := p.safeInvoke(ctx, body)
	if err != nil {
		p.logger.Warn("gds invoke failed", "op_id", opID, "error", err)
		return kernel.FailWith(kernel.CodeTransport, fmt.Errorf("invoke %s: %w", opID, err))
	}

	resp, err := DecodeResponse(raw)
	if err != nil {
		p.logger.Warn("gds response unparsable", "op_id", opID, "error", err)
		return kernel.FailWith(kernel.CodeTransport, fmt.Errorf("%s: %w", opID, err))
	}
	p.logger.Debug("gds call", "op_id", opID, "ok", resp.OK, "response_op", resp.Op)
	return resp.Result()
}

func (p *Port) safeInvoke(ctx context.Context, body string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invoke panicked: %v", r)
		}
	}()
	return p.invoke(ctx, body)
}

// DecodeResponse parses a kernel reply envelope.
func DecodeResponse(raw string) (Response, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return Response{}, fmt.Errorf("response is not a JSON object: %w", err)
	}
	if _, ok := probe["ok"]; !ok {
		return Response{}, fmt.Errorf("response has no ok field")
	}
	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// Result projects the envelope onto a run result: data becomes output on
// success, error is carried on failure. A failure without error detail gets
// a synthesized INTERNAL failure naming the op.
func (r Response) Result() kernel.RunResult {
	if r.OK {
		return kernel.OK(r.Data)
	}
	if r.Error == nil {
		return kernel.Fail(kernel.CodeInternal, "kernel reported ok=false for op %q without error detail", r.Op)
	}
	return kernel.RunResult{OK: false, Error: r.Error}
}
