// Package kernel defines the transport-agnostic boundary between the agent
// loop and an external compute kernel.
//
// A Port turns a RunRequest into a RunResult. Ports never return Go errors
// and never panic across the boundary: transport, protocol and validation
// problems are all reported as RunResult{OK: false, Error: Failure{...}}.
// The package also carries the decorators that compose ports (timeouts,
// rate limits, retries, routing) without changing call sites.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ActionRun is the taw.act action name for a kernel invocation.
const ActionRun = "kernel.run"

// ModelRef identifies the kernel procedure to run. ID is the primary
// dispatch key; for the GDS wire protocol it has the form gds.<facade>.<op>.
type ModelRef struct {
	ID      string `json:"id"`
	Kind    string `json:"kind,omitempty"`
	Version string `json:"version,omitempty"`
}

// RunRequest is one kernel invocation. Input is opaque to this layer.
type RunRequest struct {
	Model  ModelRef       `json:"model"`
	Input  any            `json:"input,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// RunResult is the outcome of a kernel invocation. Output is meaningful
// only when OK, Error only when not.
type RunResult struct {
	OK     bool `json:"ok"`
	Output any  `json:"output,omitempty"`
	Error  any  `json:"error,omitempty"`
}

// Port is the single substitutable seam to a kernel implementation.
type Port interface {
	Run(ctx context.Context, req RunRequest) RunResult
}

// PortFunc adapts a function to the Port interface.
type PortFunc func(ctx context.Context, req RunRequest) RunResult

// Run calls f(ctx, req).
func (f PortFunc) Run(ctx context.Context, req RunRequest) RunResult {
	return f(ctx, req)
}

// Failure codes carried in RunResult.Error.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeProtocolMismatch = "PROTOCOL_MISMATCH"
	CodeTransport        = "TRANSPORT"
	CodeTimeout          = "TIMEOUT"
	CodeUnknownModel     = "UNKNOWN_MODEL"
	CodeInternal         = "INTERNAL"
)

// Failure is the structured error a port reports when a run fails.
type Failure struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

func (f Failure) Error() string {
	if f.Code == "" {
		return f.Message
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// OK builds a successful result.
func OK(output any) RunResult {
	return RunResult{OK: true, Output: output}
}

// Fail builds a failed result carrying a Failure.
func Fail(code, format string, args ...any) RunResult {
	return RunResult{OK: false, Error: Failure{Code: code, Message: fmt.Sprintf(format, args...)}}
}

// FailWith builds a failed result from err. A Failure anywhere in err's
// chain is kept as is; anything else is reported under code.
func FailWith(code string, err error) RunResult {
	var f Failure
	if errors.As(err, &f) {
		return RunResult{OK: false, Error: f}
	}
	return RunResult{OK: false, Error: Failure{Code: code, Message: err.Error()}}
}

// ErrInvalidRequest is wrapped by every request validation error.
var ErrInvalidRequest = errors.New("invalid kernel run request")

// Validate checks the request shape. It never coerces.
func (r RunRequest) Validate() error {
	if strings.TrimSpace(r.Model.ID) == "" {
		return fmt.Errorf("%w: model.id is required", ErrInvalidRequest)
	}
	for k := range r.Params {
		if k == "" {
			return fmt.Errorf("%w: params keys must be non-empty", ErrInvalidRequest)
		}
	}
	return nil
}

// Code returns the failure code of a failed result. It is empty when the
// result is OK or the error carries no code.
func (r RunResult) Code() string {
	if r.OK {
		return ""
	}
	switch e := r.Error.(type) {
	case Failure:
		return e.Code
	case *Failure:
		if e != nil {
			return e.Code
		}
	case map[string]any:
		if c, ok := e["code"].(string); ok {
			return c
		}
	}
	return ""
}

// Message extracts a human readable message from a failed result.
func (r RunResult) Message() string {
	if r.OK {
		return ""
	}
	switch e := r.Error.(type) {
	case nil:
		return ""
	case Failure:
		return e.Message
	case *Failure:
		if e != nil {
			return e.Message
		}
		return ""
	case error:
		return e.Error()
	case string:
		return e
	case map[string]any:
		if m, ok := e["message"].(string); ok {
			return m
		}
	}
	return fmt.Sprint(r.Error)
}
