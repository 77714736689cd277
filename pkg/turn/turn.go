// Package turn defines a closed turn of the agent loop and the strict
// validation applied to turns and boot envelopes at the process boundary.
package turn

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/patmonardo/new-organon-sub002/pkg/kernel"
	"github.com/patmonardo/new-organon-sub002/pkg/taw"
	"github.com/patmonardo/new-organon-sub002/pkg/trace"
)

//go:embed schema/turn.schema.json
var turnSchema []byte

const schemaURL = "https://organon.schemas.local/turn/turn.schema.json"

// LoopTurn is one closed cycle: the context it started from, the intent,
// whatever of plan, act and result happened, and the trace emitted since
// the previous turn.
type LoopTurn struct {
	Meta       trace.Meta          `json:"meta,omitempty"`
	Context    taw.ContextDocument `json:"context"`
	Intent     taw.IntentEvent     `json:"intent"`
	Plan       *taw.PlanEvent      `json:"plan,omitempty"`
	Act        *taw.ActEvent       `json:"act,omitempty"`
	Result     *taw.ResultEvent    `json:"result,omitempty"`
	TraceDelta []trace.Event       `json:"traceDelta"`
}

// KernelTurn is a loop turn closed around a successful kernel result.
type KernelTurn struct {
	LoopTurn
	KernelResult kernel.RunResult `json:"kernelResult"`
}

// Syscall is a start-up instruction carried by a boot envelope.
type Syscall struct {
	Name  string `json:"name"`
	Input any    `json:"input,omitempty"`
}

// BootEnvelope is what a process is started with.
type BootEnvelope struct {
	Meta           trace.Meta          `json:"meta,omitempty"`
	Context        taw.ContextDocument `json:"context"`
	Intent         taw.IntentEvent     `json:"intent"`
	PlanPromptText string              `json:"planPromptText,omitempty"`
	Syscalls       []Syscall           `json:"syscalls,omitempty"`
}

// ErrKernelResultFailed marks a kernel turn whose kernel result is ok=false.
var ErrKernelResultFailed = errors.New("kernelResult.ok=false: a kernel turn requires a successful kernel result")

// Validation error codes.
const (
	CodeInvalidJSON        = "INVALID_JSON"
	CodeSchemaViolation    = "SCHEMA_VIOLATION"
	CodeInvalidEvent       = "INVALID_EVENT"
	CodeKernelResultFailed = "KERNEL_RESULT_FAILED"
)

// ValidationError represents a specific validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
	err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Code)
}

func (e *ValidationError) Unwrap() error { return e.err }

var schemas = sync.OnceValues(func() (map[string]*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader(turnSchema)); err != nil {
		return nil, fmt.Errorf("turn schema load failed: %w", err)
	}
	out := make(map[string]*jsonschema.Schema, 3)
	for _, def := range []string{"loopTurn", "kernelTurn", "bootEnvelope"} {
		s, err := c.Compile(schemaURL + "#/$defs/" + def)
		if err != nil {
			return nil, fmt.Errorf("turn schema compile %s failed: %w", def, err)
		}
		out[def] = s
	}
	return out, nil
})

func validateShape(def string, data []byte, into any) error {
	compiled, err := schemas()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return &ValidationError{Field: "$", Code: CodeInvalidJSON, Message: err.Error(), err: err}
	}
	if err := compiled[def].Validate(doc); err != nil {
		field := "$"
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			field = leafLocation(ve)
		}
		return &ValidationError{Field: field, Code: CodeSchemaViolation, Message: err.Error(), err: err}
	}
	if err := json.Unmarshal(data, into); err != nil {
		return &ValidationError{Field: "$", Code: CodeInvalidJSON, Message: err.Error(), err: err}
	}
	return nil
}

func leafLocation(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if ve.InstanceLocation == "" {
		return "$"
	}
	return ve.InstanceLocation
}

// ParseLoopTurn validates data as a loop turn. Unknown top-level fields are
// rejected; traceDelta defaults to empty.
func ParseLoopTurn(data []byte) (LoopTurn, error) {
	var t LoopTurn
	if err := validateShape("loopTurn", data, &t); err != nil {
		return LoopTurn{}, err
	}
	if t.TraceDelta == nil {
		t.TraceDelta = []trace.Event{}
	}
	if err := t.Validate(); err != nil {
		return LoopTurn{}, err
	}
	return t, nil
}

// ParseKernelTurn validates data as a kernel turn. A well-formed turn whose
// kernelResult.ok is false fails with ErrKernelResultFailed.
func ParseKernelTurn(data []byte) (KernelTurn, error) {
	var t KernelTurn
	if err := validateShape("kernelTurn", data, &t); err != nil {
		return KernelTurn{}, err
	}
	if t.TraceDelta == nil {
		t.TraceDelta = []trace.Event{}
	}
	if err := t.Validate(); err != nil {
		return KernelTurn{}, err
	}
	return t, nil
}

// ParseBootEnvelope validates data as a boot envelope.
func ParseBootEnvelope(data []byte) (BootEnvelope, error) {
	var b BootEnvelope
	if err := validateShape("bootEnvelope", data, &b); err != nil {
		return BootEnvelope{}, err
	}
	if err := b.Intent.Validate(); err != nil {
		return BootEnvelope{}, &ValidationError{Field: "intent", Code: CodeInvalidEvent, Message: err.Error(), err: err}
	}
	return b, nil
}

// Validate checks the event invariants of a turn built in Go.
func (t LoopTurn) Validate() error {
	if t.Context.ID == "" {
		return &ValidationError{Field: "context.id", Code: CodeSchemaViolation, Message: "context id is required"}
	}
	if err := t.Intent.Validate(); err != nil {
		return &ValidationError{Field: "intent", Code: CodeInvalidEvent, Message: err.Error(), err: err}
	}
	if t.Plan != nil {
		if err := t.Plan.Validate(); err != nil {
			return &ValidationError{Field: "plan", Code: CodeInvalidEvent, Message: err.Error(), err: err}
		}
	}
	if t.Act != nil {
		if err := t.Act.Validate(); err != nil {
			return &ValidationError{Field: "act", Code: CodeInvalidEvent, Message: err.Error(), err: err}
		}
	}
	if t.Result != nil {
		if err := t.Result.Validate(); err != nil {
			return &ValidationError{Field: "result", Code: CodeInvalidEvent, Message: err.Error(), err: err}
		}
	}
	for i, ev := range t.TraceDelta {
		if ev.Kind == "" {
			return &ValidationError{Field: fmt.Sprintf("traceDelta[%d].kind", i), Code: CodeInvalidEvent, Message: "trace event kind is required"}
		}
	}
	return nil
}

// Validate checks the loop turn and the kernel result invariant.
func (k KernelTurn) Validate() error {
	if err := k.LoopTurn.Validate(); err != nil {
		return err
	}
	if !k.KernelResult.OK {
		return &ValidationError{
			Field:   "kernelResult.ok",
			Code:    CodeKernelResultFailed,
			Message: ErrKernelResultFailed.Error(),
			err:     ErrKernelResultFailed,
		}
	}
	return nil
}

// NewKernelTurn closes t around res. It fails when res is not ok.
func NewKernelTurn(t LoopTurn, res kernel.RunResult) (KernelTurn, error) {
	if t.TraceDelta == nil {
		t.TraceDelta = []trace.Event{}
	}
	k := KernelTurn{LoopTurn: t, KernelResult: res}
	if err := k.Validate(); err != nil {
		return KernelTurn{}, err
	}
	return k, nil
}
