// Package gdslink implements GDS-Link, the JSON wire protocol spoken by the
// graph kernel boundary.
//
// A call is a flat JSON object discriminated by (facade, op). Every call
// carries the acting user and the target database id; the remaining fields
// depend on the operation and are validated against a JSON Schema compiled
// per variant. The kernel answers with {ok, op, data?, error?}.
package gdslink

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/patmonardo/new-organon-sub002/pkg/kernel"
)

// Facades known to the wire protocol.
const (
	FacadeGraphStoreCatalog = "graph_store_catalog"
	FacadeGraphStore        = "graph_store"
	FacadeFormEval          = "form_eval"
	FacadeAlgorithms        = "algorithms"
)

// FormKindApplication is the optional kind tag typed clients stamp on calls.
const FormKindApplication = "ApplicationForm"

// User is the principal a call runs as.
type User struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

// Call is one validated wire call. Args holds the operation specific
// fields, already defaulted and stripped of keys the variant does not
// declare.
type Call struct {
	Kind       string
	Facade     string
	Op         string
	User       User
	DatabaseID string
	Args       map[string]any
}

// OperationID returns "gds.<facade>.<op>".
func (c Call) OperationID() string {
	return OperationID(c.Facade, c.Op)
}

// OperationID joins a facade and op into the stable operation id.
func OperationID(facade, op string) string {
	return "gds." + facade + "." + op
}

// ParseModelID splits a "gds.<facade>.<op>" model id. Anything other than
// exactly three non-empty segments led by "gds" is a protocol mismatch.
func ParseModelID(id string) (facade, op string, err error) {
	parts := strings.Split(id, ".")
	if len(parts) != 3 || parts[0] != "gds" || parts[1] == "" || parts[2] == "" {
		return "", "", kernel.Failure{
			Code:    kernel.CodeProtocolMismatch,
			Message: fmt.Sprintf("model.id %q does not match gds.<facade>.<op>", id),
		}
	}
	return parts[1], parts[2], nil
}

// Fields returns the flat wire object for c. The common fields always win
// over same-named entries in Args.
func (c Call) Fields() map[string]any {
	out := make(map[string]any, len(c.Args)+5)
	for k, v := range c.Args {
		out[k] = v
	}
	if c.Kind != "" {
		out["kind"] = c.Kind
	}
	out["facade"] = c.Facade
	out["op"] = c.Op
	out["user"] = map[string]any{"username": c.User.Username, "isAdmin": c.User.IsAdmin}
	out["databaseId"] = c.DatabaseID
	return out
}

// MarshalJSON encodes the call as its flat wire object.
func (c Call) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Fields())
}

// UnmarshalJSON decodes and validates a wire object against the registry.
func (c *Call) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := DefaultRegistry().Validate(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Response is the kernel's reply envelope. Op is informational; it is not
// checked against the request.
type Response struct {
	OK    bool   `json:"ok"`
	Op    string `json:"op"`
	Data  any    `json:"data,omitempty"`
	Error any    `json:"error,omitempty"`
}

// OKResponse builds a success envelope.
func OKResponse(op string, data any) Response {
	return Response{OK: true, Op: op, Data: data}
}

// ErrorResponse builds a failure envelope with a {code, message} error.
func ErrorResponse(op, code, message string) Response {
	return Response{OK: false, Op: op, Error: map[string]any{"code": code, "message": message}}
}
