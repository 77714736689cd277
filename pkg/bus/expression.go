package bus

import (
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"
)

// WithExpression compiles a CEL filter over the envelope. The expression
// sees id, kind, correlationId and source as strings, payload as a dynamic
// value and meta as a map, e.g.
//
//	kind == "taw.result" && payload.ok == false
//
// An expression that fails to evaluate, or yields a non-boolean, does not
// match.
func WithExpression(expr string) (Option, error) {
	prg, err := compileFilter(expr)
	if err != nil {
		return nil, err
	}
	return WithPredicate(func(env Envelope) bool {
		out, _, err := prg.Eval(activation(env))
		if err != nil {
			return false
		}
		ok, _ := out.Value().(bool)
		return ok
	}), nil
}

func compileFilter(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("correlationId", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("payload", cel.DynType),
		cel.Variable("meta", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("bus filter: CEL env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("bus filter: CEL compile error: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("bus filter: CEL program error: %w", err)
	}
	return prg, nil
}

// activation exposes the envelope as plain JSON values; CEL cannot walk Go
// structs it has no type information for.
func activation(env Envelope) map[string]any {
	meta := map[string]any{}
	for k, v := range env.Meta {
		meta[k] = plain(v)
	}
	return map[string]any{
		"id":            env.ID,
		"kind":          env.Kind,
		"correlationId": env.CorrelationID,
		"source":        env.Source,
		"payload":       plain(env.Payload),
		"meta":          meta,
	}
}

func plain(v any) any {
	switch v.(type) {
	case nil, string, bool, float64, map[string]any, []any:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
