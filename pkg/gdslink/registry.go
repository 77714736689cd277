package gdslink

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/patmonardo/new-organon-sub002/pkg/kernel"
)

// FieldType is the JSON shape of an operation specific field.
type FieldType int

const (
	// FieldName is a non-empty string.
	FieldName FieldType = iota
	FieldString
	// FieldNames is an array of non-empty strings.
	FieldNames
	FieldBool
	FieldInteger
	FieldNumber
	FieldObject
	// FieldAny accepts any JSON value.
	FieldAny
)

// Field declares one operation specific field of a variant.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	// Enum restricts a string field to the listed values.
	Enum []string
	// Default produces the value used when the field is absent. It is called
	// once per call so defaults are never shared between calls.
	Default func() any
}

// Variant is one member of the closed call union.
type Variant struct {
	Facade string
	Op     string
	Fields []Field
	// Open variants keep undeclared keys (algorithm configuration) instead
	// of stripping them.
	Open bool
}

// OperationID returns the variant's stable operation id.
func (v Variant) OperationID() string {
	return OperationID(v.Facade, v.Op)
}

// SchemaURL is the resource id the variant's schema is compiled under.
func (v Variant) SchemaURL() string {
	return fmt.Sprintf("https://organon.schemas.local/gdslink/%s.%s.schema.json", v.Facade, v.Op)
}

// Schema renders the variant as a draft 2020-12 JSON Schema document.
func (v Variant) Schema() map[string]any {
	props := map[string]any{
		"kind":   map[string]any{"type": "string"},
		"facade": map[string]any{"const": v.Facade},
		"op":     map[string]any{"const": v.Op},
		"user": map[string]any{
			"type":     "object",
			"required": []any{"username"},
			"properties": map[string]any{
				"username": map[string]any{"type": "string", "minLength": 1},
				"isAdmin":  map[string]any{"type": "boolean"},
			},
		},
		"databaseId": map[string]any{"type": "string", "minLength": 1},
	}
	required := []any{"facade", "op", "user", "databaseId"}
	for _, f := range v.Fields {
		props[f.Name] = f.schema()
		if f.Required {
			required = append(required, f.Name)
		}
	}
	return map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"$id":        v.SchemaURL(),
		"type":       "object",
		"required":   required,
		"properties": props,
	}
}

func (f Field) schema() map[string]any {
	var s map[string]any
	switch f.Type {
	case FieldName:
		s = map[string]any{"type": "string", "minLength": 1}
	case FieldString:
		s = map[string]any{"type": "string"}
	case FieldNames:
		s = map[string]any{"type": "array", "items": map[string]any{"type": "string", "minLength": 1}}
		if f.Required {
			s["minItems"] = 1
		}
	case FieldBool:
		s = map[string]any{"type": "boolean"}
	case FieldInteger:
		s = map[string]any{"type": "integer"}
	case FieldNumber:
		s = map[string]any{"type": "number"}
	case FieldObject:
		s = map[string]any{"type": "object"}
	default:
		s = map[string]any{}
	}
	if len(f.Enum) > 0 {
		enum := make([]any, len(f.Enum))
		for i, e := range f.Enum {
			enum[i] = e
		}
		s["enum"] = enum
	}
	return s
}

type compiledVariant struct {
	Variant
	schema *jsonschema.Schema
}

// Registry holds the compiled call union.
type Registry struct {
	mu       sync.RWMutex
	variants map[string]compiledVariant
}

// NewRegistry compiles the given variants into a registry.
func NewRegistry(variants ...Variant) (*Registry, error) {
	r := &Registry{variants: make(map[string]compiledVariant, len(variants))}
	for _, v := range variants {
		if err := r.Register(v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	r, err := NewRegistry(BuiltinVariants()...)
	if err != nil {
		panic(fmt.Sprintf("gdslink: builtin schemas: %v", err))
	}
	return r
})

// DefaultRegistry returns the registry of every builtin GDS call.
func DefaultRegistry() *Registry {
	return defaultRegistry()
}

// Register compiles v and adds it to the union. A (facade, op) pair can only
// be registered once.
func (r *Registry) Register(v Variant) error {
	if v.Facade == "" || v.Op == "" {
		return fmt.Errorf("gdslink: variant needs facade and op")
	}
	doc, err := json.Marshal(v.Schema())
	if err != nil {
		return fmt.Errorf("gdslink: render schema %s: %w", v.OperationID(), err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(v.SchemaURL(), strings.NewReader(string(doc))); err != nil {
		return fmt.Errorf("gdslink: schema load %s: %w", v.OperationID(), err)
	}
	compiled, err := c.Compile(v.SchemaURL())
	if err != nil {
		return fmt.Errorf("gdslink: schema compile %s: %w", v.OperationID(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.variants[v.OperationID()]; dup {
		return fmt.Errorf("gdslink: %s already registered", v.OperationID())
	}
	r.variants[v.OperationID()] = compiledVariant{Variant: v, schema: compiled}
	return nil
}

// Lookup returns the variant registered for (facade, op).
func (r *Registry) Lookup(facade, op string) (Variant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.variants[OperationID(facade, op)]
	return v.Variant, ok
}

// OperationIDs lists every registered operation id, sorted.
func (r *Registry) OperationIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.variants))
	for id := range r.variants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var commonKeys = map[string]bool{"kind": true, "facade": true, "op": true, "user": true, "databaseId": true}

// Validate checks obj against the call union and returns the typed call.
// Unknown (facade, op) pairs and schema violations are protocol mismatches.
func (r *Registry) Validate(obj map[string]any) (Call, error) {
	norm, err := normalize(obj)
	if err != nil {
		return Call{}, err
	}
	m, _ := norm.(map[string]any)

	facade, _ := m["facade"].(string)
	op, _ := m["op"].(string)
	id := OperationID(facade, op)

	r.mu.RLock()
	v, ok := r.variants[id]
	r.mu.RUnlock()
	if !ok {
		return Call{}, kernel.Failure{
			Code:    kernel.CodeProtocolMismatch,
			Message: fmt.Sprintf("unknown GDS call %s: expected a registered gds.<facade>.<op>", id),
			Detail:  map[string]any{"expected": r.OperationIDs()},
		}
	}
	if err := v.schema.Validate(m); err != nil {
		return Call{}, kernel.Failure{
			Code:    kernel.CodeProtocolMismatch,
			Message: fmt.Sprintf("%s does not match its call shape: %v", id, err),
			Detail:  map[string]any{"schema": v.SchemaURL()},
		}
	}
	return v.build(m), nil
}

func (v compiledVariant) build(m map[string]any) Call {
	call := Call{Facade: v.Facade, Op: v.Op, Args: make(map[string]any, len(v.Fields))}
	call.Kind, _ = m["kind"].(string)
	call.DatabaseID, _ = m["databaseId"].(string)
	if u, ok := m["user"].(map[string]any); ok {
		call.User.Username, _ = u["username"].(string)
		call.User.IsAdmin, _ = u["isAdmin"].(bool)
	}

	declared := make(map[string]bool, len(v.Fields))
	for _, f := range v.Fields {
		declared[f.Name] = true
		if val, ok := m[f.Name]; ok {
			call.Args[f.Name] = val
		} else if f.Default != nil {
			call.Args[f.Name] = f.Default()
		}
	}
	if v.Open {
		for k, val := range m {
			if !commonKeys[k] && !declared[k] {
				call.Args[k] = val
			}
		}
	}
	return call
}

// FromRequest turns a kernel run request into a validated call. An input
// object that already carries facade and op is validated as is; otherwise
// model.id names the operation and input supplies the remaining fields.
func (r *Registry) FromRequest(req kernel.RunRequest) (Call, error) {
	input, err := normalize(req.Input)
	if err != nil {
		return Call{}, err
	}
	obj, isObject := input.(map[string]any)
	if isObject {
		_, hasFacade := obj["facade"]
		_, hasOp := obj["op"]
		if hasFacade && hasOp {
			return r.Validate(obj)
		}
	}

	facade, op, err := ParseModelID(req.Model.ID)
	if err != nil {
		return Call{}, err
	}
	if !isObject {
		return Call{}, kernel.Failure{
			Code:    kernel.CodeInvalidRequest,
			Message: fmt.Sprintf("input for %s must be a JSON object, got %s", req.Model.ID, jsonKind(input)),
		}
	}

	merged := make(map[string]any, len(obj)+2)
	for k, val := range obj {
		merged[k] = val
	}
	merged["facade"] = facade
	merged["op"] = op
	return r.Validate(merged)
}

// normalize re-decodes v so it only holds plain JSON values, which is what
// the schema validator expects.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, kernel.Failure{Code: kernel.CodeInvalidRequest, Message: fmt.Sprintf("input is not JSON encodable: %v", err)}
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, kernel.Failure{Code: kernel.CodeInvalidRequest, Message: fmt.Sprintf("input is not JSON decodable: %v", err)}
	}
	return out, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "nothing"
	case []any:
		return "an array"
	case string:
		return "a string"
	case float64:
		return "a number"
	case bool:
		return "a boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}
