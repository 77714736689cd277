// Package trace defines the generic trace unit shared by every stage of the
// agent loop and an append-only, hash-chained log of those units.
package trace

// Meta is open, caller-defined provenance. Consumers may attach any keys;
// the core never interprets it beyond copying.
type Meta map[string]any

// Event is the generic trace envelope: a kind discriminator, an opaque
// payload and optional provenance.
type Event struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload,omitempty"`
	Meta    Meta   `json:"meta,omitempty"`
}

// Kinds emitted for one kernel invocation, always in this order.
const (
	KindKernelRunRequest = "kernel.run.request"
	KindKernelRunResult  = "kernel.run.result"
)

// Clone returns a shallow copy of m, nil for an empty map.
func (m Meta) Clone() Meta {
	if len(m) == 0 {
		return nil
	}
	out := make(Meta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// With returns a copy of m with key set to value.
func (m Meta) With(key string, value any) Meta {
	out := make(Meta, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[key] = value
	return out
}
