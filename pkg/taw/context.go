package taw

import (
	"encoding/json"
)

// SchemaRef names the schema a context document was produced against. Keys
// other than id are kept in Extra and written back verbatim.
type SchemaRef struct {
	ID    string
	Extra map[string]any
}

func (s SchemaRef) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+1)
	for k, v := range s.Extra {
		out[k] = v
	}
	out["id"] = s.ID
	return json.Marshal(out)
}

func (s *SchemaRef) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, _ := raw["id"].(string)
	delete(raw, "id")
	s.ID = id
	s.Extra = nil
	if len(raw) > 0 {
		s.Extra = raw
	}
	return nil
}

// ContextDocument is the read-only input a loop starts from. The loop only
// relies on the fields below; facts are opaque.
type ContextDocument struct {
	ID        string    `json:"id"`
	Timestamp string    `json:"timestamp"`
	Facts     []any     `json:"facts"`
	Schema    SchemaRef `json:"schema"`
	Goal      *Goal     `json:"goal,omitempty"`
}
