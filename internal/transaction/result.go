package transaction

import (
	"encoding/json"

	"github.com/louisbranch/entityd/internal/payload"
	"github.com/louisbranch/entityd/internal/storage"
)

// Result reports the outcome of one committed statement.
type Result struct {
	Index  int
	Entity string
	Seq    int64
	Op     storage.Operation
	// Data holds the payload as applied, with placeholders resolved.
	Data payload.Map
}

// MarshalJSON flattens the resolved payload alongside the assigned sequence,
// so clients read committed records the same way they read submitted ones.
func (r Result) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Data)+3)
	for field, value := range r.Data {
		flat[field] = value
	}
	flat["seq"] = r.Seq
	flat["entity"] = r.Entity
	flat["op"] = string(r.Op)
	return json.Marshal(flat)
}
