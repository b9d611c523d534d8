package registry

import "encoding/json"

// Patch operations.
const (
	OpAdd     = "add"
	OpReplace = "replace"
	OpRemove  = "remove"
)

// PatchOp is a single JSON patch operation against a node record.
type PatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// MarshalJSON leaves out "value" for remove operations only. Add and
// replace always carry it, even when it is a zero value.
func (op PatchOp) MarshalJSON() ([]byte, error) {
	if op.Op == OpRemove {
		return json.Marshal(struct {
			Op   string `json:"op"`
			Path string `json:"path"`
		}{op.Op, op.Path})
	}
	type plain PatchOp
	return json.Marshal(plain(op))
}

// Patch is an ordered list of operations applied in one update.
type Patch []PatchOp

// Add returns an add operation.
func Add(path string, value any) PatchOp {
	return PatchOp{Op: OpAdd, Path: path, Value: value}
}

// Replace returns a replace operation.
func Replace(path string, value any) PatchOp {
	return PatchOp{Op: OpReplace, Path: path, Value: value}
}

// Remove returns a remove operation.
func Remove(path string) PatchOp {
	return PatchOp{Op: OpRemove, Path: path}
}
