package engine

import (
	"encoding/json"

	"github.com/atlasengine/atlas/internal/types"
)

// decodeTaskRecord parses a durable-store task record's bytes. Mirrors
// txn.decodeTask; duplicated here rather than exported across package
// boundaries since the wire format ("task/<id>" keys, JSON task
// bodies) is an implementation detail of both txn and the recovery
// path, not a shared contract.
func decodeTaskRecord(value []byte) (*types.Task, error) {
	var t types.Task
	if err := json.Unmarshal(value, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// decodeDependencyRecord parses a dependency record's JSON-encoded
// value. The key itself ("dep/<source>/<target>") is not parsed back
// into source/target because source and target are themselves
// slash-separated paths — splitting the key would be ambiguous, so
// the full edge is carried in the value instead.
func decodeDependencyRecord(key string, value []byte) (types.Dependency, bool) {
	var edge types.Dependency
	if err := json.Unmarshal(value, &edge); err != nil {
		return types.Dependency{}, false
	}
	return edge, true
}
