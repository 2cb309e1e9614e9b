package txn

import (
	"encoding/json"
	"fmt"

	"github.com/atlasengine/atlas/internal/types"
	"github.com/atlasengine/atlas/internal/walstore"
)

// OpKind enumerates the mutation vocabulary a transaction can carry.
type OpKind string

const (
	OpUpsertTask       OpKind = "upsert_task"
	OpDeleteTask       OpKind = "delete_task"
	OpAddDependency    OpKind = "add_dependency"
	OpRemoveDependency OpKind = "remove_dependency"
)

// Op is one unit of work inside a transaction.
type Op struct {
	Kind       OpKind
	Task       *types.Task       // for Upsert/Delete
	Dependency *types.Dependency // for Add/RemoveDependency
}

func taskKey(id string) string { return "task/" + id }

func dependencyKey(source, target string) string {
	return "dep/" + source + "/" + target
}

func encodeTask(t *types.Task) ([]byte, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("txn: encode task: %w", err)
	}
	return b, nil
}

func decodeTask(b []byte) (*types.Task, error) {
	var t types.Task
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("txn: decode task: %w", err)
	}
	return &t, nil
}

// durableOpsFor returns the batch ops an Op stages against the
// durable store. Upsert/Add stage a Put; Delete/Remove stage a
// tombstone Delete.
func durableOpsFor(op Op) ([]walstore.BatchOp, error) {
	switch op.Kind {
	case OpUpsertTask:
		b, err := encodeTask(op.Task)
		if err != nil {
			return nil, err
		}
		return []walstore.BatchOp{{Key: taskKey(op.Task.ID), Value: b}}, nil
	case OpDeleteTask:
		return []walstore.BatchOp{{Key: taskKey(op.Task.ID), Delete: true}}, nil
	case OpAddDependency:
		b, err := json.Marshal(op.Dependency)
		if err != nil {
			return nil, fmt.Errorf("txn: encode dependency: %w", err)
		}
		return []walstore.BatchOp{{Key: dependencyKey(op.Dependency.Source, op.Dependency.Target), Value: b}}, nil
	case OpRemoveDependency:
		return []walstore.BatchOp{{Key: dependencyKey(op.Dependency.Source, op.Dependency.Target), Delete: true}}, nil
	default:
		return nil, fmt.Errorf("txn: unknown op kind %q", op.Kind)
	}
}
