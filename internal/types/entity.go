package types

import "time"

// TaskType classifies a task's role in the containment hierarchy.
// GROUP is accepted on input and normalized to MILESTONE; the two
// names are aliases.
type TaskType string

const (
	TaskTypeTask      TaskType = "TASK"
	TaskTypeMilestone TaskType = "MILESTONE"
	TaskTypeGroup     TaskType = "GROUP" // alias input only, never stored
)

// NormalizeTaskType folds the GROUP alias into MILESTONE. Any other
// value passes through unchanged so the caller can reject it.
func NormalizeTaskType(t TaskType) TaskType {
	if t == TaskTypeGroup {
		return TaskTypeMilestone
	}
	return t
}

// Status is one of the five states of the per-task finite automaton.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusBlocked    Status = "BLOCKED"
	StatusCancelled  Status = "CANCELLED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusBlocked, StatusCancelled:
		return true
	}
	return false
}

// DependencyKind enumerates the edge kinds a dependency may carry.
type DependencyKind string

const (
	DepRequires   DependencyKind = "requires"
	DepExtends    DependencyKind = "extends"
	DepImplements DependencyKind = "implements"
	DepReferences DependencyKind = "references"
)

func (k DependencyKind) Valid() bool {
	switch k {
	case DepRequires, DepExtends, DepImplements, DepReferences:
		return true
	}
	return false
}

// NoteCategory is one of the four note buckets on a task.
type NoteCategory string

const (
	NotePlanning        NoteCategory = "planning"
	NoteProgress        NoteCategory = "progress"
	NoteCompletion      NoteCategory = "completion"
	NoteTroubleshooting NoteCategory = "troubleshooting"
)

// Note length/count bounds, enforced at ingress.
const (
	MaxNoteLength         = 8192
	MaxNotesPerCategory   = 50
	MaxMetadataAnnexBytes = 32 * 1024
)

// Note is a single timestamped entry in one of a task's note categories.
type Note struct {
	Text      string    `json:"text"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// StatusMetadata captures the optional status-transition metadata a
// task accumulates as it moves through the state machine.
type StatusMetadata struct {
	Assignee               string     `json:"assignee,omitempty"`
	CompletionVerification string     `json:"completion_verification,omitempty"`
	ErrorDiagnostics       string     `json:"error_diagnostics,omitempty"`
	BlockedBy              []string   `json:"blocked_by,omitempty"`
	BlockedReason          string     `json:"blocked_reason,omitempty"`
	Resolution             string     `json:"resolution,omitempty"`
	CancelledAt            *time.Time `json:"cancelled_at,omitempty"`
}

// MetadataAnnex is a free-form extension bag bounded at 32 KB and
// validated at ingress.
type MetadataAnnex struct {
	Raw []byte `json:"raw,omitempty"`
}

// Task is the central entity of the store.
type Task struct {
	ID         string   `json:"id"`
	Path       string   `json:"path"`
	ParentPath string   `json:"parent_path,omitempty"`
	Type       TaskType `json:"type"`
	Status     Status   `json:"status"`

	Dependencies []string `json:"dependencies,omitempty"` // target paths
	Children     []string `json:"children,omitempty"`     // derived, not persisted independently

	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Reasoning   string `json:"reasoning,omitempty"`

	PlanningNotes        []Note `json:"planning_notes,omitempty"`
	ProgressNotes        []Note `json:"progress_notes,omitempty"`
	CompletionNotes      []Note `json:"completion_notes,omitempty"`
	TroubleshootingNotes []Note `json:"troubleshooting_notes,omitempty"`

	StatusMeta StatusMetadata `json:"status_meta"`
	Annex      MetadataAnnex  `json:"annex,omitempty"`

	Created       time.Time `json:"created"`
	Updated       time.Time `json:"updated"`
	StatusUpdated time.Time `json:"status_updated"`
	Version       uint64    `json:"version"`
}

// NotesFor returns the slice for a given note category, or nil for an
// unrecognized category.
func (t *Task) NotesFor(cat NoteCategory) []Note {
	switch cat {
	case NotePlanning:
		return t.PlanningNotes
	case NoteProgress:
		return t.ProgressNotes
	case NoteCompletion:
		return t.CompletionNotes
	case NoteTroubleshooting:
		return t.TroubleshootingNotes
	}
	return nil
}

// SetNotesFor overwrites the slice for a given note category.
func (t *Task) SetNotesFor(cat NoteCategory, notes []Note) {
	switch cat {
	case NotePlanning:
		t.PlanningNotes = notes
	case NoteProgress:
		t.ProgressNotes = notes
	case NoteCompletion:
		t.CompletionNotes = notes
	case NoteTroubleshooting:
		t.TroubleshootingNotes = notes
	}
}

// Clone returns a deep-enough copy of the task suitable for cache
// entries: the cache never hands out a reference the caller's
// mutation could alias back into the index set.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Dependencies = append([]string(nil), t.Dependencies...)
	c.Children = append([]string(nil), t.Children...)
	c.PlanningNotes = append([]Note(nil), t.PlanningNotes...)
	c.ProgressNotes = append([]Note(nil), t.ProgressNotes...)
	c.CompletionNotes = append([]Note(nil), t.CompletionNotes...)
	c.TroubleshootingNotes = append([]Note(nil), t.TroubleshootingNotes...)
	if t.StatusMeta.BlockedBy != nil {
		c.StatusMeta.BlockedBy = append([]string(nil), t.StatusMeta.BlockedBy...)
	}
	if t.Annex.Raw != nil {
		c.Annex.Raw = append([]byte(nil), t.Annex.Raw...)
	}
	return &c
}

// Project is a containment root.
type Project struct {
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	URLs      []string  `json:"urls,omitempty"`
	Created   time.Time `json:"created"`
	Updated   time.Time `json:"updated"`
	TaskPaths []string  `json:"task_paths,omitempty"`
}

// Knowledge is a knowledge/whiteboard item scoped to a project.
type Knowledge struct {
	ID         string    `json:"id"`
	ProjectRef string    `json:"project_ref"`
	Text       string    `json:"text"`
	Tags       []string  `json:"tags,omitempty"`
	Domain     string    `json:"domain,omitempty"`
	Citations  []string  `json:"citations,omitempty"`
	Created    time.Time `json:"created"`
	Updated    time.Time `json:"updated"`
}

// Dependency is an edge in the dependency graph.
type Dependency struct {
	Source      string         `json:"source"`
	Target      string         `json:"target"`
	Kind        DependencyKind `json:"kind"`
	Description string         `json:"description,omitempty"`
}

// Whiteboard is a project-scoped scratch document that keeps its full
// revision history.
type Whiteboard struct {
	ID         string               `json:"id"`
	ProjectRef string               `json:"project_ref"`
	Title      string               `json:"title"`
	Content    string               `json:"content"`
	Version    uint64               `json:"version"`
	History    []WhiteboardRevision `json:"history,omitempty"`
	Created    time.Time            `json:"created"`
	Updated    time.Time            `json:"updated"`
}

// WhiteboardRevision is one prior state of a Whiteboard's content,
// retained every time Content changes.
type WhiteboardRevision struct {
	Version   uint64    `json:"version"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IndexEntry is the generic payload every index's Query result wraps.
type IndexEntry struct {
	Key      string `json:"key"`
	EntityID string `json:"entity_id"`
	Metadata any    `json:"metadata,omitempty"`
}

// TransactionState is the lifecycle of a coordinator-managed transaction.
type TransactionState string

const (
	TxnIdle        TransactionState = "IDLE"
	TxnActive      TransactionState = "ACTIVE"
	TxnCommitted   TransactionState = "COMMITTED"
	TxnRollingBack TransactionState = "ROLLING_BACK"
	TxnRolledBack  TransactionState = "ROLLED_BACK"
	TxnFailed      TransactionState = "FAILED"
)
