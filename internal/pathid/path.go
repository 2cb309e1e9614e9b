// Package pathid implements hierarchical task path parsing/validation
// and opaque task ID generation.
package pathid

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxDepth and MaxPathLength bound how deep and how long a task path
// may grow.
const (
	MaxDepth      = 7
	MaxPathLength = 255
)

var segmentRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,49}$`)

// ErrInvalidPath is returned (wrapped with a reason) for any path that
// fails validation.
type ErrInvalidPath struct {
	Path   string
	Reason string
}

func (e *ErrInvalidPath) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}

// Segments splits a path into its slash-separated components without
// validating them.
func Segments(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Validate checks a path: depth <= 7, total
// length <= 255 bytes, and each segment matching
// `[A-Za-z][A-Za-z0-9_-]{0,49}`.
func Validate(path string) error {
	if path == "" {
		return &ErrInvalidPath{Path: path, Reason: "path must not be empty"}
	}
	if len(path) > MaxPathLength {
		return &ErrInvalidPath{Path: path, Reason: fmt.Sprintf("length %d exceeds max %d", len(path), MaxPathLength)}
	}
	segs := Segments(path)
	if len(segs) > MaxDepth {
		return &ErrInvalidPath{Path: path, Reason: fmt.Sprintf("depth %d exceeds max %d", len(segs), MaxDepth)}
	}
	for _, s := range segs {
		if !segmentRE.MatchString(s) {
			return &ErrInvalidPath{Path: path, Reason: fmt.Sprintf("segment %q does not match required pattern", s)}
		}
	}
	return nil
}

// Depth returns the number of segments in path. Callers should call
// Validate first; Depth does not itself validate.
func Depth(path string) int {
	return len(Segments(path))
}

// ParentPath returns the path one level up, or "" if path is already
// a root segment.
func ParentPath(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// ParentTaskPath returns the path of the nearest ancestor that is
// itself a task, or "" if path sits directly under its project's root
// segment (depth <= 2). The project root is a containment root tracked
// in the project registry, not the hierarchy index, so a depth-2 task
// has no task parent to resolve against.
func ParentTaskPath(path string) string {
	if Depth(path) <= 2 {
		return ""
	}
	return ParentPath(path)
}

// IsChildOf reports whether childPath is an immediate child of
// parentPath (exactly one more segment, same prefix).
func IsChildOf(childPath, parentPath string) bool {
	if parentPath == "" {
		return Depth(childPath) == 1
	}
	return ParentPath(childPath) == parentPath
}

// IsDescendantOf reports whether candidate is nested anywhere beneath
// ancestor (used by the cycle/hierarchy checks to reject a task from
// becoming its own ancestor's parent).
func IsDescendantOf(candidate, ancestor string) bool {
	if ancestor == "" || candidate == ancestor {
		return false
	}
	return strings.HasPrefix(candidate, ancestor+"/")
}

// RootSegment returns the first path segment — by convention the
// owning project's path.
func RootSegment(path string) string {
	segs := Segments(path)
	if len(segs) == 0 {
		return ""
	}
	return segs[0]
}
