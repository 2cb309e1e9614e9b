package pathid

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"single segment", "proj", false},
		{"nested", "proj/a/b", false},
		{"depth 7 accepted", "a/b/c/d/e/f/g", false},
		{"depth 8 rejected", "a/b/c/d/e/f/g/h", true},
		{"empty", "", true},
		{"leading digit segment", "proj/1task", true},
		{"bad characters", "proj/ta sk", true},
		{"empty segment", "proj//a", true},
		{"segment at 50 chars", "proj/" + "a" + strings.Repeat("b", 49), false},
		{"segment over 50 chars", "proj/" + "a" + strings.Repeat("b", 50), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateTotalLength(t *testing.T) {
	// Seven 35-char segments plus separators stays under 255 bytes.
	seg := "a" + strings.Repeat("b", 34)
	ok := strings.Join([]string{seg, seg, seg, seg, seg, seg, seg}, "/")
	require.LessOrEqual(t, len(ok), MaxPathLength)
	assert.NoError(t, Validate(ok))

	// Six 50-char segments crosses the 255-byte total bound while each
	// segment is individually valid.
	long := "a" + strings.Repeat("b", 49)
	over := strings.Join([]string{long, long, long, long, long, long}, "/")
	require.Greater(t, len(over), MaxPathLength)
	assert.Error(t, Validate(over))
}

func TestParentTaskPath(t *testing.T) {
	assert.Equal(t, "", ParentTaskPath("proj"))
	assert.Equal(t, "", ParentTaskPath("proj/a"))
	assert.Equal(t, "proj/a", ParentTaskPath("proj/a/b"))
}

func TestIsDescendantOf(t *testing.T) {
	assert.True(t, IsDescendantOf("proj/a/b", "proj/a"))
	assert.False(t, IsDescendantOf("proj/a", "proj/a"))
	assert.False(t, IsDescendantOf("proj/ab", "proj/a"))
}

func TestGenerateIDStableAndPrefixed(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id1 := GenerateID("task", "build parser", "proj/a", ts, 0)
	id2 := GenerateID("task", "build parser", "proj/a", ts, 0)
	assert.Equal(t, id1, id2)
	assert.True(t, strings.HasPrefix(id1, "task-"))
	assert.Len(t, id1, len("task-")+IDLength)

	withNonce := GenerateID("task", "build parser", "proj/a", ts, 1)
	assert.NotEqual(t, id1, withNonce)
}
