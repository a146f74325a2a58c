package archive

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/arloliu/peerpair/types"
)

// ErrSnapshotNotFound is returned when no snapshot exists under a key.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// ObjectKey returns the key a snapshot is stored under.
func ObjectKey(snap types.AllocationSnapshot) string {
	return fmt.Sprintf("%s%s-%s.json", Prefix(snap.CourseID, snap.AssignmentID, snap.Kind),
		snap.CreatedAt.UTC().Format("20060102T150405Z"), uuid.NewString())
}

// Prefix returns the key prefix of the snapshots of an assignment. An empty
// kind selects all kinds.
func Prefix(courseID, assignmentID int64, kind string) string {
	parts := []string{fmt.Sprint(courseID), fmt.Sprint(assignmentID)}
	if kind != "" {
		parts = append(parts, kind)
	}

	return strings.Join(parts, "/") + "/"
}
