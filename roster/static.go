package roster

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/peerpair/types"
)

// Snapshot is a complete roster in a form that can be written by hand.
//
// Example file:
//
//	courses:
//	  - id: 5
//	    name: Writing 101
//	    students:
//	      - {externalId: 1, username: alice}
//	      - {externalId: 2, username: bob}
//	    tas:
//	      - {externalId: 90, username: tina}
//	    assignments:
//	      - id: 77
//	        name: Essay
//	        dueAt: 2026-03-01T23:59:00Z
//	        submissions:
//	          - {userExternalId: 1, state: submitted}
//	          - {userExternalId: 2, state: graded, score: 0}
//	groupCategories:
//	  - id: 3
//	    groups:
//	      - {id: 31, name: Team A, members: [{externalId: 1, username: alice}]}
type Snapshot struct {
	Courses         []CourseSnapshot `yaml:"courses"`
	GroupCategories []GroupCategory  `yaml:"groupCategories,omitempty"`
	Studies         []types.Study    `yaml:"studies,omitempty"`
}

// CourseSnapshot is one course with its members and assignments.
type CourseSnapshot struct {
	ID          int64                `yaml:"id"`
	Name        string               `yaml:"name"`
	Students    []types.User         `yaml:"students"`
	TAs         []types.User         `yaml:"tas,omitempty"`
	Teachers    []types.User         `yaml:"teachers,omitempty"`
	Assignments []AssignmentSnapshot `yaml:"assignments"`
}

// AssignmentSnapshot is an assignment with its submissions.
type AssignmentSnapshot struct {
	types.Assignment `yaml:",inline"`
	Submissions      []types.Submission `yaml:"submissions"`
}

// GroupCategory is a set of groups an assignment can be attached to.
type GroupCategory struct {
	ID     int64         `yaml:"id"`
	Groups []types.Group `yaml:"groups"`
}

type assignmentKey struct {
	courseID     int64
	assignmentID int64
}

type enrollmentKey struct {
	courseID int64
	role     types.EnrollmentRole
}

// Static is a RosterProvider over data held in memory.
//
// It serves tests, the CLI preview against a roster file, and deployments
// where roster data is exported ahead of time. All methods are safe for
// concurrent use and return copies.
type Static struct {
	mu          sync.RWMutex
	assignments map[assignmentKey]types.Assignment
	submissions map[assignmentKey][]types.Submission
	categories  map[int64][]types.Group
	members     map[int64][]types.User
	enrollments map[enrollmentKey][]types.User
	studies     []types.Study
}

var (
	_ types.RosterProvider = (*Static)(nil)
	_ types.StudyCatalog   = (*Static)(nil)
)

// NewStatic creates an empty static roster.
func NewStatic() *Static {
	return &Static{
		assignments: make(map[assignmentKey]types.Assignment),
		submissions: make(map[assignmentKey][]types.Submission),
		categories:  make(map[int64][]types.Group),
		members:     make(map[int64][]types.User),
		enrollments: make(map[enrollmentKey][]types.User),
	}
}

// NewStaticFromSnapshot creates a static roster holding snap.
func NewStaticFromSnapshot(snap Snapshot) *Static {
	s := NewStatic()
	s.Load(snap)

	return s
}

// LoadFile reads a YAML snapshot from path.
//
// Parameters:
//   - path: Path to the YAML roster file
//
// Returns:
//   - *Static: Roster holding the file contents
//   - error: Read or parse failure
//
// Example:
//
//	src, err := roster.LoadFile("roster.yaml")
//	if err != nil { /* handle */ }
//	matches, err := svc.Preview(ctx, req)
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster file: %w", err)
	}

	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse roster file: %w", err)
	}

	return NewStaticFromSnapshot(snap), nil
}

// Load merges snap into the roster, replacing entries with the same keys.
func (s *Static) Load(snap Snapshot) {
	for _, c := range snap.Courses {
		s.SetEnrollments(c.ID, types.RoleStudent, c.Students)
		s.SetEnrollments(c.ID, types.RoleTA, c.TAs)
		s.SetEnrollments(c.ID, types.RoleTeacher, c.Teachers)

		for _, a := range c.Assignments {
			assignment := a.Assignment
			if assignment.CourseID == 0 {
				assignment.CourseID = c.ID
			}
			s.SetAssignment(assignment)
			s.SetSubmissions(assignment.CourseID, assignment.ID, a.Submissions)
		}
	}

	for _, gc := range snap.GroupCategories {
		s.SetGroups(gc.ID, gc.Groups)
	}

	if len(snap.Studies) > 0 {
		s.SetStudies(snap.Studies)
	}
}

// SetAssignment adds or replaces an assignment.
func (s *Static) SetAssignment(a types.Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assignments[assignmentKey{courseID: a.CourseID, assignmentID: a.ID}] = a
}

// SetSubmissions replaces the submissions of an assignment.
func (s *Static) SetSubmissions(courseID, assignmentID int64, subs []types.Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.submissions[assignmentKey{courseID: courseID, assignmentID: assignmentID}] = slices.Clone(subs)
}

// SetGroups replaces the groups of a group category, members included.
func (s *Static) SetGroups(groupCategoryID int64, groups []types.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stripped := make([]types.Group, len(groups))
	for i, g := range groups {
		s.members[g.ID] = slices.Clone(g.Members)
		stripped[i] = types.Group{ID: g.ID, Name: g.Name}
	}
	s.categories[groupCategoryID] = stripped
}

// SetEnrollments replaces the course members holding role.
func (s *Static) SetEnrollments(courseID int64, role types.EnrollmentRole, users []types.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enrollments[enrollmentKey{courseID: courseID, role: role}] = slices.Clone(users)
}

// SetStudies replaces the known studies.
func (s *Static) SetStudies(studies []types.Study) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.studies = slices.Clone(studies)
}

// Assignment implements types.RosterProvider.
func (s *Static) Assignment(_ context.Context, courseID, assignmentID int64) (types.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[assignmentKey{courseID: courseID, assignmentID: assignmentID}]
	if !ok {
		return types.Assignment{}, fmt.Errorf("%w: assignment %d in course %d", types.ErrRosterUnavailable, assignmentID, courseID)
	}

	return a, nil
}

// Submissions implements types.RosterProvider.
func (s *Static) Submissions(_ context.Context, courseID, assignmentID int64) ([]types.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := assignmentKey{courseID: courseID, assignmentID: assignmentID}
	if _, ok := s.assignments[key]; !ok {
		return nil, fmt.Errorf("%w: assignment %d in course %d", types.ErrRosterUnavailable, assignmentID, courseID)
	}

	return slices.Clone(s.submissions[key]), nil
}

// Groups implements types.RosterProvider.
func (s *Static) Groups(_ context.Context, groupCategoryID int64) ([]types.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups, ok := s.categories[groupCategoryID]
	if !ok {
		return nil, fmt.Errorf("%w: group category %d", types.ErrRosterUnavailable, groupCategoryID)
	}

	return slices.Clone(groups), nil
}

// GroupMembers implements types.RosterProvider.
func (s *Static) GroupMembers(_ context.Context, groupID int64) ([]types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.members[groupID]), nil
}

// Enrollments implements types.RosterProvider.
func (s *Static) Enrollments(_ context.Context, courseID int64, roles ...types.EnrollmentRole) ([]types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(roles) == 0 {
		roles = []types.EnrollmentRole{types.RoleStudent}
	}

	var out []types.User
	seen := make(map[int64]struct{})
	for _, role := range roles {
		for _, u := range s.enrollments[enrollmentKey{courseID: courseID, role: role}] {
			if _, dup := seen[u.ExternalID]; dup {
				continue
			}
			seen[u.ExternalID] = struct{}{}
			out = append(out, u)
		}
	}

	return out, nil
}

// Studies implements types.StudyCatalog.
func (s *Static) Studies(_ context.Context) ([]types.Study, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.studies), nil
}
