package allocation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/peerpair/jobs"
	"github.com/arloliu/peerpair/types"
)

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []CSVRecord
		wantErr bool
	}{
		{
			name:  "with header",
			input: "grader,recipient1,recipient2\nalice,bob,carol\nbob,carol\n",
			want: []CSVRecord{
				{Grader: "alice", Recipients: []string{"bob", "carol"}},
				{Grader: "bob", Recipients: []string{"carol"}},
			},
		},
		{
			name:  "merges graders and drops blanks",
			input: "alice, bob,,\n\nalice,carol,bob\n",
			want:  []CSVRecord{{Grader: "alice", Recipients: []string{"bob", "carol"}}},
		},
		{name: "grader without recipients", input: "alice\n", wantErr: true},
		{name: "header only", input: "Grader,Recipient\n", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "bad quoting", input: "alice,\"bob\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCSV(strings.NewReader(tt.input))
			if tt.wantErr {
				require.ErrorIs(t, err, types.ErrInvalidAllocation)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func csvRequest(records ...CSVRecord) CSVRequest {
	return CSVRequest{CourseID: courseID, AssignmentID: assignmentID, Records: records, Creator: teacher}
}

func TestRunCSV(t *testing.T) {
	t.Run("skips missing submissions", func(t *testing.T) {
		f := newFixture(t, withStudents(6, 5))

		res, err := f.orch.RunCSV(t.Context(), csvRequest(
			CSVRecord{Grader: "student01", Recipients: []string{"student02", "student06"}},
			CSVRecord{Grader: "student03", Recipients: []string{"student06"}},
		), nil)
		require.NoError(t, err)
		require.Equal(t, jobs.ResultSuccess, res.Status)
		require.Equal(t, 1, res.Created)
		require.Equal(t, []string{"student06", "student06"}, res.Skipped)
		require.Equal(t, MsgCSVPartial+"student06,student06", res.Message)

		pairs := f.pairings(t, types.KindStudent)
		require.Len(t, pairs, 1)
		require.Equal(t, f.students[0].ID, pairs[0].GraderID)
		require.Equal(t, f.students[1].ID, pairs[0].RecipientID)
	})

	t.Run("allow missing", func(t *testing.T) {
		f := newFixture(t, withStudents(6, 5))
		req := csvRequest(CSVRecord{Grader: "student01", Recipients: []string{"student02", "student06"}})
		req.AllowMissing = true

		res, err := f.orch.RunCSV(t.Context(), req, nil)
		require.NoError(t, err)
		require.Equal(t, 2, res.Created)
		require.Equal(t, MsgCSVDone, res.Message)
		require.Empty(t, res.Skipped)
	})

	t.Run("unknown usernames", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.orch.RunCSV(t.Context(), csvRequest(
			CSVRecord{Grader: "ghost", Recipients: []string{"student01", "phantom"}},
		), nil)
		require.ErrorIs(t, err, types.ErrUsersNotInCourse)
		require.Contains(t, err.Error(), "ghost phantom")
		require.Empty(t, f.pairings(t, ""))
	})

	t.Run("TA graders", func(t *testing.T) {
		f := newFixture(t, withTAs(1))
		req := csvRequest(CSVRecord{Grader: "ta01", Recipients: []string{"student01", "student02"}})

		_, err := f.orch.RunCSV(t.Context(), req, nil)
		require.ErrorIs(t, err, types.ErrUsersNotInCourse, "TAs are not valid student graders")

		req.GraderType = types.KindTA
		res, err := f.orch.RunCSV(t.Context(), req, nil)
		require.NoError(t, err)
		require.Equal(t, 2, res.Created)
		require.Len(t, f.pairings(t, types.KindTA), 2)
		require.Empty(t, f.pairings(t, types.KindStudent))
	})

	t.Run("conflicts are skipped", func(t *testing.T) {
		f := newFixture(t)
		req := csvRequest(CSVRecord{Grader: "student01", Recipients: []string{"student01", "student02"}})

		res, err := f.orch.RunCSV(t.Context(), req, nil)
		require.NoError(t, err)
		require.Equal(t, 1, res.Created)

		res, err = f.orch.RunCSV(t.Context(), req, nil)
		require.NoError(t, err)
		require.Zero(t, res.Created)
	})

	t.Run("invalid grader type", func(t *testing.T) {
		f := newFixture(t)
		req := csvRequest(CSVRecord{Grader: "student01", Recipients: []string{"student02"}})
		req.GraderType = types.KindIntraGroup

		_, err := f.orch.RunCSV(t.Context(), req, nil)
		require.ErrorIs(t, err, types.ErrInvalidAllocation)
	})
}
