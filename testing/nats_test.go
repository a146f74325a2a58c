package testing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/peerpair/types"
)

func TestStartEmbeddedNATS(t *testing.T) {
	ns, nc := StartEmbeddedNATS(t)

	require.NotNil(t, ns)
	require.True(t, nc.IsConnected())
	require.True(t, ns.ReadyForConnections(time.Second))
}

func TestCreateJetStreamKV(t *testing.T) {
	ctx := t.Context()
	_, nc := StartEmbeddedNATS(t)

	pairings := CreateJetStreamKV(t, nc, "pairings")
	admission := CreateJetStreamKV(t, nc, "admission")

	_, err := pairings.Create(ctx, "active.77.1.2", []byte("p-1"))
	require.NoError(t, err)

	// Buckets are isolated: the same key is free in the other bucket.
	_, err = admission.Create(ctx, "active.77.1.2", []byte("job-1"))
	require.NoError(t, err)

	entry, err := pairings.Get(ctx, "active.77.1.2")
	require.NoError(t, err)
	require.Equal(t, "p-1", string(entry.Value()))

	status, err := admission.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, "admission", status.Bucket())
	require.Equal(t, uint64(1), status.Values())
}

func TestFixtures(t *testing.T) {
	students := Students(3)
	require.Len(t, students, 3)
	require.Equal(t, "student01", students[0].Username)
	require.Equal(t, int64(3), students[2].ExternalID)

	subs := Submissions(students, types.SubmissionSubmitted)
	require.Len(t, subs, 3)
	require.True(t, subs[1].Eligible())

	require.False(t, Graded(students[0], 0).Eligible())
	require.True(t, Graded(students[0], 7.5).Eligible())
}
