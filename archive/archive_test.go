package archive

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	pptest "github.com/arloliu/peerpair/testing"
	"github.com/arloliu/peerpair/types"
)

type snapshotArchive interface {
	types.Archive
	GetSnapshot(ctx context.Context, key string) (types.AllocationSnapshot, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

func archiveBackends(t *testing.T) map[string]func(t *testing.T) snapshotArchive {
	t.Helper()

	backends := map[string]func(t *testing.T) snapshotArchive{
		"memory": func(*testing.T) snapshotArchive { return NewMemory() },
	}

	if endpoint := os.Getenv("PEERPAIR_TEST_MINIO_ENDPOINT"); endpoint != "" {
		backends["minio"] = func(t *testing.T) snapshotArchive {
			cfg := DefaultMinIOConfig()
			cfg.Endpoint = endpoint
			cfg.AccessKey = os.Getenv("PEERPAIR_TEST_MINIO_ACCESS_KEY")
			cfg.SecretKey = os.Getenv("PEERPAIR_TEST_MINIO_SECRET_KEY")
			cfg.Bucket = "peerpair-test-" + strings.ToLower(time.Now().UTC().Format("20060102t150405"))

			a, err := NewMinIO(t.Context(), cfg, pptest.NewTestLogger(t))
			require.NoError(t, err)

			return a
		}
	}

	return backends
}

func snapshot(kind string, at time.Time) types.AllocationSnapshot {
	return types.AllocationSnapshot{
		Kind:         kind,
		CourseID:     5,
		AssignmentID: 77,
		Rounds:       2,
		CreatorID:    900,
		Matches: []types.SnapshotMatch{
			{GraderID: 1, RecipientIDs: []types.UserID{2, 3}},
			{GraderID: 2, RecipientIDs: []types.UserID{3, 1}},
		},
		Created:   4,
		Success:   true,
		Message:   "done",
		CreatedAt: at,
	}
}

func TestArchive(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for name, factory := range archiveBackends(t) {
		t.Run(name, func(t *testing.T) {
			a := factory(t)

			key, err := a.PutSnapshot(t.Context(), snapshot("automatic", at))
			require.NoError(t, err)
			require.True(t, strings.HasPrefix(key, "5/77/automatic/20260302T090000Z-"), key)
			require.True(t, strings.HasSuffix(key, ".json"), key)

			got, err := a.GetSnapshot(t.Context(), key)
			require.NoError(t, err)
			require.Equal(t, snapshot("automatic", at), got)

			_, err = a.PutSnapshot(t.Context(), snapshot("csv", at.Add(time.Minute)))
			require.NoError(t, err)

			all, err := a.List(t.Context(), Prefix(5, 77, ""))
			require.NoError(t, err)
			require.Len(t, all, 2)

			automatic, err := a.List(t.Context(), Prefix(5, 77, "automatic"))
			require.NoError(t, err)
			require.Equal(t, []string{key}, automatic)
		})
	}
}

func TestMemory_GetMissing(t *testing.T) {
	_, err := NewMemory().GetSnapshot(t.Context(), "5/77/automatic/none.json")
	require.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestMinIOConfigValidate(t *testing.T) {
	valid := DefaultMinIOConfig()
	valid.AccessKey, valid.SecretKey = "key", "secret"
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*MinIOConfig)
	}{
		{"missing endpoint", func(c *MinIOConfig) { c.Endpoint = "" }},
		{"scheme in endpoint", func(c *MinIOConfig) { c.Endpoint = "http://localhost:9000" }},
		{"missing credentials", func(c *MinIOConfig) { c.SecretKey = " " }},
		{"missing bucket", func(c *MinIOConfig) { c.Bucket = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())

			_, err := NewMinIO(t.Context(), cfg, nil)
			require.ErrorIs(t, err, types.ErrInvalidConfig)
		})
	}
}
