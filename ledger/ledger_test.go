package ledger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	pptest "github.com/arloliu/peerpair/testing"
	"github.com/arloliu/peerpair/types"
)

var (
	testNow   = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	testDue   = time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	teacher   = types.User{ID: 100, ExternalID: 9100, Username: "teacher"}
	alice     = types.User{ID: 1, ExternalID: 9001, Username: "alice"}
	bob       = types.User{ID: 2, ExternalID: 9002, Username: "bob"}
	carol     = types.User{ID: 3, ExternalID: 9003, Username: "carol"}
	essay     = types.Assignment{ID: 77, CourseID: 5, Name: "Essay", DueAt: &testDue}
	essayConf = types.AssignmentSettings{
		CourseID:             5,
		AssignmentID:         77,
		RubricID:             12,
		DeadlineFormat:       types.DeadlinePlatform,
		FeedbackDeadlineDays: 7,
	}
)

type storeFactory func(t *testing.T) Store

func storeBackends(t *testing.T) map[string]storeFactory {
	t.Helper()

	backends := map[string]storeFactory{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"nats-kv": func(t *testing.T) Store {
			_, nc := pptest.StartEmbeddedNATS(t)
			store, err := NewKVStore(t.Context(), pptest.NewJetStream(t, nc), "", pptest.NewTestLogger(t))
			require.NoError(t, err)

			return store
		},
	}

	if url := os.Getenv("PEERPAIR_TEST_DATABASE_URL"); url != "" {
		backends["postgres"] = func(t *testing.T) Store {
			cfg := DefaultPostgresConfig()
			cfg.URL = url
			db, err := OpenPostgres(t.Context(), cfg)
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })

			store := NewPostgresStore(db)
			require.NoError(t, store.Migrate(t.Context()))
			_, err = db.ExecContext(t.Context(), `TRUNCATE pairings, tasks, feedbacks, assignment_settings`)
			require.NoError(t, err)

			return store
		}
	}

	return backends
}

func newTestLedger(t *testing.T, store Store) *Ledger {
	t.Helper()

	l := New(store, WithLogger(pptest.NewTestLogger(t)), WithClock(func() time.Time { return testNow }))
	require.NoError(t, l.PutSettings(t.Context(), essayConf))

	return l
}

func request(grader, recipient types.User) CreateRequest {
	return CreateRequest{Creator: teacher, Grader: grader, Recipient: recipient, Assignment: essay}
}

func TestLedger_CreatePairing(t *testing.T) {
	for name, factory := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()

			t.Run("unconfigured assignment is rejected", func(t *testing.T) {
				l := New(factory(t))
				_, err := l.CreatePairing(ctx, request(alice, bob))
				require.ErrorIs(t, err, types.ErrCourseNotConfigured)
			})

			t.Run("creates pending task and draft feedback", func(t *testing.T) {
				l := newTestLedger(t, factory(t))

				p, err := l.CreatePairing(ctx, request(alice, bob))
				require.NoError(t, err)
				require.Equal(t, types.KindStudent, p.Kind)
				require.Equal(t, alice.ID, p.GraderID)
				require.Equal(t, bob.ID, p.RecipientID)
				require.Equal(t, teacher.ID, p.CreatorID)

				rec, err := l.Get(ctx, p.ID)
				require.NoError(t, err)
				require.Equal(t, types.TaskPending, rec.Task.Status)
				require.Equal(t, alice.ID, rec.Task.UserID)
				require.NotNil(t, rec.Task.DueDate)
				require.True(t, testDue.AddDate(0, 0, 7).Equal(*rec.Task.DueDate))
				require.True(t, rec.Feedback.Draft)
				require.Equal(t, int64(12), rec.Feedback.RubricID)
				require.Equal(t, bob.ID, rec.Feedback.ReceiverID)

				byTask, err := l.GetByTask(ctx, rec.Task.ID)
				require.NoError(t, err)
				require.Equal(t, p.ID, byTask.Pairing.ID)
			})

			t.Run("self pairing is rejected by local or external identity", func(t *testing.T) {
				l := newTestLedger(t, factory(t))

				_, err := l.CreatePairing(ctx, request(alice, alice))
				require.ErrorIs(t, err, types.ErrSelfPairing)

				sameExternal := types.User{ID: 55, ExternalID: alice.ExternalID}
				_, err = l.CreatePairing(ctx, request(alice, sameExternal))
				require.ErrorIs(t, err, types.ErrSelfPairing)
			})

			t.Run("second active pairing is a duplicate", func(t *testing.T) {
				l := newTestLedger(t, factory(t))

				_, err := l.CreatePairing(ctx, request(alice, bob))
				require.NoError(t, err)

				_, err = l.CreatePairing(ctx, request(alice, bob))
				require.ErrorIs(t, err, types.ErrDuplicatePairing)
				require.True(t, types.IsConflict(err))

				// The reverse direction is a different pairing.
				_, err = l.CreatePairing(ctx, request(bob, alice))
				require.NoError(t, err)
			})

			t.Run("view-only pairings never collide with each other", func(t *testing.T) {
				l := newTestLedger(t, factory(t))

				req := request(alice, carol)
				req.ViewOnly = true
				_, err := l.CreatePairing(ctx, req)
				require.NoError(t, err)
				_, err = l.CreatePairing(ctx, req)
				require.NoError(t, err)

				// An active pairing can still follow view-only ones.
				_, err = l.CreatePairing(ctx, request(alice, carol))
				require.NoError(t, err)
			})

			t.Run("view-only over an active pairing is a duplicate", func(t *testing.T) {
				l := newTestLedger(t, factory(t))

				_, err := l.CreatePairing(ctx, request(alice, carol))
				require.NoError(t, err)

				req := request(alice, carol)
				req.ViewOnly = true
				_, err = l.CreatePairing(ctx, req)
				require.ErrorIs(t, err, types.ErrDuplicatePairing)

				records, err := l.List(ctx, Filter{AssignmentID: req.Assignment.ID})
				require.NoError(t, err)
				require.Len(t, records, 1)
				require.False(t, records[0].Pairing.ViewOnly)
			})

			t.Run("archived pairing frees the triple", func(t *testing.T) {
				l := newTestLedger(t, factory(t))

				p, err := l.CreatePairing(ctx, request(alice, bob))
				require.NoError(t, err)
				_, err = l.Archive(ctx, p.ID)
				require.NoError(t, err)

				_, found, err := l.FindExisting(ctx, alice.ID, bob.ID, essay.ID)
				require.NoError(t, err)
				require.False(t, found)

				_, err = l.CreatePairing(ctx, request(alice, bob))
				require.NoError(t, err)
			})

			t.Run("pseudonym is recorded only inside a study", func(t *testing.T) {
				l := newTestLedger(t, factory(t))

				req := request(alice, bob)
				req.Pseudonym = "Otter"
				p, err := l.CreatePairing(ctx, req)
				require.NoError(t, err)
				require.Empty(t, p.Pseudonym)

				req = request(bob, alice)
				req.Pseudonym = "Otter"
				req.Study = &types.Study{ID: "study-1"}
				p, err = l.CreatePairing(ctx, req)
				require.NoError(t, err)
				require.Equal(t, "Otter", p.Pseudonym)
				require.Equal(t, "study-1", p.StudyID)
			})
		})
	}
}

func TestLedger_SetArchived(t *testing.T) {
	for name, factory := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()

			t.Run("complete task stays complete after unarchive", func(t *testing.T) {
				l := newTestLedger(t, factory(t))
				p, err := l.CreatePairing(ctx, request(alice, bob))
				require.NoError(t, err)
				_, err = l.CompleteReview(ctx, p.ID)
				require.NoError(t, err)

				rec, err := l.SetArchived(ctx, p.ID, true)
				require.NoError(t, err)
				require.True(t, rec.Pairing.Archived)
				require.Equal(t, types.TaskArchived, rec.Task.Status)
				require.Equal(t, types.TaskComplete, rec.Task.ArchivedFrom)

				rec, err = l.SetArchived(ctx, p.ID, false)
				require.NoError(t, err)
				require.False(t, rec.Pairing.Archived)
				require.Equal(t, types.TaskComplete, rec.Task.Status)
			})

			t.Run("in progress task is reopened as pending", func(t *testing.T) {
				l := newTestLedger(t, factory(t))
				p, err := l.CreatePairing(ctx, request(alice, bob))
				require.NoError(t, err)
				_, err = l.StartReview(ctx, p.ID)
				require.NoError(t, err)

				_, err = l.SetArchived(ctx, p.ID, true)
				require.NoError(t, err)
				rec, err := l.SetArchived(ctx, p.ID, false)
				require.NoError(t, err)
				require.Equal(t, types.TaskPending, rec.Task.Status)
				require.Empty(t, rec.Task.ArchivedFrom)

				stored, err := l.Get(ctx, p.ID)
				require.NoError(t, err)
				require.Equal(t, types.TaskPending, stored.Task.Status)
			})

			t.Run("archiving twice is a no-op", func(t *testing.T) {
				l := newTestLedger(t, factory(t))
				p, err := l.CreatePairing(ctx, request(alice, bob))
				require.NoError(t, err)

				_, err = l.Archive(ctx, p.ID)
				require.NoError(t, err)
				rec, err := l.Archive(ctx, p.ID)
				require.NoError(t, err)
				require.Equal(t, types.TaskPending, rec.Task.ArchivedFrom)
			})

			t.Run("unarchive collides with a newer active pairing", func(t *testing.T) {
				l := newTestLedger(t, factory(t))
				old, err := l.CreatePairing(ctx, request(alice, bob))
				require.NoError(t, err)
				_, err = l.Archive(ctx, old.ID)
				require.NoError(t, err)
				_, err = l.CreatePairing(ctx, request(alice, bob))
				require.NoError(t, err)

				_, err = l.SetArchived(ctx, old.ID, false)
				require.ErrorIs(t, err, types.ErrDuplicatePairing)
			})

			t.Run("archive by task", func(t *testing.T) {
				l := newTestLedger(t, factory(t))
				p, err := l.CreatePairing(ctx, request(alice, bob))
				require.NoError(t, err)
				rec, err := l.Get(ctx, p.ID)
				require.NoError(t, err)

				archived, err := l.ArchiveTask(ctx, rec.Task.ID)
				require.NoError(t, err)
				require.True(t, archived.Pairing.Archived)

				_, err = l.ArchiveTask(ctx, "missing")
				require.ErrorIs(t, err, types.ErrTaskNotFound)
			})

			t.Run("unknown pairing", func(t *testing.T) {
				l := newTestLedger(t, factory(t))
				_, err := l.SetArchived(ctx, "missing", true)
				require.ErrorIs(t, err, types.ErrPairingNotFound)
			})
		})
	}
}

func TestLedger_DeleteAndList(t *testing.T) {
	for name, factory := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			l := newTestLedger(t, factory(t))

			ab, err := l.CreatePairing(ctx, request(alice, bob))
			require.NoError(t, err)
			_, err = l.CreatePairing(ctx, request(carol, bob))
			require.NoError(t, err)
			ta := request(teacher, alice)
			ta.Kind = types.KindTA
			_, err = l.CreatePairing(ctx, ta)
			require.NoError(t, err)
			ca, err := l.CreatePairing(ctx, request(carol, alice))
			require.NoError(t, err)
			_, err = l.Archive(ctx, ca.ID)
			require.NoError(t, err)

			all, err := l.List(ctx, Filter{CourseID: 5, AssignmentID: 77})
			require.NoError(t, err)
			require.Len(t, all, 3)

			withArchived, err := l.List(ctx, Filter{AssignmentID: 77, IncludeArchived: true})
			require.NoError(t, err)
			require.Len(t, withArchived, 4)

			students, err := l.List(ctx, Filter{AssignmentID: 77, Kind: types.KindStudent})
			require.NoError(t, err)
			require.Len(t, students, 2)

			counts, err := l.ReviewCounts(ctx, 5, 77, types.KindStudent)
			require.NoError(t, err)
			require.Equal(t, map[types.UserID]int{bob.ID: 2}, counts)

			viewOnly := request(bob, carol)
			viewOnly.ViewOnly = true
			_, err = l.CreatePairing(ctx, viewOnly)
			require.NoError(t, err)

			// View-only and archived pairings are not reviews.
			counts, err = l.ReviewCounts(ctx, 5, 77, "")
			require.NoError(t, err)
			require.Equal(t, map[types.UserID]int{bob.ID: 2, alice.ID: 1}, counts)

			rec, err := l.Get(ctx, ab.ID)
			require.NoError(t, err)
			require.NoError(t, l.Delete(ctx, ab.ID))

			_, err = l.Get(ctx, ab.ID)
			require.ErrorIs(t, err, types.ErrPairingNotFound)
			_, err = l.GetByTask(ctx, rec.Task.ID)
			require.ErrorIs(t, err, types.ErrTaskNotFound)
			require.ErrorIs(t, l.Delete(ctx, ab.ID), types.ErrPairingNotFound)

			_, err = l.CreatePairing(ctx, request(alice, bob))
			require.NoError(t, err)
		})
	}
}

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	users := pptest.Students(3)
	known, err := dir.EnsureUsers(ctx, users[:1], true)
	require.NoError(t, err)
	require.Len(t, known, 1)
	require.NotZero(t, known[0].ID)

	resolved, err := dir.EnsureUsers(ctx, users, false)
	require.NoError(t, err)
	require.Len(t, resolved, 1, "unknown users are omitted without createMissing")

	created, err := dir.EnsureUsers(ctx, users, true)
	require.NoError(t, err)
	require.Len(t, created, 3)
	require.Equal(t, known[0].ID, created[0].ID)
	require.NotEqual(t, created[1].ID, created[2].ID)

	got, err := dir.User(ctx, created[2].ID)
	require.NoError(t, err)
	require.Equal(t, "student03", got.Username)

	_, err = dir.User(ctx, 999)
	require.ErrorIs(t, err, types.ErrUserNotFound)
}

func TestPostgresConfig_Validate(t *testing.T) {
	cfg := DefaultPostgresConfig()
	require.Error(t, cfg.Validate())

	cfg.URL = "postgres://localhost/peerpair"
	require.NoError(t, cfg.Validate())

	cfg.MaxIdleConns = cfg.MaxOpenConns + 1
	require.Error(t, cfg.Validate())

	_, err := OpenPostgres(context.Background(), PostgresConfig{})
	require.ErrorIs(t, err, types.ErrInvalidConfig)
}
