package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/arloliu/peerpair/types"
)

// PostgresConfig configures the connection pool of the Postgres store.
type PostgresConfig struct {
	URL             string        `yaml:"url"`
	PingTimeout     time.Duration `yaml:"pingTimeout"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DefaultPostgresConfig returns pool settings suitable for a single service instance.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		PingTimeout:     2 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Validate checks the pool settings.
func (c PostgresConfig) Validate() error {
	switch {
	case c.URL == "":
		return errors.New("postgres url is required")
	case c.PingTimeout <= 0:
		return errors.New("postgres pingTimeout must be positive")
	case c.MaxOpenConns < 1:
		return errors.New("postgres maxOpenConns must be >= 1")
	case c.MaxIdleConns < 0 || c.MaxIdleConns > c.MaxOpenConns:
		return errors.New("postgres maxIdleConns must be between 0 and maxOpenConns")
	case c.ConnMaxLifetime < 0:
		return errors.New("postgres connMaxLifetime must be >= 0")
	}

	return nil
}

// OpenPostgres opens and pings a database/sql pool using the pgx driver.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidConfig, err)
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return db, nil
}

// schema is applied by Migrate. The partial unique index enforces the
// active-pairing rule inside the database.
const schema = `
CREATE TABLE IF NOT EXISTS assignment_settings (
	course_id              BIGINT  NOT NULL,
	assignment_id          BIGINT  NOT NULL,
	rubric_id              BIGINT  NOT NULL DEFAULT 0,
	deadline_format        TEXT    NOT NULL DEFAULT 'canvas',
	feedback_deadline_days INTEGER NOT NULL DEFAULT 0,
	custom_deadline        TIMESTAMPTZ,
	intra_group_review     BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (course_id, assignment_id)
);

CREATE TABLE IF NOT EXISTS pairings (
	id            TEXT PRIMARY KEY,
	kind          TEXT        NOT NULL,
	course_id     BIGINT      NOT NULL,
	assignment_id BIGINT      NOT NULL,
	grader_id     BIGINT      NOT NULL,
	recipient_id  BIGINT      NOT NULL,
	creator_id    BIGINT      NOT NULL,
	view_only     BOOLEAN     NOT NULL DEFAULT FALSE,
	pseudonym     TEXT        NOT NULL DEFAULT '',
	study_id      TEXT        NOT NULL DEFAULT '',
	archived      BOOLEAN     NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS pairings_active_uniq
	ON pairings (assignment_id, grader_id, recipient_id)
	WHERE NOT archived AND NOT view_only;

CREATE TABLE IF NOT EXISTS tasks (
	id            TEXT PRIMARY KEY,
	pairing_id    TEXT        NOT NULL UNIQUE,
	user_id       BIGINT      NOT NULL,
	course_id     BIGINT      NOT NULL,
	assignment_id BIGINT      NOT NULL,
	status        TEXT        NOT NULL,
	archived_from TEXT        NOT NULL DEFAULT '',
	due_date      TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS feedbacks (
	id            TEXT PRIMARY KEY,
	pairing_id    TEXT    NOT NULL UNIQUE,
	kind          TEXT    NOT NULL,
	course_id     BIGINT  NOT NULL,
	assignment_id BIGINT  NOT NULL,
	reviewer_id   BIGINT  NOT NULL,
	receiver_id   BIGINT  NOT NULL,
	draft         BOOLEAN NOT NULL DEFAULT TRUE,
	rubric_id     BIGINT  NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS users (
	id          BIGSERIAL PRIMARY KEY,
	external_id BIGINT NOT NULL UNIQUE,
	username    TEXT   NOT NULL DEFAULT '',
	name        TEXT   NOT NULL DEFAULT '',
	email       TEXT   NOT NULL DEFAULT ''
);
`

// PostgresStore is a Store backed by PostgreSQL.
//
// Each record is written in one transaction. Pairing, task and feedback rows
// are deleted explicitly in the same transaction; the schema carries no
// cascading foreign keys.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store over an open pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables and indexes when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	return false
}

// PutSettings implements Store.
func (s *PostgresStore) PutSettings(ctx context.Context, st types.AssignmentSettings) error {
	format := st.DeadlineFormat
	if format == "" {
		format = types.DeadlinePlatform
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assignment_settings (
			course_id, assignment_id, rubric_id, deadline_format,
			feedback_deadline_days, custom_deadline, intra_group_review
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (course_id, assignment_id) DO UPDATE SET
			rubric_id = EXCLUDED.rubric_id,
			deadline_format = EXCLUDED.deadline_format,
			feedback_deadline_days = EXCLUDED.feedback_deadline_days,
			custom_deadline = EXCLUDED.custom_deadline,
			intra_group_review = EXCLUDED.intra_group_review`,
		st.CourseID, st.AssignmentID, st.RubricID, string(format),
		st.FeedbackDeadlineDays, nullTime(st.CustomDeadline), st.IntraGroupReview,
	)
	if err != nil {
		return fmt.Errorf("failed to store settings: %w", err)
	}

	return nil
}

// Settings implements Store.
func (s *PostgresStore) Settings(ctx context.Context, courseID, assignmentID int64) (types.AssignmentSettings, error) {
	st := types.AssignmentSettings{CourseID: courseID, AssignmentID: assignmentID}
	var (
		format string
		custom sql.NullTime
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT rubric_id, deadline_format, feedback_deadline_days, custom_deadline, intra_group_review
		FROM assignment_settings WHERE course_id = $1 AND assignment_id = $2`,
		courseID, assignmentID,
	).Scan(&st.RubricID, &format, &st.FeedbackDeadlineDays, &custom, &st.IntraGroupReview)
	if errors.Is(err, sql.ErrNoRows) {
		return types.AssignmentSettings{}, types.ErrCourseNotConfigured
	}
	if err != nil {
		return types.AssignmentSettings{}, fmt.Errorf("failed to load settings: %w", err)
	}

	st.DeadlineFormat = types.DeadlineFormat(format)
	st.CustomDeadline = timePtr(custom)

	return st, nil
}

// Insert implements Store.
func (s *PostgresStore) Insert(ctx context.Context, rec types.PairingRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	p := rec.Pairing
	_, err = tx.ExecContext(ctx, `
		INSERT INTO pairings (
			id, kind, course_id, assignment_id, grader_id, recipient_id, creator_id,
			view_only, pseudonym, study_id, archived, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		p.ID, string(p.Kind), p.CourseID, p.AssignmentID, int64(p.GraderID), int64(p.RecipientID),
		int64(p.CreatorID), p.ViewOnly, p.Pseudonym, p.StudyID, p.Archived, p.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.ErrDuplicatePairing
		}

		return fmt.Errorf("insert pairing: %w", err)
	}

	t := rec.Task
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (
			id, pairing_id, user_id, course_id, assignment_id, status, archived_from, due_date, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		t.ID, t.PairingID, int64(t.UserID), t.CourseID, t.AssignmentID, string(t.Status),
		string(t.ArchivedFrom), nullTime(t.DueDate), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	f := rec.Feedback
	_, err = tx.ExecContext(ctx, `
		INSERT INTO feedbacks (
			id, pairing_id, kind, course_id, assignment_id, reviewer_id, receiver_id, draft, rubric_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		f.ID, f.PairingID, string(f.Kind), f.CourseID, f.AssignmentID, int64(f.ReviewerID),
		int64(f.ReceiverID), f.Draft, f.RubricID,
	)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// Update implements Store.
func (s *PostgresStore) Update(ctx context.Context, rec types.PairingRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	p := rec.Pairing
	res, err := tx.ExecContext(ctx, `
		UPDATE pairings SET view_only = $2, pseudonym = $3, study_id = $4, archived = $5
		WHERE id = $1`,
		p.ID, p.ViewOnly, p.Pseudonym, p.StudyID, p.Archived,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.ErrDuplicatePairing
		}

		return fmt.Errorf("update pairing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrPairingNotFound
	}

	t := rec.Task
	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = $2, archived_from = $3, due_date = $4 WHERE pairing_id = $1`,
		p.ID, string(t.Status), string(t.ArchivedFrom), nullTime(t.DueDate),
	); err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE feedbacks SET draft = $2 WHERE pairing_id = $1`,
		p.ID, rec.Feedback.Draft,
	); err != nil {
		return fmt.Errorf("update feedback: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

const selectRecord = `
	SELECT
		p.id, p.kind, p.course_id, p.assignment_id, p.grader_id, p.recipient_id, p.creator_id,
		p.view_only, p.pseudonym, p.study_id, p.archived, p.created_at,
		t.id, t.user_id, t.status, t.archived_from, t.due_date, t.created_at,
		f.id, f.draft, f.rubric_id
	FROM pairings p
	JOIN tasks t ON t.pairing_id = p.id
	JOIN feedbacks f ON f.pairing_id = p.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (types.PairingRecord, error) {
	var (
		rec                        types.PairingRecord
		kind, status, archivedFrom string
		grader, recipient, creator int64
		taskUser                   int64
		due                        sql.NullTime
	)
	p, t, f := &rec.Pairing, &rec.Task, &rec.Feedback

	err := row.Scan(
		&p.ID, &kind, &p.CourseID, &p.AssignmentID, &grader, &recipient, &creator,
		&p.ViewOnly, &p.Pseudonym, &p.StudyID, &p.Archived, &p.CreatedAt,
		&t.ID, &taskUser, &status, &archivedFrom, &due, &t.CreatedAt,
		&f.ID, &f.Draft, &f.RubricID,
	)
	if err != nil {
		return types.PairingRecord{}, err
	}

	p.Kind = types.PairingKind(kind)
	p.GraderID, p.RecipientID, p.CreatorID = types.UserID(grader), types.UserID(recipient), types.UserID(creator)

	t.PairingID = p.ID
	t.UserID = types.UserID(taskUser)
	t.CourseID, t.AssignmentID = p.CourseID, p.AssignmentID
	t.Status = types.TaskStatus(status)
	t.ArchivedFrom = types.TaskStatus(archivedFrom)
	t.DueDate = timePtr(due)

	f.PairingID = p.ID
	f.Kind = p.Kind
	f.CourseID, f.AssignmentID = p.CourseID, p.AssignmentID
	f.ReviewerID, f.ReceiverID = p.GraderID, p.RecipientID

	return rec, nil
}

func (s *PostgresStore) queryOne(ctx context.Context, notFound error, where string, args ...any) (types.PairingRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectRecord+" WHERE "+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return types.PairingRecord{}, notFound
	}
	if err != nil {
		return types.PairingRecord{}, fmt.Errorf("query pairing: %w", err)
	}

	return rec, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, pairingID string) (types.PairingRecord, error) {
	return s.queryOne(ctx, types.ErrPairingNotFound, "p.id = $1", pairingID)
}

// GetByTask implements Store.
func (s *PostgresStore) GetByTask(ctx context.Context, taskID string) (types.PairingRecord, error) {
	return s.queryOne(ctx, types.ErrTaskNotFound, "t.id = $1", taskID)
}

// FindActive implements Store.
func (s *PostgresStore) FindActive(ctx context.Context, graderID, recipientID types.UserID, assignmentID int64) (types.PairingRecord, error) {
	return s.queryOne(ctx, types.ErrPairingNotFound,
		"p.assignment_id = $1 AND p.grader_id = $2 AND p.recipient_id = $3 AND NOT p.archived AND NOT p.view_only",
		assignmentID, int64(graderID), int64(recipientID),
	)
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, pairingID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM feedbacks WHERE pairing_id = $1`,
		`DELETE FROM tasks WHERE pairing_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, pairingID); err != nil {
			return fmt.Errorf("delete dependents: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM pairings WHERE id = $1`, pairingID)
	if err != nil {
		return fmt.Errorf("delete pairing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrPairingNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]types.PairingRecord, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.CourseID != 0 {
		add("p.course_id = $%d", filter.CourseID)
	}
	if filter.AssignmentID != 0 {
		add("p.assignment_id = $%d", filter.AssignmentID)
	}
	if filter.Kind != "" {
		add("p.kind = $%d", string(filter.Kind))
	}
	if filter.GraderID != 0 {
		add("p.grader_id = $%d", int64(filter.GraderID))
	}
	if filter.RecipientID != 0 {
		add("p.recipient_id = $%d", int64(filter.RecipientID))
	}
	if !filter.IncludeArchived {
		conds = append(conds, "NOT p.archived")
	}

	query := selectRecord
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY p.created_at, p.id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pairings: %w", err)
	}
	defer rows.Close()

	var out []types.PairingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pairing: %w", err)
		}
		out = append(out, rec)
	}

	return out, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time

	return &v
}
