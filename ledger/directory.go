package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/peerpair/types"
)

// MemoryDirectory is an in-process types.Directory assigning sequential local IDs.
type MemoryDirectory struct {
	mu         sync.Mutex
	next       atomic.Int64
	byExternal *xsync.Map[int64, types.User]
	byID       *xsync.Map[types.UserID, types.User]
}

var _ types.Directory = (*MemoryDirectory)(nil)

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byExternal: xsync.NewMap[int64, types.User](),
		byID:       xsync.NewMap[types.UserID, types.User](),
	}
}

// EnsureUsers implements types.Directory.
func (d *MemoryDirectory) EnsureUsers(_ context.Context, users []types.User, createMissing bool) ([]types.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]types.User, 0, len(users))
	for _, u := range users {
		if u.ExternalID == 0 {
			return nil, fmt.Errorf("%w: user %q has no external id", types.ErrUserNotFound, u.Username)
		}

		if local, ok := d.byExternal.Load(u.ExternalID); ok {
			out = append(out, local)
			continue
		}
		if !createMissing {
			continue
		}

		u.ID = types.UserID(d.next.Add(1))
		d.byExternal.Store(u.ExternalID, u)
		d.byID.Store(u.ID, u)
		out = append(out, u)
	}

	return out, nil
}

// User implements types.Directory.
func (d *MemoryDirectory) User(_ context.Context, id types.UserID) (types.User, error) {
	u, ok := d.byID.Load(id)
	if !ok {
		return types.User{}, fmt.Errorf("%w: %d", types.ErrUserNotFound, id)
	}

	return u, nil
}

// PostgresDirectory is a types.Directory over the users table created by
// PostgresStore.Migrate.
type PostgresDirectory struct {
	db *sql.DB
}

var _ types.Directory = (*PostgresDirectory)(nil)

// NewPostgresDirectory creates a directory over an open pool.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// EnsureUsers implements types.Directory. Missing users are inserted in one
// transaction.
func (d *PostgresDirectory) EnsureUsers(ctx context.Context, users []types.User, createMissing bool) ([]types.User, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	out := make([]types.User, 0, len(users))
	for _, u := range users {
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id, username, name, email FROM users WHERE external_id = $1`, u.ExternalID).
			Scan(&id, &u.Username, &u.Name, &u.Email)
		switch {
		case err == nil:
		case errors.Is(err, sql.ErrNoRows) && createMissing:
			err = tx.QueryRowContext(ctx, `
				INSERT INTO users (external_id, username, name, email) VALUES ($1,$2,$3,$4)
				ON CONFLICT (external_id) DO UPDATE SET username = EXCLUDED.username
				RETURNING id`,
				u.ExternalID, u.Username, u.Name, u.Email,
			).Scan(&id)
			if err != nil {
				return nil, fmt.Errorf("insert user %q: %w", u.Username, err)
			}
		case errors.Is(err, sql.ErrNoRows):
			continue
		default:
			return nil, fmt.Errorf("query user %q: %w", u.Username, err)
		}

		u.ID = types.UserID(id)
		out = append(out, u)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return out, nil
}

// User implements types.Directory.
func (d *PostgresDirectory) User(ctx context.Context, id types.UserID) (types.User, error) {
	u := types.User{ID: id}
	err := d.db.QueryRowContext(ctx, `SELECT external_id, username, name, email FROM users WHERE id = $1`, int64(id)).
		Scan(&u.ExternalID, &u.Username, &u.Name, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return types.User{}, fmt.Errorf("%w: %d", types.ErrUserNotFound, id)
	}
	if err != nil {
		return types.User{}, fmt.Errorf("query user %d: %w", id, err)
	}

	return u, nil
}
