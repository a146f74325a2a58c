package archive

import (
	"context"
	"slices"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/peerpair/types"
)

// Memory is an in-process snapshot archive.
type Memory struct {
	snaps *xsync.Map[string, types.AllocationSnapshot]
}

var _ types.Archive = (*Memory)(nil)

// NewMemory creates an empty archive.
func NewMemory() *Memory {
	return &Memory{snaps: xsync.NewMap[string, types.AllocationSnapshot]()}
}

// PutSnapshot implements types.Archive.
func (m *Memory) PutSnapshot(_ context.Context, snap types.AllocationSnapshot) (string, error) {
	key := ObjectKey(snap)
	m.snaps.Store(key, snap)

	return key, nil
}

// GetSnapshot returns the snapshot stored under key.
func (m *Memory) GetSnapshot(_ context.Context, key string) (types.AllocationSnapshot, error) {
	snap, ok := m.snaps.Load(key)
	if !ok {
		return types.AllocationSnapshot{}, ErrSnapshotNotFound
	}

	return snap, nil
}

// List returns the keys starting with prefix in lexical order.
func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	m.snaps.Range(func(key string, _ types.AllocationSnapshot) bool {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}

		return true
	})
	slices.Sort(keys)

	return keys, nil
}
