package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *sqliteStore {
	t.Helper()
	store, err := openSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, errL2Miss)

	require.NoError(t, s.Set(ctx, "k", []byte("payload"), time.Minute))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)
}

func TestSQLiteStoreOverwrite(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v1"), time.Minute))
	require.NoError(t, s.Set(ctx, "k", []byte("v2"), time.Minute))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got)
}

func TestSQLiteStoreExpiry(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	// Already-expired TTL reads as a miss and removes the row.
	require.NoError(t, s.Set(ctx, "k", []byte("temp"), -time.Second))
	_, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, errL2Miss)

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM artifacts WHERE key = 'k'`).Scan(&count))
	require.Zero(t, count, "expired row not deleted")
}

func TestSQLiteStoreDelete(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, s.Delete(ctx, "k"))
	_, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, errL2Miss)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	first, err := openSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "k", []byte("persisted"), time.Hour))
	require.NoError(t, first.Close())

	second, err := openSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	got, err := second.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("persisted"), got)
}

func TestIsSQLiteBusy(t *testing.T) {
	require.False(t, isSQLiteBusy(nil))
	require.False(t, isSQLiteBusy(errors.New("syntax error")))
	require.True(t, isSQLiteBusy(errors.New("database is locked (5) (SQLITE_BUSY)")))
}
