package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittostore/pkg/metadata"
	metadatatesting "github.com/marmos91/dittostore/pkg/metadata/testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), Config{Path: filepath.Join(t.TempDir(), "meta.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	suite := &metadatatesting.StoreTestSuite{
		NewStore: func(t *testing.T) metadata.Store {
			return newTestStore(t)
		},
	}
	suite.Run(t)
}

func TestSQLiteStoreInMemory(t *testing.T) {
	store, err := New(context.Background(), Config{Path: ":memory:"})
	require.NoError(t, err)
	defer store.Close()

	rec := &metadata.DirectoryRecord{Name: "tmp"}
	require.NoError(t, store.InsertDirectory(context.Background(), rec))
	assert.NotZero(t, rec.ID)
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")
	ctx := context.Background()

	store, err := New(ctx, Config{Path: path})
	require.NoError(t, err)
	rec := &metadata.DirectoryRecord{Name: "persisted"}
	require.NoError(t, store.InsertDirectory(ctx, rec))
	require.NoError(t, store.Close())

	store, err = New(ctx, Config{Path: path})
	require.NoError(t, err)
	defer store.Close()

	got, err := store.LookupDirectory(ctx, nil, "persisted")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
}

func TestIsDatabaseLocked(t *testing.T) {
	assert.False(t, isDatabaseLocked(nil))
	assert.True(t, isDatabaseLocked(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, isDatabaseLocked(errors.New("no such table")))
}

func TestMapError(t *testing.T) {
	assert.True(t, metadata.IsAlreadyExists(mapError("x", "n", errors.New("UNIQUE constraint failed: cloud_files.name"))))

	code, ok := metadata.CodeOf(mapError("x", "n", errors.New("FOREIGN KEY constraint failed")))
	require.True(t, ok)
	assert.Equal(t, metadata.ErrConstraint, code)

	assert.ErrorIs(t, mapError("x", "n", context.Canceled), context.Canceled)
}
