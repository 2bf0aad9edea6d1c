package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittostore/pkg/metadata"
	metadatatesting "github.com/marmos91/dittostore/pkg/metadata/testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), Config{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBadgerStore(t *testing.T) {
	suite := &metadatatesting.StoreTestSuite{
		NewStore: func(t *testing.T) metadata.Store {
			return newTestStore(t)
		},
	}
	suite.Run(t)
}

func TestBadgerStoreReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := New(ctx, Config{Path: dir})
	require.NoError(t, err)
	first := &metadata.DirectoryRecord{Name: "persisted"}
	require.NoError(t, store.InsertDirectory(ctx, first))
	require.NoError(t, store.Close())

	store, err = New(ctx, Config{Path: dir})
	require.NoError(t, err)
	defer store.Close()

	got, err := store.LookupDirectory(ctx, nil, "persisted")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	// ids keep increasing across restarts
	second := &metadata.DirectoryRecord{Name: "after"}
	require.NoError(t, store.InsertDirectory(ctx, second))
	assert.Greater(t, second.ID, first.ID)
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "d:000000000000002a", string(keyDirectory(42)))
	assert.Equal(t, "dc:root:docs", string(keyDirectoryChild(nil, "docs")))
	assert.Equal(t, "fc:0000000000000001:a.txt", string(keyFileChild(metadata.ID(1), "a.txt")))

	id, err := decodeID(encodeID(123456))
	require.NoError(t, err)
	assert.Equal(t, int64(123456), id)

	_, err = decodeID([]byte{1, 2})
	assert.Error(t, err)
}
