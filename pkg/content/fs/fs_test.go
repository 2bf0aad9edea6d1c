package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittostore/pkg/content"
	contenttesting "github.com/marmos91/dittostore/pkg/content/testing"
)

func TestFilesystemStore(t *testing.T) {
	suite := &contenttesting.StoreTestSuite{
		NewStore: func(t *testing.T) content.Store {
			store, err := New(Config{Path: t.TempDir()})
			require.NoError(t, err)
			return store
		},
	}
	suite.Run(t)
}

func TestMemoryStore(t *testing.T) {
	suite := &contenttesting.StoreTestSuite{
		NewStore: func(t *testing.T) content.Store {
			return NewMemory()
		},
	}
	suite.Run(t)
}

func TestFilesystemStoreStaysInsideRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "cloud")
	store, err := New(Config{Path: root})
	require.NoError(t, err)

	contenttesting.MustWrite(t, store, "../escape.txt", []byte("x"))

	_, err = os.Stat(filepath.Join(parent, "escape.txt"))
	assert.True(t, os.IsNotExist(err), "write escaped the cloud folder")

	_, err = os.Stat(filepath.Join(root, "escape.txt"))
	assert.NoError(t, err)
}

func TestAbortLeavesPartialFile(t *testing.T) {
	root := t.TempDir()
	store, err := New(Config{Path: root})
	require.NoError(t, err)

	w, err := store.Create(t.Context(), "partial.bin")
	require.NoError(t, err)
	_, err = w.Write([]byte("half"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	data, err := os.ReadFile(filepath.Join(root, "partial.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte("half"), data)
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestFilesystemStoreDirectories(t *testing.T) {
	root := t.TempDir()
	store, err := New(Config{Path: root})
	require.NoError(t, err)
	ctx := t.Context()

	require.NoError(t, store.Mkdir(ctx, "docs"))
	assert.ErrorIs(t, store.Mkdir(ctx, "/docs/"), content.ErrExists)
	contenttesting.MustWrite(t, store, "docs/a.txt", []byte("hello"))

	var walked []string
	require.NoError(t, store.Walk(ctx, func(info content.Info) error {
		walked = append(walked, info.Path)
		return nil
	}))
	assert.Equal(t, []string{"docs/a.txt"}, walked)

	require.NoError(t, store.RemoveAll(ctx, "docs"))
	_, err = os.Stat(filepath.Join(root, "docs"))
	assert.True(t, os.IsNotExist(err))
	assert.ErrorIs(t, store.RemoveAll(ctx, "docs"), content.ErrNotFound)
}
