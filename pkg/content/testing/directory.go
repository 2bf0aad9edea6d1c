package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittostore/pkg/content"
)

// RunDirectoryTests executes directory tests
func (suite *StoreTestSuite) RunDirectoryTests(t *testing.T) {
	t.Run("Mkdir", suite.testMkdir)
	t.Run("MkdirNested", suite.testMkdirNested)
	t.Run("ErrorMkdirExists", suite.testMkdirExists)
	t.Run("ErrorMkdirMissingParent", suite.testMkdirMissingParent)
	t.Run("RemoveAll", suite.testRemoveAll)
	t.Run("ErrorRemoveAllMissing", suite.testRemoveAllMissing)
	t.Run("StatRoot", suite.testStatRoot)
}

func (suite *StoreTestSuite) testMkdir(t *testing.T) {
	store := suite.NewStore(t)

	MustMkdir(t, store, "docs")

	info, err := store.Stat(testContext(), "docs")
	require.NoError(t, err)
	assert.True(t, info.IsDir)
	assert.Equal(t, "docs", info.Name)
}

func (suite *StoreTestSuite) testMkdirNested(t *testing.T) {
	store := suite.NewStore(t)

	MustMkdir(t, store, "a")
	MustMkdir(t, store, "a/b")

	info, err := store.Stat(testContext(), "a/b")
	require.NoError(t, err)
	assert.True(t, info.IsDir)
}

func (suite *StoreTestSuite) testMkdirExists(t *testing.T) {
	store := suite.NewStore(t)

	MustMkdir(t, store, "docs")
	AssertErrorIs(t, content.ErrExists, store.Mkdir(testContext(), "docs"))
}

func (suite *StoreTestSuite) testMkdirMissingParent(t *testing.T) {
	store := suite.NewStore(t)

	AssertErrorIs(t, content.ErrNotDirectory, store.Mkdir(testContext(), "missing/child"))

	_, err := store.Stat(testContext(), "missing")
	AssertErrorIs(t, content.ErrNotFound, err)
}

func (suite *StoreTestSuite) testRemoveAll(t *testing.T) {
	store := suite.NewStore(t)

	MustMkdir(t, store, "a")
	MustMkdir(t, store, "a/b")
	MustWrite(t, store, "a/b/c.txt", []byte("c"))
	MustWrite(t, store, "a/top.txt", []byte("top"))
	MustWrite(t, store, "keep.txt", []byte("keep"))

	require.NoError(t, store.RemoveAll(testContext(), "a"))

	_, err := store.Stat(testContext(), "a")
	AssertErrorIs(t, content.ErrNotFound, err)
	_, err = store.Stat(testContext(), "a/b/c.txt")
	AssertErrorIs(t, content.ErrNotFound, err)

	assert.Equal(t, []byte("keep"), MustRead(t, store, "keep.txt"))
}

func (suite *StoreTestSuite) testRemoveAllMissing(t *testing.T) {
	store := suite.NewStore(t)

	AssertErrorIs(t, content.ErrNotFound, store.RemoveAll(testContext(), "ghost"))
}

func (suite *StoreTestSuite) testStatRoot(t *testing.T) {
	store := suite.NewStore(t)

	info, err := store.Stat(testContext(), "")
	require.NoError(t, err)
	assert.True(t, info.IsDir)
}
