package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittostore/pkg/content"
)

// RunListingTests executes tree and walk tests
func (suite *StoreTestSuite) RunListingTests(t *testing.T) {
	t.Run("TreeEmptyRoot", suite.testTreeEmptyRoot)
	t.Run("TreeNested", suite.testTreeNested)
	t.Run("TreeSubdirectory", suite.testTreeSubdirectory)
	t.Run("ErrorTreeOfFile", suite.testTreeOfFile)
	t.Run("Walk", suite.testWalk)
}

func (suite *StoreTestSuite) testTreeEmptyRoot(t *testing.T) {
	store := suite.NewStore(t)

	tree, err := store.Tree(testContext(), "")
	require.NoError(t, err)
	assert.Empty(t, tree)
}

func (suite *StoreTestSuite) testTreeNested(t *testing.T) {
	store := suite.NewStore(t)

	MustMkdir(t, store, "docs")
	MustMkdir(t, store, "docs/empty")
	MustWrite(t, store, "docs/a.txt", []byte("a"))
	MustWrite(t, store, "root.bin", []byte("r"))

	tree, err := store.Tree(testContext(), "")
	require.NoError(t, err)

	want := content.Tree{
		"docs": content.Tree{
			"a.txt": 0,
			"empty": content.Tree{},
		},
		"root.bin": 0,
	}
	assert.Equal(t, want, tree)
}

func (suite *StoreTestSuite) testTreeSubdirectory(t *testing.T) {
	store := suite.NewStore(t)

	MustMkdir(t, store, "a")
	MustMkdir(t, store, "a/b")
	MustWrite(t, store, "a/b/c.txt", []byte("c"))
	MustWrite(t, store, "other.txt", []byte("o"))

	tree, err := store.Tree(testContext(), "a")
	require.NoError(t, err)
	assert.Equal(t, content.Tree{"b": content.Tree{"c.txt": 0}}, tree)
}

func (suite *StoreTestSuite) testTreeOfFile(t *testing.T) {
	store := suite.NewStore(t)

	MustWrite(t, store, "f.txt", []byte("f"))

	_, err := store.Tree(testContext(), "f.txt")
	AssertErrorIs(t, content.ErrNotDirectory, err)
}

func (suite *StoreTestSuite) testWalk(t *testing.T) {
	store := suite.NewStore(t)

	MustMkdir(t, store, "a")
	MustWrite(t, store, "a/one.txt", []byte("1"))
	MustWrite(t, store, "two.txt", []byte("22"))

	seen := map[string]int64{}
	err := store.Walk(testContext(), func(info content.Info) error {
		seen[info.Path] = info.Size
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"a/one.txt": 1, "two.txt": 2}, seen)
}
