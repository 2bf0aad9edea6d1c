package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittostore/pkg/metadata"
	"github.com/stretchr/testify/require"
)

// RunDirectoryTests executes all directory record tests
func (suite *StoreTestSuite) RunDirectoryTests(t *testing.T) {
	t.Run("InsertAndLookup", suite.testInsertAndLookupDirectory)
	t.Run("SameNameDifferentParents", suite.testSameNameDifferentParents)
	t.Run("ErrorDuplicate", suite.testInsertDuplicateDirectory)
	t.Run("ErrorDuplicateAtRoot", suite.testInsertDuplicateRootDirectory)
	t.Run("ErrorMissingParent", suite.testInsertMissingParent)
	t.Run("ErrorLookupMissing", suite.testLookupMissingDirectory)
	t.Run("DeleteCascades", suite.testDeleteDirectoryCascades)
	t.Run("DeleteLeavesSiblings", suite.testDeleteDirectoryLeavesSiblings)
	t.Run("ErrorDeleteMissing", suite.testDeleteMissingDirectory)
	t.Run("List", suite.testListDirectories)
}

func (suite *StoreTestSuite) testInsertAndLookupDirectory(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	owner := metadata.ID(42)
	id := mkdir(t, store, nil, "docs", owner)

	dir, err := store.LookupDirectory(ctx, nil, "docs")
	require.NoError(t, err)
	require.Equal(t, id, dir.ID)
	require.Equal(t, "docs", dir.Name)
	require.Nil(t, dir.ParentID)
	require.NotNil(t, dir.Owner)
	require.Equal(t, int64(42), *dir.Owner)
	require.False(t, dir.CreatedAt.IsZero())
}

func (suite *StoreTestSuite) testSameNameDifferentParents(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	a := mkdir(t, store, nil, "a", nil)
	b := mkdir(t, store, nil, "b", nil)
	underA := mkdir(t, store, metadata.ID(a), "shared", nil)
	underB := mkdir(t, store, metadata.ID(b), "shared", nil)
	require.NotEqual(t, underA, underB)

	dir, err := store.LookupDirectory(ctx, metadata.ID(b), "shared")
	require.NoError(t, err)
	require.Equal(t, underB, dir.ID)
	require.True(t, metadata.SameParent(dir.ParentID, metadata.ID(b)))
}

func (suite *StoreTestSuite) testInsertDuplicateDirectory(t *testing.T) {
	store := suite.NewStore(t)

	parent := mkdir(t, store, nil, "p", nil)
	mkdir(t, store, metadata.ID(parent), "x", nil)

	err := store.InsertDirectory(context.Background(), &metadata.DirectoryRecord{Name: "x", ParentID: metadata.ID(parent)})
	AssertErrorCode(t, metadata.ErrAlreadyExists, err)
}

func (suite *StoreTestSuite) testInsertDuplicateRootDirectory(t *testing.T) {
	store := suite.NewStore(t)

	mkdir(t, store, nil, "x", nil)

	err := store.InsertDirectory(context.Background(), &metadata.DirectoryRecord{Name: "x"})
	AssertErrorCode(t, metadata.ErrAlreadyExists, err)
}

func (suite *StoreTestSuite) testInsertMissingParent(t *testing.T) {
	store := suite.NewStore(t)

	err := store.InsertDirectory(context.Background(), &metadata.DirectoryRecord{Name: "orphan", ParentID: metadata.ID(9999)})
	AssertErrorCode(t, metadata.ErrConstraint, err)
}

func (suite *StoreTestSuite) testLookupMissingDirectory(t *testing.T) {
	store := suite.NewStore(t)

	_, err := store.LookupDirectory(context.Background(), nil, "nope")
	AssertErrorCode(t, metadata.ErrNotFound, err)
}

func (suite *StoreTestSuite) testDeleteDirectoryCascades(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	// a/b/c with files at every level
	a := mkdir(t, store, nil, "a", nil)
	b := mkdir(t, store, metadata.ID(a), "b", nil)
	c := mkdir(t, store, metadata.ID(b), "c", nil)
	putFile(t, store, metadata.ID(a), "a.txt", 1)
	putFile(t, store, metadata.ID(b), "b.txt", 2)
	putFile(t, store, metadata.ID(c), "c.txt", 3)

	require.NoError(t, store.DeleteDirectory(ctx, a))

	_, err := store.LookupDirectory(ctx, nil, "a")
	AssertErrorCode(t, metadata.ErrNotFound, err)
	_, err = store.LookupDirectory(ctx, metadata.ID(a), "b")
	AssertErrorCode(t, metadata.ErrNotFound, err)
	_, err = store.LookupDirectory(ctx, metadata.ID(b), "c")
	AssertErrorCode(t, metadata.ErrNotFound, err)
	_, err = store.LookupFile(ctx, metadata.ID(c), "c.txt")
	AssertErrorCode(t, metadata.ErrNotFound, err)

	dirs, err := store.ListDirectories(ctx)
	require.NoError(t, err)
	require.Empty(t, dirs)

	files, err := store.ListFiles(ctx)
	require.NoError(t, err)
	require.Empty(t, files)
}

func (suite *StoreTestSuite) testDeleteDirectoryLeavesSiblings(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	a := mkdir(t, store, nil, "a", nil)
	keep := mkdir(t, store, nil, "keep", nil)
	putFile(t, store, metadata.ID(keep), "k.txt", 7)
	putFile(t, store, nil, "root.txt", 1)
	mkdir(t, store, metadata.ID(a), "child", nil)

	require.NoError(t, store.DeleteDirectory(ctx, a))

	dir, err := store.LookupDirectory(ctx, nil, "keep")
	require.NoError(t, err)
	require.Equal(t, keep, dir.ID)

	f, err := store.LookupFile(ctx, metadata.ID(keep), "k.txt")
	require.NoError(t, err)
	require.Equal(t, int64(7), f.Size)

	_, err = store.LookupFile(ctx, nil, "root.txt")
	require.NoError(t, err)
}

func (suite *StoreTestSuite) testDeleteMissingDirectory(t *testing.T) {
	store := suite.NewStore(t)

	err := store.DeleteDirectory(context.Background(), 12345)
	AssertErrorCode(t, metadata.ErrNotFound, err)
}

func (suite *StoreTestSuite) testListDirectories(t *testing.T) {
	store := suite.NewStore(t)

	a := mkdir(t, store, nil, "a", nil)
	mkdir(t, store, metadata.ID(a), "b", nil)
	mkdir(t, store, nil, "c", nil)

	dirs, err := store.ListDirectories(context.Background())
	require.NoError(t, err)
	require.Len(t, dirs, 3)

	names := make([]string, 0, len(dirs))
	for _, d := range dirs {
		names = append(names, d.Name)
	}
	require.ElementsMatch(t, []string{"a", "b", "c"}, names)
}
