package testing

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/dittostore/pkg/metadata"
	"github.com/stretchr/testify/require"
)

// RunFileTests executes all file record tests
func (suite *StoreTestSuite) RunFileTests(t *testing.T) {
	t.Run("ReplaceAndLookup", suite.testReplaceAndLookupFile)
	t.Run("ReplaceOverwrites", suite.testReplaceOverwritesFile)
	t.Run("ReplaceAtRootTwice", suite.testReplaceAtRootTwice)
	t.Run("ErrorMissingParent", suite.testReplaceMissingParent)
	t.Run("Delete", suite.testDeleteFile)
	t.Run("ErrorDeleteMissing", suite.testDeleteMissingFile)
	t.Run("FileAndDirectoryNamesIndependent", suite.testFileAndDirectoryNamespaces)
}

func (suite *StoreTestSuite) testReplaceAndLookupFile(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	parent := mkdir(t, store, nil, "docs", nil)
	modified := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := &metadata.FileRecord{
		Name:       "report.pdf",
		Owner:      metadata.ID(7),
		ParentID:   metadata.ID(parent),
		Size:       2048,
		Type:       metadata.FileType("report.pdf"),
		Checksum:   "abc123",
		ModifiedAt: modified,
	}
	require.NoError(t, store.ReplaceFile(ctx, rec))

	got, err := store.LookupFile(ctx, metadata.ID(parent), "report.pdf")
	require.NoError(t, err)
	require.Equal(t, rec.ID, got.ID)
	require.Equal(t, int64(2048), got.Size)
	require.Equal(t, "PDF Document", got.Type)
	require.Equal(t, "abc123", got.Checksum)
	require.NotNil(t, got.Owner)
	require.Equal(t, int64(7), *got.Owner)
	require.True(t, modified.Equal(got.ModifiedAt), "modified_at %v != %v", got.ModifiedAt, modified)
}

func (suite *StoreTestSuite) testReplaceOverwritesFile(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	parent := mkdir(t, store, nil, "d", nil)
	putFile(t, store, metadata.ID(parent), "f.bin", 10)
	putFile(t, store, metadata.ID(parent), "f.bin", 20)

	got, err := store.LookupFile(ctx, metadata.ID(parent), "f.bin")
	require.NoError(t, err)
	require.Equal(t, int64(20), got.Size)

	files, err := store.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func (suite *StoreTestSuite) testReplaceAtRootTwice(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	putFile(t, store, nil, "top.txt", 1)
	putFile(t, store, nil, "top.txt", 2)

	files, err := store.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, int64(2), files[0].Size)
}

func (suite *StoreTestSuite) testReplaceMissingParent(t *testing.T) {
	store := suite.NewStore(t)

	err := store.ReplaceFile(context.Background(), &metadata.FileRecord{Name: "x", ParentID: metadata.ID(777)})
	AssertErrorCode(t, metadata.ErrConstraint, err)
}

func (suite *StoreTestSuite) testDeleteFile(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	parent := mkdir(t, store, nil, "d", nil)
	putFile(t, store, metadata.ID(parent), "f.txt", 3)

	require.NoError(t, store.DeleteFile(ctx, metadata.ID(parent), "f.txt"))

	_, err := store.LookupFile(ctx, metadata.ID(parent), "f.txt")
	AssertErrorCode(t, metadata.ErrNotFound, err)
}

func (suite *StoreTestSuite) testDeleteMissingFile(t *testing.T) {
	store := suite.NewStore(t)

	err := store.DeleteFile(context.Background(), nil, "ghost.txt")
	AssertErrorCode(t, metadata.ErrNotFound, err)
}

func (suite *StoreTestSuite) testFileAndDirectoryNamespaces(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	mkdir(t, store, nil, "same", nil)
	putFile(t, store, nil, "same", 5)

	_, err := store.LookupDirectory(ctx, nil, "same")
	require.NoError(t, err)
	_, err = store.LookupFile(ctx, nil, "same")
	require.NoError(t, err)
}
