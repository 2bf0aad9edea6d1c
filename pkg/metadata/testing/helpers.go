package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittostore/pkg/metadata"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode fails the test unless err is a StoreError with code.
func AssertErrorCode(t *testing.T, code metadata.ErrorCode, err error) {
	t.Helper()
	require.Error(t, err)
	got, ok := metadata.CodeOf(err)
	require.True(t, ok, "expected a StoreError, got %T: %v", err, err)
	require.Equal(t, code, got, "unexpected error code: %v", err)
}

func mkdir(t *testing.T, store metadata.Store, parent *int64, name string, owner *int64) int64 {
	t.Helper()
	rec := &metadata.DirectoryRecord{Name: name, ParentID: parent, Owner: owner}
	require.NoError(t, store.InsertDirectory(context.Background(), rec))
	require.NotZero(t, rec.ID)
	return rec.ID
}

func putFile(t *testing.T, store metadata.Store, parent *int64, name string, size int64) *metadata.FileRecord {
	t.Helper()
	rec := &metadata.FileRecord{
		Name:     name,
		ParentID: parent,
		Size:     size,
		Type:     metadata.FileType(name),
	}
	require.NoError(t, store.ReplaceFile(context.Background(), rec))
	require.NotZero(t, rec.ID)
	return rec
}
