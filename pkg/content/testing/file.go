package testing

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittostore/pkg/content"
)

// RunFileTests executes file tests
func (suite *StoreTestSuite) RunFileTests(t *testing.T) {
	t.Run("WriteAndRead", suite.testWriteAndRead)
	t.Run("WriteEmpty", suite.testWriteEmpty)
	t.Run("WriteInChunks", suite.testWriteInChunks)
	t.Run("Overwrite", suite.testOverwrite)
	t.Run("Stat", suite.testStatFile)
	t.Run("Remove", suite.testRemove)
	t.Run("ErrorOpenMissing", suite.testOpenMissing)
	t.Run("ErrorOpenDirectory", suite.testOpenDirectory)
	t.Run("ErrorRemoveDirectory", suite.testRemoveDirectory)
}

func (suite *StoreTestSuite) testWriteAndRead(t *testing.T) {
	store := suite.NewStore(t)

	MustMkdir(t, store, "docs")
	MustWrite(t, store, "docs/a.txt", []byte("hello"))

	assert.Equal(t, []byte("hello"), MustRead(t, store, "docs/a.txt"))
}

func (suite *StoreTestSuite) testWriteEmpty(t *testing.T) {
	store := suite.NewStore(t)

	MustWrite(t, store, "empty.bin", nil)

	info, err := store.Stat(testContext(), "empty.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size)
	assert.False(t, info.IsDir)
}

func (suite *StoreTestSuite) testWriteInChunks(t *testing.T) {
	store := suite.NewStore(t)

	data := bytes.Repeat([]byte("0123456789abcdef"), 4096)

	w, err := store.Create(testContext(), "big.bin")
	require.NoError(t, err)
	for off := 0; off < len(data); off += 1000 {
		end := min(off+1000, len(data))
		_, err := w.Write(data[off:end])
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	assert.Equal(t, data, MustRead(t, store, "big.bin"))
}

func (suite *StoreTestSuite) testOverwrite(t *testing.T) {
	store := suite.NewStore(t)

	MustWrite(t, store, "f.txt", []byte("a much longer first version"))
	MustWrite(t, store, "f.txt", []byte("short"))

	assert.Equal(t, []byte("short"), MustRead(t, store, "f.txt"))
}

func (suite *StoreTestSuite) testStatFile(t *testing.T) {
	store := suite.NewStore(t)

	MustWrite(t, store, "f.txt", []byte("12345"))

	info, err := store.Stat(testContext(), "f.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, "f.txt", info.Name)
	assert.False(t, info.IsDir)
}

func (suite *StoreTestSuite) testRemove(t *testing.T) {
	store := suite.NewStore(t)

	MustWrite(t, store, "f.txt", []byte("x"))
	require.NoError(t, store.Remove(testContext(), "f.txt"))

	_, err := store.Stat(testContext(), "f.txt")
	AssertErrorIs(t, content.ErrNotFound, err)
	AssertErrorIs(t, content.ErrNotFound, store.Remove(testContext(), "f.txt"))
}

func (suite *StoreTestSuite) testOpenMissing(t *testing.T) {
	store := suite.NewStore(t)

	_, err := store.Open(testContext(), "nope.txt")
	AssertErrorIs(t, content.ErrNotFound, err)
}

func (suite *StoreTestSuite) testOpenDirectory(t *testing.T) {
	store := suite.NewStore(t)

	MustMkdir(t, store, "d")
	_, err := store.Open(testContext(), "d")
	AssertErrorIs(t, content.ErrIsDirectory, err)
}

func (suite *StoreTestSuite) testRemoveDirectory(t *testing.T) {
	store := suite.NewStore(t)

	MustMkdir(t, store, "d")
	AssertErrorIs(t, content.ErrIsDirectory, store.Remove(testContext(), "d"))
}
