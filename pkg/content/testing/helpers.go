package testing

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittostore/pkg/content"
)

// AssertErrorIs checks the error chain with errors.Is.
func AssertErrorIs(t *testing.T, expected error, actual error) {
	t.Helper()
	if !errors.Is(actual, expected) {
		t.Errorf("Expected error %v, got %v", expected, actual)
	}
}

// MustWrite streams data to p and commits it.
func MustWrite(t *testing.T, store content.Store, p string, data []byte) {
	t.Helper()
	w, err := store.Create(testContext(), p)
	require.NoError(t, err, "Create should succeed")
	_, err = w.Write(data)
	require.NoError(t, err, "Write should succeed")
	require.NoError(t, w.Close(), "Close should commit")
}

// MustRead reads the whole file at p.
func MustRead(t *testing.T, store content.Store, p string) []byte {
	t.Helper()
	r, err := store.Open(testContext(), p)
	require.NoError(t, err, "Open should succeed")
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err, "Reading content should succeed")
	return data
}

// MustMkdir creates a directory.
func MustMkdir(t *testing.T, store content.Store, p string) {
	t.Helper()
	require.NoError(t, store.Mkdir(testContext(), p), "Mkdir should succeed")
}
