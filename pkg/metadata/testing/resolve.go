package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittostore/pkg/metadata"
	"github.com/stretchr/testify/require"
)

// RunResolveTests runs directory resolution against the store.
func (suite *StoreTestSuite) RunResolveTests(t *testing.T) {
	t.Run("Root", suite.testResolveRoot)
	t.Run("Nested", suite.testResolveNested)
	t.Run("MissingSegment", suite.testResolveMissingSegment)
	t.Run("DotSegments", suite.testResolveDotSegments)
}

func (suite *StoreTestSuite) testResolveRoot(t *testing.T) {
	store := suite.NewStore(t)

	for _, p := range []string{"", "/", ".", "//"} {
		res, err := metadata.ResolveDirectory(context.Background(), store, p)
		require.NoError(t, err, p)
		require.True(t, res.IsRoot(), p)
		require.Nil(t, res.Owner, p)
	}
}

func (suite *StoreTestSuite) testResolveNested(t *testing.T) {
	store := suite.NewStore(t)

	a := mkdir(t, store, nil, "a", metadata.ID(1))
	b := mkdir(t, store, metadata.ID(a), "b", metadata.ID(2))

	res, err := metadata.ResolveDirectory(context.Background(), store, "a/b")
	require.NoError(t, err)
	require.NotNil(t, res.ID)
	require.Equal(t, b, *res.ID)
	require.NotNil(t, res.Owner)
	require.Equal(t, int64(2), *res.Owner)
}

func (suite *StoreTestSuite) testResolveMissingSegment(t *testing.T) {
	store := suite.NewStore(t)

	mkdir(t, store, nil, "a", nil)

	_, err := metadata.ResolveDirectory(context.Background(), store, "a/missing/c")
	AssertErrorCode(t, metadata.ErrNotFound, err)
}

func (suite *StoreTestSuite) testResolveDotSegments(t *testing.T) {
	store := suite.NewStore(t)

	a := mkdir(t, store, nil, "a", nil)

	res, err := metadata.ResolveDirectory(context.Background(), store, "/a/./b/../")
	require.NoError(t, err)
	require.NotNil(t, res.ID)
	require.Equal(t, a, *res.ID)

	// ".." above the root stays at the root
	res, err = metadata.ResolveDirectory(context.Background(), store, "../../a")
	require.NoError(t, err)
	require.Equal(t, a, *res.ID)
}
