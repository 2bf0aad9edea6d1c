package testing

import (
	"context"
	"fmt"
	"testing"

	"github.com/marmos91/dittostore/pkg/metadata"
	"github.com/stretchr/testify/require"
)

// RunAuditTests executes the audit log tests
func (suite *StoreTestSuite) RunAuditTests(t *testing.T) {
	t.Run("NewestFirst", suite.testAuditNewestFirst)
	t.Run("Limit", suite.testAuditLimit)
}

func (suite *StoreTestSuite) testAuditNewestFirst(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := &metadata.AuditRecord{
			SessionID: "sid",
			UserID:    metadata.ID(1),
			Path:      fmt.Sprintf("p%d", i),
			Operation: "WRITE_FILE",
			Outcome:   "success",
			Bytes:     int64(i),
		}
		require.NoError(t, store.AppendAudit(ctx, rec))
		require.NotZero(t, rec.ID)
	}

	recs, err := store.ListAudit(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, "p2", recs[0].Path)
	require.Equal(t, "p0", recs[2].Path)
	require.Equal(t, "WRITE_FILE", recs[0].Operation)
	require.NotNil(t, recs[0].UserID)
}

func (suite *StoreTestSuite) testAuditLimit(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendAudit(ctx, &metadata.AuditRecord{Path: fmt.Sprintf("p%d", i), Operation: "READ_FILE"}))
	}

	recs, err := store.ListAudit(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "p4", recs[0].Path)
	require.Equal(t, "p3", recs[1].Path)
}
