package testing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// RunHealthcheckTests executes healthcheck tests
func (suite *StoreTestSuite) RunHealthcheckTests(t *testing.T) {
	t.Run("Healthy", suite.testHealthy)
	t.Run("CanceledContext", suite.testHealthcheckCanceled)
}

func (suite *StoreTestSuite) testHealthy(t *testing.T) {
	store := suite.NewStore(t)
	require.NoError(t, store.Healthcheck(context.Background()))
}

func (suite *StoreTestSuite) testHealthcheckCanceled(t *testing.T) {
	store := suite.NewStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, store.Healthcheck(ctx))
}
