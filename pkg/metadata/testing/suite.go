package testing

import (
	"testing"

	"github.com/marmos91/dittostore/pkg/metadata"
)

// StoreTestSuite is a conformance suite for metadata.Store implementations.
// It exercises the interface contract only, so memory, sqlite and badger
// backends all run the same assertions.
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test.
	NewStore func(t *testing.T) metadata.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("Directory", suite.RunDirectoryTests)
	t.Run("File", suite.RunFileTests)
	t.Run("Resolve", suite.RunResolveTests)
	t.Run("Audit", suite.RunAuditTests)
	t.Run("Healthcheck", suite.RunHealthcheckTests)
}
