package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittostore/pkg/content"
)

// StoreTestSuite is a conformance suite for content.Store implementations.
//
// Usage:
//
//	func TestMyContentStore(t *testing.T) {
//	    suite := &contenttesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) content.Store {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test.
	NewStore func(t *testing.T) content.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("Directories", suite.RunDirectoryTests)
	t.Run("Files", suite.RunFileTests)
	t.Run("Listing", suite.RunListingTests)
}

func testContext() context.Context {
	return context.Background()
}
