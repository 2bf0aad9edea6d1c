package memory

import (
	"testing"

	"github.com/marmos91/dittostore/pkg/metadata"
	metadatatesting "github.com/marmos91/dittostore/pkg/metadata/testing"
)

func TestMemoryStore(t *testing.T) {
	suite := &metadatatesting.StoreTestSuite{
		NewStore: func(t *testing.T) metadata.Store {
			return New(Config{})
		},
	}
	suite.Run(t)
}
