package memorydb

import (
	"testing"

	"github.com/brilang/go-bril/brildb"
	"github.com/brilang/go-bril/brildb/dbtest"
)

func TestMemoryDB(t *testing.T) {
	t.Run("DatabaseSuite", func(t *testing.T) {
		dbtest.TestDatabaseSuite(t, func() brildb.KeyValueStore {
			return New()
		})
	})
}
