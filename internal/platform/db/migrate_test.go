package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/migrations"
)

func TestPendingUpOrdersAndFilters(t *testing.T) {
	files := fstest.MapFS{
		"0002_b.up.sql":   {Data: []byte("SELECT 2")},
		"0001_a.up.sql":   {Data: []byte("SELECT 1")},
		"0001_a.down.sql": {Data: []byte("SELECT 0")},
		"README.md":       {Data: []byte("x")},
	}
	names, err := PendingUp(files)
	require.NoError(t, err)
	require.Equal(t, []string{"0001_a.up.sql", "0002_b.up.sql"}, names)
}

func TestEmbeddedSchemaIsListed(t *testing.T) {
	names, err := PendingUp(migrations.Files)
	require.NoError(t, err)
	require.Equal(t, []string{"0001_stockledger.up.sql"}, names)
}
