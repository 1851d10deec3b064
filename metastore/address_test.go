package metastore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/tablescan/errors"
)

func TestCatalogPath(t *testing.T) {
	tests := []struct {
		address string
		want    string
	}{
		{"sqlite://tablescan.db", "tablescan.db"},
		{"sqlite:///var/lib/tablescan/catalog.db", "/var/lib/tablescan/catalog.db"},
		{"sqlite://warehouse/catalog.db", "warehouse/catalog.db"},
	}
	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			got, err := CatalogPath(tt.address)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "tablescan.db", "meta://meta-01:9083", "thrift://host:9083", "sqlite://"} {
		t.Run("rejects "+bad, func(t *testing.T) {
			_, err := CatalogPath(bad)
			require.Error(t, err)
			assert.True(t, errors.IsInvalidRequestError(err))
			assert.NotEmpty(t, errors.GetAllHints(err))
		})
	}
}

func TestOpenCatalogIsolatesAddresses(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t).Sugar()
	dir := t.TempDir()
	first := "sqlite://" + filepath.Join(dir, "first.db")
	second := "sqlite://" + filepath.Join(dir, "second.db")

	a, closeA, err := OpenCatalog(first, log)
	require.NoError(t, err)
	defer closeA()
	require.NoError(t, a.CreateNamespace(ctx, Namespace{Name: "sales_db"}))
	require.NoError(t, a.CreateTable(ctx, ordersTable()))

	b, closeB, err := OpenCatalog(second, log)
	require.NoError(t, err)
	defer closeB()
	_, err = b.GetTable(ctx, "sales_db", "orders")
	assert.True(t, errors.IsNotFoundError(err))

	got, err := a.GetTable(ctx, "sales_db", "orders")
	require.NoError(t, err)
	assert.Equal(t, "orders", got.Name)

	_, _, err = OpenCatalog("meta://meta-01:9083", log)
	assert.True(t, errors.IsInvalidRequestError(err))
}
