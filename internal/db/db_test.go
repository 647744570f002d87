package db

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriverFor(t *testing.T) {
	tests := []struct {
		dsn        string
		wantDriver string
	}{
		{dsn: "shortly.db", wantDriver: "sqlite"},
		{dsn: "file:data/shortly.db", wantDriver: "sqlite"},
		{dsn: "libsql://db-org.turso.io?authToken=x", wantDriver: "libsql"},
		{dsn: "wss://db.example.com", wantDriver: "libsql"},
	}

	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			driver, source := driverFor(tt.dsn)
			assert.Equal(t, tt.wantDriver, driver)
			if driver == "sqlite" {
				assert.True(t, strings.HasPrefix(source, "file:"))
				assert.NotContains(t, source, "file:file:")
				assert.Contains(t, source, "_txlock=immediate")
			} else {
				assert.Equal(t, tt.dsn, source)
			}
		})
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	first, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(ctx, path)
	require.NoError(t, err)
	defer second.Close()

	var tables int
	err = second.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('accounts', 'destinations', 'account_destinations', 'bindings', 'visits')`,
	).Scan(&tables)
	require.NoError(t, err)
	assert.Equal(t, 5, tables)
}
