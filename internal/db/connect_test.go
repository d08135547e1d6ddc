package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteCreatesSchema(t *testing.T) {
	dbh, err := Open(context.Background(), DriverSQLite, "file:connect_test?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbh.Close() })

	var n int
	require.NoError(t, dbh.QueryRow(`SELECT COUNT(*) FROM resource_sessions`).Scan(&n))
	assert.Zero(t, n)

	// Schema creation is idempotent.
	require.NoError(t, ensureSchema(context.Background(), dbh, DriverSQLite))
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Driver("mysql"), "")
	require.Error(t, err)
}
