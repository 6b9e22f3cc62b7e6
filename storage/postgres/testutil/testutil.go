// Package testutil provides helpers for tests against a live PostgreSQL.
package testutil

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/vaulthub/log"
	"github.com/oasisprotocol/vaulthub/storage/postgres"
)

// ConnStringEnv names the environment variable holding the test database
// connection string.
const ConnStringEnv = "CI_TEST_CONN_STRING"

// SkipUnlessDatabase skips t in short mode or when no test database is
// configured.
func SkipUnlessDatabase(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	if os.Getenv(ConnStringEnv) == "" {
		t.Skipf("skipping database test, %s not set", ConnStringEnv)
	}
}

// NewTestClient returns a postgres client used in CI tests.
func NewTestClient(t *testing.T) *postgres.Client {
	SkipUnlessDatabase(t)
	logger, err := log.NewLogger("postgres-test", os.Stdout, log.FmtJSON, log.LevelError)
	require.Nil(t, err, "log.NewLogger")

	client, err := postgres.NewClient(os.Getenv(ConnStringEnv), logger)
	require.Nil(t, err, "postgres.NewClient")
	return client
}
