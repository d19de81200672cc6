package testutil

import (
	"flag"
	"os"
	"testing"
)

var (
	FlagDatabaseURL = flag.String("testutil.database-url", os.Getenv("DANDI_TEST_DATABASE_URL"),
		"Postgres URL for catalog integration tests; tests using it are skipped when empty")
	FlagRedisURL = flag.String("testutil.redis-url", os.Getenv("DANDI_TEST_REDIS_URL"),
		"Redis URL for queue integration tests; tests using it are skipped when empty")
)

// DatabaseURL returns the integration database, skipping the test if none is configured.
func DatabaseURL(t testing.TB) string {
	t.Helper()
	if *FlagDatabaseURL == "" {
		t.Skip("no integration database configured")
	}
	return *FlagDatabaseURL
}

// RedisURL returns the integration redis, skipping the test if none is configured.
func RedisURL(t testing.TB) string {
	t.Helper()
	if *FlagRedisURL == "" {
		t.Skip("no integration redis configured")
	}
	return *FlagRedisURL
}
