package testutil

import (
	"os"
	"testing"
)

// SkipIfNoNetwork skips the test if APPROVALS_TEST_SKIP_NETWORK is set.
// Use this for tests that bind TCP listeners, which may not be available
// in sandboxed environments.
func SkipIfNoNetwork(t *testing.T) {
	t.Helper()
	if os.Getenv("APPROVALS_TEST_SKIP_NETWORK") != "" {
		t.Skip("skipping network test: APPROVALS_TEST_SKIP_NETWORK is set")
	}
}

// RedisAddr returns the Redis address for integration tests, skipping the
// test when APPROVALS_TEST_REDIS_ADDR is unset.
func RedisAddr(t *testing.T) string {
	t.Helper()
	return requireEnv(t, "APPROVALS_TEST_REDIS_ADDR")
}

// DynamoDBEndpoint returns a DynamoDB Local endpoint for integration tests,
// skipping the test when APPROVALS_TEST_DYNAMODB_ENDPOINT is unset.
func DynamoDBEndpoint(t *testing.T) string {
	t.Helper()
	return requireEnv(t, "APPROVALS_TEST_DYNAMODB_ENDPOINT")
}

func requireEnv(t *testing.T, name string) string {
	t.Helper()
	SkipIfNoNetwork(t)
	value := os.Getenv(name)
	if value == "" {
		t.Skipf("skipping integration test: %s is not set", name)
	}
	return value
}
