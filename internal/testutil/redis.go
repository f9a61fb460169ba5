//go:build integration || e2e

package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// EnvRedisAddr names the environment variable pointing the integration
// tests at a disposable Redis instance. The distributed-lock tests skip
// when it is unset.
const EnvRedisAddr = "DORCH_TEST_REDIS_ADDR"

// RedisAddr returns the test Redis address, or "" when none is configured.
func RedisAddr() string {
	return os.Getenv(EnvRedisAddr)
}

// RedisClient returns a client on the test Redis database, skipping the
// test when no instance is reachable. The database is flushed up front
// and again on cleanup; point the tests at a dedicated instance.
func RedisClient(t *testing.T, db int) *redis.Client {
	t.Helper()

	addr := RedisAddr()
	if addr == "" {
		t.Skipf("no test Redis configured, set %s", EnvRedisAddr)
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("test Redis not reachable at %s: %v", addr, err)
	}

	flush := func() {
		if err := client.FlushDB(context.Background()).Err(); err != nil {
			t.Fatalf("flushing test Redis db %d: %v", db, err)
		}
	}
	flush()
	t.Cleanup(func() {
		flush()
		client.Close()
	})
	return client
}
