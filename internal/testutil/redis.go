package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	redisOnce sync.Once
	redisAddr string
	redisErr  error
)

// GetRedisAddress starts one Redis container per test binary and returns its
// host:port. The container is removed when the first caller's test ends.
func GetRedisAddress(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis container test in -short mode")
	}
	redisOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		redisC, err := testcontainers.Run(
			ctx, "redis:7",
			testcontainers.WithExposedPorts("6379/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("6379/tcp"),
				wait.ForLog("Ready to accept connections"),
			),
		)
		if err != nil {
			redisErr = err
			return
		}
		t.Cleanup(func() {
			testcontainers.CleanupContainer(t, redisC)
		})

		endpoint, err := redisC.Endpoint(ctx, "")
		if err != nil {
			redisErr = err
			return
		}
		redisAddr = endpoint
	})
	if redisErr != nil {
		t.Fatalf("Failed to start Redis container: %v", redisErr)
	}
	return redisAddr
}
