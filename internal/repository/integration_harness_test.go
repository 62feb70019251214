//go:build integration

package repository

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

const redisImageTag = "redis:8.4-alpine"

var (
	integrationRedis *redisclient.Client

	keyNamespaceSeq uint64
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	if !dockerIsAvailable(ctx) {
		// In CI we expect Docker to be available so integration tests should fail loudly.
		if os.Getenv("CI") != "" {
			log.Printf("docker is not available (CI=true); failing integration tests")
			os.Exit(1)
		}
		log.Printf("docker is not available; skipping integration tests (start Docker to enable)")
		os.Exit(0)
	}

	redisContainer, err := tcredis.Run(ctx, redisImageTag)
	if err != nil {
		log.Printf("failed to start redis container: %v", err)
		os.Exit(1)
	}
	defer func() { _ = redisContainer.Terminate(ctx) }()

	connStr, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		log.Printf("failed to get redis connection string: %v", err)
		os.Exit(1)
	}
	opts, err := redisclient.ParseURL(connStr)
	if err != nil {
		log.Printf("failed to parse redis connection string: %v", err)
		os.Exit(1)
	}
	integrationRedis = redisclient.NewClient(opts)
	defer func() { _ = integrationRedis.Close() }()

	os.Exit(m.Run())
}

func dockerIsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run() == nil
}

// uniqueKey namespaces test keys so cases never collide on the shared
// container.
func uniqueKey(t *testing.T, base string) string {
	t.Helper()
	return fmt.Sprintf("%s-%s-%d", base, t.Name(), atomic.AddUint64(&keyNamespaceSeq, 1))
}
