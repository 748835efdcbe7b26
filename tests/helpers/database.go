package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/fetcharr/fetcharr/internal/database"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	User     = "fetcharr"
	Password = "fetcharr"
	DBName   = "FETCHARR_TEST_DB"
)

// RequirePostgres spawns a disposable postgres container and returns the
// config needed to connect to it. The container is torn down when the
// test (and its subtests) complete.
func RequirePostgres(t *testing.T) database.DatabaseConfig {
	ctx := context.Background()

	postgresC, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("docker.io/postgres:14.1-alpine"),
		postgres.WithDatabase(DBName),
		postgres.WithUsername(User),
		postgres.WithPassword(Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to spawn postgres container: %s", err)
	}

	t.Cleanup(func() {
		if err := postgresC.Terminate(ctx); err != nil {
			t.Logf("WARNING: failed to terminate postgres container: %s", err)
		}
	})

	host, err := postgresC.Host(ctx)
	if err != nil {
		t.Fatalf("failed to resolve postgres container host: %s", err)
	}

	port, err := postgresC.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("failed to resolve postgres container port: %s", err)
	}

	return database.DatabaseConfig{
		User:     User,
		Password: Password,
		Name:     DBName,
		Host:     host,
		Port:     port.Port(),
	}
}
