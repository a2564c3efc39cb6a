package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestDB holds a migrated Postgres database running in a container.
type TestDB struct {
	DB        *sqlx.DB
	ConnStr   string
	container testcontainers.Container
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// SetupTestDB starts a Postgres container, applies the migrations found at
// migrationsPath (relative to the calling package) and returns a connected DB.
func SetupTestDB(t *testing.T, migrationsPath string) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres container test in -short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	if err := godotenv.Load(); err != nil {
		t.Logf("No .env file found or failed to load: %v. Proceeding with environment variables.", err)
	}
	user := envOr("DB_USERNAME", "coachflow")
	password := envOr("DB_PASSWORD", "coachflow")
	name := envOr("DB_NAME", "coachflow_test")

	pgC, err := testcontainers.Run(
		ctx, "postgres:16",
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			).WithDeadline(2*time.Minute),
		),
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     user,
			"POSTGRES_PASSWORD": password,
			"POSTGRES_DB":       name,
		}),
	)
	if err != nil {
		testcontainers.CleanupContainer(t, pgC)
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	endpoint, err := pgC.Endpoint(ctx, "")
	if err != nil {
		testcontainers.CleanupContainer(t, pgC)
		t.Fatalf("Failed to resolve PostgreSQL endpoint: %v", err)
	}
	connStr := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", user, password, endpoint, name)

	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		testcontainers.CleanupContainer(t, pgC)
		t.Fatalf("Failed to connect to test DB: %v", err)
	}
	for i := 0; ; i++ {
		err = db.Ping()
		if err == nil {
			break
		}
		if i == 9 {
			_ = db.Close()
			testcontainers.CleanupContainer(t, pgC)
			t.Fatalf("Failed to ping test DB after retries: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}

	m, err := migrate.New("file://"+migrationsPath, connStr)
	if err != nil {
		_ = db.Close()
		testcontainers.CleanupContainer(t, pgC)
		t.Fatalf("Failed to initialize migrations: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		_ = db.Close()
		testcontainers.CleanupContainer(t, pgC)
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	return &TestDB{DB: db, ConnStr: connStr, container: pgC}
}

// Teardown closes the connection and terminates the container.
func (td *TestDB) Teardown(t *testing.T) {
	if err := td.DB.Close(); err != nil {
		t.Errorf("Failed to close DB connection: %v", err)
	}
	if err := td.container.Terminate(context.Background()); err != nil {
		t.Fatalf("Failed to terminate container: %v", err)
	}
}
