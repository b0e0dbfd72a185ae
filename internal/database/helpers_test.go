package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupSQLiteTestDB(t *testing.T) (*DB, func()) {
	t.Helper()

	db, err := NewDB(Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "modcheck_test.db"),
	})
	if err != nil {
		t.Fatalf("Failed to open sqlite database: %v", err)
	}

	return db, func() { db.Close() }
}

func setupTestDB(t *testing.T) (*DB, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("modcheck_test"),
		postgres.WithUsername("modcheck_test"),
		postgres.WithPassword("modcheck_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	config := Config{
		Type:     "postgres",
		Host:     host,
		Port:     port.Int(),
		User:     "modcheck_test",
		Password: "modcheck_test_password",
		Name:     "modcheck_test",
	}

	db, err := NewDB(config)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := db.RunMigrations(ctx, ""); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.GORM().Exec("TRUNCATE TABLE moderation_results")
		db.Close()

		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}
