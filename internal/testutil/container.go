package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/datapulse/orchestrator/internal/pkg/postgres"
	"github.com/datapulse/orchestrator/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer wraps a postgres testcontainer.
type PostgresContainer struct {
	*tcpostgres.PostgresContainer
	ConnectionString string
}

// NewPostgresContainer starts PostgreSQL and applies the schema migrations.
func NewPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("get connection string: %w", err)
	}

	if err := postgres.Migrate(migrations.FS, connStr, postgres.Up); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &PostgresContainer{
		PostgresContainer: container,
		ConnectionString:  connStr,
	}, nil
}

// Pool opens a connection pool to the container.
func (c *PostgresContainer) Pool(ctx context.Context) (*pgxpool.Pool, error) {
	return postgres.Connect(ctx, postgres.Config{
		URL:             c.ConnectionString,
		MaxOpenConns:    5,
		MaxIdleConns:    1,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectAttempts: 3,
	})
}

// Truncate empties all tables between tests. The audit trigger blocks row
// deletes but not TRUNCATE.
func Truncate(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, `TRUNCATE incidents, audit_records RESTART IDENTITY`)
	return err
}
