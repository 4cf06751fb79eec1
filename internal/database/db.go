package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/timkrebs/constrain-resolution/internal/metrics"
)

// schema is applied by Migrate; every statement is idempotent
const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                 UUID PRIMARY KEY,
	status             TEXT        NOT NULL,
	original_key       TEXT        NOT NULL,
	processed_key      TEXT,
	original_name      TEXT        NOT NULL,
	content_type       TEXT        NOT NULL,
	file_size          BIGINT      NOT NULL,
	params             JSONB       NOT NULL,
	result             JSONB,
	error              TEXT,
	progress           INTEGER     NOT NULL DEFAULT 0,
	worker_id          TEXT,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL,
	started_at         TIMESTAMPTZ,
	completed_at       TIMESTAMPTZ,
	processing_time_ms BIGINT,
	delete_at          TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status);
CREATE INDEX IF NOT EXISTS jobs_delete_at_idx ON jobs (delete_at) WHERE delete_at IS NOT NULL;
`

// DB wraps the sql.DB connection
type DB struct {
	*sql.DB
	metrics *metrics.DatabaseMetrics
	stop    chan struct{}
}

// New creates a new database connection
func New(databaseURL string, maxConns int) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, stop: make(chan struct{})}, nil
}

// Migrate creates the jobs table and its indexes
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// SetMetrics injects metrics collectors and starts sampling the pool size
func (db *DB) SetMetrics(m *metrics.DatabaseMetrics) {
	db.metrics = m

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-db.stop:
				return
			case <-ticker.C:
				m.ConnectionsActive.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}

// observe records a query outcome when metrics are configured
func (db *DB) observe(operation string, start time.Time, err error) {
	if db.metrics != nil {
		db.metrics.ObserveQuery(operation, start, err)
	}
}

// Close stops the pool sampler and closes the database connection
func (db *DB) Close() error {
	select {
	case <-db.stop:
	default:
		close(db.stop)
	}
	return db.DB.Close()
}

// Health checks if the database is healthy
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}
