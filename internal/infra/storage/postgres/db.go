package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/vietddude/calcwatch/internal/core/domain"
	"github.com/vietddude/calcwatch/internal/infra/storage"
	"github.com/vietddude/calcwatch/internal/metrics"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`

	// LockTimeout bounds how long a transaction waits for row locks before
	// the operation fails with storage.ErrLockTimeout.
	LockTimeout time.Duration `yaml:"lock_timeout"`
	// BusyRetries is how many times a busy operation is retried before the
	// lock timeout is surfaced to the caller.
	BusyRetries int `yaml:"busy_retries"`
}

// DB wraps the PostgreSQL connection.
type DB struct {
	*sqlx.DB
	cfg Config
}

// NewDB opens the database, configures the pool and runs pending migrations.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	if cfg.BusyRetries <= 0 {
		cfg.BusyRetries = 3
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate db: %w", err)
	}

	return &DB{DB: db, cfg: cfg}, nil
}

// NewStore wires all repositories against one connection.
func NewStore(db *DB) *storage.Store {
	return &storage.Store{
		Materials:    NewMaterialRepo(db),
		Calculations: NewCalcRepo(db),
		Properties:   NewPropertyRepo(db),
		Files:        NewFileRepo(db),
		Workflows:    NewWorkflowRepo(db),
	}
}

// InTx runs fn inside an exclusive transaction with a bounded lock wait.
// Busy outcomes (lock timeout, deadlock, serialization failure) are retried
// with fibonacci backoff; once retries are exhausted the caller gets
// storage.ErrLockTimeout instead of blocking indefinitely. No scheduler
// call may happen inside fn.
func (db *DB) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	backoff := retry.WithMaxRetries(uint64(db.cfg.BusyRetries), retry.NewFibonacci(100*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", db.cfg.LockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, timeout); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}

		if err := fn(tx); err != nil {
			if isBusy(err) {
				metrics.StoreLockRetries.Inc()
				return retry.RetryableError(err)
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isBusy(err) {
				metrics.StoreLockRetries.Inc()
				return retry.RetryableError(err)
			}
			return fmt.Errorf("failed to commit: %w", err)
		}
		return nil
	})
	if err != nil && isBusy(err) {
		return fmt.Errorf("%w: %v", storage.ErrLockTimeout, err)
	}
	return err
}

// isBusy reports whether err is a contention outcome worth retrying.
func isBusy(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch string(pqErr.Code) {
	case "55P03", // lock_not_available
		"40001", // serialization_failure
		"40P01": // deadlock_detected
		return true
	}
	return false
}

// StartMetricsCollector starts a background goroutine exporting pool stats.
func (db *DB) StartMetricsCollector(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := db.Stats()
				if stats.MaxOpenConnections > 0 {
					usage := float64(stats.OpenConnections) / float64(stats.MaxOpenConnections) * 100
					metrics.DBConnectionPoolUsage.Set(usage)
				}
			}
		}
	}()
}

// Health checks if the database is reachable.
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}

// timestampColumn returns the column stamped when entering a status, or "".
func timestampColumn(status domain.CalcStatus) string {
	switch status {
	case domain.CalcStatusSubmitted:
		return "submitted_at"
	case domain.CalcStatusRunning:
		return "started_at"
	case domain.CalcStatusCompleted, domain.CalcStatusFailed, domain.CalcStatusCancelled:
		return "completed_at"
	}
	return ""
}
