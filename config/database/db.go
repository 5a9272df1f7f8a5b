package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"collabcanvas/config"
	"collabcanvas/pkg/logger"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

const (
	pingAttempts = 5
	pingDelay    = 2 * time.Second
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type pinger interface {
	PingContext(ctx context.Context) error
}

// Connect opens the PostgreSQL pool and waits for it to answer.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := waitForDB(ctx, db, pingAttempts, pingDelay); err != nil {
		db.Close()
		return nil, err
	}
	logger.Sugar.Info("Successfully connected to the database")
	return db, nil
}

// waitForDB retries the ping to ride out temporary DNS or network blips.
func waitForDB(ctx context.Context, db pinger, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		logger.Sugar.Infof("Database connection failed, retrying in %s... (%v)", delay, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("could not connect to database after %d attempts: %w", attempts, err)
}

// Migrate applies the embedded schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	goose.SetBaseFS(migrationsFS)
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// NewListener opens a dedicated LISTEN connection. Each store gets its own so that one
// store's reconnect does not swallow the other's notifications.
func NewListener(cfg config.DatabaseConfig, name string) *pq.Listener {
	return pq.NewListener(cfg.DSN(), 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Sugar.Warnf("%s listener event %d: %v", name, ev, err)
		}
	})
}
