package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// OpenPostgres connects to dsn, retrying a few times while the database
// comes up.
func OpenPostgres(ctx context.Context, dsn string, logger zerolog.Logger) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	const attempts = 10
	for i := 1; i <= attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			logger.Info().Msg("connected to postgres")
			return conn, nil
		}
		logger.Warn().Err(err).Int("attempt", i).Msg("waiting for postgres")
		select {
		case <-ctx.Done():
			conn.Close()
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	conn.Close()
	return nil, fmt.Errorf("ping postgres: %w", err)
}

// Migrate applies the SQL migrations found in dir.
func Migrate(dir, dsn string, logger zerolog.Logger) error {
	m, err := migrate.New("file://"+dir, dsn)
	if err != nil {
		return fmt.Errorf("migration init: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up: %w", err)
	}
	logger.Info().Str("dir", dir).Msg("migrations applied")
	return nil
}
