package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"formgate/internal/config"
	"formgate/internal/logger"
	"formgate/pkg/migrations"
)

type DatabaseConnector struct {
	Config *config.Config
	Logger logger.Logger
}

func NewDatabaseConnector(cfg *config.Config, log logger.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		Config: cfg,
		Logger: log,
	}
}

func (dc *DatabaseConnector) InitRedis(ctx context.Context) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", dc.Config.Database.Redis.Host, dc.Config.Database.Redis.Port),
		Password: dc.Config.Database.Redis.Password,
		DB:       dc.Config.Database.Redis.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	dc.Logger.Info("Redis connected successfully")
	return rdb, nil
}

// InitSQLite opens the database file and applies the embedded migrations.
func (dc *DatabaseConnector) InitSQLite(ctx context.Context) (*sql.DB, error) {
	db, err := OpenSQLite(ctx, dc.Config.Database.SQLite.Path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}

	dc.Logger.Infow("SQLite opened successfully", "path", dc.Config.Database.SQLite.Path)
	return db, nil
}

// OpenSQLite opens path with a single connection: SQLite has one writer.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to exec %q on %s: %w", p, path, err)
		}
	}

	return db, nil
}

func (dc *DatabaseConnector) ShutdownDatabases(rdb *redis.Client, sqlite *sql.DB) []error {
	var errs []error

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if sqlite != nil {
		if err := sqlite.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sqlite close error: %w", err))
		}
	}

	return errs
}
