package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Open connects to dsn, verifies the connection and applies the schema.
// Plain paths use the embedded SQLite driver, libsql:// and wss:// URLs
// go to a remote libSQL server.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	driver, source := driverFor(dsn)

	instance, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := instance.PingContext(ctx); err != nil {
		instance.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Debug().Str("driver", driver).Msg("database connection successful")

	if err := migrate(ctx, instance); err != nil {
		instance.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info().Msg("migrations completed successfully")

	return instance, nil
}

func driverFor(dsn string) (driver, source string) {
	for _, scheme := range []string{"libsql://", "wss://", "https://"} {
		if strings.HasPrefix(dsn, scheme) {
			return "libsql", dsn
		}
	}
	return "sqlite", formatDBPath(dsn)
}

func formatDBPath(path string) string {
	if path == "" {
		path = "shortly.db"
	}
	path = strings.TrimPrefix(path, "file:")

	// See: https://pkg.go.dev/modernc.org/sqlite#pkg-overview
	params := url.Values{}
	params.Set("mode", "rwc")
	params.Set("_time_format", "sqlite")
	params.Set("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "busy_timeout(5000)")
	// writers take the lock up front so a read-then-insert cannot deadlock
	params.Set("_txlock", "immediate")

	return "file:" + path + "?" + params.Encode()
}

func migrate(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT UNIQUE NOT NULL,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS destinations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT UNIQUE NOT NULL,
		visit_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS account_destinations (
		account_id INTEGER NOT NULL,
		destination_id INTEGER NOT NULL,
		PRIMARY KEY (account_id, destination_id),
		FOREIGN KEY(account_id) REFERENCES accounts(id) ON DELETE CASCADE,
		FOREIGN KEY(destination_id) REFERENCES destinations(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS bindings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT UNIQUE NOT NULL,
		account_id INTEGER NOT NULL,
		destination_id INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		deleted INTEGER NOT NULL DEFAULT 0,
		visit_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(account_id) REFERENCES accounts(id),
		FOREIGN KEY(destination_id) REFERENCES destinations(id)
	);

	CREATE TABLE IF NOT EXISTS visits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		binding_id INTEGER NOT NULL,
		ip_address TEXT NOT NULL,
		browser TEXT,
		platform TEXT,
		visited_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(binding_id) REFERENCES bindings(id)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_bindings_account_destination
		ON bindings(account_id, destination_id) WHERE deleted = 0;
	CREATE INDEX IF NOT EXISTS idx_bindings_deleted ON bindings(deleted);
	CREATE INDEX IF NOT EXISTS idx_bindings_visit_count ON bindings(visit_count);
	CREATE INDEX IF NOT EXISTS idx_visits_binding_id ON visits(binding_id);
	CREATE INDEX IF NOT EXISTS idx_visits_visited_at ON visits(visited_at);
	`

	_, err := db.ExecContext(ctx, schema)
	return err
}
