package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/stylebot/internal/profile"
	"github.com/hrygo/stylebot/store"
)

// SQLite is supported for development and tests. Vector search scores every
// candidate in Go, so it is only suitable for small catalogs.

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database named by profile.DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// Each pragma must be prefixed with `_pragma=` for modernc.org/sqlite.
	separator := "?"
	if strings.Contains(profile.DSN, "?") {
		separator = "&"
	}
	sqliteDB, err := sql.Open("sqlite", profile.DSN+separator+"_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// Single connection is optimal with WAL.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := DB{db: sqliteDB, profile: profile}
	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// Migrate applies pending schema migrations inside one transaction per version.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS system_setting (
		name TEXT NOT NULL PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return errors.Wrap(err, "failed to create system_setting")
	}

	var current string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM system_setting WHERE name = 'schema_version'`).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, "failed to read schema version")
	}

	for _, m := range store.PendingMigrations(migrations, current) {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "failed to begin migration")
		}
		for _, stmt := range m.Statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return errors.Wrapf(err, "failed to apply migration %s", m.Version)
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO system_setting (name, value) VALUES ('schema_version', ?)
			ON CONFLICT(name) DO UPDATE SET value = excluded.value`, m.Version); err != nil {
			_ = tx.Rollback()
			return errors.Wrap(err, "failed to record schema version")
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "failed to commit migration %s", m.Version)
		}
	}
	return nil
}

var migrations = []store.Migration{
	{
		Version: "0.1.0",
		Statements: []string{
			`CREATE TABLE conversation_message (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id TEXT NOT NULL,
				role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
				content TEXT NOT NULL,
				intent TEXT NOT NULL DEFAULT '',
				metadata TEXT NOT NULL DEFAULT '{}',
				created_ts BIGINT NOT NULL
			)`,
			`CREATE INDEX idx_conversation_message_user_created ON conversation_message (user_id, created_ts)`,
			`CREATE TABLE conversation_state (
				user_id TEXT NOT NULL PRIMARY KEY,
				current_product TEXT NOT NULL DEFAULT '',
				reset_ts BIGINT NOT NULL DEFAULT 0,
				updated_ts BIGINT NOT NULL
			)`,
			`CREATE TABLE user_preferences (
				user_id TEXT NOT NULL PRIMARY KEY,
				preferences TEXT NOT NULL DEFAULT '{}',
				created_ts BIGINT NOT NULL,
				updated_ts BIGINT NOT NULL
			)`,
		},
	},
	{
		Version: "0.2.0",
		Statements: []string{
			`CREATE TABLE product_vector (
				id TEXT NOT NULL PRIMARY KEY,
				embedding BLOB NOT NULL,
				metadata TEXT NOT NULL DEFAULT '{}',
				model TEXT NOT NULL DEFAULT '',
				updated_ts BIGINT NOT NULL
			)`,
		},
	},
}
