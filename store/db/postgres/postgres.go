package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/stylebot/internal/profile"
	"github.com/hrygo/stylebot/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a PostgreSQL database. The pgvector extension must be
// installable by the connecting role.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db connection")
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &DB{db: db, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func placeholder(n int) string {
	return "$" + fmt.Sprint(n)
}

func placeholders(n int) string {
	list := make([]string, 0, n)
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
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

	for _, m := range store.PendingMigrations(d.migrations(), current) {
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
		if _, err := tx.ExecContext(ctx, `INSERT INTO system_setting (name, value) VALUES ('schema_version', $1)
			ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`, m.Version); err != nil {
			_ = tx.Rollback()
			return errors.Wrap(err, "failed to record schema version")
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "failed to commit migration %s", m.Version)
		}
	}
	return nil
}

func (d *DB) migrations() []store.Migration {
	dims := d.profile.EmbeddingDimensions
	if dims <= 0 {
		dims = 1536
	}
	return []store.Migration{
		{
			Version: "0.1.0",
			Statements: []string{
				`CREATE TABLE conversation_message (
					id BIGSERIAL PRIMARY KEY,
					user_id TEXT NOT NULL,
					role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
					content TEXT NOT NULL,
					intent TEXT NOT NULL DEFAULT '',
					metadata JSONB NOT NULL DEFAULT '{}',
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
					preferences JSONB NOT NULL DEFAULT '{}',
					created_ts BIGINT NOT NULL,
					updated_ts BIGINT NOT NULL
				)`,
			},
		},
		{
			Version: "0.2.0",
			Statements: []string{
				`CREATE EXTENSION IF NOT EXISTS vector`,
				fmt.Sprintf(`CREATE TABLE product_vector (
					id TEXT NOT NULL PRIMARY KEY,
					embedding vector(%d) NOT NULL,
					metadata JSONB NOT NULL DEFAULT '{}',
					model TEXT NOT NULL DEFAULT '',
					updated_ts BIGINT NOT NULL
				)`, dims),
				`CREATE INDEX idx_product_vector_embedding ON product_vector USING hnsw (embedding vector_cosine_ops)`,
				`CREATE INDEX idx_product_vector_metadata ON product_vector USING gin (metadata jsonb_path_ops)`,
			},
		},
	}
}
