package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type migration struct {
	Version     int
	Description string
	Stmts       []string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "create monitoring tables",
		Stmts: []string{
			`CREATE TABLE IF NOT EXISTS targets (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				url TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				interval_seconds INTEGER NOT NULL DEFAULT 300,
				timeout_seconds INTEGER NOT NULL DEFAULT 10,
				max_retries INTEGER NOT NULL DEFAULT 3,
				track_content INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL DEFAULT 'unknown',
				last_check INTEGER,
				last_response_time_ms REAL,
				last_status_code INTEGER,
				last_error TEXT NOT NULL DEFAULT '',
				content_hash TEXT NOT NULL DEFAULT '',
				failure_streak INTEGER NOT NULL DEFAULT 0,
				total_checks INTEGER NOT NULL DEFAULT 0,
				successful_checks INTEGER NOT NULL DEFAULT 0,
				active INTEGER NOT NULL DEFAULT 1,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				UNIQUE (owner_id, url)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_targets_active ON targets(active, created_at)`,

			`CREATE TABLE IF NOT EXISTS health_checks (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				target_id TEXT NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
				kind TEXT NOT NULL,
				status_code INTEGER,
				response_time_ms REAL,
				error TEXT NOT NULL DEFAULT '',
				content_length INTEGER,
				content_hash TEXT,
				content_changed INTEGER NOT NULL DEFAULT 0,
				ssl_expiry INTEGER,
				ssl_issuer TEXT NOT NULL DEFAULT '',
				checked_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_health_checks_target_time ON health_checks(target_id, checked_at)`,
			`CREATE INDEX IF NOT EXISTS idx_health_checks_time ON health_checks(checked_at)`,

			`CREATE TABLE IF NOT EXISTS incidents (
				id TEXT PRIMARY KEY,
				target_id TEXT NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
				title TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				severity TEXT NOT NULL,
				status TEXT NOT NULL,
				started_at INTEGER NOT NULL,
				resolved_at INTEGER,
				duration_seconds INTEGER,
				notification_sent INTEGER NOT NULL DEFAULT 0,
				resolution_notification_sent INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_incidents_one_open ON incidents(target_id) WHERE status = 'open'`,
			`CREATE INDEX IF NOT EXISTS idx_incidents_target_time ON incidents(target_id, started_at)`,

			`CREATE TABLE IF NOT EXISTS notifications (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				recipient TEXT NOT NULL,
				target_id TEXT REFERENCES targets(id) ON DELETE CASCADE,
				incident_id TEXT,
				type TEXT NOT NULL,
				title TEXT NOT NULL DEFAULT '',
				body TEXT NOT NULL DEFAULT '',
				sent INTEGER NOT NULL DEFAULT 0,
				error TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				sent_at INTEGER
			)`,
			`CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient, id)`,
		},
	},
}

// migrate applies pending migrations in order. Applied versions are recorded in schema_migrations.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var n int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, m.Version).Scan(&n); err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if n > 0 {
			continue
		}
		err := s.tx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range m.Stmts {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`,
				m.Version, m.Description, ts(time.Now()))
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		s.log.Info("applied migration", zap.Int("version", m.Version), zap.String("description", m.Description))
	}
	return nil
}
