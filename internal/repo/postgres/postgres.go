package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/repo"
)

var _ repo.Store = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// New connects, pings and applies the schema.
func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	s := &Store{pool: pool, log: log}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Migrate applies the idempotent schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.log.Info("postgres schema ready")
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(tx repo.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{q: tx})
	})
}

func isUniqueViolation(err error, table string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.TableName == table
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS targets (
  id                    TEXT PRIMARY KEY,
  owner_id              TEXT NOT NULL,
  url                   TEXT NOT NULL,
  name                  TEXT NOT NULL DEFAULT '',
  description           TEXT NOT NULL DEFAULT '',
  interval_seconds      INTEGER NOT NULL DEFAULT 300,
  timeout_seconds       INTEGER NOT NULL DEFAULT 10,
  max_retries           INTEGER NOT NULL DEFAULT 3,
  track_content         BOOLEAN NOT NULL DEFAULT FALSE,
  status                TEXT NOT NULL DEFAULT 'unknown',
  last_check            TIMESTAMPTZ NULL,
  last_response_time_ms DOUBLE PRECISION NULL,
  last_status_code      INTEGER NULL,
  last_error            TEXT NOT NULL DEFAULT '',
  content_hash          TEXT NOT NULL DEFAULT '',
  failure_streak        INTEGER NOT NULL DEFAULT 0,
  total_checks          BIGINT NOT NULL DEFAULT 0,
  successful_checks     BIGINT NOT NULL DEFAULT 0,
  active                BOOLEAN NOT NULL DEFAULT TRUE,
  created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (owner_id, url)
);

CREATE TABLE IF NOT EXISTS health_checks (
  id               BIGSERIAL PRIMARY KEY,
  target_id        TEXT NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
  kind             TEXT NOT NULL,
  status_code      INTEGER NULL,
  response_time_ms DOUBLE PRECISION NULL,
  error            TEXT NOT NULL DEFAULT '',
  content_length   BIGINT NULL,
  content_hash     TEXT NULL,
  content_changed  BOOLEAN NOT NULL DEFAULT FALSE,
  ssl_expiry       TIMESTAMPTZ NULL,
  ssl_issuer       TEXT NOT NULL DEFAULT '',
  checked_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_health_checks_target_time ON health_checks (target_id, checked_at DESC);
CREATE INDEX IF NOT EXISTS idx_health_checks_checked_at  ON health_checks (checked_at DESC);

CREATE TABLE IF NOT EXISTS incidents (
  id                           TEXT PRIMARY KEY,
  target_id                    TEXT NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
  title                        TEXT NOT NULL,
  description                  TEXT NOT NULL DEFAULT '',
  severity                     TEXT NOT NULL,
  status                       TEXT NOT NULL,
  started_at                   TIMESTAMPTZ NOT NULL,
  resolved_at                  TIMESTAMPTZ NULL,
  duration_seconds             BIGINT NULL,
  notification_sent            BOOLEAN NOT NULL DEFAULT FALSE,
  resolution_notification_sent BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_incidents_one_open ON incidents (target_id) WHERE status = 'open';
CREATE INDEX IF NOT EXISTS idx_incidents_target_time ON incidents (target_id, started_at DESC);

CREATE TABLE IF NOT EXISTS notifications (
  id          BIGSERIAL PRIMARY KEY,
  recipient   TEXT NOT NULL,
  target_id   TEXT NULL REFERENCES targets(id) ON DELETE CASCADE,
  incident_id TEXT NULL,
  type        TEXT NOT NULL,
  title       TEXT NOT NULL DEFAULT '',
  body        TEXT NOT NULL DEFAULT '',
  sent        BOOLEAN NOT NULL DEFAULT FALSE,
  error       TEXT NOT NULL DEFAULT '',
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
  sent_at     TIMESTAMPTZ NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications (recipient, id DESC);
`
