package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

const targetColumns = `id, owner_id, url, name, description,
	interval_seconds, timeout_seconds, max_retries, track_content,
	status, last_check, last_response_time_ms, last_status_code, last_error, content_hash, failure_streak,
	total_checks, successful_checks, active, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTarget(sc scanner) (*domain.Target, error) {
	var (
		t         domain.Target
		status    string
		lastCheck sql.NullInt64
		respMS    sql.NullFloat64
		code      sql.NullInt64
		created   int64
		updated   int64
	)
	if err := sc.Scan(
		&t.ID, &t.OwnerID, &t.URL, &t.Name, &t.Description,
		&t.IntervalSeconds, &t.TimeoutSeconds, &t.MaxRetries, &t.TrackContent,
		&status, &lastCheck, &respMS, &code, &t.LastError, &t.ContentHash, &t.FailureStreak,
		&t.TotalChecks, &t.SuccessfulChecks, &t.Active, &created, &updated,
	); err != nil {
		return nil, err
	}
	t.Status = domain.Status(status)
	t.LastCheck = tsPtr(lastCheck)
	if respMS.Valid {
		v := respMS.Float64
		t.LastResponseTimeMS = &v
	}
	if code.Valid {
		v := int(code.Int64)
		t.LastStatusCode = &v
	}
	t.CreatedAt = fromTS(created)
	t.UpdatedAt = fromTS(updated)
	return &t, nil
}

func getTarget(ctx context.Context, q querier, id domain.TargetID) (*domain.Target, error) {
	t, err := scanTarget(q.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = ?`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("target %s: %w", id, repo.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get target: %w", err)
	}
	return t, nil
}

func listTargets(ctx context.Context, q querier, query string, args ...any) ([]domain.Target, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()
	var out []domain.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) AddTarget(ctx context.Context, t *domain.Target) error {
	if t.ID == "" {
		t.ID = domain.NewTargetID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if t.Status == "" {
		t.Status = domain.StatusUnknown
	}
	var code sql.NullInt64
	if t.LastStatusCode != nil {
		code = sql.NullInt64{Int64: int64(*t.LastStatusCode), Valid: true}
	}
	var resp sql.NullFloat64
	if t.LastResponseTimeMS != nil {
		resp = sql.NullFloat64{Float64: *t.LastResponseTimeMS, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO targets (`+targetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(t.ID), t.OwnerID, t.URL, t.Name, t.Description,
		t.IntervalSeconds, t.TimeoutSeconds, t.MaxRetries, b2i(t.TrackContent),
		string(t.Status), nullTS(t.LastCheck), resp, code, t.LastError, t.ContentHash, t.FailureStreak,
		t.TotalChecks, t.SuccessfulChecks, b2i(t.Active), ts(t.CreatedAt), ts(t.UpdatedAt),
	)
	if isUniqueViolation(err, "targets") {
		return repo.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert target: %w", err)
	}
	return nil
}

func (s *Store) GetTarget(ctx context.Context, id domain.TargetID) (*domain.Target, error) {
	return getTarget(ctx, s.db, id)
}

func (s *Store) ListActiveTargets(ctx context.Context) ([]domain.Target, error) {
	return listTargets(ctx, s.db, `SELECT `+targetColumns+` FROM targets WHERE active = 1 ORDER BY created_at, id`)
}

func (s *Store) ListTargets(ctx context.Context, owner string) ([]domain.Target, error) {
	if owner == "" {
		return listTargets(ctx, s.db, `SELECT `+targetColumns+` FROM targets ORDER BY created_at DESC, id DESC`)
	}
	return listTargets(ctx, s.db,
		`SELECT `+targetColumns+` FROM targets WHERE owner_id = ? ORDER BY created_at DESC, id DESC`, owner)
}

func (s *Store) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM targets WHERE active = 1 ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTarget(ctx context.Context, id domain.TargetID, u domain.TargetUpdate) (*domain.Target, error) {
	var out *domain.Target
	err := s.tx(ctx, func(tx *sql.Tx) error {
		t, err := getTarget(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := u.Apply(t); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE targets SET
			name = ?, description = ?, interval_seconds = ?, timeout_seconds = ?,
			max_retries = ?, track_content = ?, active = ?, updated_at = ?
			WHERE id = ?`,
			t.Name, t.Description, t.IntervalSeconds, t.TimeoutSeconds,
			t.MaxRetries, b2i(t.TrackContent), b2i(t.Active), ts(t.UpdatedAt), string(id))
		if err != nil {
			return fmt.Errorf("update target: %w", err)
		}
		out = t
		return nil
	})
	return out, err
}

// DeleteTarget deletes children explicitly so the cascade does not depend on the foreign_keys pragma.
func (s *Store) DeleteTarget(ctx context.Context, id domain.TargetID) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM notifications WHERE target_id = ?`,
			`DELETE FROM health_checks WHERE target_id = ?`,
			`DELETE FROM incidents WHERE target_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, string(id)); err != nil {
				return fmt.Errorf("delete target children: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM targets WHERE id = ?`, string(id))
		if err != nil {
			return fmt.Errorf("delete target: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("target %s: %w", id, repo.ErrNotFound)
		}
		return nil
	})
}
