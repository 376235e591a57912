package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

// ---- TargetStore ----

const targetColumns = `id, owner_id, url, name, description,
  interval_seconds, timeout_seconds, max_retries, track_content,
  status, last_check, last_response_time_ms, last_status_code, last_error, content_hash, failure_streak,
  total_checks, successful_checks, active, created_at, updated_at`

func scanTarget(row pgx.Row) (*domain.Target, error) {
	var (
		t      domain.Target
		id     string
		status string
	)
	if err := row.Scan(
		&id, &t.OwnerID, &t.URL, &t.Name, &t.Description,
		&t.IntervalSeconds, &t.TimeoutSeconds, &t.MaxRetries, &t.TrackContent,
		&status, &t.LastCheck, &t.LastResponseTimeMS, &t.LastStatusCode, &t.LastError, &t.ContentHash, &t.FailureStreak,
		&t.TotalChecks, &t.SuccessfulChecks, &t.Active, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.ID = domain.TargetID(id)
	t.Status = domain.Status(status)
	t.LastCheck = utcPtr(t.LastCheck)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func getTarget(ctx context.Context, q querier, id domain.TargetID) (*domain.Target, error) {
	t, err := scanTarget(q.QueryRow(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("target %s: %w", id, repo.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get target: %w", err)
	}
	return t, nil
}

func (s *Store) listTargets(ctx context.Context, query string, args ...any) ([]domain.Target, error) {
	rows, err := s.pool.Query(ctx, query, args...)
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
	_, err := s.pool.Exec(ctx, `INSERT INTO targets (`+targetColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		string(t.ID), t.OwnerID, t.URL, t.Name, t.Description,
		t.IntervalSeconds, t.TimeoutSeconds, t.MaxRetries, t.TrackContent,
		string(t.Status), t.LastCheck, t.LastResponseTimeMS, t.LastStatusCode, t.LastError, t.ContentHash, t.FailureStreak,
		t.TotalChecks, t.SuccessfulChecks, t.Active, t.CreatedAt, t.UpdatedAt,
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
	return getTarget(ctx, s.pool, id)
}

func (s *Store) ListActiveTargets(ctx context.Context) ([]domain.Target, error) {
	return s.listTargets(ctx, `SELECT `+targetColumns+` FROM targets WHERE active ORDER BY created_at, id`)
}

func (s *Store) ListTargets(ctx context.Context, owner string) ([]domain.Target, error) {
	if owner == "" {
		return s.listTargets(ctx, `SELECT `+targetColumns+` FROM targets ORDER BY created_at DESC, id DESC`)
	}
	return s.listTargets(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE owner_id = $1 ORDER BY created_at DESC, id DESC`, owner)
}

func (s *Store) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT owner_id FROM targets WHERE active ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) UpdateTarget(ctx context.Context, id domain.TargetID, u domain.TargetUpdate) (*domain.Target, error) {
	var out *domain.Target
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		t, err := getTarget(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := u.Apply(t); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE targets SET
			name = $1, description = $2, interval_seconds = $3, timeout_seconds = $4,
			max_retries = $5, track_content = $6, active = $7, updated_at = $8
			WHERE id = $9`,
			t.Name, t.Description, t.IntervalSeconds, t.TimeoutSeconds,
			t.MaxRetries, t.TrackContent, t.Active, t.UpdatedAt, string(id))
		if err != nil {
			return fmt.Errorf("update target: %w", err)
		}
		out = t
		return nil
	})
	return out, err
}

// DeleteTarget relies on ON DELETE CASCADE for checks, incidents and notifications.
func (s *Store) DeleteTarget(ctx context.Context, id domain.TargetID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM targets WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("target %s: %w", id, repo.ErrNotFound)
	}
	return nil
}

// ---- ResultStore ----

const checkColumns = `h.id, h.target_id, h.kind, h.status_code, h.response_time_ms, h.error,
  h.content_length, h.content_hash, h.content_changed, h.ssl_expiry, h.ssl_issuer, h.checked_at`

func (s *Store) queryChecks(ctx context.Context, query string, args ...any) ([]domain.HealthCheck, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query checks: %w", err)
	}
	defer rows.Close()
	var out []domain.HealthCheck
	for rows.Next() {
		var (
			hc   domain.HealthCheck
			id   string
			kind string
		)
		if err := rows.Scan(&hc.ID, &id, &kind, &hc.StatusCode, &hc.ResponseTimeMS, &hc.Error,
			&hc.ContentLength, &hc.ContentHash, &hc.ContentChanged, &hc.SSLExpiry, &hc.SSLIssuer, &hc.CheckedAt); err != nil {
			return nil, fmt.Errorf("scan check: %w", err)
		}
		hc.TargetID = domain.TargetID(id)
		hc.Kind = domain.CheckKind(kind)
		hc.SSLExpiry = utcPtr(hc.SSLExpiry)
		hc.CheckedAt = hc.CheckedAt.UTC()
		out = append(out, hc)
	}
	return out, rows.Err()
}

func (s *Store) History(ctx context.Context, id domain.TargetID, limit int) ([]domain.HealthCheck, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryChecks(ctx, `SELECT `+checkColumns+` FROM health_checks h
		WHERE h.target_id = $1 ORDER BY h.checked_at DESC, h.id DESC LIMIT $2`, string(id), limit)
}

func (s *Store) ChecksSince(ctx context.Context, owner string, since time.Time) ([]domain.HealthCheck, error) {
	return s.queryChecks(ctx, `SELECT `+checkColumns+` FROM health_checks h
		JOIN targets t ON t.id = h.target_id
		WHERE t.owner_id = $1 AND h.checked_at >= $2
		ORDER BY h.checked_at, h.id`, owner, since)
}

// ---- IncidentStore ----

const incidentColumns = `i.id, i.target_id, i.title, i.description, i.severity, i.status, i.started_at,
  i.resolved_at, i.duration_seconds, i.notification_sent, i.resolution_notification_sent`

func scanIncident(row pgx.Row) (domain.Incident, error) {
	var (
		inc      domain.Incident
		id       string
		severity string
		status   string
	)
	if err := row.Scan(&inc.ID, &id, &inc.Title, &inc.Description, &severity, &status, &inc.StartedAt,
		&inc.ResolvedAt, &inc.DurationSeconds, &inc.NotificationSent, &inc.ResolutionNotificationSent); err != nil {
		return inc, err
	}
	inc.TargetID = domain.TargetID(id)
	inc.Severity = domain.Severity(severity)
	inc.Status = domain.IncidentStatus(status)
	inc.StartedAt = inc.StartedAt.UTC()
	inc.ResolvedAt = utcPtr(inc.ResolvedAt)
	return inc, nil
}

func (s *Store) queryIncidents(ctx context.Context, query string, args ...any) ([]domain.Incident, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()
	var out []domain.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

func (s *Store) Incidents(ctx context.Context, id domain.TargetID, limit int) ([]domain.Incident, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryIncidents(ctx, `SELECT `+incidentColumns+` FROM incidents i
		WHERE i.target_id = $1 ORDER BY i.started_at DESC LIMIT $2`, string(id), limit)
}

func (s *Store) IncidentsSince(ctx context.Context, owner string, since time.Time) ([]domain.Incident, error) {
	return s.queryIncidents(ctx, `SELECT `+incidentColumns+` FROM incidents i
		JOIN targets t ON t.id = i.target_id
		WHERE t.owner_id = $1 AND i.started_at >= $2
		ORDER BY i.started_at DESC`, owner, since)
}

// ---- NotificationStore ----

func (s *Store) Notifications(ctx context.Context, recipient string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT id, recipient, target_id, incident_id, type, title, body,
		sent, error, created_at, sent_at
		FROM notifications
		WHERE ($1 = '' OR recipient = $1)
		ORDER BY id DESC LIMIT $2`, recipient, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()
	var out []domain.Notification
	for rows.Next() {
		var (
			n        domain.Notification
			targetID *string
			typ      string
		)
		if err := rows.Scan(&n.ID, &n.Recipient, &targetID, &n.IncidentID, &typ, &n.Title, &n.Body,
			&n.Sent, &n.Error, &n.CreatedAt, &n.SentAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if targetID != nil {
			id := domain.TargetID(*targetID)
			n.TargetID = &id
		}
		n.Type = domain.NotificationType(typ)
		n.CreatedAt = n.CreatedAt.UTC()
		n.SentAt = utcPtr(n.SentAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

// ---- Tx ----

type pgTx struct {
	q pgx.Tx
}

func (tx *pgTx) GetTarget(ctx context.Context, id domain.TargetID) (*domain.Target, error) {
	return getTarget(ctx, tx.q, id)
}

func (tx *pgTx) RecordCheck(ctx context.Context, id domain.TargetID, u domain.RuntimeUpdate, hc *domain.HealthCheck) error {
	successful := 0
	if u.Successful {
		successful = 1
	}
	tag, err := tx.q.Exec(ctx, `UPDATE targets SET
		status = $1, last_check = $2, last_response_time_ms = $3, last_status_code = $4, last_error = $5,
		content_hash = COALESCE($6, content_hash), failure_streak = $7,
		total_checks = total_checks + 1, successful_checks = successful_checks + $8,
		updated_at = $2
		WHERE id = $9`,
		string(u.Status), u.CheckedAt, u.ResponseTimeMS, u.StatusCode, u.Error,
		u.ContentHash, u.FailureStreak, successful, string(id))
	if err != nil {
		return fmt.Errorf("update target runtime: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("target %s: %w", id, repo.ErrNotFound)
	}

	hc.TargetID = id
	err = tx.q.QueryRow(ctx, `INSERT INTO health_checks (
		target_id, kind, status_code, response_time_ms, error, content_length,
		content_hash, content_changed, ssl_expiry, ssl_issuer, checked_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	RETURNING id`,
		string(id), string(hc.Kind), hc.StatusCode, hc.ResponseTimeMS, hc.Error, hc.ContentLength,
		hc.ContentHash, hc.ContentChanged, hc.SSLExpiry, hc.SSLIssuer, hc.CheckedAt,
	).Scan(&hc.ID)
	if err != nil {
		return fmt.Errorf("insert health check: %w", err)
	}
	return nil
}

func (tx *pgTx) GetOpenIncident(ctx context.Context, id domain.TargetID) (*domain.Incident, error) {
	inc, err := scanIncident(tx.q.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents i
		WHERE i.target_id = $1 AND i.status = 'open' ORDER BY i.started_at DESC LIMIT 1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open incident: %w", err)
	}
	return &inc, nil
}

func (tx *pgTx) OpenIncident(ctx context.Context, inc *domain.Incident) error {
	_, err := tx.q.Exec(ctx, `INSERT INTO incidents (
		id, target_id, title, description, severity, status, started_at,
		resolved_at, duration_seconds, notification_sent, resolution_notification_sent
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		inc.ID, string(inc.TargetID), inc.Title, inc.Description, string(inc.Severity), string(inc.Status),
		inc.StartedAt, inc.ResolvedAt, inc.DurationSeconds, inc.NotificationSent, inc.ResolutionNotificationSent)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

func (tx *pgTx) ResolveIncident(ctx context.Context, inc *domain.Incident) error {
	tag, err := tx.q.Exec(ctx, `UPDATE incidents SET status = $1, resolved_at = $2, duration_seconds = $3
		WHERE id = $4`, string(inc.Status), inc.ResolvedAt, inc.DurationSeconds, inc.ID)
	if err != nil {
		return fmt.Errorf("resolve incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("incident %s: %w", inc.ID, repo.ErrNotFound)
	}
	return nil
}

func (tx *pgTx) MarkIncidentNotified(ctx context.Context, incidentID string, kind domain.NotificationType) error {
	var q string
	switch kind {
	case domain.NotifyDown:
		q = `UPDATE incidents SET notification_sent = TRUE WHERE id = $1`
	case domain.NotifyRecovery:
		q = `UPDATE incidents SET resolution_notification_sent = TRUE WHERE id = $1`
	default:
		return fmt.Errorf("mark incident notified: unsupported type %q", kind)
	}
	tag, err := tx.q.Exec(ctx, q, incidentID)
	if err != nil {
		return fmt.Errorf("mark incident notified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("incident %s: %w", incidentID, repo.ErrNotFound)
	}
	return nil
}

func (tx *pgTx) InsertNotification(ctx context.Context, n *domain.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	var targetID *string
	if n.TargetID != nil {
		v := string(*n.TargetID)
		targetID = &v
	}
	err := tx.q.QueryRow(ctx, `INSERT INTO notifications (
		recipient, target_id, incident_id, type, title, body, sent, error, created_at, sent_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	RETURNING id`,
		n.Recipient, targetID, n.IncidentID, string(n.Type), n.Title, n.Body, n.Sent, n.Error,
		n.CreatedAt, n.SentAt,
	).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}
