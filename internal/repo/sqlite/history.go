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

const checkColumns = `id, target_id, kind, status_code, response_time_ms, error,
	content_length, content_hash, content_changed, ssl_expiry, ssl_issuer, checked_at`

func scanCheck(sc scanner) (domain.HealthCheck, error) {
	var (
		hc      domain.HealthCheck
		kind    string
		code    sql.NullInt64
		respMS  sql.NullFloat64
		length  sql.NullInt64
		hash    sql.NullString
		expiry  sql.NullInt64
		checked int64
	)
	if err := sc.Scan(&hc.ID, &hc.TargetID, &kind, &code, &respMS, &hc.Error,
		&length, &hash, &hc.ContentChanged, &expiry, &hc.SSLIssuer, &checked); err != nil {
		return hc, err
	}
	hc.Kind = domain.CheckKind(kind)
	if code.Valid {
		v := int(code.Int64)
		hc.StatusCode = &v
	}
	if respMS.Valid {
		v := respMS.Float64
		hc.ResponseTimeMS = &v
	}
	if length.Valid {
		v := length.Int64
		hc.ContentLength = &v
	}
	if hash.Valid {
		v := hash.String
		hc.ContentHash = &v
	}
	hc.SSLExpiry = tsPtr(expiry)
	hc.CheckedAt = fromTS(checked)
	return hc, nil
}

func (s *Store) queryChecks(ctx context.Context, query string, args ...any) ([]domain.HealthCheck, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query checks: %w", err)
	}
	defer rows.Close()
	var out []domain.HealthCheck
	for rows.Next() {
		hc, err := scanCheck(rows)
		if err != nil {
			return nil, fmt.Errorf("scan check: %w", err)
		}
		out = append(out, hc)
	}
	return out, rows.Err()
}

func (s *Store) History(ctx context.Context, id domain.TargetID, limit int) ([]domain.HealthCheck, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryChecks(ctx, `SELECT `+checkColumns+` FROM health_checks
		WHERE target_id = ? ORDER BY checked_at DESC, id DESC LIMIT ?`, string(id), limit)
}

func (s *Store) ChecksSince(ctx context.Context, owner string, since time.Time) ([]domain.HealthCheck, error) {
	return s.queryChecks(ctx, `SELECT `+prefixed("h.", checkColumns)+` FROM health_checks h
		JOIN targets t ON t.id = h.target_id
		WHERE t.owner_id = ? AND h.checked_at >= ?
		ORDER BY h.checked_at, h.id`, owner, ts(since))
}

const incidentColumns = `id, target_id, title, description, severity, status, started_at,
	resolved_at, duration_seconds, notification_sent, resolution_notification_sent`

func scanIncident(sc scanner) (domain.Incident, error) {
	var (
		inc      domain.Incident
		severity string
		status   string
		started  int64
		resolved sql.NullInt64
		dur      sql.NullInt64
	)
	if err := sc.Scan(&inc.ID, &inc.TargetID, &inc.Title, &inc.Description, &severity, &status, &started,
		&resolved, &dur, &inc.NotificationSent, &inc.ResolutionNotificationSent); err != nil {
		return inc, err
	}
	inc.Severity = domain.Severity(severity)
	inc.Status = domain.IncidentStatus(status)
	inc.StartedAt = fromTS(started)
	inc.ResolvedAt = tsPtr(resolved)
	if dur.Valid {
		v := dur.Int64
		inc.DurationSeconds = &v
	}
	return inc, nil
}

func (s *Store) queryIncidents(ctx context.Context, query string, args ...any) ([]domain.Incident, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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
	return s.queryIncidents(ctx, `SELECT `+incidentColumns+` FROM incidents
		WHERE target_id = ? ORDER BY started_at DESC LIMIT ?`, string(id), limit)
}

func (s *Store) IncidentsSince(ctx context.Context, owner string, since time.Time) ([]domain.Incident, error) {
	return s.queryIncidents(ctx, `SELECT `+prefixed("i.", incidentColumns)+` FROM incidents i
		JOIN targets t ON t.id = i.target_id
		WHERE t.owner_id = ? AND i.started_at >= ?
		ORDER BY i.started_at DESC`, owner, ts(since))
}

func (s *Store) Notifications(ctx context.Context, recipient string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, recipient, target_id, incident_id, type, title, body, sent, error, created_at, sent_at
		FROM notifications`
	args := []any{}
	if recipient != "" {
		q += ` WHERE recipient = ?`
		args = append(args, recipient)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()
	var out []domain.Notification
	for rows.Next() {
		var (
			n        domain.Notification
			typ      string
			targetID sql.NullString
			incident sql.NullString
			created  int64
			sentAt   sql.NullInt64
		)
		if err := rows.Scan(&n.ID, &n.Recipient, &targetID, &incident, &typ, &n.Title, &n.Body,
			&n.Sent, &n.Error, &created, &sentAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Type = domain.NotificationType(typ)
		if targetID.Valid {
			id := domain.TargetID(targetID.String)
			n.TargetID = &id
		}
		if incident.Valid {
			v := incident.String
			n.IncidentID = &v
		}
		n.CreatedAt = fromTS(created)
		n.SentAt = tsPtr(sentAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

// sqlTx implements repo.Tx on an open *sql.Tx.
type sqlTx struct {
	q *sql.Tx
}

func (tx *sqlTx) GetTarget(ctx context.Context, id domain.TargetID) (*domain.Target, error) {
	return getTarget(ctx, tx.q, id)
}

func (tx *sqlTx) RecordCheck(ctx context.Context, id domain.TargetID, u domain.RuntimeUpdate, hc *domain.HealthCheck) error {
	var code sql.NullInt64
	if u.StatusCode != nil {
		code = sql.NullInt64{Int64: int64(*u.StatusCode), Valid: true}
	}
	var resp sql.NullFloat64
	if u.ResponseTimeMS != nil {
		resp = sql.NullFloat64{Float64: *u.ResponseTimeMS, Valid: true}
	}
	var hash sql.NullString
	if u.ContentHash != nil {
		hash = sql.NullString{String: *u.ContentHash, Valid: true}
	}
	res, err := tx.q.ExecContext(ctx, `UPDATE targets SET
		status = ?, last_check = ?, last_response_time_ms = ?, last_status_code = ?, last_error = ?,
		content_hash = COALESCE(?, content_hash), failure_streak = ?,
		total_checks = total_checks + 1, successful_checks = successful_checks + ?,
		updated_at = ?
		WHERE id = ?`,
		string(u.Status), ts(u.CheckedAt), resp, code, u.Error,
		hash, u.FailureStreak, b2i(u.Successful), ts(u.CheckedAt), string(id))
	if err != nil {
		return fmt.Errorf("update target runtime: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("target %s: %w", id, repo.ErrNotFound)
	}

	var (
		hcCode   sql.NullInt64
		hcResp   sql.NullFloat64
		hcLength sql.NullInt64
		hcHash   sql.NullString
	)
	if hc.StatusCode != nil {
		hcCode = sql.NullInt64{Int64: int64(*hc.StatusCode), Valid: true}
	}
	if hc.ResponseTimeMS != nil {
		hcResp = sql.NullFloat64{Float64: *hc.ResponseTimeMS, Valid: true}
	}
	if hc.ContentLength != nil {
		hcLength = sql.NullInt64{Int64: *hc.ContentLength, Valid: true}
	}
	if hc.ContentHash != nil {
		hcHash = sql.NullString{String: *hc.ContentHash, Valid: true}
	}
	hc.TargetID = id
	res, err = tx.q.ExecContext(ctx, `INSERT INTO health_checks (
		target_id, kind, status_code, response_time_ms, error, content_length,
		content_hash, content_changed, ssl_expiry, ssl_issuer, checked_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(id), string(hc.Kind), hcCode, hcResp, hc.Error, hcLength,
		hcHash, b2i(hc.ContentChanged), nullTS(hc.SSLExpiry), hc.SSLIssuer, ts(hc.CheckedAt))
	if err != nil {
		return fmt.Errorf("insert health check: %w", err)
	}
	if hc.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("health check id: %w", err)
	}
	return nil
}

func (tx *sqlTx) GetOpenIncident(ctx context.Context, id domain.TargetID) (*domain.Incident, error) {
	inc, err := scanIncident(tx.q.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents
		WHERE target_id = ? AND status = 'open' ORDER BY started_at DESC LIMIT 1`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open incident: %w", err)
	}
	return &inc, nil
}

func (tx *sqlTx) OpenIncident(ctx context.Context, inc *domain.Incident) error {
	_, err := tx.q.ExecContext(ctx, `INSERT INTO incidents (`+incidentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, string(inc.TargetID), inc.Title, inc.Description, string(inc.Severity), string(inc.Status),
		ts(inc.StartedAt), nullTS(inc.ResolvedAt), inc.DurationSeconds,
		b2i(inc.NotificationSent), b2i(inc.ResolutionNotificationSent))
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

func (tx *sqlTx) ResolveIncident(ctx context.Context, inc *domain.Incident) error {
	res, err := tx.q.ExecContext(ctx, `UPDATE incidents SET status = ?, resolved_at = ?, duration_seconds = ?
		WHERE id = ?`, string(inc.Status), nullTS(inc.ResolvedAt), inc.DurationSeconds, inc.ID)
	if err != nil {
		return fmt.Errorf("resolve incident: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("incident %s: %w", inc.ID, repo.ErrNotFound)
	}
	return nil
}

func (tx *sqlTx) MarkIncidentNotified(ctx context.Context, incidentID string, kind domain.NotificationType) error {
	var col string
	switch kind {
	case domain.NotifyDown:
		col = "notification_sent"
	case domain.NotifyRecovery:
		col = "resolution_notification_sent"
	default:
		return fmt.Errorf("mark incident notified: unsupported type %q", kind)
	}
	res, err := tx.q.ExecContext(ctx, `UPDATE incidents SET `+col+` = 1 WHERE id = ?`, incidentID)
	if err != nil {
		return fmt.Errorf("mark incident notified: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("incident %s: %w", incidentID, repo.ErrNotFound)
	}
	return nil
}

func (tx *sqlTx) InsertNotification(ctx context.Context, n *domain.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	var targetID, incident sql.NullString
	if n.TargetID != nil {
		targetID = sql.NullString{String: string(*n.TargetID), Valid: true}
	}
	if n.IncidentID != nil {
		incident = sql.NullString{String: *n.IncidentID, Valid: true}
	}
	res, err := tx.q.ExecContext(ctx, `INSERT INTO notifications (
		recipient, target_id, incident_id, type, title, body, sent, error, created_at, sent_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.Recipient, targetID, incident, string(n.Type), n.Title, n.Body, b2i(n.Sent), n.Error,
		ts(n.CreatedAt), nullTS(n.SentAt))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	if n.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("notification id: %w", err)
	}
	return nil
}
