package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityMinor Severity = "minor"
	SeverityMajor Severity = "major"
)

// SeverityFor derives incident severity from the HTTP status code of the failing check.
func SeverityFor(statusCode int) Severity {
	if statusCode >= 500 {
		return SeverityMajor
	}
	return SeverityMinor
}

type IncidentStatus string

const (
	IncidentOpen     IncidentStatus = "open"
	IncidentResolved IncidentStatus = "resolved"
)

// Incident is one continuous down window of a target.
type Incident struct {
	ID                         string         `json:"id"`
	TargetID                   TargetID       `json:"target_id"`
	Title                      string         `json:"title"`
	Description                string         `json:"description,omitempty"`
	Severity                   Severity       `json:"severity"`
	Status                     IncidentStatus `json:"status"`
	StartedAt                  time.Time      `json:"started_at"`
	ResolvedAt                 *time.Time     `json:"resolved_at,omitempty"`
	DurationSeconds            *int64         `json:"duration_seconds,omitempty"`
	NotificationSent           bool           `json:"notification_sent"`
	ResolutionNotificationSent bool           `json:"resolution_notification_sent"`
}

// OpenIncident builds the incident recorded when t goes down with r.
func OpenIncident(t *Target, r CheckResult, at time.Time) *Incident {
	desc := r.Error
	if desc == "" {
		desc = "unknown cause"
	}
	return &Incident{
		ID:          uuid.NewString(),
		TargetID:    t.ID,
		Title:       fmt.Sprintf("%s is down", t.DisplayName()),
		Description: desc,
		Severity:    SeverityFor(r.Code()),
		Status:      IncidentOpen,
		StartedAt:   at,
	}
}

// Resolve closes the incident at the given time and fixes its duration.
func (i *Incident) Resolve(at time.Time) {
	d := int64(at.Sub(i.StartedAt) / time.Second)
	if d < 0 {
		d = 0
	}
	i.Status = IncidentResolved
	i.ResolvedAt = &at
	i.DurationSeconds = &d
}

// Duration is the resolved duration, or the time open so far.
func (i *Incident) Duration(now time.Time) time.Duration {
	if i.DurationSeconds != nil {
		return time.Duration(*i.DurationSeconds) * time.Second
	}
	return now.Sub(i.StartedAt)
}

type NotificationType string

const (
	NotifyDown     NotificationType = "down"
	NotifyRecovery NotificationType = "recovery"
	NotifyReport   NotificationType = "report"
)

// Notification is the audit record of one delivery attempt.
type Notification struct {
	ID         int64            `json:"id"`
	Recipient  string           `json:"recipient"`
	TargetID   *TargetID        `json:"target_id,omitempty"`
	IncidentID *string          `json:"incident_id,omitempty"`
	Type       NotificationType `json:"type"`
	Title      string           `json:"title"`
	Body       string           `json:"body"`
	Sent       bool             `json:"sent"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	SentAt     *time.Time       `json:"sent_at,omitempty"`
}
