package repo

import (
	"context"
	"errors"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("target already registered")
)

// Ports (interfaces). The memory, sqlite and postgres adapters implement all of them.

type TargetStore interface {
	// AddTarget returns ErrDuplicate if the owner already registered the URL.
	AddTarget(ctx context.Context, t *domain.Target) error
	GetTarget(ctx context.Context, id domain.TargetID) (*domain.Target, error)
	ListActiveTargets(ctx context.Context) ([]domain.Target, error)
	// ListTargets returns every target of an owner, newest first. Empty owner lists all.
	ListTargets(ctx context.Context, owner string) ([]domain.Target, error)
	// ListOwners returns the distinct owners of active targets.
	ListOwners(ctx context.Context) ([]string, error)
	UpdateTarget(ctx context.Context, id domain.TargetID, u domain.TargetUpdate) (*domain.Target, error)
	// DeleteTarget removes the target together with its history, incidents and notifications.
	DeleteTarget(ctx context.Context, id domain.TargetID) error
}

type ResultStore interface {
	// History returns the newest checks first. limit <= 0 means 50.
	History(ctx context.Context, id domain.TargetID, limit int) ([]domain.HealthCheck, error)
	// ChecksSince returns checks of the owner's targets at or after since, oldest first.
	ChecksSince(ctx context.Context, owner string, since time.Time) ([]domain.HealthCheck, error)
}

type IncidentStore interface {
	Incidents(ctx context.Context, id domain.TargetID, limit int) ([]domain.Incident, error)
	// IncidentsSince returns incidents of the owner's targets started at or after since.
	IncidentsSince(ctx context.Context, owner string, since time.Time) ([]domain.Incident, error)
}

type NotificationStore interface {
	Notifications(ctx context.Context, recipient string, limit int) ([]domain.Notification, error)
}

// Tx is one unit of work. Everything written through it commits or rolls back together.
type Tx interface {
	GetTarget(ctx context.Context, id domain.TargetID) (*domain.Target, error)
	// RecordCheck appends hc and applies u to the target row, incrementing its counters.
	RecordCheck(ctx context.Context, id domain.TargetID, u domain.RuntimeUpdate, hc *domain.HealthCheck) error
	// GetOpenIncident returns nil, nil when the target has no open incident.
	GetOpenIncident(ctx context.Context, id domain.TargetID) (*domain.Incident, error)
	OpenIncident(ctx context.Context, inc *domain.Incident) error
	ResolveIncident(ctx context.Context, inc *domain.Incident) error
	MarkIncidentNotified(ctx context.Context, incidentID string, kind domain.NotificationType) error
	InsertNotification(ctx context.Context, n *domain.Notification) error
}

type Transactor interface {
	// WithTx runs fn in a transaction, committing when fn returns nil and rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

type Store interface {
	TargetStore
	ResultStore
	IncidentStore
	NotificationStore
	Transactor
	Close() error
}
