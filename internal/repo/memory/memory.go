package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

var _ repo.Store = (*Store)(nil)

// Store keeps everything in process memory. Transactions stage their writes and
// apply them under the write lock on commit, so a failed unit of work leaves no trace.
type Store struct {
	mu            sync.RWMutex
	targets       map[domain.TargetID]*domain.Target
	checks        map[domain.TargetID][]domain.HealthCheck
	incidents     map[string]*domain.Incident
	notifications []domain.Notification
	nextCheckID   int64
	nextNotifyID  int64
}

func New() *Store {
	return &Store{
		targets:   make(map[domain.TargetID]*domain.Target),
		checks:    make(map[domain.TargetID][]domain.HealthCheck),
		incidents: make(map[string]*domain.Incident),
	}
}

func (m *Store) Close() error { return nil }

// ---- TargetStore ----

func (m *Store) AddTarget(ctx context.Context, t *domain.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.targets {
		if cur.OwnerID == t.OwnerID && cur.URL == t.URL {
			return repo.ErrDuplicate
		}
	}
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
	cp := *t
	m.targets[t.ID] = &cp
	return nil
}

func (m *Store) GetTarget(ctx context.Context, id domain.TargetID) (*domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.targets[id]
	if !ok {
		return nil, fmt.Errorf("target %s: %w", id, repo.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *Store) ListActiveTargets(ctx context.Context) ([]domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Target, 0, len(m.targets))
	for _, t := range m.targets {
		if t.Active {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Store) ListTargets(ctx context.Context, owner string) ([]domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Target, 0, len(m.targets))
	for _, t := range m.targets {
		if owner == "" || t.OwnerID == owner {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Store) ListOwners(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, t := range m.targets {
		if !t.Active {
			continue
		}
		if _, ok := seen[t.OwnerID]; ok {
			continue
		}
		seen[t.OwnerID] = struct{}{}
		out = append(out, t.OwnerID)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Store) UpdateTarget(ctx context.Context, id domain.TargetID, u domain.TargetUpdate) (*domain.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	if !ok {
		return nil, fmt.Errorf("target %s: %w", id, repo.ErrNotFound)
	}
	next := *t
	if err := u.Apply(&next); err != nil {
		return nil, err
	}
	m.targets[id] = &next
	cp := next
	return &cp, nil
}

func (m *Store) DeleteTarget(ctx context.Context, id domain.TargetID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.targets[id]; !ok {
		return fmt.Errorf("target %s: %w", id, repo.ErrNotFound)
	}
	delete(m.targets, id)
	delete(m.checks, id)
	for iid, inc := range m.incidents {
		if inc.TargetID == id {
			delete(m.incidents, iid)
		}
	}
	kept := m.notifications[:0]
	for _, n := range m.notifications {
		if n.TargetID != nil && *n.TargetID == id {
			continue
		}
		kept = append(kept, n)
	}
	m.notifications = kept
	return nil
}

// ---- ResultStore ----

func (m *Store) History(ctx context.Context, id domain.TargetID, limit int) ([]domain.HealthCheck, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.checks[id]
	out := make([]domain.HealthCheck, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *Store) ChecksSince(ctx context.Context, owner string, since time.Time) ([]domain.HealthCheck, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.HealthCheck
	for id, t := range m.targets {
		if t.OwnerID != owner {
			continue
		}
		for _, hc := range m.checks[id] {
			if !hc.CheckedAt.Before(since) {
				out = append(out, hc)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckedAt.Before(out[j].CheckedAt) })
	return out, nil
}

// ---- IncidentStore ----

func (m *Store) Incidents(ctx context.Context, id domain.TargetID, limit int) ([]domain.Incident, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Incident
	for _, inc := range m.incidents {
		if inc.TargetID == id {
			out = append(out, *inc)
		}
	}
	sortIncidents(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) IncidentsSince(ctx context.Context, owner string, since time.Time) ([]domain.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Incident
	for _, inc := range m.incidents {
		t, ok := m.targets[inc.TargetID]
		if !ok || t.OwnerID != owner || inc.StartedAt.Before(since) {
			continue
		}
		out = append(out, *inc)
	}
	sortIncidents(out)
	return out, nil
}

func sortIncidents(in []domain.Incident) {
	sort.Slice(in, func(i, j int) bool { return in[i].StartedAt.After(in[j].StartedAt) })
}

// ---- NotificationStore ----

func (m *Store) Notifications(ctx context.Context, recipient string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Notification
	for i := len(m.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if recipient == "" || m.notifications[i].Recipient == recipient {
			out = append(out, m.notifications[i])
		}
	}
	return out, nil
}

// ---- Transactor ----

func (m *Store) WithTx(ctx context.Context, fn func(tx repo.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		s:         m,
		targets:   make(map[domain.TargetID]*domain.Target),
		incidents: make(map[string]*domain.Incident),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

type stagedUpdate struct {
	id domain.TargetID
	u  domain.RuntimeUpdate
}

type memTx struct {
	s             *Store
	targets       map[domain.TargetID]*domain.Target
	updates       []stagedUpdate
	checks        []*domain.HealthCheck
	incidents     map[string]*domain.Incident
	notifications []*domain.Notification
}

func (tx *memTx) GetTarget(ctx context.Context, id domain.TargetID) (*domain.Target, error) {
	if t, ok := tx.targets[id]; ok {
		cp := *t
		return &cp, nil
	}
	return tx.s.GetTarget(ctx, id)
}

func (tx *memTx) RecordCheck(ctx context.Context, id domain.TargetID, u domain.RuntimeUpdate, hc *domain.HealthCheck) error {
	t, err := tx.GetTarget(ctx, id)
	if err != nil {
		return err
	}
	u.Apply(t)
	tx.targets[id] = t
	tx.updates = append(tx.updates, stagedUpdate{id: id, u: u})
	hc.TargetID = id
	tx.checks = append(tx.checks, hc)
	return nil
}

func (tx *memTx) GetOpenIncident(ctx context.Context, id domain.TargetID) (*domain.Incident, error) {
	for _, inc := range tx.incidents {
		if inc.TargetID == id && inc.Status == domain.IncidentOpen {
			cp := *inc
			return &cp, nil
		}
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	for iid, inc := range tx.s.incidents {
		if _, staged := tx.incidents[iid]; staged {
			continue
		}
		if inc.TargetID == id && inc.Status == domain.IncidentOpen {
			cp := *inc
			return &cp, nil
		}
	}
	return nil, nil
}

func (tx *memTx) OpenIncident(ctx context.Context, inc *domain.Incident) error {
	open, err := tx.GetOpenIncident(ctx, inc.TargetID)
	if err != nil {
		return err
	}
	if open != nil {
		return fmt.Errorf("target %s already has open incident %s", inc.TargetID, open.ID)
	}
	cp := *inc
	tx.incidents[inc.ID] = &cp
	return nil
}

func (tx *memTx) incident(id string) (*domain.Incident, error) {
	if inc, ok := tx.incidents[id]; ok {
		return inc, nil
	}
	tx.s.mu.RLock()
	inc, ok := tx.s.incidents[id]
	tx.s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("incident %s: %w", id, repo.ErrNotFound)
	}
	cp := *inc
	tx.incidents[id] = &cp
	return &cp, nil
}

func (tx *memTx) ResolveIncident(ctx context.Context, inc *domain.Incident) error {
	cur, err := tx.incident(inc.ID)
	if err != nil {
		return err
	}
	cur.Status = inc.Status
	cur.ResolvedAt = inc.ResolvedAt
	cur.DurationSeconds = inc.DurationSeconds
	return nil
}

func (tx *memTx) MarkIncidentNotified(ctx context.Context, incidentID string, kind domain.NotificationType) error {
	cur, err := tx.incident(incidentID)
	if err != nil {
		return err
	}
	switch kind {
	case domain.NotifyDown:
		cur.NotificationSent = true
	case domain.NotifyRecovery:
		cur.ResolutionNotificationSent = true
	default:
		return fmt.Errorf("mark incident notified: unsupported type %q", kind)
	}
	return nil
}

func (tx *memTx) InsertNotification(ctx context.Context, n *domain.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	tx.notifications = append(tx.notifications, n)
	return nil
}

func (tx *memTx) commit() error {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range tx.targets {
		if _, ok := s.targets[id]; !ok {
			return fmt.Errorf("commit: target %s: %w", id, repo.ErrNotFound)
		}
	}
	for _, inc := range tx.incidents {
		if _, ok := s.targets[inc.TargetID]; !ok {
			return fmt.Errorf("commit: target %s: %w", inc.TargetID, repo.ErrNotFound)
		}
	}
	for _, hc := range tx.checks {
		if _, ok := s.targets[hc.TargetID]; !ok {
			return fmt.Errorf("commit: target %s: %w", hc.TargetID, repo.ErrNotFound)
		}
	}

	// runtime fields only; config edits made meanwhile survive
	for _, su := range tx.updates {
		cp := *s.targets[su.id]
		su.u.Apply(&cp)
		s.targets[su.id] = &cp
	}
	for _, hc := range tx.checks {
		s.nextCheckID++
		hc.ID = s.nextCheckID
		s.checks[hc.TargetID] = append(s.checks[hc.TargetID], *hc)
	}
	for id, inc := range tx.incidents {
		s.incidents[id] = inc
	}
	for _, n := range tx.notifications {
		s.nextNotifyID++
		n.ID = s.nextNotifyID
		s.notifications = append(s.notifications, *n)
	}
	return nil
}
