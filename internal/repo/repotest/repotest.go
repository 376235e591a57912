// Package repotest holds the behaviour every repo.Store adapter must share.
package repotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

// Run exercises a fresh store per subtest.
func Run(t *testing.T, newStore func(t *testing.T) repo.Store) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(t *testing.T, s repo.Store)
	}{
		{"AddGetList", testAddGetList},
		{"Duplicate", testDuplicate},
		{"UpdateTarget", testUpdateTarget},
		{"RecordCheck", testRecordCheck},
		{"Rollback", testRollback},
		{"IncidentLifecycle", testIncidentLifecycle},
		{"Notifications", testNotifications},
		{"DeleteCascades", testDeleteCascades},
		{"ChecksSince", testChecksSince},
		{"MissingTarget", testMissingTarget},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			c.fn(t, s)
		})
	}
}

var base = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func addTarget(t *testing.T, s repo.Store, owner, url string, created time.Time) *domain.Target {
	t.Helper()
	tgt := domain.NewTarget(owner, url)
	tgt.CreatedAt = created
	tgt.UpdatedAt = created
	if err := s.AddTarget(context.Background(), tgt); err != nil {
		t.Fatalf("AddTarget(%s, %s): %v", owner, url, err)
	}
	return tgt
}

func record(t *testing.T, s repo.Store, id domain.TargetID, r domain.CheckResult) *domain.HealthCheck {
	t.Helper()
	hc := domain.NewHealthCheck(id, r)
	err := s.WithTx(context.Background(), func(tx repo.Tx) error {
		return tx.RecordCheck(context.Background(), id, domain.RuntimeUpdate{
			Status:         r.Status(),
			CheckedAt:      r.CheckedAt,
			ResponseTimeMS: r.ResponseTimeMS,
			StatusCode:     r.StatusCode,
			Error:          r.Error,
			ContentHash:    r.ContentHash,
			Successful:     r.Kind == domain.CheckUp,
		}, hc)
	})
	if err != nil {
		t.Fatalf("RecordCheck: %v", err)
	}
	return hc
}

func upAt(at time.Time) domain.CheckResult {
	code, ms := 200, 12.5
	return domain.CheckResult{Kind: domain.CheckUp, StatusCode: &code, ResponseTimeMS: &ms, CheckedAt: at}
}

func downAt(at time.Time) domain.CheckResult {
	code := 503
	return domain.CheckResult{Kind: domain.CheckDown, StatusCode: &code, Error: "HTTP 503", CheckedAt: at}
}

func testAddGetList(t *testing.T, s repo.Store) {
	ctx := context.Background()
	a1 := addTarget(t, s, "alice", "https://a.example.com", base)
	a2 := addTarget(t, s, "alice", "https://b.example.com", base.Add(time.Minute))
	addTarget(t, s, "bob", "https://a.example.com", base.Add(2*time.Minute))

	got, err := s.GetTarget(ctx, a1.ID)
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	if got.URL != a1.URL || got.OwnerID != "alice" || got.Status != domain.StatusUnknown || !got.Active {
		t.Fatalf("unexpected target: %+v", got)
	}
	if got.IntervalSeconds != domain.DefaultIntervalSeconds || got.MaxRetries != domain.DefaultMaxRetries {
		t.Fatalf("cadence not persisted: %+v", got)
	}

	list, err := s.ListTargets(ctx, "alice")
	if err != nil {
		t.Fatalf("ListTargets: %v", err)
	}
	if len(list) != 2 || list[0].ID != a2.ID || list[1].ID != a1.ID {
		t.Fatalf("want alice's targets newest first, got %+v", list)
	}
	all, _ := s.ListTargets(ctx, "")
	if len(all) != 3 {
		t.Fatalf("want 3 targets overall, got %d", len(all))
	}
	active, _ := s.ListActiveTargets(ctx)
	if len(active) != 3 || active[0].ID != a1.ID {
		t.Fatalf("want 3 active targets oldest first, got %+v", active)
	}
	owners, _ := s.ListOwners(ctx)
	if len(owners) != 2 || owners[0] != "alice" || owners[1] != "bob" {
		t.Fatalf("unexpected owners: %v", owners)
	}
}

func testDuplicate(t *testing.T, s repo.Store) {
	addTarget(t, s, "alice", "https://a.example.com", base)
	dup := domain.NewTarget("alice", "https://a.example.com")
	if err := s.AddTarget(context.Background(), dup); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
}

func testUpdateTarget(t *testing.T, s repo.Store) {
	ctx := context.Background()
	tgt := addTarget(t, s, "alice", "https://a.example.com", base)

	iv, inactive, name := 60, false, "Shop"
	got, err := s.UpdateTarget(ctx, tgt.ID, domain.TargetUpdate{IntervalSeconds: &iv, Active: &inactive, Name: &name})
	if err != nil {
		t.Fatalf("UpdateTarget: %v", err)
	}
	if got.IntervalSeconds != 60 || got.Active || got.Name != "Shop" {
		t.Fatalf("update not applied: %+v", got)
	}
	reread, _ := s.GetTarget(ctx, tgt.ID)
	if reread.IntervalSeconds != 60 || reread.Active {
		t.Fatalf("update not persisted: %+v", reread)
	}
	if active, _ := s.ListActiveTargets(ctx); len(active) != 0 {
		t.Fatalf("inactive target still listed as active")
	}
	if owners, _ := s.ListOwners(ctx); len(owners) != 0 {
		t.Fatalf("owner of inactive target listed: %v", owners)
	}

	bad := 0
	if _, err := s.UpdateTarget(ctx, tgt.ID, domain.TargetUpdate{TimeoutSeconds: &bad}); !errors.Is(err, domain.ErrInvalidTarget) {
		t.Fatalf("want ErrInvalidTarget, got %v", err)
	}
	reread, _ = s.GetTarget(ctx, tgt.ID)
	if reread.TimeoutSeconds != domain.DefaultTimeoutSeconds {
		t.Fatalf("rejected update leaked: %+v", reread)
	}
	if _, err := s.UpdateTarget(ctx, "nope", domain.TargetUpdate{Name: &name}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func testRecordCheck(t *testing.T, s repo.Store) {
	ctx := context.Background()
	tgt := addTarget(t, s, "alice", "https://a.example.com", base)

	hash := "abc"
	first := upAt(base.Add(time.Minute))
	first.ContentHash = &hash
	hc := record(t, s, tgt.ID, first)
	if hc.ID == 0 {
		t.Fatalf("want health check id assigned")
	}
	record(t, s, tgt.ID, downAt(base.Add(2*time.Minute)))

	got, _ := s.GetTarget(ctx, tgt.ID)
	if got.TotalChecks != 2 || got.SuccessfulChecks != 1 {
		t.Fatalf("counters: total=%d ok=%d", got.TotalChecks, got.SuccessfulChecks)
	}
	if got.Status != domain.StatusDown || got.LastError != "HTTP 503" || got.LastStatusCode == nil || *got.LastStatusCode != 503 {
		t.Fatalf("runtime not updated: %+v", got)
	}
	if got.LastResponseTimeMS != nil {
		t.Fatalf("response time must follow the last check, got %v", *got.LastResponseTimeMS)
	}
	if got.ContentHash != "abc" {
		t.Fatalf("content hash must survive a check without one, got %q", got.ContentHash)
	}
	if got.LastCheck == nil || !got.LastCheck.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("last check: %v", got.LastCheck)
	}

	hist, err := s.History(ctx, tgt.ID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 || hist[0].Kind != domain.CheckDown || hist[1].Kind != domain.CheckUp {
		t.Fatalf("want newest first, got %+v", hist)
	}
	if hist[1].ContentHash == nil || *hist[1].ContentHash != "abc" {
		t.Fatalf("content hash not stored on check")
	}
	if hist[1].ResponseTimeMS == nil || *hist[1].ResponseTimeMS != 12.5 {
		t.Fatalf("response time not stored on check")
	}
	if one, _ := s.History(ctx, tgt.ID, 1); len(one) != 1 || one[0].Kind != domain.CheckDown {
		t.Fatalf("limit not honoured: %+v", one)
	}
}

func testRollback(t *testing.T, s repo.Store) {
	ctx := context.Background()
	tgt := addTarget(t, s, "alice", "https://a.example.com", base)
	boom := errors.New("boom")

	r := downAt(base.Add(time.Minute))
	err := s.WithTx(ctx, func(tx repo.Tx) error {
		if err := tx.RecordCheck(ctx, tgt.ID, domain.RuntimeUpdate{Status: domain.StatusDown, CheckedAt: r.CheckedAt}, domain.NewHealthCheck(tgt.ID, r)); err != nil {
			return err
		}
		if err := tx.OpenIncident(ctx, domain.OpenIncident(tgt, r, r.CheckedAt)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want fn error back, got %v", err)
	}
	got, _ := s.GetTarget(ctx, tgt.ID)
	if got.TotalChecks != 0 || got.Status != domain.StatusUnknown {
		t.Fatalf("rolled back write visible: %+v", got)
	}
	if hist, _ := s.History(ctx, tgt.ID, 10); len(hist) != 0 {
		t.Fatalf("rolled back check visible")
	}
	if inc, _ := s.Incidents(ctx, tgt.ID, 10); len(inc) != 0 {
		t.Fatalf("rolled back incident visible")
	}
}

func testIncidentLifecycle(t *testing.T, s repo.Store) {
	ctx := context.Background()
	tgt := addTarget(t, s, "alice", "https://a.example.com", base)
	start := base.Add(time.Minute)
	inc := domain.OpenIncident(tgt, downAt(start), start)

	err := s.WithTx(ctx, func(tx repo.Tx) error {
		if open, err := tx.GetOpenIncident(ctx, tgt.ID); err != nil || open != nil {
			t.Fatalf("want no open incident, got %+v err=%v", open, err)
		}
		return tx.OpenIncident(ctx, inc)
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	err = s.WithTx(ctx, func(tx repo.Tx) error {
		return tx.OpenIncident(ctx, domain.OpenIncident(tgt, downAt(start), start.Add(time.Second)))
	})
	if err == nil {
		t.Fatalf("want second open incident rejected")
	}

	err = s.WithTx(ctx, func(tx repo.Tx) error {
		open, err := tx.GetOpenIncident(ctx, tgt.ID)
		if err != nil {
			return err
		}
		if open == nil || open.ID != inc.ID || open.Severity != domain.SeverityMajor {
			t.Fatalf("unexpected open incident: %+v", open)
		}
		return tx.MarkIncidentNotified(ctx, open.ID, domain.NotifyDown)
	})
	if err != nil {
		t.Fatalf("mark: %v", err)
	}

	end := start.Add(90 * time.Second)
	err = s.WithTx(ctx, func(tx repo.Tx) error {
		open, err := tx.GetOpenIncident(ctx, tgt.ID)
		if err != nil {
			return err
		}
		open.Resolve(end)
		if err := tx.ResolveIncident(ctx, open); err != nil {
			return err
		}
		return tx.MarkIncidentNotified(ctx, open.ID, domain.NotifyRecovery)
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	list, err := s.Incidents(ctx, tgt.ID, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("Incidents: %+v err=%v", list, err)
	}
	got := list[0]
	if got.Status != domain.IncidentResolved || got.DurationSeconds == nil || *got.DurationSeconds != 90 {
		t.Fatalf("incident not resolved: %+v", got)
	}
	if got.ResolvedAt == nil || !got.ResolvedAt.Equal(end) || !got.StartedAt.Equal(start) {
		t.Fatalf("incident times: %+v", got)
	}
	if !got.NotificationSent || !got.ResolutionNotificationSent {
		t.Fatalf("notification flags not persisted: %+v", got)
	}
	if got.Title != "https://a.example.com is down" || got.Description != "HTTP 503" {
		t.Fatalf("incident text: %+v", got)
	}

	err = s.WithTx(ctx, func(tx repo.Tx) error {
		open, err := tx.GetOpenIncident(ctx, tgt.ID)
		if open != nil {
			t.Fatalf("resolved incident still open")
		}
		return err
	})
	if err != nil {
		t.Fatalf("GetOpenIncident: %v", err)
	}

	since, _ := s.IncidentsSince(ctx, "alice", base)
	if len(since) != 1 {
		t.Fatalf("IncidentsSince: %+v", since)
	}
	if later, _ := s.IncidentsSince(ctx, "alice", end); len(later) != 0 {
		t.Fatalf("IncidentsSince must filter by start: %+v", later)
	}
	if other, _ := s.IncidentsSince(ctx, "bob", base); len(other) != 0 {
		t.Fatalf("IncidentsSince must filter by owner: %+v", other)
	}
}

func testNotifications(t *testing.T, s repo.Store) {
	ctx := context.Background()
	tgt := addTarget(t, s, "alice", "https://a.example.com", base)
	sentAt := base.Add(time.Minute)
	id := tgt.ID

	err := s.WithTx(ctx, func(tx repo.Tx) error {
		if err := tx.InsertNotification(ctx, &domain.Notification{
			Recipient: "alice", TargetID: &id, Type: domain.NotifyDown,
			Title: "down", Body: "x", Sent: true, CreatedAt: sentAt, SentAt: &sentAt,
		}); err != nil {
			return err
		}
		return tx.InsertNotification(ctx, &domain.Notification{
			Recipient: "bob", Type: domain.NotifyReport, Title: "report",
			Error: "chat not found", CreatedAt: sentAt.Add(time.Second),
		})
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.Notifications(ctx, "alice", 10)
	if err != nil || len(got) != 1 {
		t.Fatalf("Notifications(alice): %+v err=%v", got, err)
	}
	n := got[0]
	if n.ID == 0 || !n.Sent || n.TargetID == nil || *n.TargetID != id || n.SentAt == nil || !n.SentAt.Equal(sentAt) {
		t.Fatalf("unexpected notification: %+v", n)
	}
	bob, _ := s.Notifications(ctx, "bob", 10)
	if len(bob) != 1 || bob[0].Sent || bob[0].Error != "chat not found" || bob[0].TargetID != nil {
		t.Fatalf("unexpected failed notification: %+v", bob)
	}
	if all, _ := s.Notifications(ctx, "", 10); len(all) != 2 || all[0].Recipient != "bob" {
		t.Fatalf("want all notifications newest first, got %+v", all)
	}
}

func testDeleteCascades(t *testing.T, s repo.Store) {
	ctx := context.Background()
	tgt := addTarget(t, s, "alice", "https://a.example.com", base)
	keep := addTarget(t, s, "alice", "https://b.example.com", base)
	at := base.Add(time.Minute)
	record(t, s, tgt.ID, downAt(at))
	record(t, s, keep.ID, upAt(at))
	id := tgt.ID
	err := s.WithTx(ctx, func(tx repo.Tx) error {
		inc := domain.OpenIncident(tgt, downAt(at), at)
		if err := tx.OpenIncident(ctx, inc); err != nil {
			return err
		}
		return tx.InsertNotification(ctx, &domain.Notification{
			Recipient: "alice", TargetID: &id, IncidentID: &inc.ID, Type: domain.NotifyDown, CreatedAt: at,
		})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := s.DeleteTarget(ctx, tgt.ID); err != nil {
		t.Fatalf("DeleteTarget: %v", err)
	}
	if _, err := s.GetTarget(ctx, tgt.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound after delete, got %v", err)
	}
	if hist, _ := s.History(ctx, tgt.ID, 10); len(hist) != 0 {
		t.Fatalf("history survived delete")
	}
	if inc, _ := s.Incidents(ctx, tgt.ID, 10); len(inc) != 0 {
		t.Fatalf("incidents survived delete")
	}
	if n, _ := s.Notifications(ctx, "alice", 10); len(n) != 0 {
		t.Fatalf("notifications survived delete")
	}
	if hist, _ := s.History(ctx, keep.ID, 10); len(hist) != 1 {
		t.Fatalf("delete touched another target's history")
	}
	if err := s.DeleteTarget(ctx, tgt.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete: want ErrNotFound, got %v", err)
	}
}

func testChecksSince(t *testing.T, s repo.Store) {
	ctx := context.Background()
	a := addTarget(t, s, "alice", "https://a.example.com", base)
	b := addTarget(t, s, "bob", "https://b.example.com", base)
	record(t, s, a.ID, upAt(base.Add(3*time.Minute)))
	record(t, s, a.ID, downAt(base.Add(1*time.Minute)))
	record(t, s, a.ID, upAt(base.Add(-time.Hour)))
	record(t, s, b.ID, upAt(base.Add(2*time.Minute)))

	got, err := s.ChecksSince(ctx, "alice", base)
	if err != nil {
		t.Fatalf("ChecksSince: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 checks in window, got %+v", got)
	}
	if !got[0].CheckedAt.Before(got[1].CheckedAt) || got[0].TargetID != a.ID {
		t.Fatalf("want oldest first for alice, got %+v", got)
	}
}

func testMissingTarget(t *testing.T, s repo.Store) {
	ctx := context.Background()
	if _, err := s.GetTarget(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("GetTarget: want ErrNotFound, got %v", err)
	}
	r := upAt(base)
	err := s.WithTx(ctx, func(tx repo.Tx) error {
		return tx.RecordCheck(ctx, "missing", domain.RuntimeUpdate{Status: domain.StatusUp, CheckedAt: base}, domain.NewHealthCheck("missing", r))
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("RecordCheck: want ErrNotFound, got %v", err)
	}
}
