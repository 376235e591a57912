package stats

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
	"github.com/hamed0406/sitewatch/internal/repo/memory"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func TestUptime(t *testing.T) {
	cases := []struct {
		total, ok int64
		want      float64
	}{
		{0, 0, 0},
		{0, 5, 0},
		{4, 3, 75},
		{3, 3, 100},
		{2, 5, 100},
		{10, 0, 0},
	}
	for _, c := range cases {
		if got := Uptime(c.total, c.ok); got != c.want {
			t.Fatalf("Uptime(%d,%d) = %v, want %v", c.total, c.ok, got, c.want)
		}
	}
}

func seed(t *testing.T) (*memory.Store, *domain.Target, *domain.Target) {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	a := domain.NewTarget("alice", "https://a.example.com")
	b := domain.NewTarget("alice", "https://b.example.com")
	c := domain.NewTarget("bob", "https://c.example.com")
	for _, tgt := range []*domain.Target{a, b, c} {
		if err := s.AddTarget(ctx, tgt); err != nil {
			t.Fatalf("AddTarget: %v", err)
		}
	}

	rec := func(tgt *domain.Target, kind domain.CheckKind, at time.Time, ms *float64) {
		r := domain.CheckResult{Kind: kind, ResponseTimeMS: ms, CheckedAt: at}
		err := s.WithTx(ctx, func(tx repo.Tx) error {
			return tx.RecordCheck(ctx, tgt.ID, domain.RuntimeUpdate{
				Status: r.Status(), CheckedAt: at, ResponseTimeMS: ms, Successful: kind == domain.CheckUp,
			}, domain.NewHealthCheck(tgt.ID, r))
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	ms := func(v float64) *float64 { return &v }

	rec(a, domain.CheckUp, t0.Add(-48*time.Hour), ms(500)) // before the window
	rec(a, domain.CheckUp, t0.Add(1*time.Hour), ms(100))
	rec(a, domain.CheckTimeout, t0.Add(2*time.Hour), nil)
	rec(b, domain.CheckUp, t0.Add(3*time.Hour), ms(300))
	rec(b, domain.CheckDown, t0.Add(4*time.Hour), ms(50))
	rec(c, domain.CheckUp, t0.Add(1*time.Hour), ms(1))

	err := s.WithTx(ctx, func(tx repo.Tx) error {
		r := domain.CheckResult{Kind: domain.CheckTimeout, Error: "timeout"}
		i1 := domain.OpenIncident(a, r, t0.Add(2*time.Hour))
		i1.Resolve(t0.Add(2*time.Hour + 10*time.Minute))
		if err := tx.OpenIncident(ctx, i1); err != nil {
			return err
		}
		i2 := domain.OpenIncident(a, r, t0.Add(5*time.Hour))
		i2.Resolve(t0.Add(5*time.Hour + 20*time.Minute))
		if err := tx.OpenIncident(ctx, i2); err != nil {
			return err
		}
		return tx.OpenIncident(ctx, domain.OpenIncident(b, r, t0.Add(4*time.Hour)))
	})
	if err != nil {
		t.Fatalf("incidents: %v", err)
	}
	return s, a, b
}

func TestOwnerSummary(t *testing.T) {
	s, _, b := seed(t)
	inactive := false
	if _, err := s.UpdateTarget(context.Background(), b.ID, domain.TargetUpdate{Active: &inactive}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	got, err := New(s).OwnerSummary(context.Background(), "alice")
	if err != nil {
		t.Fatalf("OwnerSummary: %v", err)
	}
	if got.Total != 2 || got.Active != 1 || got.Down != 2 || got.Up != 0 || got.Unknown != 0 {
		t.Fatalf("unexpected counts: %+v", got)
	}
	// 5 checks, 3 successful
	if got.Uptime != 60 {
		t.Fatalf("want uptime 60, got %v", got.Uptime)
	}

	empty, err := New(s).OwnerSummary(context.Background(), "nobody")
	if err != nil || empty.Total != 0 || empty.Uptime != 0 {
		t.Fatalf("unexpected empty summary: %+v err=%v", empty, err)
	}
}

func TestWindow(t *testing.T) {
	s, _, _ := seed(t)
	r, err := New(s).Window(context.Background(), "alice", t0, t0.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if r.Targets != 2 || r.Up != 0 {
		t.Fatalf("targets: %+v", r)
	}
	if r.Checks != 4 || r.SuccessfulChecks != 2 || r.Uptime != 50 {
		t.Fatalf("checks: %+v", r)
	}
	if r.AvgResponseMS == nil || math.Abs(*r.AvgResponseMS-150) > 1e-9 {
		t.Fatalf("want avg response 150 over checks with a response time, got %v", r.AvgResponseMS)
	}
	if r.Incidents != 3 || r.Resolved != 2 || r.AvgDowntime != 15*time.Minute {
		t.Fatalf("incidents: %+v", r)
	}

	// until excludes later rows
	early, _ := New(s).Window(context.Background(), "alice", t0, t0.Add(90*time.Minute))
	if early.Checks != 1 || early.Incidents != 0 || early.AvgDowntime != 0 {
		t.Fatalf("until not applied: %+v", early)
	}
}

func TestWindow_NoData(t *testing.T) {
	r, err := New(memory.New()).Window(context.Background(), "alice", t0, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if r.Checks != 0 || r.Uptime != 0 || r.AvgResponseMS != nil || r.Incidents != 0 {
		t.Fatalf("want empty report, got %+v", r)
	}
}

func TestTargetStats(t *testing.T) {
	s, a, b := seed(t)
	agg := New(s)

	sa, err := agg.TargetStats(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("TargetStats: %v", err)
	}
	if sa.TotalChecks != 3 || sa.SuccessfulChecks != 2 || math.Abs(sa.Uptime-200.0/3) > 1e-9 {
		t.Fatalf("counters: %+v", sa)
	}
	if sa.AvgResponseMS == nil || *sa.AvgResponseMS != 300 {
		t.Fatalf("avg response: %v", sa.AvgResponseMS)
	}
	if sa.OpenIncident != nil {
		t.Fatalf("a has no open incident")
	}

	sb, _ := agg.TargetStats(context.Background(), b.ID)
	if sb.OpenIncident == nil || sb.Status != domain.StatusDown {
		t.Fatalf("want open incident for b: %+v", sb)
	}

	if _, err := agg.TargetStats(context.Background(), "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
