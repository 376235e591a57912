package monitor

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/notify"
	"github.com/hamed0406/sitewatch/internal/probe"
	"github.com/hamed0406/sitewatch/internal/repo"
	"github.com/hamed0406/sitewatch/internal/repo/memory"
	"github.com/hamed0406/sitewatch/internal/scheduler"
)

var base = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

// scripted returns the queued kinds in order, one minute apart, then keeps returning up.
type scripted struct {
	mu    sync.Mutex
	kinds []domain.CheckKind
	n     int
	calls atomic.Int64
}

func (s *scripted) Check(ctx context.Context, target string, opts probe.Options) domain.CheckResult {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	kind := domain.CheckUp
	if s.n < len(s.kinds) {
		kind = s.kinds[s.n]
	}
	at := base.Add(time.Duration(s.n) * time.Minute)
	s.n++
	return result(kind, at)
}

func result(kind domain.CheckKind, at time.Time) domain.CheckResult {
	r := domain.CheckResult{Kind: kind, CheckedAt: at}
	switch kind {
	case domain.CheckUp:
		code, ms := 200, 42.0
		r.StatusCode, r.ResponseTimeMS = &code, &ms
	case domain.CheckDown:
		code, ms := 503, 80.0
		r.StatusCode, r.ResponseTimeMS, r.Error = &code, &ms, "HTTP 503"
	case domain.CheckTimeout:
		r.Error = "timeout"
	case domain.CheckError:
		r.Error = "dial tcp: connection refused"
	}
	return r
}

type recorder struct {
	mu   sync.Mutex
	msgs []notify.Message
	fail error
}

func (r *recorder) Send(ctx context.Context, m notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return r.fail
}

func (r *recorder) sent() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.msgs...)
}

func newEngine(t *testing.T, checker probe.Checker, n notify.Notifier, cfg Config) (*Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	e := New(zap.NewNop(), s, checker, n, cfg)
	e.now = func() time.Time { return base.Add(24 * time.Hour) }
	t.Cleanup(e.StopAll)
	return e, s
}

// addIdle registers a target without starting its loop, so tests drive RunOnce by hand.
func addIdle(t *testing.T, s repo.Store, url string) *domain.Target {
	t.Helper()
	tg := domain.NewTarget("alice", url)
	if err := s.AddTarget(context.Background(), tg); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	return tg
}

func runN(t *testing.T, e *Engine, id domain.TargetID, n int) []time.Duration {
	t.Helper()
	var waits []time.Duration
	for i := 0; i < n; i++ {
		w, err := e.RunOnce(context.Background(), id)
		if err != nil {
			t.Fatalf("RunOnce #%d: %v", i, err)
		}
		waits = append(waits, w)
	}
	return waits
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// --- tests ---

func TestDecide(t *testing.T) {
	cases := []struct {
		prev, next domain.Status
		want       Transition
	}{
		{domain.StatusUnknown, domain.StatusUnknown, None},
		{domain.StatusUnknown, domain.StatusUp, Changed},
		{domain.StatusUnknown, domain.StatusDown, Opened},
		{domain.StatusUp, domain.StatusUp, None},
		{domain.StatusUp, domain.StatusDown, Opened},
		{domain.StatusUp, domain.StatusUnknown, None},
		{domain.StatusDown, domain.StatusDown, None},
		{domain.StatusDown, domain.StatusUp, Resolved},
		{domain.StatusDown, domain.StatusUnknown, None},
	}
	for _, c := range cases {
		if got := Decide(c.prev, c.next); got != c.want {
			t.Fatalf("Decide(%s, %s) = %s, want %s", c.prev, c.next, got, c.want)
		}
	}
}

func TestEngine_DownThenRecovery(t *testing.T) {
	ctx := context.Background()
	chk := &scripted{kinds: []domain.CheckKind{domain.CheckUp, domain.CheckUp, domain.CheckDown, domain.CheckDown, domain.CheckUp}}
	rec := &recorder{}
	e, s := newEngine(t, chk, rec, Config{})
	tg := addIdle(t, s, "https://a.example.com")

	runN(t, e, tg.ID, 5)

	got, err := s.GetTarget(ctx, tg.ID)
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	if got.TotalChecks != 5 || got.SuccessfulChecks != 3 || got.Status != domain.StatusUp || got.FailureStreak != 0 {
		t.Fatalf("unexpected runtime state: %+v", got)
	}
	hist, _ := s.History(ctx, tg.ID, 0)
	if len(hist) != 5 {
		t.Fatalf("want 5 history rows, got %d", len(hist))
	}

	incs, _ := s.Incidents(ctx, tg.ID, 0)
	if len(incs) != 1 {
		t.Fatalf("want one incident, got %d", len(incs))
	}
	inc := incs[0]
	if inc.Status != domain.IncidentResolved || !inc.StartedAt.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("unexpected incident: %+v", inc)
	}
	if inc.DurationSeconds == nil || *inc.DurationSeconds != 120 {
		t.Fatalf("want 120s downtime, got %v", inc.DurationSeconds)
	}
	if !inc.NotificationSent || !inc.ResolutionNotificationSent {
		t.Fatalf("want both notification flags set: %+v", inc)
	}
	if inc.Severity != domain.SeverityMajor {
		t.Fatalf("503 should be major, got %s", inc.Severity)
	}

	msgs := rec.sent()
	if len(msgs) != 2 || msgs[0].Type != domain.NotifyDown || msgs[1].Type != domain.NotifyRecovery {
		t.Fatalf("want down then recovery, got %+v", msgs)
	}
	if msgs[0].Recipient != "alice" || !strings.Contains(msgs[0].Body, "HTTP 503") {
		t.Fatalf("unexpected down message: %+v", msgs[0])
	}
	if !strings.Contains(msgs[1].Body, "2 minutes") {
		t.Fatalf("recovery should carry the downtime: %q", msgs[1].Body)
	}

	audit, _ := s.Notifications(ctx, "alice", 0)
	if len(audit) != 2 {
		t.Fatalf("want 2 audit rows, got %d", len(audit))
	}
	for _, n := range audit {
		if !n.Sent || n.SentAt == nil || n.IncidentID == nil || *n.IncidentID != inc.ID {
			t.Fatalf("unexpected audit row: %+v", n)
		}
	}
}

func TestEngine_FirstUpIsQuiet(t *testing.T) {
	rec := &recorder{}
	e, s := newEngine(t, &scripted{}, rec, Config{})
	tg := addIdle(t, s, "https://a.example.com")

	runN(t, e, tg.ID, 3)
	if len(rec.sent()) != 0 {
		t.Fatalf("unknown -> up must not notify")
	}
	incs, _ := s.Incidents(context.Background(), tg.ID, 0)
	if len(incs) != 0 {
		t.Fatalf("want no incidents, got %d", len(incs))
	}
}

func TestEngine_UnknownKeepsState(t *testing.T) {
	ctx := context.Background()
	chk := &scripted{kinds: []domain.CheckKind{domain.CheckDown, domain.CheckUnknown, domain.CheckDown}}
	rec := &recorder{}
	e, s := newEngine(t, chk, rec, Config{})
	tg := addIdle(t, s, "https://a.example.com")

	runN(t, e, tg.ID, 2)
	got, _ := s.GetTarget(ctx, tg.ID)
	if got.Status != domain.StatusDown || got.FailureStreak != 1 || got.TotalChecks != 2 {
		t.Fatalf("unknown result must only count: %+v", got)
	}
	runN(t, e, tg.ID, 1)
	got, _ = s.GetTarget(ctx, tg.ID)
	if got.FailureStreak != 2 {
		t.Fatalf("want streak 2, got %d", got.FailureStreak)
	}
	if len(rec.sent()) != 1 {
		t.Fatalf("one outage, one notice; got %d", len(rec.sent()))
	}
}

func TestEngine_RandomSequenceKeepsOneOpenIncident(t *testing.T) {
	ctx := context.Background()
	kinds := []domain.CheckKind{domain.CheckUp, domain.CheckDown, domain.CheckTimeout, domain.CheckError, domain.CheckUnknown}
	rng := rand.New(rand.NewSource(7))
	seq := make([]domain.CheckKind, 200)
	ups := 0
	for i := range seq {
		seq[i] = kinds[rng.Intn(len(kinds))]
		if seq[i] == domain.CheckUp {
			ups++
		}
	}

	rec := &recorder{}
	e, s := newEngine(t, &scripted{kinds: seq}, rec, Config{})
	tg := addIdle(t, s, "https://a.example.com")

	for i := range seq {
		if _, err := e.RunOnce(ctx, tg.ID); err != nil {
			t.Fatalf("RunOnce #%d: %v", i, err)
		}
		cur, _ := s.GetTarget(ctx, tg.ID)
		incs, _ := s.Incidents(ctx, tg.ID, 1000)
		open := 0
		for _, inc := range incs {
			if inc.Status == domain.IncidentOpen {
				open++
			}
		}
		if open > 1 {
			t.Fatalf("step %d: %d open incidents", i, open)
		}
		if (cur.Status == domain.StatusDown) != (open == 1) {
			t.Fatalf("step %d: status %s with %d open incidents", i, cur.Status, open)
		}
	}

	cur, _ := s.GetTarget(ctx, tg.ID)
	if cur.TotalChecks != int64(len(seq)) || cur.SuccessfulChecks != int64(ups) {
		t.Fatalf("counters: total=%d ok=%d, want %d/%d", cur.TotalChecks, cur.SuccessfulChecks, len(seq), ups)
	}
	incs, _ := s.Incidents(ctx, tg.ID, 1000)
	downs, recoveries := 0, 0
	for _, m := range rec.sent() {
		switch m.Type {
		case domain.NotifyDown:
			downs++
		case domain.NotifyRecovery:
			recoveries++
		}
	}
	if downs != len(incs) {
		t.Fatalf("want one down notice per incident: %d notices, %d incidents", downs, len(incs))
	}
	resolved := 0
	for _, inc := range incs {
		if inc.Status == domain.IncidentResolved {
			resolved++
		}
	}
	if recoveries != resolved {
		t.Fatalf("want one recovery per resolved incident: %d vs %d", recoveries, resolved)
	}
}

func TestEngine_NotifierFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	rec := &recorder{fail: errors.New("telegram: 502 bad gateway")}
	s := memory.New()
	e := New(zap.New(core), s, &scripted{kinds: []domain.CheckKind{domain.CheckDown, domain.CheckDown}}, rec, Config{})
	tg := addIdle(t, s, "https://a.example.com")

	runN(t, e, tg.ID, 2)

	got, _ := s.GetTarget(ctx, tg.ID)
	if got.Status != domain.StatusDown || got.TotalChecks != 2 {
		t.Fatalf("check must commit regardless of delivery: %+v", got)
	}
	incs, _ := s.Incidents(ctx, tg.ID, 0)
	if len(incs) != 1 || !incs[0].NotificationSent {
		t.Fatalf("want incident flagged after the attempt: %+v", incs)
	}
	if len(rec.sent()) != 1 {
		t.Fatalf("failed delivery must not be retried, got %d attempts", len(rec.sent()))
	}
	audit, _ := s.Notifications(ctx, "alice", 0)
	if len(audit) != 1 || audit[0].Sent || audit[0].SentAt != nil || !strings.Contains(audit[0].Error, "502") {
		t.Fatalf("unexpected audit: %+v", audit)
	}
	if logs.FilterMessage("notification_failed").Len() != 1 {
		t.Fatalf("want notification_failed logged")
	}
}

func TestEngine_CancelDuringProbeDiscardsResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	chk := probe.CheckerFunc(func(ctx context.Context, target string, opts probe.Options) domain.CheckResult {
		cancel()
		return result(domain.CheckDown, base)
	})
	rec := &recorder{}
	e, s := newEngine(t, chk, rec, Config{})
	tg := addIdle(t, s, "https://a.example.com")

	if _, err := e.RunOnce(ctx, tg.ID); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	got, _ := s.GetTarget(context.Background(), tg.ID)
	if got.TotalChecks != 0 || got.Status != domain.StatusUnknown {
		t.Fatalf("cancelled probe must not be recorded: %+v", got)
	}
	if len(rec.sent()) != 0 {
		t.Fatalf("no notification for a discarded probe")
	}
}

func TestEngine_ForceCheckDiscardsCancelledProbe(t *testing.T) {
	stall := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer stall.Close()

	rec := &recorder{}
	e, s := newEngine(t, probe.NewHTTPChecker(5*time.Second), rec, Config{})
	tg := addIdle(t, s, stall.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := e.ForceCheck(ctx, tg.ID); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want the caller's context error, got %v", err)
	}

	got, _ := s.GetTarget(context.Background(), tg.ID)
	if got.TotalChecks != 0 || got.Status != domain.StatusUnknown {
		t.Fatalf("abandoned forced check must not be recorded: %+v", got)
	}
	incs, _ := s.Incidents(context.Background(), tg.ID, 0)
	if len(incs) != 0 || len(rec.sent()) != 0 {
		t.Fatalf("want no incident and no notice, got %d incidents, %d notices", len(incs), len(rec.sent()))
	}
}

// brokenTx fails when an incident is opened, after the check row was staged.
type brokenTx struct{ repo.Tx }

func (brokenTx) OpenIncident(ctx context.Context, inc *domain.Incident) error {
	return errors.New("disk full")
}

type brokenStore struct{ *memory.Store }

func (s brokenStore) WithTx(ctx context.Context, fn func(tx repo.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx repo.Tx) error { return fn(brokenTx{tx}) })
}

func TestEngine_PersistenceFailureLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.ErrorLevel)
	rec := &recorder{}
	s := memory.New()
	e := New(zap.New(core), brokenStore{s}, &scripted{kinds: []domain.CheckKind{domain.CheckDown}}, rec, Config{Cooldown: time.Hour})
	tg := addIdle(t, s, "https://a.example.com")

	w, err := e.RunOnce(ctx, tg.ID)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if w != tg.Interval() {
		t.Fatalf("want the regular interval after a write failure, got %s", w)
	}
	if logs.FilterMessage("record_check_error").Len() != 1 {
		t.Fatalf("want record_check_error logged")
	}

	got, _ := s.GetTarget(ctx, tg.ID)
	if got.TotalChecks != 0 || got.FailureStreak != 0 || got.Status != domain.StatusUnknown {
		t.Fatalf("failed transaction must not touch the target: %+v", got)
	}
	hist, _ := s.History(ctx, tg.ID, 0)
	incs, _ := s.Incidents(ctx, tg.ID, 0)
	if len(hist) != 0 || len(incs) != 0 {
		t.Fatalf("want no history and no incident, got %d and %d", len(hist), len(incs))
	}
	if len(rec.sent()) != 0 {
		t.Fatalf("nothing committed, nothing to notify")
	}
}

func TestEngine_RetryBackoff(t *testing.T) {
	chk := &scripted{kinds: []domain.CheckKind{
		domain.CheckTimeout, domain.CheckTimeout, domain.CheckTimeout, domain.CheckUnknown, domain.CheckUp,
	}}
	e, s := newEngine(t, chk, &recorder{}, Config{RetryBackoff: 30 * time.Second})
	tg := domain.NewTarget("alice", "https://a.example.com")
	tg.IntervalSeconds, tg.MaxRetries = 300, 2
	if err := s.AddTarget(context.Background(), tg); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}

	got := runN(t, e, tg.ID, 5)
	want := []time.Duration{30 * time.Second, 30 * time.Second, 5 * time.Minute, 5 * time.Minute, 5 * time.Minute}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("wait #%d = %s, want %s (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestEngine_BackoffNeverExceedsInterval(t *testing.T) {
	e, s := newEngine(t, &scripted{kinds: []domain.CheckKind{domain.CheckDown}}, &recorder{}, Config{RetryBackoff: time.Hour})
	tg := domain.NewTarget("alice", "https://a.example.com")
	tg.IntervalSeconds = 60
	if err := s.AddTarget(context.Background(), tg); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if w := runN(t, e, tg.ID, 1)[0]; w != time.Minute {
		t.Fatalf("want interval, got %s", w)
	}
}

func TestEngine_MissingOrInactiveStopsLoop(t *testing.T) {
	ctx := context.Background()
	e, s := newEngine(t, &scripted{}, &recorder{}, Config{})

	if _, err := e.RunOnce(ctx, "missing"); !errors.Is(err, scheduler.ErrStopped) {
		t.Fatalf("want ErrStopped for missing target, got %v", err)
	}

	tg := addIdle(t, s, "https://a.example.com")
	off := false
	if _, err := s.UpdateTarget(ctx, tg.ID, domain.TargetUpdate{Active: &off}); err != nil {
		t.Fatalf("UpdateTarget: %v", err)
	}
	if _, err := e.RunOnce(ctx, tg.ID); !errors.Is(err, scheduler.ErrStopped) {
		t.Fatalf("want ErrStopped for inactive target, got %v", err)
	}
}

func TestEngine_ForceCheck(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	e, s := newEngine(t, &scripted{kinds: []domain.CheckKind{domain.CheckDown}}, rec, Config{})
	tg := addIdle(t, s, "https://a.example.com")

	res, err := e.ForceCheck(ctx, tg.ID)
	if err != nil {
		t.Fatalf("ForceCheck: %v", err)
	}
	if res.Kind != domain.CheckDown || res.Code() != 503 {
		t.Fatalf("unexpected result: %+v", res)
	}
	got, _ := s.GetTarget(ctx, tg.ID)
	if got.Status != domain.StatusDown || got.TotalChecks != 1 {
		t.Fatalf("forced check must be recorded: %+v", got)
	}
	if len(rec.sent()) != 1 {
		t.Fatalf("forced check goes through the same notification path")
	}
	if _, err := e.ForceCheck(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestEngine_ContentChange(t *testing.T) {
	ctx := context.Background()
	hashes := []string{"aaa", "aaa", "bbb"}
	var n int
	chk := probe.CheckerFunc(func(ctx context.Context, target string, opts probe.Options) domain.CheckResult {
		if !opts.TrackContent {
			t.Errorf("content tracking not passed to the probe")
		}
		r := result(domain.CheckUp, base.Add(time.Duration(n)*time.Minute))
		h := hashes[n]
		r.ContentHash = &h
		n++
		return r
	})
	e, s := newEngine(t, chk, &recorder{}, Config{})
	tg := domain.NewTarget("alice", "https://a.example.com")
	tg.TrackContent = true
	if err := s.AddTarget(ctx, tg); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}

	runN(t, e, tg.ID, 3)
	hist, _ := s.History(ctx, tg.ID, 0)
	// newest first
	if !hist[0].ContentChanged || hist[1].ContentChanged || hist[2].ContentChanged {
		t.Fatalf("only the third check changed content: %v %v %v", hist[0].ContentChanged, hist[1].ContentChanged, hist[2].ContentChanged)
	}
	got, _ := s.GetTarget(ctx, tg.ID)
	if got.ContentHash != "bbb" {
		t.Fatalf("want latest hash stored, got %q", got.ContentHash)
	}
}

func TestEngine_DNSDiagnosisInDownNotice(t *testing.T) {
	rec := &recorder{}
	e, s := newEngine(t, &scripted{kinds: []domain.CheckKind{domain.CheckError}}, rec, Config{DiagnoseDNS: true})
	e.diagnose = func(ctx context.Context, url string) probe.DNSStatus {
		return probe.DNSStatus{Domain: "a.example.com", Class: "NXDOMAIN", ResolverError: "no such host"}
	}
	tg := addIdle(t, s, "https://a.example.com")

	runN(t, e, tg.ID, 1)
	msgs := rec.sent()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Body, "DNS: NXDOMAIN (no such host)") {
		t.Fatalf("want DNS line in down notice, got %+v", msgs)
	}
}

func TestEngine_AddStartsAndRemoveStops(t *testing.T) {
	ctx := context.Background()
	chk := &scripted{}
	e, s := newEngine(t, chk, &recorder{}, Config{})

	tg, err := e.AddTarget(ctx, &domain.Target{OwnerID: "alice", URL: "https://a.example.com", Active: true})
	if err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if tg.IntervalSeconds != domain.DefaultIntervalSeconds || tg.TimeoutSeconds != domain.DefaultTimeoutSeconds {
		t.Fatalf("defaults not applied: %+v", tg)
	}
	waitFor(t, "first probe", func() bool { return chk.calls.Load() >= 1 })
	if !e.Monitoring(tg.ID) {
		t.Fatalf("want loop running")
	}

	if _, err := e.AddTarget(ctx, &domain.Target{OwnerID: "alice", URL: "https://a.example.com", Active: true}); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
	if _, err := e.AddTarget(ctx, &domain.Target{OwnerID: "alice", URL: "ftp://x"}); !errors.Is(err, domain.ErrInvalidTarget) {
		t.Fatalf("want ErrInvalidTarget, got %v", err)
	}

	if err := e.RemoveTarget(ctx, tg.ID); err != nil {
		t.Fatalf("RemoveTarget: %v", err)
	}
	if e.Monitoring(tg.ID) {
		t.Fatalf("loop must stop on remove")
	}
	if _, err := s.GetTarget(ctx, tg.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want target deleted, got %v", err)
	}
	if err := e.RemoveTarget(ctx, tg.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound on second remove, got %v", err)
	}
}

func TestEngine_AddUsesConfiguredRetries(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, &scripted{}, &recorder{}, Config{DefaultMaxRetries: 5})

	tg, err := e.AddTarget(ctx, &domain.Target{OwnerID: "alice", URL: "https://a.example.com", MaxRetries: domain.RetriesUnset})
	if err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if tg.MaxRetries != 5 {
		t.Fatalf("want configured default 5, got %d", tg.MaxRetries)
	}

	explicit, err := e.AddTarget(ctx, &domain.Target{OwnerID: "alice", URL: "https://b.example.com", MaxRetries: 0})
	if err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if explicit.MaxRetries != 0 {
		t.Fatalf("explicit zero must be kept, got %d", explicit.MaxRetries)
	}
}

func TestEngine_UpdateRestartsOnlyOnCadenceChange(t *testing.T) {
	ctx := context.Background()
	chk := &scripted{}
	e, s := newEngine(t, chk, &recorder{}, Config{})
	tg := addIdle(t, s, "https://a.example.com")

	e.StartMonitoring(tg.ID)
	waitFor(t, "first probe", func() bool { return chk.calls.Load() >= 1 })

	name := "shop"
	if _, err := e.UpdateTarget(ctx, tg.ID, domain.TargetUpdate{Name: &name}); err != nil {
		t.Fatalf("UpdateTarget: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := chk.calls.Load(); n != 1 {
		t.Fatalf("rename must not trigger a probe, got %d calls", n)
	}
	if !e.Monitoring(tg.ID) {
		t.Fatalf("rename must keep the loop running")
	}

	iv := 120
	if _, err := e.UpdateTarget(ctx, tg.ID, domain.TargetUpdate{IntervalSeconds: &iv}); err != nil {
		t.Fatalf("UpdateTarget: %v", err)
	}
	waitFor(t, "probe after interval change", func() bool { return chk.calls.Load() >= 2 })
}

func TestEngine_UpdateTogglesLoop(t *testing.T) {
	ctx := context.Background()
	e, s := newEngine(t, &scripted{}, &recorder{}, Config{})
	tg := addIdle(t, s, "https://a.example.com")

	if n, err := e.StartAll(ctx); err != nil || n != 1 {
		t.Fatalf("StartAll = %d, %v", n, err)
	}
	off, on := false, true
	if _, err := e.UpdateTarget(ctx, tg.ID, domain.TargetUpdate{Active: &off}); err != nil {
		t.Fatalf("UpdateTarget: %v", err)
	}
	if e.Monitoring(tg.ID) {
		t.Fatalf("deactivated target must not be monitored")
	}
	if _, err := e.UpdateTarget(ctx, tg.ID, domain.TargetUpdate{Active: &on}); err != nil {
		t.Fatalf("UpdateTarget: %v", err)
	}
	if !e.Monitoring(tg.ID) {
		t.Fatalf("reactivated target must be monitored")
	}
	bad := 0
	if _, err := e.UpdateTarget(ctx, tg.ID, domain.TargetUpdate{IntervalSeconds: &bad}); !errors.Is(err, domain.ErrInvalidTarget) {
		t.Fatalf("want ErrInvalidTarget, got %v", err)
	}

	if !e.StopMonitoring(tg.ID) || e.StopMonitoring(tg.ID) {
		t.Fatalf("StopMonitoring should report the running loop once")
	}
	e.StartMonitoring(tg.ID)
	if !e.Monitoring(tg.ID) {
		t.Fatalf("StartMonitoring did not start a loop")
	}
	e.StopAll()
	if e.Monitoring(tg.ID) {
		t.Fatalf("StopAll left a loop behind")
	}
}

func TestEngine_SendReport(t *testing.T) {
	ctx := context.Background()
	chk := &scripted{kinds: []domain.CheckKind{domain.CheckUp, domain.CheckDown, domain.CheckUp, domain.CheckUp}}
	rec := &recorder{}
	e, s := newEngine(t, chk, rec, Config{})
	tg := addIdle(t, s, "https://a.example.com")
	runN(t, e, tg.ID, 4)

	r, err := e.SendReport(ctx, "alice")
	if err != nil {
		t.Fatalf("SendReport: %v", err)
	}
	if r.Checks != 4 || r.Uptime != 75 || r.Incidents != 1 || r.Resolved != 1 {
		t.Fatalf("unexpected report: %+v", r)
	}
	msgs := rec.sent()
	last := msgs[len(msgs)-1]
	if last.Type != domain.NotifyReport || !strings.Contains(last.Body, "Uptime: 75.00%") {
		t.Fatalf("unexpected report message: %+v", last)
	}

	if _, err := e.SendReport(ctx, "nobody"); !errors.Is(err, ErrNothingToReport) {
		t.Fatalf("want ErrNothingToReport, got %v", err)
	}

	before := len(rec.sent())
	if err := e.ReportAll(ctx); err != nil {
		t.Fatalf("ReportAll: %v", err)
	}
	if len(rec.sent()) != before+1 {
		t.Fatalf("want one report per owner")
	}
}

func TestHumanDuration(t *testing.T) {
	cases := map[time.Duration]string{
		0:                "0 seconds",
		5 * time.Minute:  "5 minutes",
		90 * time.Second: "1 minute",
		3 * time.Hour:    "3 hours",
	}
	for d, want := range cases {
		if got := humanDuration(d); got != want {
			t.Fatalf("humanDuration(%s) = %q, want %q", d, got, want)
		}
	}
}
