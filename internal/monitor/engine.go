package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/metrics"
	"github.com/hamed0406/sitewatch/internal/notify"
	"github.com/hamed0406/sitewatch/internal/probe"
	"github.com/hamed0406/sitewatch/internal/repo"
	"github.com/hamed0406/sitewatch/internal/scheduler"
	"github.com/hamed0406/sitewatch/internal/stats"
)

// ErrNothingToReport is returned by SendReport for an owner without active targets.
var ErrNothingToReport = errors.New("owner has no active targets")

type Config struct {
	// Defaults for targets registered without explicit cadence.
	DefaultInterval time.Duration
	DefaultTimeout  time.Duration
	// DefaultMaxRetries is used for targets added with MaxRetries set to domain.RetriesUnset.
	DefaultMaxRetries int

	// RetryBackoff replaces the interval after a failure while the failure streak is within max retries.
	RetryBackoff time.Duration
	// Cooldown follows an iteration that failed unexpectedly.
	Cooldown      time.Duration
	MaxConcurrent int64
	// WriteTimeout bounds the transactions of one iteration.
	WriteTimeout time.Duration
	SendTimeout  time.Duration
	ReportWindow time.Duration
	// DiagnoseDNS adds a DNS classification to down notices caused by transport errors.
	DiagnoseDNS bool
}

func (c *Config) setDefaults() {
	if c.DefaultInterval <= 0 {
		c.DefaultInterval = domain.DefaultIntervalSeconds * time.Second
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = domain.DefaultTimeoutSeconds * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = scheduler.DefaultCooldown
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 50
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	if c.ReportWindow <= 0 {
		c.ReportWindow = 7 * 24 * time.Hour
	}
}

// Engine ties the registry, prober, scheduler and notifier together.
type Engine struct {
	log      *zap.Logger
	store    repo.Store
	checker  probe.Checker
	notifier notify.Notifier
	stats    *stats.Aggregator
	sched    *scheduler.Scheduler
	sem      *semaphore.Weighted
	locks    keyedMutex
	cfg      Config

	now      func() time.Time
	diagnose func(ctx context.Context, url string) probe.DNSStatus
}

func New(log *zap.Logger, store repo.Store, checker probe.Checker, notifier notify.Notifier, cfg Config) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	cfg.setDefaults()
	e := &Engine{
		log:      log,
		store:    store,
		checker:  checker,
		notifier: notifier,
		stats:    stats.New(store),
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		diagnose: probe.DiagnoseDNS,
	}
	e.sched = scheduler.New(log, e, cfg.Cooldown)
	return e
}

func (e *Engine) Stats() *stats.Aggregator { return e.stats }

// ---- control surface ----

// StartMonitoring (re)starts the poll loop of id. The loop exits by itself if the
// target is inactive or gone.
func (e *Engine) StartMonitoring(id domain.TargetID) {
	e.sched.Start(id)
}

// StopMonitoring cancels the poll loop of id. It reports whether one was running.
func (e *Engine) StopMonitoring(id domain.TargetID) bool {
	return e.sched.Stop(id)
}

func (e *Engine) Monitoring(id domain.TargetID) bool { return e.sched.Running(id) }

// StartAll starts one loop per active target. A registry failure is returned to abort startup.
func (e *Engine) StartAll(ctx context.Context) (int, error) {
	ts, err := e.store.ListActiveTargets(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active targets: %w", err)
	}
	for _, t := range ts {
		e.sched.Start(t.ID)
	}
	e.log.Info("monitoring_started", zap.Int("targets", len(ts)))
	return len(ts), nil
}

// StopAll cancels every loop and waits for in-flight iterations to finish.
func (e *Engine) StopAll() {
	n := e.sched.Len()
	e.sched.StopAll()
	e.log.Info("monitoring_stopped", zap.Int("targets", n))
}

// AddTarget fills cadence defaults, validates, stores and starts monitoring t.
func (e *Engine) AddTarget(ctx context.Context, t *domain.Target) (*domain.Target, error) {
	if t.IntervalSeconds == 0 {
		t.IntervalSeconds = int(e.cfg.DefaultInterval / time.Second)
	}
	if t.TimeoutSeconds == 0 {
		t.TimeoutSeconds = int(e.cfg.DefaultTimeout / time.Second)
	}
	if t.MaxRetries == domain.RetriesUnset {
		t.MaxRetries = e.cfg.DefaultMaxRetries
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := e.store.AddTarget(ctx, t); err != nil {
		return nil, err
	}
	e.log.Info("target_added",
		zap.String("target_id", string(t.ID)),
		zap.String("owner", t.OwnerID),
		zap.String("url", t.URL),
	)
	if t.Active {
		e.sched.Start(t.ID)
	}
	return t, nil
}

// UpdateTarget applies u. The loop is stopped when the target is deactivated and
// restarted only when activation or cadence changed; other edits are picked up on
// the next iteration.
func (e *Engine) UpdateTarget(ctx context.Context, id domain.TargetID, u domain.TargetUpdate) (*domain.Target, error) {
	prev, err := e.store.GetTarget(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := e.store.UpdateTarget(ctx, id, u)
	if err != nil {
		return nil, err
	}
	switch {
	case !t.Active:
		e.StopMonitoring(id)
	case !prev.Active || t.IntervalSeconds != prev.IntervalSeconds || t.TimeoutSeconds != prev.TimeoutSeconds:
		e.StartMonitoring(id)
	}
	return t, nil
}

// RemoveTarget stops the loop and deletes the target with its history.
// It waits for an in-flight iteration of the target before deleting.
func (e *Engine) RemoveTarget(ctx context.Context, id domain.TargetID) error {
	e.sched.Stop(id)
	unlock := e.locks.Lock(id)
	defer unlock()
	if err := e.store.DeleteTarget(ctx, id); err != nil {
		return err
	}
	e.log.Info("target_removed", zap.String("target_id", string(id)))
	return nil
}

// ---- poll iteration ----

// RunOnce is one poll iteration: reload, probe, record. It implements scheduler.Runner.
func (e *Engine) RunOnce(ctx context.Context, id domain.TargetID) (time.Duration, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	t, err := e.store.GetTarget(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, fmt.Errorf("target %s deleted: %w", id, scheduler.ErrStopped)
	}
	if err != nil {
		return 0, fmt.Errorf("load target: %w", err)
	}
	if !t.Active {
		return 0, fmt.Errorf("target %s inactive: %w", id, scheduler.ErrStopped)
	}

	res, err := e.probe(ctx, t)
	if err != nil {
		return 0, err
	}
	if ctx.Err() != nil {
		// cancelled while probing: drop the sample, write nothing
		return 0, ctx.Err()
	}

	updated, err := e.process(context.WithoutCancel(ctx), t, res)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return 0, fmt.Errorf("target %s deleted: %w", id, scheduler.ErrStopped)
	case err != nil:
		e.log.Error("record_check_error",
			zap.String("target_id", string(id)),
			zap.String("url", t.URL),
			zap.Error(err),
		)
		return t.Interval(), nil
	}
	return e.nextWait(updated), nil
}

// ForceCheck probes id now and records the result. It never overlaps the target's poll loop.
func (e *Engine) ForceCheck(ctx context.Context, id domain.TargetID) (domain.CheckResult, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	t, err := e.store.GetTarget(ctx, id)
	if err != nil {
		return domain.CheckResult{}, err
	}
	res, err := e.probe(ctx, t)
	if err != nil {
		return domain.CheckResult{}, err
	}
	if ctx.Err() != nil {
		// caller gone while probing: drop the sample, write nothing
		return res, ctx.Err()
	}
	if _, err := e.process(context.WithoutCancel(ctx), t, res); err != nil {
		return res, fmt.Errorf("record forced check: %w", err)
	}
	return res, nil
}

// nextWait is the interval, shortened to the retry backoff while failures are being re-confirmed.
func (e *Engine) nextWait(t *domain.Target) time.Duration {
	iv := t.Interval()
	if t.Status == domain.StatusDown && t.FailureStreak > 0 && t.FailureStreak <= t.MaxRetries && e.cfg.RetryBackoff > 0 {
		return min(e.cfg.RetryBackoff, iv)
	}
	return iv
}

func (e *Engine) probe(ctx context.Context, t *domain.Target) (domain.CheckResult, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return domain.CheckResult{}, err
	}
	defer e.sem.Release(1)

	start := time.Now()
	res := e.checker.Check(ctx, t.URL, probe.Options{Timeout: t.Timeout(), TrackContent: t.TrackContent})
	metrics.CheckDuration.Observe(time.Since(start).Seconds())
	if res.CheckedAt.IsZero() {
		res.CheckedAt = e.now()
	}
	return res, nil
}

// outcome is what a committed iteration leaves for the post-commit side effects.
type outcome struct {
	target     *domain.Target
	check      *domain.HealthCheck
	transition Transition
	incident   *domain.Incident
	notify     domain.NotificationType
}

// process applies res to t in one transaction and then delivers the notification, if any.
// ctx must not be cancelled by shutdown; writes are bounded by WriteTimeout instead.
func (e *Engine) process(ctx context.Context, t *domain.Target, res domain.CheckResult) (*domain.Target, error) {
	txCtx, cancel := context.WithTimeout(ctx, e.cfg.WriteTimeout)
	defer cancel()

	var out outcome
	err := e.store.WithTx(txCtx, func(tx repo.Tx) error {
		out = outcome{}
		cur, err := tx.GetTarget(txCtx, t.ID)
		if err != nil {
			return err
		}
		return e.apply(txCtx, tx, cur, res, &out)
	})
	if err != nil {
		return nil, err
	}

	log := e.log.With(zap.String("target_id", string(t.ID)), zap.String("url", t.URL))
	metrics.Checks.WithLabelValues(string(res.Kind)).Inc()
	log.Debug("check_recorded",
		zap.String("kind", string(res.Kind)),
		zap.Int("status_code", res.Code()),
		zap.String("error", res.Error),
		zap.Int("failure_streak", out.target.FailureStreak),
	)
	if out.check.ContentChanged {
		log.Info("content_changed", zap.String("content_hash", *res.ContentHash))
	}
	switch out.transition {
	case Opened:
		metrics.Incidents.WithLabelValues("opened").Inc()
		log.Warn("target_down", zap.String("error", res.Error), zap.Int("status_code", res.Code()))
	case Resolved:
		metrics.Incidents.WithLabelValues("resolved").Inc()
		log.Info("target_recovered")
	case Changed:
		log.Info("target_status_known", zap.String("status", string(out.target.Status)))
	}

	if out.incident != nil && out.notify != "" {
		e.deliver(ctx, out.target, out.incident, out.notify, res)
	}
	return out.target, nil
}

// apply is the state machine proper. It runs inside the transaction.
func (e *Engine) apply(ctx context.Context, tx repo.Tx, cur *domain.Target, res domain.CheckResult, out *outcome) error {
	prev := cur.Status
	next := res.Status()

	status, streak := prev, cur.FailureStreak
	switch next {
	case domain.StatusUp:
		status, streak = next, 0
	case domain.StatusDown:
		status, streak = next, streak+1
	}

	hc := domain.NewHealthCheck(cur.ID, res)
	if res.ContentHash != nil && cur.ContentHash != "" && *res.ContentHash != cur.ContentHash {
		hc.ContentChanged = true
	}
	upd := domain.RuntimeUpdate{
		Status:         status,
		CheckedAt:      res.CheckedAt,
		ResponseTimeMS: res.ResponseTimeMS,
		StatusCode:     res.StatusCode,
		Error:          res.Error,
		ContentHash:    res.ContentHash,
		FailureStreak:  streak,
		Successful:     res.Kind == domain.CheckUp,
	}
	if err := tx.RecordCheck(ctx, cur.ID, upd, hc); err != nil {
		return err
	}
	upd.Apply(cur)
	out.target, out.check = cur, hc
	out.transition = Decide(prev, next)

	switch out.transition {
	case Opened:
		inc, err := tx.GetOpenIncident(ctx, cur.ID)
		if err != nil {
			return err
		}
		if inc == nil {
			inc = domain.OpenIncident(cur, res, res.CheckedAt)
			if err := tx.OpenIncident(ctx, inc); err != nil {
				return err
			}
		}
		if !inc.NotificationSent {
			out.incident, out.notify = inc, domain.NotifyDown
		}
	case Resolved:
		inc, err := tx.GetOpenIncident(ctx, cur.ID)
		if err != nil {
			return err
		}
		if inc == nil {
			return nil
		}
		inc.Resolve(res.CheckedAt)
		if err := tx.ResolveIncident(ctx, inc); err != nil {
			return err
		}
		if !inc.ResolutionNotificationSent {
			out.incident, out.notify = inc, domain.NotifyRecovery
		}
	}
	return nil
}

// deliver sends one incident notice and records the attempt. Failures are logged, never retried.
func (e *Engine) deliver(ctx context.Context, t *domain.Target, inc *domain.Incident, kind domain.NotificationType, res domain.CheckResult) {
	var msg notify.Message
	switch kind {
	case domain.NotifyDown:
		var diag *probe.DNSStatus
		if e.cfg.DiagnoseDNS && res.Kind == domain.CheckError && e.diagnose != nil {
			d := e.diagnose(ctx, t.URL)
			diag = &d
		}
		msg = downMessage(t, inc, res, diag)
	case domain.NotifyRecovery:
		msg = recoveryMessage(t, inc)
	default:
		return
	}

	id, incID := t.ID, inc.ID
	sendErr := e.send(ctx, msg)
	err := e.audit(ctx, msg, &id, &incID, sendErr)
	if err != nil {
		e.log.Error("notification_audit_error",
			zap.String("target_id", string(t.ID)),
			zap.String("incident_id", inc.ID),
			zap.Error(err),
		)
	}
}

func (e *Engine) send(ctx context.Context, msg notify.Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
	defer cancel()
	err := e.notifier.Send(sendCtx, msg)
	result := "sent"
	if err != nil {
		result = "failed"
		e.log.Warn("notification_failed",
			zap.String("recipient", msg.Recipient),
			zap.String("type", string(msg.Type)),
			zap.Error(err),
		)
	}
	metrics.Notifications.WithLabelValues(string(msg.Type), result).Inc()
	return err
}

// audit writes the Notification row and, for incident notices, sets the incident flag.
func (e *Engine) audit(ctx context.Context, msg notify.Message, targetID *domain.TargetID, incidentID *string, sendErr error) error {
	now := e.now()
	n := &domain.Notification{
		Recipient:  msg.Recipient,
		TargetID:   targetID,
		IncidentID: incidentID,
		Type:       msg.Type,
		Title:      msg.Title,
		Body:       msg.Body,
		Sent:       sendErr == nil,
		CreatedAt:  now,
	}
	if sendErr != nil {
		n.Error = sendErr.Error()
	} else {
		n.SentAt = &now
	}

	txCtx, cancel := context.WithTimeout(ctx, e.cfg.WriteTimeout)
	defer cancel()
	return e.store.WithTx(txCtx, func(tx repo.Tx) error {
		if err := tx.InsertNotification(txCtx, n); err != nil {
			return err
		}
		if incidentID == nil {
			return nil
		}
		return tx.MarkIncidentNotified(txCtx, *incidentID, msg.Type)
	})
}

// ---- reports ----

// SendReport sends the owner a summary of the last ReportWindow.
func (e *Engine) SendReport(ctx context.Context, owner string) (stats.Report, error) {
	until := e.now()
	r, err := e.stats.Window(ctx, owner, until.Add(-e.cfg.ReportWindow), until)
	if err != nil {
		return r, err
	}
	if r.Targets == 0 {
		return r, ErrNothingToReport
	}
	msg := reportMessage(owner, r)
	sendErr := e.send(ctx, msg)
	if err := e.audit(ctx, msg, nil, nil, sendErr); err != nil {
		return r, fmt.Errorf("audit report: %w", err)
	}
	if sendErr != nil {
		return r, fmt.Errorf("deliver report: %w", sendErr)
	}
	return r, nil
}

// ReportAll sends a report to every owner with active targets.
func (e *Engine) ReportAll(ctx context.Context) error {
	owners, err := e.store.ListOwners(ctx)
	if err != nil {
		return fmt.Errorf("list owners: %w", err)
	}
	var errs error
	sent := 0
	for _, o := range owners {
		_, err := e.SendReport(ctx, o)
		switch {
		case errors.Is(err, ErrNothingToReport):
		case err != nil:
			errs = multierr.Append(errs, fmt.Errorf("report for %s: %w", o, err))
		default:
			sent++
		}
	}
	e.log.Info("reports_sent", zap.Int("owners", len(owners)), zap.Int("sent", sent))
	return errs
}

// Reporter runs ReportAll weekly on day at hour UTC.
func (e *Engine) Reporter(day time.Weekday, hour int) *scheduler.Weekly {
	return scheduler.NewWeekly(e.log, day, hour, e.ReportAll)
}
