package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// Reader is the read side of the registry the aggregator needs.
type Reader interface {
	GetTarget(ctx context.Context, id domain.TargetID) (*domain.Target, error)
	ListTargets(ctx context.Context, owner string) ([]domain.Target, error)
	History(ctx context.Context, id domain.TargetID, limit int) ([]domain.HealthCheck, error)
	Incidents(ctx context.Context, id domain.TargetID, limit int) ([]domain.Incident, error)
	ChecksSince(ctx context.Context, owner string, since time.Time) ([]domain.HealthCheck, error)
	IncidentsSince(ctx context.Context, owner string, since time.Time) ([]domain.Incident, error)
}

// Uptime is successful/total as a percentage in [0,100]; 0 when nothing was checked.
func Uptime(total, successful int64) float64 {
	return domain.UptimePercentage(total, successful)
}

type Aggregator struct {
	Store Reader
	// RecentChecks bounds the history used for per-target averages.
	RecentChecks int
}

func New(r Reader) *Aggregator {
	return &Aggregator{Store: r, RecentChecks: 100}
}

type OwnerSummary struct {
	Owner   string  `json:"owner"`
	Total   int     `json:"total"`
	Active  int     `json:"active"`
	Up      int     `json:"up"`
	Down    int     `json:"down"`
	Unknown int     `json:"unknown"`
	Uptime  float64 `json:"uptime_percentage"`
}

// OwnerSummary counts the owner's targets by status. Uptime is over lifetime counters of all targets.
func (a *Aggregator) OwnerSummary(ctx context.Context, owner string) (OwnerSummary, error) {
	ts, err := a.Store.ListTargets(ctx, owner)
	if err != nil {
		return OwnerSummary{}, fmt.Errorf("owner summary: %w", err)
	}
	s := OwnerSummary{Owner: owner, Total: len(ts)}
	var total, ok int64
	for _, t := range ts {
		if t.Active {
			s.Active++
		}
		switch t.Status {
		case domain.StatusUp:
			s.Up++
		case domain.StatusDown:
			s.Down++
		default:
			s.Unknown++
		}
		total += t.TotalChecks
		ok += t.SuccessfulChecks
	}
	s.Uptime = Uptime(total, ok)
	return s, nil
}

// Report covers one owner over [Since, Until).
type Report struct {
	Owner            string        `json:"owner"`
	Since            time.Time     `json:"since"`
	Until            time.Time     `json:"until"`
	Targets          int           `json:"targets"`
	Up               int           `json:"up"`
	Checks           int64         `json:"checks"`
	SuccessfulChecks int64         `json:"successful_checks"`
	Uptime           float64       `json:"uptime_percentage"`
	AvgResponseMS    *float64      `json:"avg_response_time_ms,omitempty"`
	Incidents        int           `json:"incidents"`
	Resolved         int           `json:"resolved"`
	AvgDowntime      time.Duration `json:"avg_downtime"`
}

// Window aggregates checks and incidents that fall inside [since, until).
func (a *Aggregator) Window(ctx context.Context, owner string, since, until time.Time) (Report, error) {
	r := Report{Owner: owner, Since: since, Until: until}

	ts, err := a.Store.ListTargets(ctx, owner)
	if err != nil {
		return r, fmt.Errorf("window targets: %w", err)
	}
	for _, t := range ts {
		if !t.Active {
			continue
		}
		r.Targets++
		if t.Status == domain.StatusUp {
			r.Up++
		}
	}

	checks, err := a.Store.ChecksSince(ctx, owner, since)
	if err != nil {
		return r, fmt.Errorf("window checks: %w", err)
	}
	var respSum float64
	var respN int
	for _, c := range checks {
		if !c.CheckedAt.Before(until) {
			continue
		}
		r.Checks++
		if c.Kind == domain.CheckUp {
			r.SuccessfulChecks++
		}
		if c.ResponseTimeMS != nil {
			respSum += *c.ResponseTimeMS
			respN++
		}
	}
	r.Uptime = Uptime(r.Checks, r.SuccessfulChecks)
	if respN > 0 {
		avg := respSum / float64(respN)
		r.AvgResponseMS = &avg
	}

	incs, err := a.Store.IncidentsSince(ctx, owner, since)
	if err != nil {
		return r, fmt.Errorf("window incidents: %w", err)
	}
	var down time.Duration
	for _, inc := range incs {
		if !inc.StartedAt.Before(until) {
			continue
		}
		r.Incidents++
		if inc.Status == domain.IncidentResolved && inc.DurationSeconds != nil {
			r.Resolved++
			down += time.Duration(*inc.DurationSeconds) * time.Second
		}
	}
	if r.Resolved > 0 {
		r.AvgDowntime = down / time.Duration(r.Resolved)
	}
	return r, nil
}

type TargetStats struct {
	TargetID           domain.TargetID  `json:"target_id"`
	URL                string           `json:"url"`
	Status             domain.Status    `json:"status"`
	TotalChecks        int64            `json:"total_checks"`
	SuccessfulChecks   int64            `json:"successful_checks"`
	Uptime             float64          `json:"uptime_percentage"`
	LastCheck          *time.Time       `json:"last_check,omitempty"`
	LastResponseTimeMS *float64         `json:"last_response_time_ms,omitempty"`
	AvgResponseMS      *float64         `json:"avg_response_time_ms,omitempty"`
	OpenIncident       *domain.Incident `json:"open_incident,omitempty"`
}

func (a *Aggregator) TargetStats(ctx context.Context, id domain.TargetID) (TargetStats, error) {
	t, err := a.Store.GetTarget(ctx, id)
	if err != nil {
		return TargetStats{}, err
	}
	s := TargetStats{
		TargetID:           t.ID,
		URL:                t.URL,
		Status:             t.Status,
		TotalChecks:        t.TotalChecks,
		SuccessfulChecks:   t.SuccessfulChecks,
		Uptime:             t.UptimePercentage(),
		LastCheck:          t.LastCheck,
		LastResponseTimeMS: t.LastResponseTimeMS,
	}

	hist, err := a.Store.History(ctx, id, a.RecentChecks)
	if err != nil {
		return s, fmt.Errorf("target stats history: %w", err)
	}
	var sum float64
	var n int
	for _, h := range hist {
		if h.ResponseTimeMS != nil {
			sum += *h.ResponseTimeMS
			n++
		}
	}
	if n > 0 {
		avg := sum / float64(n)
		s.AvgResponseMS = &avg
	}

	incs, err := a.Store.Incidents(ctx, id, 1)
	if err != nil {
		return s, fmt.Errorf("target stats incidents: %w", err)
	}
	if len(incs) == 1 && incs[0].Status == domain.IncidentOpen {
		s.OpenIncident = &incs[0]
	}
	return s, nil
}
