package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Weekly runs Job once a week at Hour:00 UTC on Day.
type Weekly struct {
	Logger *zap.Logger
	Day    time.Weekday
	Hour   int
	Job    func(ctx context.Context) error

	now func() time.Time
}

func NewWeekly(logger *zap.Logger, day time.Weekday, hour int, job func(ctx context.Context) error) *Weekly {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Weekly{Logger: logger, Day: day, Hour: hour, Job: job, now: time.Now}
}

// Run blocks until ctx is cancelled.
func (w *Weekly) Run(ctx context.Context) error {
	for {
		next := NextWeekly(w.now(), w.Day, w.Hour)
		w.Logger.Info("weekly_job_scheduled", zap.Time("at", next))
		if !sleep(ctx, time.Until(next)) {
			return ctx.Err()
		}
		if err := w.Job(ctx); err != nil {
			w.Logger.Warn("weekly_job_error", zap.Error(err))
		}
	}
}

// NextWeekly is the first day/hour boundary strictly after now, in UTC.
func NextWeekly(now time.Time, day time.Weekday, hour int) time.Time {
	now = now.UTC()
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	t = t.AddDate(0, 0, (int(day)-int(t.Weekday())+7)%7)
	if !t.After(now) {
		t = t.AddDate(0, 0, 7)
	}
	return t
}
