package probe

import (
	"context"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// Options tune a single probe. A zero Timeout falls back to the checker default.
type Options struct {
	Timeout      time.Duration
	TrackContent bool
}

// Checker performs one health check against a target URL.
// Implementations classify every failure into the returned result and never panic.
type Checker interface {
	Check(ctx context.Context, target string, opts Options) domain.CheckResult
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, target string, opts Options) domain.CheckResult

func (f CheckerFunc) Check(ctx context.Context, target string, opts Options) domain.CheckResult {
	return f(ctx, target, opts)
}
