package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/metrics"
)

// ErrStopped tells the loop its target is gone or inactive. Return it wrapped from RunOnce.
var ErrStopped = errors.New("poll loop stopped")

const DefaultCooldown = 60 * time.Second

// Runner performs one poll iteration and says how long to wait before the next.
type Runner interface {
	RunOnce(ctx context.Context, id domain.TargetID) (next time.Duration, err error)
}

type RunnerFunc func(ctx context.Context, id domain.TargetID) (time.Duration, error)

func (f RunnerFunc) RunOnce(ctx context.Context, id domain.TargetID) (time.Duration, error) {
	return f(ctx, id)
}

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler owns one poll loop per target.
type Scheduler struct {
	Logger   *zap.Logger
	Runner   Runner
	Cooldown time.Duration

	mu    sync.Mutex
	loops map[domain.TargetID]*handle
	wg    sync.WaitGroup
}

func New(logger *zap.Logger, runner Runner, cooldown time.Duration) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Scheduler{
		Logger:   logger,
		Runner:   runner,
		Cooldown: cooldown,
		loops:    make(map[domain.TargetID]*handle),
	}
}

// Start launches the loop for id, replacing a running one. The new loop does not
// probe until the replaced loop has returned, so iterations for one id never overlap.
func (s *Scheduler) Start(id domain.TargetID) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	prev := s.loops[id]
	s.loops[id] = h
	s.wg.Add(1)
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
		s.Logger.Info("poll_loop_restarting", zap.String("target_id", string(id)))
	}
	go s.loop(ctx, id, h, prev)
}

// Stop cancels the loop for id. It reports whether a loop was running.
func (s *Scheduler) Stop(id domain.TargetID) bool {
	s.mu.Lock()
	h, ok := s.loops[id]
	delete(s.loops, id)
	s.mu.Unlock()
	if ok {
		h.cancel()
	}
	return ok
}

// StopAll cancels every loop and waits for all of them to return.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	hs := make([]*handle, 0, len(s.loops))
	for id, h := range s.loops {
		hs = append(hs, h)
		delete(s.loops, id)
	}
	s.mu.Unlock()

	for _, h := range hs {
		h.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) Running(id domain.TargetID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[id]
	return ok
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loops)
}

func (s *Scheduler) forget(id domain.TargetID, h *handle) {
	s.mu.Lock()
	if s.loops[id] == h {
		delete(s.loops, id)
	}
	s.mu.Unlock()
}

func (s *Scheduler) loop(ctx context.Context, id domain.TargetID, h, prev *handle) {
	defer s.wg.Done()
	defer close(h.done)
	defer s.forget(id, h)
	defer h.cancel()

	// prev was cancelled by Start and returns after its current iteration.
	if prev != nil {
		<-prev.done
	}

	log := s.Logger.With(zap.String("target_id", string(id)))
	metrics.PollLoops.Inc()
	defer metrics.PollLoops.Dec()
	log.Info("poll_loop_started")

	for {
		if ctx.Err() != nil {
			log.Info("poll_loop_cancelled")
			return
		}
		next, err := s.runOnce(ctx, id)
		switch {
		case errors.Is(err, ErrStopped):
			log.Info("poll_loop_finished", zap.String("reason", err.Error()))
			return
		case ctx.Err() != nil:
			log.Info("poll_loop_cancelled")
			return
		case err != nil:
			log.Error("poll_iteration_error", zap.Error(err), zap.Duration("cooldown", s.Cooldown))
			metrics.LoopErrors.Inc()
			next = s.Cooldown
		case next <= 0:
			next = s.Cooldown
		}
		if !sleep(ctx, next) {
			log.Info("poll_loop_cancelled")
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, id domain.TargetID) (next time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("poll_iteration_panic",
				zap.String("target_id", string(id)),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			err = fmt.Errorf("panic in poll iteration: %v", r)
		}
	}()
	return s.Runner.RunOnce(ctx, id)
}

// sleep waits for d or until ctx is done. It returns false when cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
