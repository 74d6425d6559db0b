package recompute

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/risk-engine/internal/model"
)

// Runner executes one recompute.
type Runner interface {
	Run(ctx context.Context, trig model.Trigger) (*Outcome, error)
}

// Scheduler accepts triggers asynchronously. At most one run per user is in
// flight; triggers arriving meanwhile collapse into a single follow-up run.
// Total parallelism is bounded by a weighted semaphore.
type Scheduler struct {
	ctx    context.Context
	runner Runner
	sem    *semaphore.Weighted
	stats  *Stats
	log    *zap.Logger

	mu       sync.Mutex
	inflight map[string]*slot
	wg       sync.WaitGroup
}

type slot struct {
	pending *model.Trigger
}

// NewScheduler creates a Scheduler. Cancelling ctx stops new runs from
// starting; runs already executing complete. stats may be nil.
func NewScheduler(ctx context.Context, r Runner, maxConcurrent int, stats *Stats) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &Scheduler{
		ctx:      ctx,
		runner:   r,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		stats:    stats,
		log:      zap.L().With(zap.String("component", "recompute.scheduler")),
		inflight: make(map[string]*slot),
	}
}

// Submit schedules a recompute for t.UserID. It returns true when a new run
// was started and false when the trigger was merged into a pending run or
// the scheduler is shut down.
func (s *Scheduler) Submit(t model.Trigger) bool {
	if s.ctx.Err() != nil {
		s.log.Warn("scheduler stopped, dropping trigger", zap.String("user_id", t.UserID))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sl, ok := s.inflight[t.UserID]; ok {
		sl.pending = &t
		s.stats.recordCoalesced()
		return false
	}
	s.inflight[t.UserID] = &slot{}
	s.wg.Add(1)
	go s.loop(t)
	return true
}

// Pending reports whether userID has a run in flight.
func (s *Scheduler) Pending(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[userID]
	return ok
}

// Wait blocks until every started or pending run has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(t model.Trigger) {
	defer s.wg.Done()
	runCtx := context.WithoutCancel(s.ctx)

	for {
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			s.finish(t.UserID)
			return
		}
		if _, err := s.runner.Run(runCtx, t); err != nil {
			s.log.Debug("scheduled recompute failed", zap.String("user_id", t.UserID), zap.Error(err))
		}
		s.sem.Release(1)

		s.mu.Lock()
		sl := s.inflight[t.UserID]
		if sl.pending == nil {
			delete(s.inflight, t.UserID)
			s.mu.Unlock()
			return
		}
		t = *sl.pending
		sl.pending = nil
		s.mu.Unlock()
	}
}

func (s *Scheduler) finish(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, userID)
}
