package recompute

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/risk-engine/internal/config"
	"github.com/sells-group/risk-engine/internal/model"
)

// UserLister enumerates users with a stored profile.
type UserLister interface {
	ListUserIDs(ctx context.Context) ([]string, error)
}

// Submitter accepts recompute triggers.
type Submitter interface {
	Submit(t model.Trigger) bool
}

// Sweeper periodically triggers a recompute for every user as a safety net
// against missed change notifications. Submissions are paced by a token
// bucket so a large user base does not burst the scheduler.
type Sweeper struct {
	users    UserLister
	submit   Submitter
	interval time.Duration
	limiter  *rate.Limiter
	now      func() time.Time
	log      *zap.Logger
}

// NewSweeper creates a Sweeper from the pipeline config.
func NewSweeper(users UserLister, submit Submitter, cfg config.PipelineConfig) *Sweeper {
	interval := time.Duration(cfg.SweepIntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	limit := rate.Inf
	if cfg.SweepRatePerSec > 0 {
		limit = rate.Limit(cfg.SweepRatePerSec)
	}
	return &Sweeper{
		users:    users,
		submit:   submit,
		interval: interval,
		limiter:  rate.NewLimiter(limit, 1),
		now:      time.Now,
		log:      zap.L().With(zap.String("component", "recompute.sweeper")),
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("starting periodic sweep", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("periodic sweep stopped")
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.log.Error("sweep failed", zap.Int("submitted", n), zap.Error(err))
				continue
			}
			s.log.Info("sweep complete", zap.Int("submitted", n))
		}
	}
}

// Sweep submits one periodic trigger per user and returns how many were
// submitted.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ids, err := s.users.ListUserIDs(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "recompute: sweep list users")
	}

	n := 0
	for _, id := range ids {
		if err := s.limiter.Wait(ctx); err != nil {
			return n, eris.Wrap(err, "recompute: sweep paced wait")
		}
		s.submit.Submit(model.Trigger{UserID: id, Source: model.SourcePeriodic, At: s.now().UTC()})
		n++
	}
	return n, nil
}
