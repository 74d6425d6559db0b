// Package recompute keeps each user's RiskAnalysis current: it runs the
// analysis stages on trigger, replaces the stored result, and raises alerts
// on significant change.
package recompute

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/risk-engine/internal/config"
	"github.com/sells-group/risk-engine/internal/features"
	"github.com/sells-group/risk-engine/internal/model"
	"github.com/sells-group/risk-engine/internal/notify"
	"github.com/sells-group/risk-engine/internal/pricing"
	"github.com/sells-group/risk-engine/internal/scorer"
	"github.com/sells-group/risk-engine/internal/store"
)

// State is a user's position in the recompute state machine.
type State string

const (
	StateIdle         State = "idle"
	StateComputing    State = "computing"
	StateComparing    State = "comparing"
	StateAlertEmitted State = "alert_emitted"
	StateNoAlert      State = "no_alert"
)

// maxConflictAttempts bounds how often a run restarts after another writer
// replaced the user's analysis between read and write.
const maxConflictAttempts = 3

// Analyzer produces a candidate analysis from a profile and its score history.
type Analyzer interface {
	Analyze(snap model.ProfileSnapshot, history []model.ScorePoint, now time.Time) (*model.RiskAnalysis, error)
}

// Outcome describes one completed run.
type Outcome struct {
	Trigger  model.Trigger
	Previous *model.RiskAnalysis
	Analysis *model.RiskAnalysis
	Alert    *model.RiskAlert // candidate alert, nil when the change was not significant
	Emitted  bool             // the alert was new and handed to the notifier
	Final    State
}

// Pipeline runs recomputes. Runs for one user are serialized; runs for
// different users proceed in parallel.
type Pipeline struct {
	store        store.Store
	analyzer     Analyzer
	notifier     notify.Notifier
	threshold    float64
	historyLimit int
	locks        *userLocks
	stats        *Stats
	log          *zap.Logger

	// now and OnTransition are replaceable in tests.
	now          func() time.Time
	OnTransition func(userID string, from, to State)

	mu     sync.Mutex
	states map[string]State
}

// NewPipeline creates a Pipeline. A nil notifier drops alerts after persisting them.
func NewPipeline(st store.Store, an Analyzer, n notify.Notifier, cfg config.Config) *Pipeline {
	if n == nil {
		n = notify.Nop{}
	}
	return &Pipeline{
		store:        st,
		analyzer:     an,
		notifier:     n,
		threshold:    cfg.Pipeline.SignificantChangeThreshold,
		historyLimit: cfg.Trend.HistoryLimit,
		locks:        newUserLocks(),
		stats:        &Stats{},
		log:          zap.L().With(zap.String("component", "recompute.pipeline")),
		now:          time.Now,
		states:       make(map[string]State),
	}
}

// Stats returns the pipeline's outcome counters.
func (p *Pipeline) Stats() *Stats { return p.stats }

// State reports where userID currently is in the state machine.
func (p *Pipeline) State(userID string) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.states[userID]; ok {
		return s
	}
	return StateIdle
}

func (p *Pipeline) transition(userID string, to State) {
	p.mu.Lock()
	from, ok := p.states[userID]
	if !ok {
		from = StateIdle
	}
	if to == StateIdle {
		delete(p.states, userID)
	} else {
		p.states[userID] = to
	}
	p.mu.Unlock()

	if p.OnTransition != nil {
		p.OnTransition(userID, from, to)
	}
}

// Run recomputes the analysis for trig.UserID. On failure the previously
// stored analysis is left untouched and a RecomputeFailure is recorded.
func (p *Pipeline) Run(ctx context.Context, trig model.Trigger) (*Outcome, error) {
	unlock := p.locks.lock(trig.UserID)
	defer unlock()
	defer p.transition(trig.UserID, StateIdle)

	log := p.log.With(zap.String("user_id", trig.UserID), zap.String("source", string(trig.Source)))
	now := p.now().UTC()

	out, err := p.run(ctx, trig, now, log)
	for attempt := 1; attempt < maxConflictAttempts && eris.Is(err, store.ErrVersionConflict); attempt++ {
		log.Warn("analysis changed underneath recompute, retrying", zap.Int("attempt", attempt))
		out, err = p.run(ctx, trig, now, log)
	}
	if err != nil {
		typ := Classify(err)
		p.stats.recordFailure(now, typ)
		log.Error("recompute failed", zap.String("error_type", typ), zap.Error(err))
		if recErr := p.store.RecordFailure(ctx, model.RecomputeFailure{
			UserID:    trig.UserID,
			Error:     err.Error(),
			ErrorType: typ,
			FailedAt:  now,
		}); recErr != nil {
			log.Error("record recompute failure", zap.Error(recErr))
		}
		return nil, err
	}

	deduped := 0
	emitted := 0
	if out.Alert != nil {
		if out.Emitted {
			emitted = 1
		} else {
			deduped = 1
		}
	}
	p.stats.recordSuccess(now, emitted, deduped)
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, trig model.Trigger, now time.Time, log *zap.Logger) (*Outcome, error) {
	p.transition(trig.UserID, StateComputing)

	snap, err := p.store.GetProfile(ctx, trig.UserID)
	if err != nil {
		return nil, eris.Wrapf(err, "recompute: load profile %s", trig.UserID)
	}
	prev, err := p.store.GetAnalysis(ctx, trig.UserID)
	if err != nil {
		return nil, eris.Wrapf(err, "recompute: load analysis %s", trig.UserID)
	}
	history, err := p.store.ScoreHistory(ctx, trig.UserID, p.historyLimit)
	if err != nil {
		return nil, eris.Wrapf(err, "recompute: load score history %s", trig.UserID)
	}

	next, err := p.analyzer.Analyze(*snap, history, now)
	if err != nil {
		return nil, err
	}

	p.transition(trig.UserID, StateComparing)
	alert := Compare(prev, next, p.threshold, now)

	var prevVersion int64
	if prev != nil {
		prevVersion = prev.Version
	}
	inserted, err := p.store.ReplaceAnalysis(ctx, store.Replacement{
		Analysis:        next,
		ExpectedVersion: prevVersion,
		Alert:           alert,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "recompute: replace analysis %s", trig.UserID)
	}

	out := &Outcome{Trigger: trig, Previous: prev, Analysis: next, Alert: alert, Final: StateNoAlert}
	if alert != nil {
		if inserted {
			out.Emitted = true
			out.Final = StateAlertEmitted
			if err := p.notifier.Notify(ctx, *alert); err != nil {
				log.Warn("alert persisted but delivery failed", zap.String("alert_id", alert.ID), zap.Error(err))
			}
		} else {
			log.Debug("duplicate alert suppressed", zap.String("reason", alert.TriggerReason))
		}
	}
	p.transition(trig.UserID, out.Final)

	log.Info("recompute complete",
		zap.Float64("score", next.OverallScore),
		zap.String("category", string(next.Category)),
		zap.Int64("version", next.Version),
		zap.String("state", string(out.Final)),
	)
	return out, nil
}

// Compare returns the alert warranted by moving from prev to next, or nil.
// A first analysis never alerts. A category change takes precedence over the
// score-direction reason.
func Compare(prev, next *model.RiskAnalysis, threshold float64, now time.Time) *model.RiskAlert {
	if prev == nil || next == nil {
		return nil
	}
	delta := math.Round((next.OverallScore-prev.OverallScore)*100) / 100

	var reason string
	switch {
	case prev.Category != next.Category:
		reason = model.ReasonCategoryChange
	case delta >= threshold:
		reason = model.ReasonScoreIncrease
	case delta <= -threshold:
		reason = model.ReasonScoreDecrease
	default:
		return nil
	}

	return &model.RiskAlert{
		ID:               uuid.NewString(),
		UserID:           next.UserID,
		TriggerReason:    reason,
		PreviousScore:    prev.OverallScore,
		NewScore:         next.OverallScore,
		PreviousCategory: prev.Category,
		NewCategory:      next.Category,
		CreatedAt:        now,
	}
}

// Classify maps a recompute error onto a RecomputeFailure error type.
func Classify(err error) string {
	var incomplete *features.IncompleteProfileError
	var unsupported *pricing.UnsupportedRatingAttributeError
	var invariant *scorer.InvariantViolationError
	switch {
	case errors.As(err, &incomplete), errors.As(err, &unsupported):
		return model.FailureInput
	case errors.As(err, &invariant):
		return model.FailureInvariant
	case eris.Is(err, store.ErrNotFound):
		return model.FailureInput
	default:
		return model.FailureInternal
	}
}
