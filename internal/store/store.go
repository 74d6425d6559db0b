package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/risk-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrVersionConflict is returned by ReplaceAnalysis when the stored analysis
// no longer has the version the caller read.
var ErrVersionConflict = eris.New("store: analysis version conflict")

// Replacement is one atomic swap of a user's current analysis.
type Replacement struct {
	Analysis *model.RiskAnalysis
	// ExpectedVersion is the version the caller based the new analysis on,
	// 0 when the user had none.
	ExpectedVersion int64
	// Alert is optional and is written in the same transaction.
	Alert *model.RiskAlert
}

// AlertFilter specifies criteria for listing alerts.
type AlertFilter struct {
	UnacknowledgedOnly bool `json:"unacknowledged_only,omitempty"`
	Limit              int  `json:"limit,omitempty"`
	Offset             int  `json:"offset,omitempty"`
}

// Store defines the persistence interface for profiles and derived records.
type Store interface {
	// Profiles (written by ingestion, read by the recompute pipeline)
	GetProfile(ctx context.Context, userID string) (*model.ProfileSnapshot, error)
	PutProfile(ctx context.Context, snap model.ProfileSnapshot) error
	PutProfiles(ctx context.Context, snaps []model.ProfileSnapshot) (int64, error)
	ListUserIDs(ctx context.Context) ([]string, error)

	// Analyses. GetAnalysis returns nil, nil when the user has none yet.
	// ReplaceAnalysis swaps the current analysis as a whole in one
	// transaction: it assigns ExpectedVersion+1, appends a history point,
	// clears any recorded failure and inserts the alert if one is given. It
	// fails with ErrVersionConflict when the stored version moved, and
	// reports whether the alert was new (false when deduplicated or absent).
	GetAnalysis(ctx context.Context, userID string) (*model.RiskAnalysis, error)
	ReplaceAnalysis(ctx context.Context, r Replacement) (bool, error)
	ScoreHistory(ctx context.Context, userID string, limit int) ([]model.ScorePoint, error)

	// Recompute failures (staleness)
	RecordFailure(ctx context.Context, f model.RecomputeFailure) error
	GetFailure(ctx context.Context, userID string) (*model.RecomputeFailure, error)

	// Alerts. InsertAlert reports false when an alert with the same
	// (user, reason, new score) already exists.
	InsertAlert(ctx context.Context, a *model.RiskAlert) (bool, error)
	ListAlerts(ctx context.Context, userID string, filter AlertFilter) ([]model.RiskAlert, error)
	CountUnacknowledged(ctx context.Context, userID string) (int, error)
	AcknowledgeAlert(ctx context.Context, userID, alertID string, at time.Time) error
	AcknowledgeAll(ctx context.Context, userID string, at time.Time) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
