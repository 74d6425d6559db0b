package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/risk-engine/internal/db"
	"github.com/sells-group/risk-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var profileUpsert = db.UpsertConfig{
	Table:        "profiles",
	Columns:      []string{"user_id", "snapshot", "captured_at", "updated_at"},
	ConflictKeys: []string{"user_id"},
}

// preparedStatements lists the hot-path queries of the recompute pipeline
// and the alert API, prepared on each new connection.
var preparedStatements = map[string]string{
	"get_profile":          `SELECT snapshot FROM profiles WHERE user_id = $1`,
	"get_analysis":         `SELECT version, payload FROM analyses WHERE user_id = $1`,
	"score_history":        `SELECT score, recorded_at FROM score_history WHERE user_id = $1 ORDER BY version DESC LIMIT $2`,
	"get_failure":          `SELECT error, error_type, failed_at FROM recompute_failures WHERE user_id = $1`,
	"count_unacknowledged": `SELECT COUNT(*) FROM alerts WHERE user_id = $1 AND NOT acknowledged`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS profiles (
	user_id     TEXT PRIMARY KEY,
	snapshot    JSONB NOT NULL,
	captured_at TIMESTAMPTZ,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS analyses (
	user_id       TEXT PRIMARY KEY,
	id            TEXT NOT NULL,
	version       BIGINT NOT NULL,
	overall_score DOUBLE PRECISION NOT NULL,
	category      TEXT NOT NULL,
	model_version TEXT NOT NULL,
	payload       JSONB NOT NULL,
	generated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS score_history (
	id          BIGSERIAL PRIMARY KEY,
	user_id     TEXT NOT NULL,
	analysis_id TEXT NOT NULL,
	version     BIGINT NOT NULL,
	score       DOUBLE PRECISION NOT NULL,
	category    TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS recompute_failures (
	user_id    TEXT PRIMARY KEY,
	error      TEXT NOT NULL,
	error_type TEXT NOT NULL,
	failed_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	trigger_reason    TEXT NOT NULL,
	previous_score    DOUBLE PRECISION NOT NULL,
	new_score         DOUBLE PRECISION NOT NULL,
	new_score_key     BIGINT NOT NULL,
	previous_category TEXT NOT NULL,
	new_category      TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	acknowledged      BOOLEAN NOT NULL DEFAULT false,
	acknowledged_at   TIMESTAMPTZ,
	UNIQUE (user_id, trigger_reason, new_score_key)
);

CREATE INDEX IF NOT EXISTS idx_score_history_user ON score_history(user_id, version DESC);
CREATE INDEX IF NOT EXISTS idx_alerts_user ON alerts(user_id, acknowledged);
CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(user_id, created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Profiles ---

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*model.ProfileSnapshot, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT snapshot FROM profiles WHERE user_id = $1`, userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: profile %s", userID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get profile %s", userID)
	}
	var snap model.ProfileSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal profile %s", userID)
	}
	return &snap, nil
}

func (s *PostgresStore) PutProfile(ctx context.Context, snap model.ProfileSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal profile")
	}
	query, err := db.UpsertSQL(profileUpsert)
	if err != nil {
		return eris.Wrap(err, "postgres: build profile upsert")
	}
	_, err = s.pool.Exec(ctx, query, snap.UserID, raw, snap.CapturedAt.UTC(), time.Now().UTC())
	return eris.Wrapf(err, "postgres: put profile %s", snap.UserID)
}

func (s *PostgresStore) PutProfiles(ctx context.Context, snaps []model.ProfileSnapshot) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(snaps))
	for _, snap := range snaps {
		raw, err := json.Marshal(snap)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal profile %s", snap.UserID)
		}
		rows = append(rows, []any{snap.UserID, raw, snap.CapturedAt.UTC(), now})
	}
	n, err := db.BulkUpsert(ctx, s.pool, profileUpsert, rows)
	return n, eris.Wrap(err, "postgres: put profiles")
}

func (s *PostgresStore) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM profiles ORDER BY user_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list user ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan user id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: list user ids iterate")
}

// --- Analyses ---

func (s *PostgresStore) GetAnalysis(ctx context.Context, userID string) (*model.RiskAnalysis, error) {
	var raw []byte
	var version int64
	err := s.pool.QueryRow(ctx,
		`SELECT version, payload FROM analyses WHERE user_id = $1`, userID,
	).Scan(&version, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get analysis %s", userID)
	}
	return decodeAnalysis(raw, version)
}

func (s *PostgresStore) ReplaceAnalysis(ctx context.Context, r Replacement) (bool, error) {
	a := r.Analysis
	payload, err := json.Marshal(a)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal analysis")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, eris.Wrap(err, "postgres: begin replace analysis")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	version := r.ExpectedVersion + 1
	var tag pgconn.CommandTag
	if r.ExpectedVersion == 0 {
		tag, err = tx.Exec(ctx, `
			INSERT INTO analyses (user_id, id, version, overall_score, category, model_version, payload, generated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (user_id) DO NOTHING`,
			a.UserID, a.ID, version, a.OverallScore, string(a.Category), a.ModelVersion, payload, a.GeneratedAt.UTC(),
		)
	} else {
		tag, err = tx.Exec(ctx, `
			UPDATE analyses SET id = $1, version = $2, overall_score = $3, category = $4, model_version = $5,
				payload = $6, generated_at = $7
			WHERE user_id = $8 AND version = $9`,
			a.ID, version, a.OverallScore, string(a.Category), a.ModelVersion, payload, a.GeneratedAt.UTC(),
			a.UserID, r.ExpectedVersion,
		)
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: write analysis %s", a.UserID)
	}
	if tag.RowsAffected() != 1 {
		return false, eris.Wrapf(ErrVersionConflict, "postgres: replace analysis %s from version %d", a.UserID, r.ExpectedVersion)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO score_history (user_id, analysis_id, version, score, category, recorded_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		a.UserID, a.ID, version, a.OverallScore, string(a.Category), a.GeneratedAt.UTC(),
	); err != nil {
		return false, eris.Wrapf(err, "postgres: append score history %s", a.UserID)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM recompute_failures WHERE user_id = $1`, a.UserID); err != nil {
		return false, eris.Wrapf(err, "postgres: clear failure %s", a.UserID)
	}

	var inserted bool
	if r.Alert != nil {
		if inserted, err = insertAlertPostgres(ctx, tx, r.Alert); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, eris.Wrap(err, "postgres: commit replace analysis")
	}
	a.Version = version
	return inserted, nil
}

func (s *PostgresStore) ScoreHistory(ctx context.Context, userID string, limit int) ([]model.ScorePoint, error) {
	if limit <= 0 {
		limit = 12
	}
	rows, err := s.pool.Query(ctx,
		`SELECT score, recorded_at FROM score_history WHERE user_id = $1 ORDER BY version DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: score history %s", userID)
	}
	defer rows.Close()

	var points []model.ScorePoint
	for rows.Next() {
		var p model.ScorePoint
		if err := rows.Scan(&p.Score, &p.At); err != nil {
			return nil, eris.Wrap(err, "postgres: scan score point")
		}
		points = append(points, p)
	}
	return points, eris.Wrap(rows.Err(), "postgres: score history iterate")
}

// --- Failures ---

func (s *PostgresStore) RecordFailure(ctx context.Context, f model.RecomputeFailure) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO recompute_failures (user_id, error, error_type, failed_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET error = EXCLUDED.error, error_type = EXCLUDED.error_type, failed_at = EXCLUDED.failed_at`,
		f.UserID, f.Error, f.ErrorType, f.FailedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: record failure %s", f.UserID)
}

func (s *PostgresStore) GetFailure(ctx context.Context, userID string) (*model.RecomputeFailure, error) {
	f := model.RecomputeFailure{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT error, error_type, failed_at FROM recompute_failures WHERE user_id = $1`, userID,
	).Scan(&f.Error, &f.ErrorType, &f.FailedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get failure %s", userID)
	}
	return &f, nil
}

// --- Alerts ---

func (s *PostgresStore) InsertAlert(ctx context.Context, a *model.RiskAlert) (bool, error) {
	return insertAlertPostgres(ctx, s.pool, a)
}

// pgExecer is satisfied by db.Pool and pgx.Tx.
type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertAlertPostgres(ctx context.Context, ex pgExecer, a *model.RiskAlert) (bool, error) {
	tag, err := ex.Exec(ctx, `
		INSERT INTO alerts (id, user_id, trigger_reason, previous_score, new_score, new_score_key,
			previous_category, new_category, created_at, acknowledged)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false)
		ON CONFLICT (user_id, trigger_reason, new_score_key) DO NOTHING`,
		a.ID, a.UserID, a.TriggerReason, a.PreviousScore, a.NewScore, model.ScoreKey(a.NewScore),
		string(a.PreviousCategory), string(a.NewCategory), a.CreatedAt.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert alert for %s", a.UserID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context, userID string, filter AlertFilter) ([]model.RiskAlert, error) {
	query := `SELECT id, user_id, trigger_reason, previous_score, new_score, previous_category, new_category,
		created_at, acknowledged, acknowledged_at FROM alerts WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if filter.UnacknowledgedOnly {
		query += ` AND NOT acknowledged`
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list alerts %s", userID)
	}
	defer rows.Close()

	var alerts []model.RiskAlert
	for rows.Next() {
		var a model.RiskAlert
		var prevCat, newCat string
		if err := rows.Scan(&a.ID, &a.UserID, &a.TriggerReason, &a.PreviousScore, &a.NewScore,
			&prevCat, &newCat, &a.CreatedAt, &a.Acknowledged, &a.AcknowledgedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alert")
		}
		a.PreviousCategory = model.RiskCategory(prevCat)
		a.NewCategory = model.RiskCategory(newCat)
		alerts = append(alerts, a)
	}
	return alerts, eris.Wrap(rows.Err(), "postgres: list alerts iterate")
}

func (s *PostgresStore) CountUnacknowledged(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM alerts WHERE user_id = $1 AND NOT acknowledged`, userID,
	).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count unacknowledged %s", userID)
}

func (s *PostgresStore) AcknowledgeAlert(ctx context.Context, userID, alertID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET acknowledged = true, acknowledged_at = $1 WHERE id = $2 AND user_id = $3 AND NOT acknowledged`,
		at.UTC(), alertID, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: acknowledge alert %s", alertID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "unacknowledged alert %s", alertID)
	}
	return nil
}

func (s *PostgresStore) AcknowledgeAll(ctx context.Context, userID string, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET acknowledged = true, acknowledged_at = $1 WHERE user_id = $2 AND NOT acknowledged`,
		at.UTC(), userID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: acknowledge all %s", userID)
	}
	return tag.RowsAffected(), nil
}
