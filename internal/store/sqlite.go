package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/risk-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS profiles (
	user_id     TEXT PRIMARY KEY,
	snapshot    TEXT NOT NULL,
	captured_at DATETIME,
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS analyses (
	user_id       TEXT PRIMARY KEY,
	id            TEXT NOT NULL,
	version       INTEGER NOT NULL,
	overall_score REAL NOT NULL,
	category      TEXT NOT NULL,
	model_version TEXT NOT NULL,
	payload       TEXT NOT NULL,
	generated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS score_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id     TEXT NOT NULL,
	analysis_id TEXT NOT NULL,
	version     INTEGER NOT NULL,
	score       REAL NOT NULL,
	category    TEXT NOT NULL,
	recorded_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS recompute_failures (
	user_id    TEXT PRIMARY KEY,
	error      TEXT NOT NULL,
	error_type TEXT NOT NULL,
	failed_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	trigger_reason    TEXT NOT NULL,
	previous_score    REAL NOT NULL,
	new_score         REAL NOT NULL,
	new_score_key     INTEGER NOT NULL,
	previous_category TEXT NOT NULL,
	new_category      TEXT NOT NULL,
	created_at        DATETIME NOT NULL,
	acknowledged      INTEGER NOT NULL DEFAULT 0,
	acknowledged_at   DATETIME,
	UNIQUE (user_id, trigger_reason, new_score_key)
);

CREATE INDEX IF NOT EXISTS idx_score_history_user ON score_history(user_id, version);
CREATE INDEX IF NOT EXISTS idx_alerts_user ON alerts(user_id, acknowledged);
CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(user_id, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Profiles ---

const sqliteUpsertProfile = `INSERT INTO profiles (user_id, snapshot, captured_at, updated_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET snapshot = excluded.snapshot, captured_at = excluded.captured_at, updated_at = excluded.updated_at`

func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*model.ProfileSnapshot, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM profiles WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: profile %s", userID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get profile %s", userID)
	}
	var snap model.ProfileSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal profile %s", userID)
	}
	return &snap, nil
}

func (s *SQLiteStore) PutProfile(ctx context.Context, snap model.ProfileSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal profile")
	}
	_, err = s.db.ExecContext(ctx, sqliteUpsertProfile, snap.UserID, string(raw), snap.CapturedAt.UTC(), time.Now().UTC())
	return eris.Wrapf(err, "sqlite: put profile %s", snap.UserID)
}

func (s *SQLiteStore) PutProfiles(ctx context.Context, snaps []model.ProfileSnapshot) (int64, error) {
	if len(snaps) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin put profiles")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertProfile)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare put profiles")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var n int64
	for _, snap := range snaps {
		raw, err := json.Marshal(snap)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: marshal profile %s", snap.UserID)
		}
		if _, err := stmt.ExecContext(ctx, snap.UserID, string(raw), snap.CapturedAt.UTC(), now); err != nil {
			return 0, eris.Wrapf(err, "sqlite: put profile %s", snap.UserID)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit put profiles")
	}
	return n, nil
}

func (s *SQLiteStore) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM profiles ORDER BY user_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list user ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan user id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: list user ids iterate")
}

// --- Analyses ---

func (s *SQLiteStore) GetAnalysis(ctx context.Context, userID string) (*model.RiskAnalysis, error) {
	var raw string
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version, payload FROM analyses WHERE user_id = ?`, userID,
	).Scan(&version, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get analysis %s", userID)
	}
	return decodeAnalysis([]byte(raw), version)
}

func (s *SQLiteStore) ReplaceAnalysis(ctx context.Context, r Replacement) (bool, error) {
	a := r.Analysis
	payload, err := json.Marshal(a)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal analysis")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin replace analysis")
	}
	defer tx.Rollback() //nolint:errcheck

	version := r.ExpectedVersion + 1
	var res sql.Result
	if r.ExpectedVersion == 0 {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO analyses (user_id, id, version, overall_score, category, model_version, payload, generated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO NOTHING`,
			a.UserID, a.ID, version, a.OverallScore, string(a.Category), a.ModelVersion, string(payload), a.GeneratedAt.UTC(),
		)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE analyses SET id = ?, version = ?, overall_score = ?, category = ?, model_version = ?,
				payload = ?, generated_at = ?
			WHERE user_id = ? AND version = ?`,
			a.ID, version, a.OverallScore, string(a.Category), a.ModelVersion, string(payload), a.GeneratedAt.UTC(),
			a.UserID, r.ExpectedVersion,
		)
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: write analysis %s", a.UserID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n != 1 {
		return false, eris.Wrapf(ErrVersionConflict, "sqlite: replace analysis %s from version %d", a.UserID, r.ExpectedVersion)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO score_history (user_id, analysis_id, version, score, category, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.UserID, a.ID, version, a.OverallScore, string(a.Category), a.GeneratedAt.UTC(),
	); err != nil {
		return false, eris.Wrapf(err, "sqlite: append score history %s", a.UserID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM recompute_failures WHERE user_id = ?`, a.UserID); err != nil {
		return false, eris.Wrapf(err, "sqlite: clear failure %s", a.UserID)
	}

	var inserted bool
	if r.Alert != nil {
		if inserted, err = insertAlertSQLite(ctx, tx, r.Alert); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit replace analysis")
	}
	a.Version = version
	return inserted, nil
}

func (s *SQLiteStore) ScoreHistory(ctx context.Context, userID string, limit int) ([]model.ScorePoint, error) {
	if limit <= 0 {
		limit = 12
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT score, recorded_at FROM score_history WHERE user_id = ? ORDER BY version DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: score history %s", userID)
	}
	defer rows.Close()

	var points []model.ScorePoint
	for rows.Next() {
		var p model.ScorePoint
		if err := rows.Scan(&p.Score, &p.At); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan score point")
		}
		points = append(points, p)
	}
	return points, eris.Wrap(rows.Err(), "sqlite: score history iterate")
}

// --- Failures ---

func (s *SQLiteStore) RecordFailure(ctx context.Context, f model.RecomputeFailure) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recompute_failures (user_id, error, error_type, failed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET error = excluded.error, error_type = excluded.error_type, failed_at = excluded.failed_at`,
		f.UserID, f.Error, f.ErrorType, f.FailedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: record failure %s", f.UserID)
}

func (s *SQLiteStore) GetFailure(ctx context.Context, userID string) (*model.RecomputeFailure, error) {
	f := model.RecomputeFailure{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT error, error_type, failed_at FROM recompute_failures WHERE user_id = ?`, userID,
	).Scan(&f.Error, &f.ErrorType, &f.FailedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get failure %s", userID)
	}
	return &f, nil
}

// --- Alerts ---

func (s *SQLiteStore) InsertAlert(ctx context.Context, a *model.RiskAlert) (bool, error) {
	return insertAlertSQLite(ctx, s.db, a)
}

// sqlExecer is satisfied by both *sql.DB and *sql.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAlertSQLite(ctx context.Context, ex sqlExecer, a *model.RiskAlert) (bool, error) {
	res, err := ex.ExecContext(ctx, `
		INSERT INTO alerts (id, user_id, trigger_reason, previous_score, new_score, new_score_key,
			previous_category, new_category, created_at, acknowledged)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(user_id, trigger_reason, new_score_key) DO NOTHING`,
		a.ID, a.UserID, a.TriggerReason, a.PreviousScore, a.NewScore, model.ScoreKey(a.NewScore),
		string(a.PreviousCategory), string(a.NewCategory), a.CreatedAt.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert alert for %s", a.UserID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, userID string, filter AlertFilter) ([]model.RiskAlert, error) {
	query := `SELECT id, user_id, trigger_reason, previous_score, new_score, previous_category, new_category,
		created_at, acknowledged, acknowledged_at FROM alerts WHERE user_id = ?`
	args := []any{userID}

	if filter.UnacknowledgedOnly {
		query += ` AND acknowledged = 0`
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list alerts %s", userID)
	}
	defer rows.Close()

	var alerts []model.RiskAlert
	for rows.Next() {
		var a model.RiskAlert
		var prevCat, newCat string
		var ackAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.UserID, &a.TriggerReason, &a.PreviousScore, &a.NewScore,
			&prevCat, &newCat, &a.CreatedAt, &a.Acknowledged, &ackAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alert")
		}
		a.PreviousCategory = model.RiskCategory(prevCat)
		a.NewCategory = model.RiskCategory(newCat)
		if ackAt.Valid {
			t := ackAt.Time
			a.AcknowledgedAt = &t
		}
		alerts = append(alerts, a)
	}
	return alerts, eris.Wrap(rows.Err(), "sqlite: list alerts iterate")
}

func (s *SQLiteStore) CountUnacknowledged(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts WHERE user_id = ? AND acknowledged = 0`, userID,
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count unacknowledged %s", userID)
}

func (s *SQLiteStore) AcknowledgeAlert(ctx context.Context, userID, alertID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET acknowledged = 1, acknowledged_at = ? WHERE id = ? AND user_id = ? AND acknowledged = 0`,
		at.UTC(), alertID, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: acknowledge alert %s", alertID)
	}
	return checkRowsAffected(res, "unacknowledged alert", alertID)
}

func (s *SQLiteStore) AcknowledgeAll(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET acknowledged = 1, acknowledged_at = ? WHERE user_id = ? AND acknowledged = 0`,
		at.UTC(), userID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: acknowledge all %s", userID)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func decodeAnalysis(raw []byte, version int64) (*model.RiskAnalysis, error) {
	var a model.RiskAnalysis
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal analysis")
	}
	a.Version = version
	return &a, nil
}
