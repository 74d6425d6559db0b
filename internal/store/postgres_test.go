package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/risk-engine/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT 1`).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProfile_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT snapshot FROM profiles WHERE user_id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetProfile(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProfile(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	raw, err := json.Marshal(model.ProfileSnapshot{UserID: "u1"})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT snapshot FROM profiles`).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"snapshot"}).AddRow(raw))

	snap, err := s.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", snap.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutProfile_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO "profiles" .* ON CONFLICT \("user_id"\) DO UPDATE SET`).
		WithArgs("u1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.PutProfile(context.Background(), model.ProfileSnapshot{UserID: "u1"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutProfiles_BulkUpsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_profiles"}, profileUpsert.Columns).WillReturnResult(2)
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.PutProfiles(context.Background(), []model.ProfileSnapshot{{UserID: "a"}, {UserID: "b"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAnalysis_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT version, payload FROM analyses`).
		WithArgs("u1").
		WillReturnError(pgx.ErrNoRows)

	a, err := s.GetAnalysis(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAnalysis_VersionFromColumn(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	raw, err := json.Marshal(model.RiskAnalysis{ID: "a1", UserID: "u1", OverallScore: 15.2, Version: 1})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT version, payload FROM analyses`).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"version", "payload"}).AddRow(int64(4), raw))

	a, err := s.GetAnalysis(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, int64(4), a.Version)
	assert.Equal(t, 15.2, a.OverallScore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceAnalysis(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)UPDATE analyses SET.*WHERE user_id = \$8 AND version = \$9`).
		WithArgs("a9", int64(3), 41.2, "Medium", "v1", pgxmock.AnyArg(), at, "u1", int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO score_history`).
		WithArgs("u1", "a9", int64(3), 41.2, "Medium", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM recompute_failures`).
		WithArgs("u1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	a := &model.RiskAnalysis{ID: "a9", UserID: "u1", OverallScore: 41.2, Category: model.RiskMedium, ModelVersion: "v1", GeneratedAt: at}
	inserted, err := s.ReplaceAnalysis(context.Background(), Replacement{Analysis: a, ExpectedVersion: 2})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, int64(3), a.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceAnalysis_FirstWithAlert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)INSERT INTO analyses.*ON CONFLICT \(user_id\) DO NOTHING`).
		WithArgs("u1", "a1", int64(1), 30.5, "Medium", "v1", pgxmock.AnyArg(), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO score_history`).
		WithArgs("u1", "a1", int64(1), 30.5, "Medium", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM recompute_failures`).
		WithArgs("u1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`(?s)INSERT INTO alerts.*ON CONFLICT \(user_id, trigger_reason, new_score_key\) DO NOTHING`).
		WithArgs("al1", "u1", model.ReasonCategoryChange, 20.0, 30.5, int64(3050), "Low", "Medium", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	a := &model.RiskAnalysis{ID: "a1", UserID: "u1", OverallScore: 30.5, Category: model.RiskMedium, ModelVersion: "v1", GeneratedAt: at}
	alert := &model.RiskAlert{
		ID: "al1", UserID: "u1", TriggerReason: model.ReasonCategoryChange,
		PreviousScore: 20, NewScore: 30.5, PreviousCategory: model.RiskLow, NewCategory: model.RiskMedium, CreatedAt: at,
	}
	inserted, err := s.ReplaceAnalysis(context.Background(), Replacement{Analysis: a, Alert: alert})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, int64(1), a.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceAnalysis_VersionConflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE analyses SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	a := &model.RiskAnalysis{ID: "a2", UserID: "u1"}
	_, err := s.ReplaceAnalysis(context.Background(), Replacement{Analysis: a, ExpectedVersion: 4})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrVersionConflict))
	assert.Equal(t, int64(0), a.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceAnalysis_AlertFailureRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE analyses SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO score_history`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM recompute_failures`).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO alerts`).
		WillReturnError(eris.New("connection reset"))
	mock.ExpectRollback()

	a := &model.RiskAnalysis{ID: "a2", UserID: "u1"}
	alert := &model.RiskAlert{ID: "al1", UserID: "u1", TriggerReason: model.ReasonScoreIncrease}
	inserted, err := s.ReplaceAnalysis(context.Background(), Replacement{Analysis: a, ExpectedVersion: 1, Alert: alert})
	require.Error(t, err)
	assert.False(t, inserted)
	assert.Contains(t, err.Error(), "insert alert")
	assert.Equal(t, int64(0), a.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceAnalysis_HistoryFailureRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO analyses`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO score_history`).
		WillReturnError(eris.New("disk full"))
	mock.ExpectRollback()

	a := &model.RiskAnalysis{ID: "a1", UserID: "u1"}
	_, err := s.ReplaceAnalysis(context.Background(), Replacement{Analysis: a})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append score history")
	assert.Equal(t, int64(0), a.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertAlert_Duplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`(?s)INSERT INTO alerts.*ON CONFLICT \(user_id, trigger_reason, new_score_key\) DO NOTHING`).
		WithArgs("al1", "u1", model.ReasonScoreIncrease, 20.0, 30.5, int64(3050), "Low", "Medium", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO alerts`).
		WithArgs("al2", "u1", model.ReasonScoreIncrease, 20.0, 30.5, int64(3050), "Low", "Medium", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	alert := &model.RiskAlert{
		ID: "al1", UserID: "u1", TriggerReason: model.ReasonScoreIncrease,
		PreviousScore: 20, NewScore: 30.5, PreviousCategory: model.RiskLow, NewCategory: model.RiskMedium, CreatedAt: at,
	}
	inserted, err := s.InsertAlert(context.Background(), alert)
	require.NoError(t, err)
	assert.True(t, inserted)

	alert.ID = "al2"
	inserted, err = s.InsertAlert(context.Background(), alert)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAlerts_Filter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{
		"id", "user_id", "trigger_reason", "previous_score", "new_score", "previous_category",
		"new_category", "created_at", "acknowledged", "acknowledged_at",
	}).AddRow("al1", "u1", model.ReasonCategoryChange, 28.0, 33.0, "Low", "Medium", at, false, (*time.Time)(nil))

	mock.ExpectQuery(`FROM alerts WHERE user_id = \$1 AND NOT acknowledged ORDER BY created_at DESC, id LIMIT \$2 OFFSET \$3`).
		WithArgs("u1", 10, 20).
		WillReturnRows(rows)

	alerts, err := s.ListAlerts(context.Background(), "u1", AlertFilter{UnacknowledgedOnly: true, Limit: 10, Offset: 20})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, model.RiskMedium, alerts[0].NewCategory)
	assert.Nil(t, alerts[0].AcknowledgedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AcknowledgeAlert_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE alerts SET acknowledged = true`).
		WithArgs(at, "al1", "u1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.AcknowledgeAlert(context.Background(), "u1", "al1", at)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AcknowledgeAll(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE alerts SET acknowledged = true, acknowledged_at = \$1 WHERE user_id = \$2 AND NOT acknowledged`).
		WithArgs(at, "u1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := s.AcknowledgeAll(context.Background(), "u1", at)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetFailure_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT error, error_type, failed_at FROM recompute_failures`).
		WithArgs("u1").
		WillReturnError(pgx.ErrNoRows)

	f, err := s.GetFailure(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.NoError(t, mock.ExpectationsWereMet())
}
