package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/risk-engine/internal/config"
	"github.com/sells-group/risk-engine/internal/model"
)

func TestOpenStore_SQLite(t *testing.T) {
	ctx := context.Background()
	st, err := openStore(ctx, config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "cli.db")})
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	require.NoError(t, st.Ping(ctx))
	ids, err := st.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestOpenStore_UnsupportedDriver(t *testing.T) {
	_, err := openStore(context.Background(), config.StoreConfig{Driver: "mysql"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestNewRedisClient_Disabled(t *testing.T) {
	assert.Nil(t, newRedisClient(config.RedisConfig{}))
}

func TestWriteAlertsTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeAlertsTable(&buf, nil))
	assert.Equal(t, "No alerts.\n", buf.String())

	buf.Reset()
	require.NoError(t, writeAlertsTable(&buf, []model.RiskAlert{{
		ID: "al1", TriggerReason: model.ReasonCategoryChange, PreviousScore: 28, NewScore: 31.5,
		PreviousCategory: model.RiskLow, NewCategory: model.RiskMedium,
		CreatedAt: time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
	}}))
	out := buf.String()
	assert.Contains(t, out, "al1")
	assert.Contains(t, out, "Low -> Medium")
	assert.Contains(t, out, "2025-06-01 09:30:00")
	assert.Contains(t, out, "31.50")
}
