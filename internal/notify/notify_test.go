package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/risk-engine/internal/config"
	"github.com/sells-group/risk-engine/internal/model"
	"github.com/sells-group/risk-engine/internal/resilience"
)

func sampleAlert() model.RiskAlert {
	return model.RiskAlert{
		ID:               "al1",
		UserID:           "u1",
		TriggerReason:    model.ReasonScoreIncrease,
		PreviousScore:    20,
		NewScore:         26,
		PreviousCategory: model.RiskLow,
		NewCategory:      model.RiskLow,
		CreatedAt:        time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testNotifyConfig(url string) config.NotifyConfig {
	return config.NotifyConfig{
		WebhookURL:       url,
		TimeoutSecs:      2,
		MaxAttempts:      3,
		InitialBackoffMs: 1,
		MaxBackoffMs:     2,
		FailureThreshold: 2,
		ResetTimeoutSecs: 60,
	}
}

func TestWebhook_Delivers(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(testNotifyConfig(srv.URL))
	require.NoError(t, wh.Notify(context.Background(), sampleAlert()))

	assert.Equal(t, EventRiskAlert, got.Event)
	assert.Equal(t, "al1", got.Alert.ID)
	assert.Equal(t, 26.0, got.Alert.NewScore)
}

func TestWebhook_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(testNotifyConfig(srv.URL))
	require.NoError(t, wh.Notify(context.Background(), sampleAlert()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhook_PermanentStatusNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	wh := NewWebhook(testNotifyConfig(srv.URL))
	err := wh.Notify(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhook_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testNotifyConfig(srv.URL)
	cfg.MaxAttempts = 1
	wh := NewWebhook(cfg)

	require.Error(t, wh.Notify(context.Background(), sampleAlert()))
	require.Error(t, wh.Notify(context.Background(), sampleAlert()))

	err := wh.Notify(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.True(t, eris.Is(err, resilience.ErrCircuitOpen))
	assert.Equal(t, int32(2), calls.Load())
}

type fakePublisher struct {
	channel string
	payload []byte
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message any) *goredis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return goredis.NewIntResult(1, f.err)
}

func TestRedis_Publishes(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRedis(pub, "risk-alerts")

	require.NoError(t, r.Notify(context.Background(), sampleAlert()))
	assert.Equal(t, "risk-alerts", pub.channel)

	var p Payload
	require.NoError(t, json.Unmarshal(pub.payload, &p))
	assert.Equal(t, "u1", p.Alert.UserID)
}

func TestRedis_PublishError(t *testing.T) {
	r := NewRedis(&fakePublisher{err: errors.New("connection refused")}, "risk-alerts")

	err := r.Notify(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish alert al1")
}

type recordingNotifier struct {
	got []string
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, a model.RiskAlert) error {
	r.got = append(r.got, a.ID)
	return r.err
}

func TestMulti_CallsAllAndJoinsErrors(t *testing.T) {
	a := &recordingNotifier{err: errors.New("a failed")}
	b := &recordingNotifier{}

	err := Multi{a, b}.Notify(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a failed")
	assert.Equal(t, []string{"al1"}, a.got)
	assert.Equal(t, []string{"al1"}, b.got)

	assert.NoError(t, Multi{b}.Notify(context.Background(), sampleAlert()))
}

func TestFromConfig(t *testing.T) {
	cfg := config.Defaults()
	assert.IsType(t, Nop{}, FromConfig(cfg, nil))

	cfg.Notify.WebhookURL = "http://example.invalid/hook"
	assert.IsType(t, &Webhook{}, FromConfig(cfg, nil))

	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()
	cfg.Redis.AlertChannel = "risk-alerts"
	assert.IsType(t, Multi{}, FromConfig(cfg, rdb))
}
