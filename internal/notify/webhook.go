package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/risk-engine/internal/config"
	"github.com/sells-group/risk-engine/internal/model"
	"github.com/sells-group/risk-engine/internal/resilience"
)

// Webhook posts alerts as JSON with retry, behind a circuit breaker.
type Webhook struct {
	url     string
	client  *http.Client
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
	log     *zap.Logger
}

// NewWebhook creates a Webhook notifier for cfg.WebhookURL.
func NewWebhook(cfg config.NotifyConfig) *Webhook {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log := zap.L().With(zap.String("component", "notify.webhook"))

	retry, breakerCfg := resilience.FromNotifyConfig(cfg)
	retry.OnRetry = resilience.LogRetry("notify.webhook", "post alert")
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		log.Warn("webhook circuit state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	return &Webhook{
		url:     cfg.WebhookURL,
		client:  &http.Client{Timeout: timeout},
		retry:   retry,
		breaker: resilience.NewBreaker(breakerCfg),
		log:     log,
	}
}

// Notify delivers the alert. Transient failures are retried; the breaker
// counts each exhausted delivery as one failure.
func (w *Webhook) Notify(ctx context.Context, alert model.RiskAlert) error {
	body, err := json.Marshal(Payload{Event: EventRiskAlert, Alert: alert})
	if err != nil {
		return eris.Wrap(err, "notify: marshal alert")
	}

	err = w.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, w.retry, func(ctx context.Context) error {
			return w.post(ctx, body)
		})
	})
	if err != nil {
		return eris.Wrapf(err, "notify: webhook alert %s", alert.ID)
	}

	w.log.Info("alert delivered",
		zap.String("alert_id", alert.ID),
		zap.String("user_id", alert.UserID),
		zap.String("reason", alert.TriggerReason),
	)
	return nil
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		return resilience.StatusError("webhook", resp.StatusCode)
	}
	return nil
}
