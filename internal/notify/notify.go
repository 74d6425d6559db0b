// Package notify delivers newly created risk alerts to the user
// notification surface.
package notify

import (
	"context"
	"errors"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sells-group/risk-engine/internal/config"
	"github.com/sells-group/risk-engine/internal/model"
)

// Notifier delivers one alert. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, alert model.RiskAlert) error
}

// Nop drops every alert.
type Nop struct{}

func (Nop) Notify(context.Context, model.RiskAlert) error { return nil }

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, alert model.RiskAlert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Payload is the JSON body sent to the webhook and published to Redis.
type Payload struct {
	Event string          `json:"event"`
	Alert model.RiskAlert `json:"alert"`
}

// EventRiskAlert is the Payload event name.
const EventRiskAlert = "risk_alert"

// FromConfig builds the notifier set for the configured sinks. rdb may be nil
// when Redis is not configured.
func FromConfig(cfg config.Config, rdb *goredis.Client) Notifier {
	var sinks Multi
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, NewWebhook(cfg.Notify))
	}
	if rdb != nil && cfg.Redis.AlertChannel != "" {
		sinks = append(sinks, NewRedis(rdb, cfg.Redis.AlertChannel))
	}
	switch len(sinks) {
	case 0:
		return Nop{}
	case 1:
		return sinks[0]
	default:
		return sinks
	}
}
