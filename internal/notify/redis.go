package notify

import (
	"context"
	"encoding/json"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/risk-engine/internal/model"
)

// publisher is the part of *goredis.Client used for alert fan-out.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
}

// Redis publishes alerts to a pub/sub channel for downstream consumers.
type Redis struct {
	client  publisher
	channel string
}

// NewRedis creates a Redis notifier publishing to channel.
func NewRedis(client publisher, channel string) *Redis {
	return &Redis{client: client, channel: channel}
}

func (r *Redis) Notify(ctx context.Context, alert model.RiskAlert) error {
	raw, err := json.Marshal(Payload{Event: EventRiskAlert, Alert: alert})
	if err != nil {
		return eris.Wrap(err, "notify: marshal alert")
	}
	if err := r.client.Publish(ctx, r.channel, raw).Err(); err != nil {
		return eris.Wrapf(err, "notify: publish alert %s to %s", alert.ID, r.channel)
	}
	return nil
}
