package events

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/risk-engine/internal/model"
)

// Submitter accepts recompute triggers. It reports false when the trigger was
// merged into an already pending run.
type Submitter interface {
	Submit(t model.Trigger) bool
}

// RedisSubscriber reads ChangeEvents from a pub/sub channel and submits
// them for recompute.
type RedisSubscriber struct {
	client  *goredis.Client
	channel string
	submit  Submitter
	now     func() time.Time
	log     *zap.Logger
}

// NewRedisSubscriber creates a subscriber on channel.
func NewRedisSubscriber(client *goredis.Client, channel string, submit Submitter) *RedisSubscriber {
	return &RedisSubscriber{
		client:  client,
		channel: channel,
		submit:  submit,
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "events.redis"), zap.String("channel", channel)),
	}
}

// Run subscribes and dispatches messages until ctx is cancelled or the
// subscription channel closes.
func (s *RedisSubscriber) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close() //nolint:errcheck

	if _, err := sub.Receive(ctx); err != nil {
		return eris.Wrapf(err, "events: subscribe %s", s.channel)
	}
	s.log.Info("subscribed to change events")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("change event subscriber stopped")
			return nil
		case msg, ok := <-ch:
			if !ok || msg == nil {
				return eris.Errorf("events: subscription %s closed", s.channel)
			}
			s.handle(msg.Payload)
		}
	}
}

// handle decodes one payload. Malformed events are logged and dropped.
func (s *RedisSubscriber) handle(payload string) bool {
	var ev ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		s.log.Warn("bad change event payload", zap.Error(err))
		return false
	}
	trig, err := ev.Trigger(s.now())
	if err != nil {
		s.log.Warn("rejected change event", zap.Error(err))
		return false
	}
	started := s.submit.Submit(trig)
	s.log.Debug("change event accepted",
		zap.String("user_id", trig.UserID),
		zap.String("source", string(trig.Source)),
		zap.Bool("coalesced", !started),
	)
	return true
}
