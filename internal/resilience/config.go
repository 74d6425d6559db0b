package resilience

import (
	"time"

	"github.com/sells-group/risk-engine/internal/config"
)

// FromNotifyConfig builds the retry and breaker policies for alert delivery.
// Zero values fall back to the defaults.
func FromNotifyConfig(cfg config.NotifyConfig) (RetryConfig, BreakerConfig) {
	retry := DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoffMs > 0 {
		retry.InitialBackoff = time.Duration(cfg.InitialBackoffMs) * time.Millisecond
	}
	if cfg.MaxBackoffMs > 0 {
		retry.MaxBackoff = time.Duration(cfg.MaxBackoffMs) * time.Millisecond
	}

	breaker := DefaultBreakerConfig()
	if cfg.FailureThreshold > 0 {
		breaker.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.ResetTimeoutSecs > 0 {
		breaker.ResetTimeout = time.Duration(cfg.ResetTimeoutSecs) * time.Second
	}
	return retry, breaker
}
