// Package scorer implements the additive, explainable risk scoring model.
package scorer

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/risk-engine/internal/config"
)

// DefaultScoringConfig returns the model constants used when nothing is
// configured.
func DefaultScoringConfig() config.ScoringConfig {
	return config.Defaults().Scoring
}

// ValidateConfig checks that a ScoringConfig is internally consistent.
func ValidateConfig(c config.ScoringConfig) error {
	var errs []string

	if c.MinScore < 0 || c.MinScore > 100 {
		errs = append(errs, "min_score must be between 0 and 100")
	}
	if c.MaxScore < 0 || c.MaxScore > 100 {
		errs = append(errs, "max_score must be between 0 and 100")
	}
	if c.MinScore >= c.MaxScore {
		errs = append(errs, "min_score must be < max_score")
	}
	if c.BaseScore < c.MinScore || c.BaseScore > c.MaxScore {
		errs = append(errs, fmt.Sprintf("base_score %.1f must lie within [min_score, max_score]", c.BaseScore))
	}
	if c.LowBelow >= c.HighAbove {
		errs = append(errs, "low_below must be < high_above")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ConfigHash returns a SHA-256 hash of the scoring config for reproducibility.
// It is recorded as the model version on every analysis.
func ConfigHash(cfg interface{}) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:16]) // 32 hex chars
}
