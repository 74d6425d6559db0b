package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/text/currency"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Fairness  FairnessConfig  `yaml:"fairness" mapstructure:"fairness"`
	Trend     TrendConfig     `yaml:"trend" mapstructure:"trend"`
	Recommend RecommendConfig `yaml:"recommend" mapstructure:"recommend"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// RedisConfig configures the change-event subscription and alert publishing.
// An empty Addr disables both.
type RedisConfig struct {
	Addr         string `yaml:"addr" mapstructure:"addr"`
	Password     string `yaml:"password" mapstructure:"password"`
	DB           int    `yaml:"db" mapstructure:"db"`
	EventChannel string `yaml:"event_channel" mapstructure:"event_channel"`
	AlertChannel string `yaml:"alert_channel" mapstructure:"alert_channel"`
}

// NotifyConfig configures alert delivery to the user notification surface.
type NotifyConfig struct {
	WebhookURL       string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts      int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int    `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int    `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	FailureThreshold int    `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int    `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ScoringConfig holds the additive model constants.
type ScoringConfig struct {
	BaseScore float64 `yaml:"base_score" mapstructure:"base_score"`
	MinScore  float64 `yaml:"min_score" mapstructure:"min_score"`
	MaxScore  float64 `yaml:"max_score" mapstructure:"max_score"`
	LowBelow  float64 `yaml:"low_below" mapstructure:"low_below"`
	HighAbove float64 `yaml:"high_above" mapstructure:"high_above"`
}

// PricingConfig holds premium rates and rating multiplier tables.
// Table keys are the closed set of accepted attribute values.
type PricingConfig struct {
	Currency    string             `yaml:"currency" mapstructure:"currency"`
	UnitSize    float64            `yaml:"unit_size" mapstructure:"unit_size"`
	BaseRate    float64            `yaml:"base_rate" mapstructure:"base_rate"`
	ScoreRate   float64            `yaml:"score_rate" mapstructure:"score_rate"`
	Terms       map[string]float64 `yaml:"terms" mapstructure:"terms"`
	Occupations map[string]float64 `yaml:"occupations" mapstructure:"occupations"`
	Localities  map[string]float64 `yaml:"localities" mapstructure:"localities"`
	Genders     map[string]float64 `yaml:"genders" mapstructure:"genders"`
}

// FairnessConfig holds the self-check thresholds.
type FairnessConfig struct {
	DemographicParityMax float64 `yaml:"demographic_parity_max" mapstructure:"demographic_parity_max"`
	EqualizedOddsMax     float64 `yaml:"equalized_odds_max" mapstructure:"equalized_odds_max"`
	CalibrationMax       float64 `yaml:"calibration_max" mapstructure:"calibration_max"`
}

// TrendConfig configures score projection.
type TrendConfig struct {
	HorizonsMonths    []int   `yaml:"horizons_months" mapstructure:"horizons_months"`
	ConfidenceCeiling float64 `yaml:"confidence_ceiling" mapstructure:"confidence_ceiling"`
	HalfLifeMonths    float64 `yaml:"half_life_months" mapstructure:"half_life_months"`
	DampingMonths     float64 `yaml:"damping_months" mapstructure:"damping_months"`
	MinSlopeMonths    float64 `yaml:"min_slope_months" mapstructure:"min_slope_months"`
	FlatPenalty       float64 `yaml:"flat_penalty" mapstructure:"flat_penalty"`
	HistoryLimit      int     `yaml:"history_limit" mapstructure:"history_limit"`
}

// RecommendConfig configures recommendation output.
type RecommendConfig struct {
	MaxRecommendations int `yaml:"max_recommendations" mapstructure:"max_recommendations"`
}

// PipelineConfig configures the recompute pipeline.
type PipelineConfig struct {
	SignificantChangeThreshold float64 `yaml:"significant_change_threshold" mapstructure:"significant_change_threshold"`
	SweepIntervalSecs          int     `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs"`
	SweepRatePerSec            float64 `yaml:"sweep_rate_per_sec" mapstructure:"sweep_rate_per_sec"`
	MaxConcurrent              int     `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "risk.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("redis.event_channel", "profile-changes")
	v.SetDefault("redis.alert_channel", "risk-alerts")
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("notify.max_attempts", 3)
	v.SetDefault("notify.initial_backoff_ms", 500)
	v.SetDefault("notify.max_backoff_ms", 10000)
	v.SetDefault("notify.failure_threshold", 5)
	v.SetDefault("notify.reset_timeout_secs", 30)

	d := Defaults()
	v.SetDefault("scoring.base_score", d.Scoring.BaseScore)
	v.SetDefault("scoring.min_score", d.Scoring.MinScore)
	v.SetDefault("scoring.max_score", d.Scoring.MaxScore)
	v.SetDefault("scoring.low_below", d.Scoring.LowBelow)
	v.SetDefault("scoring.high_above", d.Scoring.HighAbove)
	v.SetDefault("pricing.currency", d.Pricing.Currency)
	v.SetDefault("pricing.unit_size", d.Pricing.UnitSize)
	v.SetDefault("pricing.base_rate", d.Pricing.BaseRate)
	v.SetDefault("pricing.score_rate", d.Pricing.ScoreRate)
	v.SetDefault("pricing.terms", d.Pricing.Terms)
	v.SetDefault("pricing.occupations", d.Pricing.Occupations)
	v.SetDefault("pricing.localities", d.Pricing.Localities)
	v.SetDefault("pricing.genders", d.Pricing.Genders)
	v.SetDefault("fairness.demographic_parity_max", d.Fairness.DemographicParityMax)
	v.SetDefault("fairness.equalized_odds_max", d.Fairness.EqualizedOddsMax)
	v.SetDefault("fairness.calibration_max", d.Fairness.CalibrationMax)
	v.SetDefault("trend.horizons_months", d.Trend.HorizonsMonths)
	v.SetDefault("trend.confidence_ceiling", d.Trend.ConfidenceCeiling)
	v.SetDefault("trend.half_life_months", d.Trend.HalfLifeMonths)
	v.SetDefault("trend.damping_months", d.Trend.DampingMonths)
	v.SetDefault("trend.min_slope_months", d.Trend.MinSlopeMonths)
	v.SetDefault("trend.flat_penalty", d.Trend.FlatPenalty)
	v.SetDefault("trend.history_limit", d.Trend.HistoryLimit)
	v.SetDefault("recommend.max_recommendations", d.Recommend.MaxRecommendations)
	v.SetDefault("pipeline.significant_change_threshold", d.Pipeline.SignificantChangeThreshold)
	v.SetDefault("pipeline.sweep_interval_secs", d.Pipeline.SweepIntervalSecs)
	v.SetDefault("pipeline.sweep_rate_per_sec", d.Pipeline.SweepRatePerSec)
	v.SetDefault("pipeline.max_concurrent", d.Pipeline.MaxConcurrent)
}

// Defaults returns the engine configuration used when nothing is overridden.
// Tests and the offline score command build engines from it directly.
func Defaults() Config {
	return Config{
		Scoring: ScoringConfig{
			BaseScore: 30,
			MinScore:  5,
			MaxScore:  95,
			LowBelow:  30,
			HighAbove: 70,
		},
		Pricing: PricingConfig{
			Currency:  "USD",
			UnitSize:  1000,
			BaseRate:  0.04,
			ScoreRate: 0.003,
			Terms: map[string]float64{
				"10": 0.80, "15": 0.90, "20": 1.00, "25": 1.15, "30": 1.30,
			},
			Occupations: map[string]float64{
				"class_1": 0.95, "class_2": 1.00, "class_3": 1.20, "class_4": 1.50,
			},
			Localities: map[string]float64{
				"tier_1": 1.10, "tier_2": 1.00, "tier_3": 0.95,
			},
			Genders: map[string]float64{
				"female": 1.00, "male": 1.00, "nonbinary": 1.00, "unspecified": 1.00,
			},
		},
		Fairness: FairnessConfig{
			DemographicParityMax: 0.10,
			EqualizedOddsMax:     0.10,
			CalibrationMax:       0.05,
		},
		Trend: TrendConfig{
			HorizonsMonths:    []int{1, 3, 6, 12},
			ConfidenceCeiling: 96,
			HalfLifeMonths:    24,
			DampingMonths:     6,
			MinSlopeMonths:    6,
			FlatPenalty:       0.85,
			HistoryLimit:      12,
		},
		Recommend: RecommendConfig{MaxRecommendations: 4},
		Pipeline: PipelineConfig{
			SignificantChangeThreshold: 5,
			SweepIntervalSecs:          3600,
			SweepRatePerSec:            20,
			MaxConcurrent:              8,
		},
	}
}

// Validate checks that the engine sections are internally consistent.
func (c *Config) Validate() error {
	var errs []string

	s := c.Scoring
	if s.MinScore < 0 || s.MaxScore > 100 || s.MinScore >= s.MaxScore {
		errs = append(errs, "scoring: min_score/max_score must satisfy 0 <= min < max <= 100")
	}
	if s.LowBelow >= s.HighAbove {
		errs = append(errs, "scoring: low_below must be < high_above")
	}

	p := c.Pricing
	if _, err := currency.ParseISO(p.Currency); err != nil {
		errs = append(errs, fmt.Sprintf("pricing: currency %q is not an ISO 4217 code", p.Currency))
	}
	if p.UnitSize <= 0 {
		errs = append(errs, "pricing: unit_size must be > 0")
	}
	if p.BaseRate < 0 || p.ScoreRate < 0 {
		errs = append(errs, "pricing: base_rate and score_rate must be >= 0")
	}
	for name, table := range map[string]map[string]float64{
		"terms":       p.Terms,
		"occupations": p.Occupations,
		"localities":  p.Localities,
		"genders":     p.Genders,
	} {
		if len(table) == 0 {
			errs = append(errs, fmt.Sprintf("pricing: %s table is empty", name))
		}
		for k, m := range table {
			if m <= 0 || math.IsNaN(m) {
				errs = append(errs, fmt.Sprintf("pricing: %s[%s] must be > 0", name, k))
			}
		}
	}

	t := c.Trend
	if len(t.HorizonsMonths) == 0 {
		errs = append(errs, "trend: horizons_months is empty")
	}
	for i, h := range t.HorizonsMonths {
		if h <= 0 {
			errs = append(errs, "trend: horizons must be > 0")
		}
		if i > 0 && h <= t.HorizonsMonths[i-1] {
			errs = append(errs, "trend: horizons must be strictly increasing")
		}
	}
	if t.ConfidenceCeiling <= 0 || t.ConfidenceCeiling > 100 {
		errs = append(errs, "trend: confidence_ceiling must be in (0, 100]")
	}
	if t.HalfLifeMonths <= 0 || t.DampingMonths <= 0 {
		errs = append(errs, "trend: half_life_months and damping_months must be > 0")
	}
	if t.MinSlopeMonths <= 0 {
		errs = append(errs, "trend: min_slope_months must be > 0")
	}
	if t.FlatPenalty <= 0 || t.FlatPenalty > 1 {
		errs = append(errs, "trend: flat_penalty must be in (0, 1]")
	}

	if c.Recommend.MaxRecommendations <= 0 {
		errs = append(errs, "recommend: max_recommendations must be > 0")
	}
	if c.Pipeline.SignificantChangeThreshold <= 0 {
		errs = append(errs, "pipeline: significant_change_threshold must be > 0")
	}
	if c.Pipeline.MaxConcurrent <= 0 {
		errs = append(errs, "pipeline: max_concurrent must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
