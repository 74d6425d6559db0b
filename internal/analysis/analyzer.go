// Package analysis runs the scoring stages in order and assembles a complete
// RiskAnalysis for one profile snapshot.
package analysis

import (
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/risk-engine/internal/config"
	"github.com/sells-group/risk-engine/internal/explain"
	"github.com/sells-group/risk-engine/internal/features"
	"github.com/sells-group/risk-engine/internal/model"
	"github.com/sells-group/risk-engine/internal/pricing"
	"github.com/sells-group/risk-engine/internal/recommend"
	"github.com/sells-group/risk-engine/internal/scorer"
	"github.com/sells-group/risk-engine/internal/trend"
)

// Analyzer is safe for concurrent use; every stage is stateless apart from
// the cached fairness report.
type Analyzer struct {
	extractor   *features.Extractor
	model       *scorer.Model
	calculator  *pricing.Calculator
	explainer   *explain.Generator
	predictor   *trend.Predictor
	recommender *recommend.Engine
}

// New builds an Analyzer from the engine sections of cfg.
func New(cfg config.Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, eris.Wrap(err, "analysis: invalid config")
	}
	m, err := scorer.NewModel(cfg.Scoring)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: build scoring model")
	}
	calc, err := pricing.NewCalculator(cfg.Pricing)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: build premium calculator")
	}
	return &Analyzer{
		extractor:   features.NewExtractor(),
		model:       m,
		calculator:  calc,
		explainer:   explain.NewGenerator(m, cfg.Fairness),
		predictor:   trend.NewPredictor(cfg.Trend, cfg.Scoring.MinScore, cfg.Scoring.MaxScore),
		recommender: recommend.NewEngine(cfg.Recommend.MaxRecommendations),
	}, nil
}

// ModelVersion identifies the scoring configuration in use.
func (a *Analyzer) ModelVersion() string { return a.model.Version() }

// Categorize bands a score with the configured thresholds.
func (a *Analyzer) Categorize(score float64) model.RiskCategory { return a.model.Categorize(score) }

// Fairness returns the model's fairness self-check report.
func (a *Analyzer) Fairness() model.FairnessReport { return a.explainer.Fairness() }

// Analyze runs extract, score, price, explain, predict and recommend.
// history holds prior overall scores, most recent first. Typed stage errors
// (features.IncompleteProfileError, pricing.UnsupportedRatingAttributeError,
// scorer.InvariantViolationError) are returned unwrapped so callers can
// classify them.
func (a *Analyzer) Analyze(snap model.ProfileSnapshot, history []model.ScorePoint, now time.Time) (*model.RiskAnalysis, error) {
	fv, attrs, err := a.extractor.Extract(snap, now)
	if err != nil {
		return nil, err
	}

	res, err := a.model.Score(fv)
	if err != nil {
		return nil, err
	}

	quote, err := a.calculator.Quote(res.OverallScore, attrs)
	if err != nil {
		return nil, err
	}

	return &model.RiskAnalysis{
		ID:              uuid.NewString(),
		UserID:          snap.UserID,
		OverallScore:    res.OverallScore,
		RawScore:        res.RawScore,
		Category:        res.Category,
		Contributions:   res.Contributions,
		Explanation:     a.explainer.Explain(res.OverallScore, res.Category, res.Contributions),
		Premium:         quote,
		Predictions:     a.predictor.Predict(res.OverallScore, history, now),
		Recommendations: a.recommender.Recommend(fv, res.Contributions),
		ModelVersion:    res.ModelVersion,
		GeneratedAt:     now.UTC(),
	}, nil
}
