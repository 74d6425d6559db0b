package scorer

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/risk-engine/internal/config"
	"github.com/sells-group/risk-engine/internal/model"
)

const additivityTolerance = 1e-6

// InvariantViolationError signals a defect in the model itself, such as
// contributions that no longer sum to the pre-clamp score.
type InvariantViolationError struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("scorer: invariant %s violated: %s", e.Invariant, e.Detail)
}

// Result is the output of one scoring pass.
type Result struct {
	// RawScore is base + sum of contributions, before clamping.
	RawScore      float64
	OverallScore  float64
	Category      model.RiskCategory
	Contributions []model.FactorContribution
	ModelVersion  string
}

// Model is the additive scoring model. It is safe for concurrent use.
type Model struct {
	cfg     config.ScoringConfig
	factors []factor
	version string
}

// NewModel validates cfg and returns a scoring model.
func NewModel(cfg config.ScoringConfig) (*Model, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return newModel(cfg, defaultFactors()), nil
}

func newModel(cfg config.ScoringConfig, factors []factor) *Model {
	return &Model{cfg: cfg, factors: factors, version: ConfigHash(cfg)}
}

// Version identifies the scoring configuration.
func (m *Model) Version() string { return m.version }

// Score evaluates every factor against fv. Zero-impact factors are omitted
// from the contributions. Contributions are ordered by absolute impact with
// the category tie-break applied.
func (m *Model) Score(fv model.FeatureVector) (Result, error) {
	seen := make(map[string]string, len(fv))
	var contributions []model.FactorContribution
	total := m.cfg.BaseScore

	for _, f := range m.factors {
		name, impact, text := f.eval(fv)
		for _, feat := range f.features {
			if owner, ok := seen[feat]; ok {
				return Result{}, &InvariantViolationError{
					Invariant: "exclusive-attribution",
					Detail:    fmt.Sprintf("feature %q attributed to both %q and %q", feat, owner, name),
				}
			}
			seen[feat] = name
		}

		impact = round2(impact)
		total += impact
		if impact == 0 {
			continue
		}

		dir := model.DirectionPositive
		if impact < 0 {
			dir = model.DirectionNegative
		}
		contributions = append(contributions, model.FactorContribution{
			Name:            name,
			Category:        f.category,
			Features:        append([]string(nil), f.features...),
			SignedImpact:    impact,
			Direction:       dir,
			ExplanationText: text,
		})
	}

	raw := round2(total)
	if err := checkAdditivity(m.cfg.BaseScore, contributions, raw); err != nil {
		zap.L().Error("scorer: additivity check failed", zap.Error(err))
		return Result{}, err
	}

	SortContributions(contributions)
	overall := round2(math.Max(m.cfg.MinScore, math.Min(m.cfg.MaxScore, raw)))

	return Result{
		RawScore:      raw,
		OverallScore:  overall,
		Category:      m.Categorize(overall),
		Contributions: contributions,
		ModelVersion:  m.version,
	}, nil
}

// Categorize bands a clamped score: Low below LowBelow, High above
// HighAbove, Medium otherwise (both bounds inclusive).
func (m *Model) Categorize(score float64) model.RiskCategory {
	switch {
	case score < m.cfg.LowBelow:
		return model.RiskLow
	case score > m.cfg.HighAbove:
		return model.RiskHigh
	default:
		return model.RiskMedium
	}
}

func checkAdditivity(base float64, contributions []model.FactorContribution, raw float64) error {
	sum := base
	for _, c := range contributions {
		sum += c.SignedImpact
	}
	if math.IsNaN(sum) || math.IsNaN(raw) || math.Abs(sum-raw) > additivityTolerance {
		return &InvariantViolationError{
			Invariant: "additivity",
			Detail:    fmt.Sprintf("base + contributions = %.4f, pre-clamp score = %.4f", sum, raw),
		}
	}
	return nil
}

// SortContributions orders contributions by absolute impact descending,
// breaking ties by category priority and then by name.
func SortContributions(cs []model.FactorContribution) {
	sort.SliceStable(cs, func(i, j int) bool {
		ai, aj := math.Abs(cs[i].SignedImpact), math.Abs(cs[j].SignedImpact)
		if ai != aj {
			return ai > aj
		}
		pi, pj := cs[i].Category.Priority(), cs[j].Category.Priority()
		if pi != pj {
			return pi < pj
		}
		return cs[i].Name < cs[j].Name
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
