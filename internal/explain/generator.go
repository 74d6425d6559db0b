// Package explain ranks factor contributions for display and runs the
// fairness self-check of the scoring model.
package explain

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/risk-engine/internal/config"
	"github.com/sells-group/risk-engine/internal/model"
	"github.com/sells-group/risk-engine/internal/scorer"
)

// Labels attached to ranked factors.
const (
	LabelIncreases = "Increases risk"
	LabelReduces   = "Reduces risk"
)

// Scorer is the part of the scoring model the fairness check needs.
type Scorer interface {
	Score(fv model.FeatureVector) (scorer.Result, error)
}

// Generator builds explanations. The fairness report is computed once, on
// first use, and attached to every explanation.
type Generator struct {
	scorer Scorer
	cfg    config.FairnessConfig

	once     sync.Once
	fairness model.FairnessReport
}

// NewGenerator creates a Generator that checks s against cfg thresholds.
func NewGenerator(s Scorer, cfg config.FairnessConfig) *Generator {
	return &Generator{scorer: s, cfg: cfg}
}

// Explain ranks every contribution by absolute impact, labels it, and adds
// a one-line summary. No contribution is dropped.
func (g *Generator) Explain(score float64, category model.RiskCategory, contributions []model.FactorContribution) model.Explanation {
	ordered := append([]model.FactorContribution(nil), contributions...)
	scorer.SortContributions(ordered)

	var totalAbs float64
	for _, c := range ordered {
		totalAbs += math.Abs(c.SignedImpact)
	}

	ranked := make([]model.RankedFactor, 0, len(ordered))
	for i, c := range ordered {
		label := LabelIncreases
		if c.Direction == model.DirectionNegative {
			label = LabelReduces
		}
		var share float64
		if totalAbs > 0 {
			share = math.Round(math.Abs(c.SignedImpact)/totalAbs*1000) / 10
		}
		ranked = append(ranked, model.RankedFactor{
			Rank:         i + 1,
			Factor:       c,
			Label:        label,
			SharePercent: share,
		})
	}

	return model.Explanation{
		Summary:  summarize(score, category, ordered),
		Factors:  ranked,
		Fairness: g.Fairness(),
	}
}

// Fairness returns the cached self-check report. It compares the mirrored
// reference groups of ReferencePopulation, so it only flags a scorer that
// reads ReferenceGroupFeature.
func (g *Generator) Fairness() model.FairnessReport {
	g.once.Do(func() {
		g.fairness = g.checkFairness()
	})
	return g.fairness
}

func summarize(score float64, category model.RiskCategory, ordered []model.FactorContribution) string {
	head := fmt.Sprintf("Overall risk is %s (%.1f).", category, score)
	if len(ordered) == 0 {
		return head + " No individual factor moved the score from its baseline."
	}
	top := ordered[0]
	verb := "raises"
	if top.Direction == model.DirectionNegative {
		verb = "lowers"
	}
	return fmt.Sprintf("%s Largest factor: %s %s the score by %.1f points.",
		head, top.Name, verb, math.Abs(top.SignedImpact))
}

func (g *Generator) checkFairness() model.FairnessReport {
	log := zap.L().With(zap.String("component", "fairness"))

	stats, err := evaluate(g.scorer, ReferencePopulation())
	if err != nil {
		log.Error("explain: fairness evaluation failed", zap.Error(err))
		return model.FairnessReport{Passed: false}
	}

	metrics := []model.FairnessMetric{
		metric("demographic_parity_delta", stats.demographicParity(), g.cfg.DemographicParityMax),
		metric("equalized_odds_delta", stats.equalizedOdds(), g.cfg.EqualizedOddsMax),
		metric("calibration_delta", stats.calibration(), g.cfg.CalibrationMax),
	}

	report := model.FairnessReport{Metrics: metrics, Passed: true}
	for _, m := range metrics {
		if m.Status == model.FairnessFail {
			report.Passed = false
		}
	}

	fields := make([]zap.Field, 0, len(metrics)+1)
	for _, m := range metrics {
		fields = append(fields, zap.Float64(m.Name, m.Value))
	}
	fields = append(fields, zap.Bool("passed", report.Passed))
	if report.Passed {
		log.Info("explain: fairness self-check", fields...)
	} else {
		log.Warn("explain: fairness self-check failed", fields...)
	}
	return report
}

func metric(name string, value, threshold float64) model.FairnessMetric {
	value = math.Round(value*10000) / 10000
	status := model.FairnessPass
	if value > threshold {
		status = model.FairnessFail
	}
	return model.FairnessMetric{Name: name, Value: value, Threshold: threshold, Status: status}
}
