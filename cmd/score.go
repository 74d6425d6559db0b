package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/sells-group/risk-engine/internal/analysis"
	"github.com/sells-group/risk-engine/internal/model"
	"github.com/sells-group/risk-engine/internal/pricing"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score profiles from a fixture file without touching the store",
	Long: `Score one or more profile snapshots offline and print the full analysis.

Examples:
  # Score a single YAML profile
  score --profile alice.yaml

  # Score a batch and write JSON
  score --profile applicants.json --format json --output analyses.json

  # Export a spreadsheet with one sheet per view
  score --profile applicants.yaml --format xlsx --output analyses.xlsx`,
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.String("profile", "", "path to a YAML or JSON profile fixture (required)")
	f.String("format", "table", "output format: table, json or xlsx")
	f.String("output", "", "output file path (default: stdout; required for xlsx)")
	f.String("locale", "en-US", "BCP 47 locale for money formatting")
	_ = scoreCmd.MarkFlagRequired("profile")

	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, _ []string) error {
	profilePath, _ := cmd.Flags().GetString("profile")
	format, _ := cmd.Flags().GetString("format")
	outputPath, _ := cmd.Flags().GetString("output")
	locale, _ := cmd.Flags().GetString("locale")

	switch format {
	case "table", "json":
	case "xlsx":
		if outputPath == "" {
			return eris.New("score: --output is required for xlsx")
		}
	default:
		return eris.Errorf("score: --format must be table, json or xlsx (got %q)", format)
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return eris.Wrapf(err, "score: invalid --locale %q", locale)
	}

	now := time.Now()
	profiles, err := loadProfiles(profilePath, now)
	if err != nil {
		return err
	}

	an, err := analysis.New(*cfg)
	if err != nil {
		return err
	}

	analyses, err := scoreProfiles(an, profiles, now)
	if err != nil {
		return err
	}
	zap.L().Info("scored profiles", zap.Int("count", len(analyses)), zap.String("model_version", an.ModelVersion()))

	if format == "xlsx" {
		return writeScoreXLSX(outputPath, analyses, tag)
	}

	w := io.Writer(os.Stdout)
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return eris.Wrapf(err, "score: create output file %s", outputPath)
		}
		defer f.Close() //nolint:errcheck
		w = f
	}
	if format == "json" {
		return writeScoreJSON(w, analyses)
	}
	return writeScoreTable(w, analyses, tag)
}

func scoreProfiles(an *analysis.Analyzer, profiles []model.ProfileSnapshot, now time.Time) ([]*model.RiskAnalysis, error) {
	out := make([]*model.RiskAnalysis, 0, len(profiles))
	for _, p := range profiles {
		a, err := an.Analyze(p, nil, now)
		if err != nil {
			return nil, eris.Wrapf(err, "score: user %s", p.UserID)
		}
		out = append(out, a)
	}
	return out, nil
}

func writeScoreJSON(w io.Writer, analyses []*model.RiskAnalysis) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(analyses); err != nil {
		return eris.Wrap(err, "score: write JSON")
	}
	return nil
}

func writeScoreTable(w io.Writer, analyses []*model.RiskAnalysis, tag language.Tag) error {
	var b strings.Builder
	for i, a := range analyses {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "User:     %s\n", a.UserID)
		fmt.Fprintf(&b, "Score:    %.2f / 100 (%s)\n", a.OverallScore, a.Category)
		fmt.Fprintf(&b, "Premium:  %s / month for %s over %d years\n",
			pricing.FormatMonthly(a.Premium, tag), pricing.FormatCoverage(a.Premium, tag), a.Premium.TermYears)
		fmt.Fprintf(&b, "Summary:  %s\n", a.Explanation.Summary)

		if len(a.Explanation.Factors) > 0 {
			b.WriteString("\nFactors:\n")
			for _, f := range a.Explanation.Factors {
				fmt.Fprintf(&b, "  %2d. %-28s %-12s %+7.2f %5.1f%%  %s\n",
					f.Rank, f.Factor.Name, f.Factor.Category, f.Factor.SignedImpact, f.SharePercent, f.Label)
			}
		}
		if len(a.Predictions) > 0 {
			b.WriteString("\nOutlook:\n")
			for _, p := range a.Predictions {
				fmt.Fprintf(&b, "  %-10s %6.2f  (%.1f%% confidence)\n", p.TimeframeLabel, p.PredictedScore, p.ConfidencePercent)
			}
		}
		if len(a.Recommendations) > 0 {
			b.WriteString("\nRecommendations:\n")
			for _, r := range a.Recommendations {
				fmt.Fprintf(&b, "  - %s\n", r)
			}
		}
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return eris.Wrap(err, "score: write table")
	}
	return nil
}

func writeScoreXLSX(path string, analyses []*model.RiskAnalysis, tag language.Tag) error {
	f := xlsx.NewFile()

	summary, err := f.AddSheet("Analyses")
	if err != nil {
		return eris.Wrap(err, "score: add analyses sheet")
	}
	addRow(summary, "user_id", "overall_score", "category", "monthly_premium", "currency",
		"coverage_amount", "term_years", "model_version")
	for _, a := range analyses {
		row := summary.AddRow()
		row.AddCell().SetString(a.UserID)
		row.AddCell().SetFloat(a.OverallScore)
		row.AddCell().SetString(string(a.Category))
		row.AddCell().SetString(pricing.FormatMonthly(a.Premium, tag))
		row.AddCell().SetString(a.Premium.Currency)
		row.AddCell().SetFloat(a.Premium.CoverageAmount)
		row.AddCell().SetInt(a.Premium.TermYears)
		row.AddCell().SetString(a.ModelVersion)
	}

	factors, err := f.AddSheet("Factors")
	if err != nil {
		return eris.Wrap(err, "score: add factors sheet")
	}
	addRow(factors, "user_id", "rank", "factor", "category", "signed_impact", "share_percent", "label")
	for _, a := range analyses {
		for _, rf := range a.Explanation.Factors {
			row := factors.AddRow()
			row.AddCell().SetString(a.UserID)
			row.AddCell().SetInt(rf.Rank)
			row.AddCell().SetString(rf.Factor.Name)
			row.AddCell().SetString(string(rf.Factor.Category))
			row.AddCell().SetFloat(rf.Factor.SignedImpact)
			row.AddCell().SetFloat(rf.SharePercent)
			row.AddCell().SetString(rf.Label)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "score: save %s", path)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
