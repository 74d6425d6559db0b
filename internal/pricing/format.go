package pricing

import (
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/risk-engine/internal/model"
)

// FormatMonthly renders the quote's monthly amount with its currency symbol
// for the given language, e.g. "$ 21.40".
func FormatMonthly(q model.PremiumQuote, tag language.Tag) string {
	unit, err := currency.ParseISO(q.Currency)
	if err != nil {
		return message.NewPrinter(tag).Sprintf("%.2f %s", q.MonthlyAmount, q.Currency)
	}
	return message.NewPrinter(tag).Sprint(currency.Symbol(unit.Amount(q.MonthlyAmount)))
}

// FormatCoverage renders the coverage amount with grouping separators.
func FormatCoverage(q model.PremiumQuote, tag language.Tag) string {
	return message.NewPrinter(tag).Sprintf("%.0f", q.CoverageAmount)
}
