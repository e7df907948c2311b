// Package earnings totals ledgers into the figures a driver reports: miles,
// income, income per mile and the standard-mileage deduction.
package earnings

import (
	"github.com/shopspring/decimal"

	"control_miles/internal/models"
)

// DefaultMileageRate is the standard mileage rate in dollars per mile.
var DefaultMileageRate = decimal.RequireFromString("0.67")

// Summary is money-rounded to cents and miles to hundredths.
type Summary struct {
	Days          int             `json:"days"`
	From          string          `json:"from,omitempty"`
	To            string          `json:"to,omitempty"`
	TotalMiles    decimal.Decimal `json:"total_miles"`
	TotalIncome   decimal.Decimal `json:"total_income"`
	IncomePerMile decimal.Decimal `json:"income_per_mile"`
	MileageRate   decimal.Decimal `json:"mileage_rate"`
	TaxDeduction  decimal.Decimal `json:"tax_deduction"`
}

// Summarize adds up displayed miles (corrections included) and income. A
// non-positive rate falls back to DefaultMileageRate.
func Summarize(ledgers []models.DailyLedger, rate decimal.Decimal) Summary {
	if !rate.IsPositive() {
		rate = DefaultMileageRate
	}
	miles, income := decimal.Zero, decimal.Zero
	s := Summary{Days: len(ledgers), MileageRate: rate}
	for i := range ledgers {
		l := &ledgers[i]
		miles = miles.Add(decimal.NewFromFloat(l.CurrentDisplayedMiles()))
		income = income.Add(decimal.NewFromFloat(l.Income))
		if s.From == "" || l.Date < s.From {
			s.From = l.Date
		}
		if l.Date > s.To {
			s.To = l.Date
		}
	}

	s.TotalMiles = miles.Round(2)
	s.TotalIncome = income.Round(2)
	s.IncomePerMile = decimal.Zero
	if miles.IsPositive() {
		s.IncomePerMile = income.Div(miles).Round(2)
	}
	s.TaxDeduction = miles.Mul(rate).Round(2)
	return s
}
