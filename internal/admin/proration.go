package admin

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProrateUpgrade computes the amount to charge for an immediate upgrade:
// the price difference scaled by the fraction of the billing period
// remaining, clamped to zero so a mispriced pair can never produce a
// negative charge.
func ProrateUpgrade(oldPrice, newPrice decimal.Decimal, periodStart, periodEnd, now time.Time) decimal.Decimal {
	return prorate(newPrice.Sub(oldPrice), periodStart, periodEnd, now)
}

// ProrateCredit computes the credit owed for an immediate downgrade
// under CreditPolicyBalance: the price difference in the user's favor
// scaled by the remaining fraction, clamped to zero.
func ProrateCredit(oldPrice, newPrice decimal.Decimal, periodStart, periodEnd, now time.Time) decimal.Decimal {
	return prorate(oldPrice.Sub(newPrice), periodStart, periodEnd, now)
}

func prorate(diff decimal.Decimal, periodStart, periodEnd, now time.Time) decimal.Decimal {
	if !diff.IsPositive() {
		return decimal.Zero
	}

	totalDays := daysBetween(periodStart, periodEnd)
	if totalDays <= 0 {
		return decimal.Zero
	}

	remainingDays := daysBetween(now, periodEnd)
	if remainingDays <= 0 {
		return decimal.Zero
	}
	if remainingDays > totalDays {
		remainingDays = totalDays
	}

	return diff.
		Mul(decimal.NewFromInt(int64(remainingDays))).
		Div(decimal.NewFromInt(int64(totalDays))).
		Round(2)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
