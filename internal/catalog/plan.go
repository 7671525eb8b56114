package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlanKind is the authoritative classification of a plan. It is set once
// when the plan is created (or derived once at load time) instead of
// being re-inferred from price, trial days, and name on every check.
type PlanKind string

const (
	PlanKindPaid  PlanKind = "paid"
	PlanKindTrial PlanKind = "trial"
	PlanKindFree  PlanKind = "free"
)

// ChangeKind classifies a requested plan change relative to the current plan.
type ChangeKind string

const (
	ChangeUpgrade   ChangeKind = "upgrade"
	ChangeDowngrade ChangeKind = "downgrade"
	ChangeLateral   ChangeKind = "lateral"
)

// Plan is an immutable reference row describing a purchasable plan.
// ID doubles as the payment provider's price ID for paid plans so
// checkout and webhook processing can map directly.
type Plan struct {
	ID              string          `yaml:"id"`
	Name            string          `yaml:"name"`
	Price           decimal.Decimal `yaml:"price"`
	DiscountPercent int             `yaml:"discount_percent"`
	DurationMonths  int             `yaml:"duration_months"` // 1 or 12
	Kind            PlanKind        `yaml:"kind"`
	TrialDays       int             `yaml:"trial_days"`
	Tier            int             `yaml:"tier"`
	Features        []string        `yaml:"features"`
	Active          bool            `yaml:"active"`
}

var hundred = decimal.NewFromInt(100)

// EffectivePrice returns the price after the plan discount is applied.
func (p Plan) EffectivePrice() decimal.Decimal {
	if p.DiscountPercent <= 0 {
		return p.Price
	}
	discount := decimal.NewFromInt(int64(p.DiscountPercent)).Div(hundred)
	return p.Price.Mul(decimal.NewFromInt(1).Sub(discount))
}

// IsPaid reports whether activating the plan requires a successful charge.
func (p Plan) IsPaid() bool {
	return p.Kind == PlanKindPaid
}

// PeriodEnd returns when a period starting at the given instant ends.
// Trial plans run for their trial window, everything else for the
// plan's billing duration.
func (p Plan) PeriodEnd(start time.Time) time.Time {
	if p.Kind == PlanKindTrial && p.TrialDays > 0 {
		return start.AddDate(0, 0, p.TrialDays)
	}
	return start.AddDate(0, p.DurationMonths, 0)
}

// normalizeKind derives the authoritative kind for plan sources that do
// not carry one. Derivation happens exactly once, at load time.
func normalizeKind(p Plan) PlanKind {
	if p.Kind != "" {
		return p.Kind
	}
	if p.TrialDays > 0 {
		return PlanKindTrial
	}
	if p.EffectivePrice().IsZero() {
		return PlanKindFree
	}
	return PlanKindPaid
}

// Compare classifies moving from plan a to plan b using the tier
// ordinal, falling back to effective price when tiers are equal.
func Compare(a, b Plan) ChangeKind {
	switch {
	case b.Tier > a.Tier:
		return ChangeUpgrade
	case b.Tier < a.Tier:
		return ChangeDowngrade
	}

	switch a.EffectivePrice().Cmp(b.EffectivePrice()) {
	case -1:
		return ChangeUpgrade
	case 1:
		return ChangeDowngrade
	}
	return ChangeLateral
}
