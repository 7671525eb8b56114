package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/renewkit/renewkit/internal/subscription"
)

var ErrInvalidPlanConfiguration = errors.New("invalid plan configuration")

// Source loads plan definitions keyed by plan ID.
type Source interface {
	Load(ctx context.Context) (map[string]Plan, error)
}

// Catalog answers plan lookups and tier comparisons. It is read-only
// after construction.
type Catalog struct {
	plans map[string]Plan
}

// New loads and validates plans from the given source.
func New(ctx context.Context, src Source) (*Catalog, error) {
	if src == nil {
		panic("catalog: Source is required")
	}

	plans, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load plans: %w", err)
	}

	normalized := make(map[string]Plan, len(plans))
	for id, plan := range plans {
		plan.Kind = normalizeKind(plan)
		normalized[id] = plan
	}

	if err := validatePlans(normalized); err != nil {
		return nil, err
	}

	return &Catalog{plans: normalized}, nil
}

// ListActive returns all active plans ordered by tier.
func (c *Catalog) ListActive(ctx context.Context) ([]Plan, error) {
	out := make([]Plan, 0, len(c.plans))
	for _, plan := range c.plans {
		if plan.Active {
			out = append(out, plan)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Get resolves an active plan by ID. Inactive and unknown plans are
// indistinguishable to callers: both are a not-found.
func (c *Catalog) Get(ctx context.Context, id string) (Plan, error) {
	plan, ok := c.plans[id]
	if !ok || !plan.Active {
		return Plan{}, subscription.NewNotFoundError("plan", id)
	}
	return plan, nil
}

func validatePlans(plans map[string]Plan) error {
	for id, plan := range plans {
		if plan.ID != id {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan ID mismatch: map key %s != plan.ID %s", id, plan.ID))
		}
		if plan.TrialDays < 0 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has negative trial days: %d", id, plan.TrialDays))
		}
		if plan.DiscountPercent < 0 || plan.DiscountPercent > 100 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s discount out of range: %d", id, plan.DiscountPercent))
		}
		if plan.DurationMonths != 1 && plan.DurationMonths != 12 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has unsupported duration: %d months", id, plan.DurationMonths))
		}
		if plan.Kind == PlanKindTrial && plan.TrialDays == 0 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("trial plan %s has no trial days", id))
		}
		if plan.Price.IsNegative() {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has negative price", id))
		}
	}
	return nil
}
