package lifecycle

import (
	"context"

	"github.com/google/uuid"

	"github.com/renewkit/renewkit/internal/catalog"
	"github.com/renewkit/renewkit/internal/subscription"
)

// ReconcileAtPeriodEnd applies whatever is pending on a record whose
// billing period has ended: a scheduled plan change starts a new cycle,
// a cancelled record expires, trial and free records without a
// processor relationship are expired or rolled over here, and paid
// renewals are left to the processor's webhooks.
//
// The handler is idempotent: re-running it on an already-reconciled
// record (schedule cleared, new period started, or terminal status) is a
// no-op, so at-least-once delivery from the external scheduler is safe.
func (e *Engine) ReconcileAtPeriodEnd(ctx context.Context, subscriptionID uuid.UUID) (*subscription.Record, error) {
	rec, err := e.repo.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	now := e.now()

	if rec.Status.IsTerminal() {
		return rec, nil
	}
	if rec.EndDate.After(now) {
		// Not due yet, or already reconciled into a fresh period.
		return rec, nil
	}

	switch {
	case rec.HasScheduledChange() &&
		(rec.Status == subscription.StatusTrialing || rec.Status == subscription.StatusActive):
		return e.applyScheduledChange(ctx, rec)

	case rec.Status == subscription.StatusCancelled:
		rec.Status = subscription.StatusExpired
		if err := e.repo.Update(ctx, rec); err != nil {
			return nil, err
		}
		if err := e.appendHistory(ctx, rec, subscription.ActionExpired, "period ended without renewal", ""); err != nil {
			return nil, err
		}
		e.log.InfoContext(ctx, "subscription expired", "subscription_id", rec.ID, "user_id", rec.UserID)
		return rec, nil

	case rec.ProcessorSubID == "":
		// Trial and free records never acquired a processor relationship,
		// so no webhook will ever renew or expire them.
		return e.reconcileSelfOwned(ctx, rec)

	default:
		// Renewal billing is owned by the processor webhook path.
		return rec, nil
	}
}

// reconcileSelfOwned handles lapsed records the processor knows nothing
// about. A trial that was never converted expires; a free plan rolls
// into a fresh period so the user keeps access. Paid records stay with
// the webhook path even when the processor subscription ID was never
// backfilled.
func (e *Engine) reconcileSelfOwned(ctx context.Context, rec *subscription.Record) (*subscription.Record, error) {
	if rec.Status == subscription.StatusTrialing {
		rec.Status = subscription.StatusExpired
		if err := e.repo.Update(ctx, rec); err != nil {
			return nil, err
		}
		if err := e.appendHistory(ctx, rec, subscription.ActionExpired, "trial ended without conversion", ""); err != nil {
			return nil, err
		}
		e.log.InfoContext(ctx, "trial expired", "subscription_id", rec.ID, "user_id", rec.UserID)
		return rec, nil
	}

	plan, err := e.catalog.Get(ctx, rec.PlanID)
	if err != nil {
		return nil, err
	}
	if plan.IsPaid() {
		return rec, nil
	}

	now := e.now()
	for !rec.EndDate.After(now) {
		rec.EndDate = plan.PeriodEnd(rec.EndDate)
	}
	if err := e.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	if err := e.appendHistory(ctx, rec, subscription.ActionReconciled, "free period rolled over", ""); err != nil {
		return nil, err
	}
	return rec, nil
}

// applyScheduledChange starts a new billing cycle on the scheduled plan.
// Paid plans are provisionally past due until the processor confirms the
// charge; success is never assumed.
func (e *Engine) applyScheduledChange(ctx context.Context, rec *subscription.Record) (*subscription.Record, error) {
	newPlan, err := e.catalog.Get(ctx, *rec.NextPlanID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	from := rec.PlanID

	rec.PlanID = newPlan.ID
	rec.ClearSchedule()
	rec.StartDate = now
	rec.EndDate = newPlan.PeriodEnd(now)

	switch newPlan.Kind {
	case catalog.PlanKindTrial:
		rec.Status = subscription.StatusTrialing
	case catalog.PlanKindFree:
		rec.Status = subscription.StatusActive
	default:
		rec.Status = subscription.StatusPastDue
	}

	if err := e.repo.Update(ctx, rec); err != nil {
		return nil, err
	}

	if err := e.appendHistory(ctx, rec, subscription.ActionReconciled, "switched from "+from, ""); err != nil {
		return nil, err
	}

	e.log.InfoContext(ctx, "scheduled change applied",
		"subscription_id", rec.ID, "user_id", rec.UserID,
		"from", from, "to", rec.PlanID, "status", rec.Status, "new_end_date", rec.EndDate)
	return rec, nil
}
