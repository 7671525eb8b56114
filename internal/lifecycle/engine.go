package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/renewkit/renewkit/internal/catalog"
	"github.com/renewkit/renewkit/internal/store"
	"github.com/renewkit/renewkit/internal/subscription"
)

// Clock returns the current time. Injected so tests can pin it.
type Clock func() time.Time

// Engine validates and applies subscription lifecycle transitions.
type Engine struct {
	repo    store.Repository
	catalog *catalog.Catalog
	log     *slog.Logger
	now     Clock
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(now Clock) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// New creates a lifecycle engine. Panics on nil dependencies to fail
// fast during initialization.
func New(repo store.Repository, cat *catalog.Catalog, opts ...Option) *Engine {
	if repo == nil {
		panic("lifecycle: store.Repository is required")
	}
	if cat == nil {
		panic("lifecycle: catalog.Catalog is required")
	}

	e := &Engine{
		repo:    repo,
		catalog: cat,
		log:     slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ValidateSubscribe checks that the user may start a new subscription on
// the given plan. Allowed only when the user has never subscribed or
// their previous record expired; trial plans additionally require that
// the user never consumed a trial before.
func (e *Engine) ValidateSubscribe(ctx context.Context, userID uuid.UUID, planID string) (catalog.Plan, error) {
	plan, err := e.catalog.Get(ctx, planID)
	if err != nil {
		return catalog.Plan{}, err
	}

	rec, err := e.repo.Get(ctx, userID)
	switch {
	case err == nil:
		if rec.Status.IsCurrent() {
			return catalog.Plan{}, subscription.ErrAlreadySubscribed
		}
		if rec.Status == subscription.StatusRefunded {
			return catalog.Plan{}, subscription.NewValidationError("previous subscription was refunded; contact support to resubscribe")
		}
	case subscription.IsNotFoundError(err):
		// never subscribed
	default:
		return catalog.Plan{}, err
	}

	if plan.Kind == catalog.PlanKindTrial {
		used, err := e.repo.HasUsedTrial(ctx, userID)
		if err != nil {
			return catalog.Plan{}, err
		}
		if used {
			return catalog.Plan{}, subscription.ErrTrialAlreadyUsed
		}
	}

	return plan, nil
}

// ActivateSubscription creates the subscription record once payment is
// confirmed (or immediately for trial/free plans). Processor identifiers
// are empty for plans that never touched the processor.
func (e *Engine) ActivateSubscription(ctx context.Context, userID uuid.UUID, plan catalog.Plan, processorSubID, processorCustomerID string) (*subscription.Record, error) {
	now := e.now()

	status := subscription.StatusActive
	if plan.Kind == catalog.PlanKindTrial {
		status = subscription.StatusTrialing
	}

	rec := &subscription.Record{
		ID:                  uuid.New(),
		UserID:              userID,
		PlanID:              plan.ID,
		Status:              status,
		StartDate:           now,
		EndDate:             plan.PeriodEnd(now),
		ProcessorSubID:      processorSubID,
		ProcessorCustomerID: processorCustomerID,
	}

	if err := e.repo.Create(ctx, rec); err != nil {
		return nil, err
	}

	if err := e.appendHistory(ctx, rec, subscription.ActionSubscribed, "", ""); err != nil {
		return nil, err
	}

	e.log.InfoContext(ctx, "subscription activated",
		"user_id", userID, "plan_id", plan.ID, "status", status)
	return rec, nil
}

// ScheduleChange records a plan change that takes effect at the current
// period's boundary. Re-scheduling replaces any previous schedule.
// Re-selecting the current plan while a schedule is pending clears the
// schedule instead; without a pending schedule it is rejected.
func (e *Engine) ScheduleChange(ctx context.Context, userID uuid.UUID, newPlanID string) (*subscription.Record, error) {
	rec, err := e.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if rec.Status != subscription.StatusTrialing && rec.Status != subscription.StatusActive {
		return nil, subscription.NewValidationError("plan changes require a trialing or active subscription, current status is %s", rec.Status)
	}

	if newPlanID == rec.PlanID {
		if rec.HasScheduledChange() {
			return e.CancelScheduledChange(ctx, userID)
		}
		return nil, subscription.ErrAlreadyOnPlan
	}

	target, err := e.catalog.Get(ctx, newPlanID)
	if err != nil {
		return nil, err
	}

	if target.Kind == catalog.PlanKindTrial {
		used, err := e.repo.HasUsedTrial(ctx, userID)
		if err != nil {
			return nil, err
		}
		if used {
			return nil, subscription.ErrTrialAlreadyUsed
		}
	}

	// The current plan may have been retired from the catalog since the
	// user subscribed; the change classification is informational only.
	kind := catalog.ChangeLateral
	if current, err := e.catalog.Get(ctx, rec.PlanID); err == nil {
		kind = catalog.Compare(current, target)
	}

	rec.SetSchedule(newPlanID)
	if err := e.repo.Update(ctx, rec); err != nil {
		return nil, err
	}

	reason := fmt.Sprintf("%s from %s to %s at period end", kind, rec.PlanID, newPlanID)
	if err := e.appendHistory(ctx, rec, subscription.ActionScheduled, reason, ""); err != nil {
		return nil, err
	}

	e.log.InfoContext(ctx, "plan change scheduled",
		"user_id", userID, "from", rec.PlanID, "to", newPlanID, "kind", kind, "effective_at", rec.EndDate)
	return rec, nil
}

// CancelScheduledChange drops a pending plan change, leaving status and
// plan untouched.
func (e *Engine) CancelScheduledChange(ctx context.Context, userID uuid.UUID) (*subscription.Record, error) {
	rec, err := e.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !rec.HasScheduledChange() {
		return nil, subscription.ErrNoScheduledChange
	}

	cleared := *rec.NextPlanID
	rec.ClearSchedule()
	if err := e.repo.Update(ctx, rec); err != nil {
		return nil, err
	}

	if err := e.appendHistory(ctx, rec, subscription.ActionScheduleCleared, "cleared pending change to "+cleared, ""); err != nil {
		return nil, err
	}

	e.log.InfoContext(ctx, "scheduled change cleared", "user_id", userID, "was", cleared)
	return rec, nil
}

// Cancel performs a self-service soft cancel: renewal stops but access
// continues through the already-paid period. Any pending plan change is
// dropped since there is no next period to apply it in.
func (e *Engine) Cancel(ctx context.Context, userID uuid.UUID) (*subscription.Record, error) {
	rec, err := e.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case subscription.StatusTrialing, subscription.StatusActive, subscription.StatusPastDue:
	default:
		return nil, subscription.NewValidationError("cannot cancel a subscription in status %s", rec.Status)
	}

	now := e.now()
	rec.Status = subscription.StatusCancelled
	rec.CancelledAt = &now
	rec.ClearSchedule()

	if err := e.repo.Update(ctx, rec); err != nil {
		return nil, err
	}

	if err := e.appendHistory(ctx, rec, subscription.ActionCancelled, "self-service cancel", ""); err != nil {
		return nil, err
	}

	e.log.InfoContext(ctx, "subscription cancelled",
		"user_id", userID, "access_until", rec.EndDate)
	return rec, nil
}

// ApplyPaymentSucceeded handles a successful charge notification.
// Past-due and trialing records flip to active; an already-active record
// is a renewal and gets its period extended.
func (e *Engine) ApplyPaymentSucceeded(ctx context.Context, userID uuid.UUID) (*subscription.Record, error) {
	rec, err := e.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case subscription.StatusPastDue, subscription.StatusTrialing:
		rec.Status = subscription.StatusActive
	case subscription.StatusActive:
		plan, err := e.catalog.Get(ctx, rec.PlanID)
		if err != nil {
			return nil, err
		}
		rec.EndDate = plan.PeriodEnd(rec.EndDate)
		if rec.HasScheduledChange() {
			// A pending change always fires at the period boundary, so it
			// moves along with the extended period.
			rec.SetSchedule(*rec.NextPlanID)
		}
	default:
		return nil, subscription.NewValidationError("payment success not applicable in status %s", rec.Status)
	}

	if err := e.repo.Update(ctx, rec); err != nil {
		return nil, err
	}

	if err := e.appendHistory(ctx, rec, subscription.ActionPaymentOutcome, "payment succeeded", ""); err != nil {
		return nil, err
	}
	return rec, nil
}

// ApplyPaymentFailed moves an active record to past due.
func (e *Engine) ApplyPaymentFailed(ctx context.Context, userID uuid.UUID) (*subscription.Record, error) {
	rec, err := e.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if rec.Status != subscription.StatusActive {
		return nil, subscription.NewValidationError("payment failure not applicable in status %s", rec.Status)
	}

	rec.Status = subscription.StatusPastDue
	if err := e.repo.Update(ctx, rec); err != nil {
		return nil, err
	}

	if err := e.appendHistory(ctx, rec, subscription.ActionPaymentOutcome, "payment failed", ""); err != nil {
		return nil, err
	}
	return rec, nil
}

// ApplyProcessorCancelled handles a cancellation initiated on the
// processor side (customer portal). Semantics match a soft cancel.
func (e *Engine) ApplyProcessorCancelled(ctx context.Context, userID uuid.UUID) (*subscription.Record, error) {
	rec, err := e.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if rec.Status == subscription.StatusCancelled {
		return rec, nil // duplicate notification
	}

	switch rec.Status {
	case subscription.StatusTrialing, subscription.StatusActive, subscription.StatusPastDue:
	default:
		return nil, subscription.NewValidationError("processor cancel not applicable in status %s", rec.Status)
	}

	now := e.now()
	rec.Status = subscription.StatusCancelled
	rec.CancelledAt = &now
	rec.ClearSchedule()

	if err := e.repo.Update(ctx, rec); err != nil {
		return nil, err
	}

	if err := e.appendHistory(ctx, rec, subscription.ActionCancelled, "cancelled via processor", ""); err != nil {
		return nil, err
	}
	return rec, nil
}

func (e *Engine) appendHistory(ctx context.Context, rec *subscription.Record, action subscription.HistoryAction, reason, actorID string) error {
	err := e.repo.AppendHistory(ctx, subscription.HistoryEntry{
		SubscriptionID: rec.ID,
		UserID:         rec.UserID,
		PlanID:         rec.PlanID,
		Status:         rec.Status,
		Action:         action,
		Reason:         reason,
		ActorID:        actorID,
		CreatedAt:      e.now(),
	})
	if err != nil {
		e.log.ErrorContext(ctx, "failed to append subscription history",
			"subscription_id", rec.ID, "action", action, "error", err)
	}
	return err
}
