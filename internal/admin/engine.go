package admin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/renewkit/renewkit/internal/catalog"
	"github.com/renewkit/renewkit/internal/checkout"
	"github.com/renewkit/renewkit/internal/store"
	"github.com/renewkit/renewkit/internal/subscription"
)

// CreditPolicy decides what happens to the unused remainder when an
// admin downgrades a subscription mid-cycle. This is a business policy,
// so it is explicit configuration rather than an inference.
type CreditPolicy string

const (
	// CreditPolicyNone keeps the money: the user rides out the period on
	// the cheaper plan with no compensation.
	CreditPolicyNone CreditPolicy = "none"
	// CreditPolicyBalance refunds the prorated difference.
	CreditPolicyBalance CreditPolicy = "balance"
)

// Config holds admin override settings.
type Config struct {
	DowngradeCreditPolicy CreditPolicy  `env:"ADMIN_DOWNGRADE_CREDIT_POLICY" envDefault:"none"`
	Currency              string        `env:"BILLING_CURRENCY" envDefault:"USD"`
	ProviderTimeout       time.Duration `env:"ADMIN_PROVIDER_TIMEOUT" envDefault:"30s"`
}

// Engine performs administrator overrides. All mutations go through the
// same status state machine as self-service operations; what overrides
// bypass is the period-boundary scheduling, not the legality rules.
type Engine struct {
	repo     store.Repository
	catalog  *catalog.Catalog
	provider checkout.BillingProvider
	keys     KeyStore
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(now func() time.Time) Option {
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

// New creates an admin override engine. Panics on nil dependencies to
// fail fast during initialization.
func New(repo store.Repository, cat *catalog.Catalog, provider checkout.BillingProvider, keys KeyStore, cfg Config, opts ...Option) *Engine {
	if repo == nil {
		panic("admin: store.Repository is required")
	}
	if cat == nil {
		panic("admin: catalog.Catalog is required")
	}
	if provider == nil {
		panic("admin: checkout.BillingProvider is required")
	}
	if keys == nil {
		panic("admin: KeyStore is required")
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 30 * time.Second
	}
	if cfg.DowngradeCreditPolicy == "" {
		cfg.DowngradeCreditPolicy = CreditPolicyNone
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}

	e := &Engine{
		repo:     repo,
		catalog:  cat,
		provider: provider,
		keys:     keys,
		cfg:      cfg,
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Upgrade moves the subscription to a higher plan immediately, charging
// the prorated difference for the remainder of the period. The record is
// not touched until the processor confirms the charge.
func (e *Engine) Upgrade(ctx context.Context, adminID string, userID uuid.UUID, planID, idemKey string) (*subscription.Record, error) {
	if idemKey == "" {
		return nil, subscription.NewValidationError("an idempotency key is required")
	}

	rec, err := e.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	key := overrideKey(rec.ID, "upgrade", idemKey)
	if prev, err := e.keys.Get(ctx, key); err != nil {
		return nil, err
	} else if prev != nil {
		return e.repo.GetByID(ctx, prev.SubscriptionID)
	}

	target, current, err := e.resolveChange(ctx, rec, planID)
	if err != nil {
		return nil, err
	}
	if kind := catalog.Compare(current, target); kind != catalog.ChangeUpgrade {
		return nil, subscription.NewValidationError("plan %s is not an upgrade from %s", planID, rec.PlanID)
	}
	if !target.IsPaid() {
		return nil, subscription.NewValidationError("immediate upgrades require a paid target plan")
	}

	now := e.now()
	amount := ProrateUpgrade(current.EffectivePrice(), target.EffectivePrice(), rec.StartDate, rec.EndDate, now)

	var receiptID string
	if amount.IsPositive() && rec.ProcessorSubID != "" {
		receipt, err := e.chargeProrated(ctx, rec, target, amount, idemKey)
		if err != nil {
			return nil, err
		}
		receiptID = receipt.ReceiptID
	}

	rec.PlanID = target.ID
	rec.ClearSchedule()
	if rec.Status == subscription.StatusTrialing {
		rec.Status = subscription.StatusActive
	}

	if err := e.repo.Update(ctx, rec); err != nil {
		// The charge already went through; the conflict must be resolved
		// by an operator, never by silently re-charging.
		e.log.ErrorContext(ctx, "upgrade charged but record update failed",
			"subscription_id", rec.ID, "receipt_id", receiptID, "error", err)
		return nil, err
	}

	reason := fmt.Sprintf("immediate upgrade to %s, prorated charge %s %s", target.ID, amount.StringFixed(2), e.cfg.Currency)
	e.appendHistory(ctx, rec, subscription.ActionAdminUpgrade, reason, adminID)

	if err := e.keys.Put(ctx, key, Result{
		SubscriptionID: rec.ID,
		Status:         string(rec.Status),
		PlanID:         rec.PlanID,
		ReceiptID:      receiptID,
		Amount:         amount.StringFixed(2),
	}); err != nil {
		e.log.ErrorContext(ctx, "failed to store idempotency result", "key", key, "error", err)
	}

	e.log.InfoContext(ctx, "admin upgrade applied",
		"admin_id", adminID, "user_id", userID, "plan_id", target.ID, "charged", amount.StringFixed(2))
	return rec, nil
}

// Downgrade moves the subscription to a lower plan immediately. Whether
// the unused remainder is refunded is governed by the configured credit
// policy.
func (e *Engine) Downgrade(ctx context.Context, adminID string, userID uuid.UUID, planID, idemKey string) (*subscription.Record, error) {
	if idemKey == "" {
		return nil, subscription.NewValidationError("an idempotency key is required")
	}

	rec, err := e.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	key := overrideKey(rec.ID, "downgrade", idemKey)
	if prev, err := e.keys.Get(ctx, key); err != nil {
		return nil, err
	} else if prev != nil {
		return e.repo.GetByID(ctx, prev.SubscriptionID)
	}

	target, current, err := e.resolveChange(ctx, rec, planID)
	if err != nil {
		return nil, err
	}
	if kind := catalog.Compare(current, target); kind != catalog.ChangeDowngrade {
		return nil, subscription.NewValidationError("plan %s is not a downgrade from %s", planID, rec.PlanID)
	}

	now := e.now()
	credit := decimal.Zero
	var receiptID string

	if e.cfg.DowngradeCreditPolicy == CreditPolicyBalance && rec.ProcessorSubID != "" {
		credit = ProrateCredit(current.EffectivePrice(), target.EffectivePrice(), rec.StartDate, rec.EndDate, now)
		if credit.IsPositive() {
			receipt, err := e.refundViaProvider(ctx, rec, credit, "prorated downgrade credit")
			if err != nil {
				return nil, err
			}
			receiptID = receipt.ReceiptID
		}
	}

	rec.PlanID = target.ID
	rec.ClearSchedule()

	if err := e.repo.Update(ctx, rec); err != nil {
		if receiptID != "" {
			e.log.ErrorContext(ctx, "downgrade credited but record update failed",
				"subscription_id", rec.ID, "receipt_id", receiptID, "error", err)
		}
		return nil, err
	}

	reason := fmt.Sprintf("immediate downgrade to %s, credit %s %s (%s policy)",
		target.ID, credit.StringFixed(2), e.cfg.Currency, e.cfg.DowngradeCreditPolicy)
	e.appendHistory(ctx, rec, subscription.ActionAdminDowngrade, reason, adminID)

	if err := e.keys.Put(ctx, key, Result{
		SubscriptionID: rec.ID,
		Status:         string(rec.Status),
		PlanID:         rec.PlanID,
		ReceiptID:      receiptID,
		Amount:         credit.StringFixed(2),
	}); err != nil {
		e.log.ErrorContext(ctx, "failed to store idempotency result", "key", key, "error", err)
	}

	e.log.InfoContext(ctx, "admin downgrade applied",
		"admin_id", adminID, "user_id", userID, "plan_id", target.ID, "credited", credit.StringFixed(2))
	return rec, nil
}

// Revoke cancels the subscription on the user's behalf. With immediate
// set, access ends now instead of at the period boundary; this is the
// only path allowed to shorten access.
func (e *Engine) Revoke(ctx context.Context, adminID string, userID uuid.UUID, immediate bool, reason, idemKey string) (*subscription.Record, error) {
	if reason == "" {
		return nil, subscription.ErrReasonRequired
	}
	if idemKey == "" {
		return nil, subscription.NewValidationError("an idempotency key is required")
	}

	rec, err := e.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	key := overrideKey(rec.ID, "revoke", idemKey)
	if prev, err := e.keys.Get(ctx, key); err != nil {
		return nil, err
	} else if prev != nil {
		return e.repo.GetByID(ctx, prev.SubscriptionID)
	}

	switch rec.Status {
	case subscription.StatusTrialing, subscription.StatusActive,
		subscription.StatusPastDue, subscription.StatusCancelled:
	default:
		return nil, subscription.NewValidationError("cannot revoke a subscription in status %s", rec.Status)
	}

	now := e.now()
	if rec.CancelledAt == nil {
		rec.CancelledAt = &now
	}
	rec.Status = subscription.StatusCancelled
	rec.ClearSchedule()
	if immediate {
		rec.RevokedAt = &now
	}

	if err := e.repo.Update(ctx, rec); err != nil {
		return nil, err
	}

	e.appendHistory(ctx, rec, subscription.ActionAdminRevoke, reason, adminID)

	if err := e.keys.Put(ctx, key, Result{
		SubscriptionID: rec.ID,
		Status:         string(rec.Status),
		PlanID:         rec.PlanID,
	}); err != nil {
		e.log.ErrorContext(ctx, "failed to store idempotency result", "key", key, "error", err)
	}

	e.log.InfoContext(ctx, "admin revoke applied",
		"admin_id", adminID, "user_id", userID, "immediate", immediate)
	return rec, nil
}

// Refund returns money for the current cycle and ends the subscription.
// The provider call is never retried automatically: a timeout here needs
// an operator-visible decision, not a second refund.
func (e *Engine) Refund(ctx context.Context, adminID string, userID uuid.UUID, amount decimal.Decimal, reason, idemKey string) (*subscription.Record, error) {
	if reason == "" {
		return nil, subscription.ErrReasonRequired
	}
	if idemKey == "" {
		return nil, subscription.NewValidationError("an idempotency key is required")
	}
	if !amount.IsPositive() {
		return nil, subscription.NewValidationError("refund amount must be positive")
	}

	rec, err := e.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	key := overrideKey(rec.ID, "refund", idemKey)
	if prev, err := e.keys.Get(ctx, key); err != nil {
		return nil, err
	} else if prev != nil {
		return e.repo.GetByID(ctx, prev.SubscriptionID)
	}

	if rec.Status != subscription.StatusActive && rec.Status != subscription.StatusPastDue {
		return nil, subscription.ErrRefundNotAllowed
	}

	plan, err := e.catalog.Get(ctx, rec.PlanID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(plan.EffectivePrice()) {
		return nil, subscription.NewValidationError("refund amount %s exceeds the %s paid for the current cycle",
			amount.StringFixed(2), plan.EffectivePrice().StringFixed(2))
	}

	receipt, err := e.refundViaProvider(ctx, rec, amount, reason)
	if err != nil {
		return nil, err
	}

	rec.Status = subscription.StatusRefunded
	rec.ClearSchedule()

	if err := e.repo.Update(ctx, rec); err != nil {
		e.log.ErrorContext(ctx, "refund issued but record update failed",
			"subscription_id", rec.ID, "receipt_id", receipt.ReceiptID, "error", err)
		return nil, err
	}

	e.appendHistory(ctx, rec, subscription.ActionAdminRefund, reason, adminID)

	if err := e.keys.Put(ctx, key, Result{
		SubscriptionID: rec.ID,
		Status:         string(rec.Status),
		PlanID:         rec.PlanID,
		ReceiptID:      receipt.ReceiptID,
		Amount:         amount.StringFixed(2),
	}); err != nil {
		e.log.ErrorContext(ctx, "failed to store idempotency result", "key", key, "error", err)
	}

	e.log.InfoContext(ctx, "admin refund applied",
		"admin_id", adminID, "user_id", userID, "amount", amount.StringFixed(2), "receipt_id", receipt.ReceiptID)
	return rec, nil
}

func (e *Engine) resolveChange(ctx context.Context, rec *subscription.Record, planID string) (target, current catalog.Plan, err error) {
	switch rec.Status {
	case subscription.StatusTrialing, subscription.StatusActive:
	default:
		return catalog.Plan{}, catalog.Plan{}, subscription.NewValidationError(
			"immediate plan changes require a trialing or active subscription, current status is %s", rec.Status)
	}

	if planID == rec.PlanID {
		return catalog.Plan{}, catalog.Plan{}, subscription.ErrAlreadyOnPlan
	}

	target, err = e.catalog.Get(ctx, planID)
	if err != nil {
		return catalog.Plan{}, catalog.Plan{}, err
	}
	current, err = e.catalog.Get(ctx, rec.PlanID)
	if err != nil {
		return catalog.Plan{}, catalog.Plan{}, err
	}
	return target, current, nil
}

func (e *Engine) chargeProrated(ctx context.Context, rec *subscription.Record, target catalog.Plan, amount decimal.Decimal, idemKey string) (*checkout.Receipt, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
	defer cancel()

	receipt, err := e.provider.ChargeProrated(callCtx, checkout.ChargeRequest{
		ProcessorSubID: rec.ProcessorSubID,
		CustomerID:     rec.UserID.String(),
		Amount:         amount,
		Currency:       e.cfg.Currency,
		Description:    "prorated upgrade to " + target.ID,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		return nil, subscription.NewExternalError("prorated charge", err)
	}
	return receipt, nil
}

func (e *Engine) refundViaProvider(ctx context.Context, rec *subscription.Record, amount decimal.Decimal, reason string) (*checkout.Receipt, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
	defer cancel()

	receipt, err := e.provider.Refund(callCtx, checkout.RefundRequest{
		ProcessorSubID: rec.ProcessorSubID,
		Amount:         amount,
		Currency:       e.cfg.Currency,
		Reason:         reason,
	})
	if err != nil {
		return nil, subscription.NewExternalError("refund", err)
	}
	return receipt, nil
}

func (e *Engine) appendHistory(ctx context.Context, rec *subscription.Record, action subscription.HistoryAction, reason, actorID string) {
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
}

func overrideKey(subscriptionID uuid.UUID, op, idemKey string) string {
	return fmt.Sprintf("%s:%s:%s", subscriptionID, op, idemKey)
}
