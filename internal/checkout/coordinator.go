package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/renewkit/renewkit/internal/lifecycle"
	"github.com/renewkit/renewkit/internal/store"
	"github.com/renewkit/renewkit/internal/subscription"
)

// SessionOptions carries caller-supplied checkout redirect targets.
type SessionOptions struct {
	Email      string
	SuccessURL string
	CancelURL  string
}

// Coordinator bridges subscription intents to the payment processor and
// feeds processor notifications back into the lifecycle engine.
type Coordinator struct {
	engine   *lifecycle.Engine
	repo     store.Repository
	provider BillingProvider
	dedupe   Deduper
	log      *slog.Logger
	timeout  time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithProviderTimeout bounds every outbound provider call. A timeout
// surfaces as an ExternalError; the operation's true outcome arrives
// later via webhook, so the caller must not treat it as failure of the
// underlying charge.
func WithProviderTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// New creates a checkout coordinator. Panics on nil dependencies to
// fail fast during initialization.
func New(engine *lifecycle.Engine, repo store.Repository, provider BillingProvider, dedupe Deduper, opts ...Option) *Coordinator {
	if engine == nil {
		panic("checkout: lifecycle.Engine is required")
	}
	if repo == nil {
		panic("checkout: store.Repository is required")
	}
	if provider == nil {
		panic("checkout: BillingProvider is required")
	}
	if dedupe == nil {
		panic("checkout: Deduper is required")
	}

	c := &Coordinator{
		engine:   engine,
		repo:     repo,
		provider: provider,
		dedupe:   dedupe,
		log:      slog.Default(),
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateCheckoutSession starts a new billing relationship. Trial and
// free plans never touch the processor: the record is activated
// immediately and the success URL is returned. Paid plans get a hosted
// checkout session; no record exists until the completion webhook lands.
func (c *Coordinator) CreateCheckoutSession(ctx context.Context, userID uuid.UUID, planID string, opts SessionOptions) (*Session, error) {
	plan, err := c.engine.ValidateSubscribe(ctx, userID, planID)
	if err != nil {
		return nil, err
	}

	if !plan.IsPaid() {
		if _, err := c.engine.ActivateSubscription(ctx, userID, plan, "", ""); err != nil {
			return nil, err
		}
		return &Session{
			URL:       opts.SuccessURL,
			ExpiresAt: time.Now().Add(5 * time.Minute),
		}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	session, err := c.provider.CreateCheckoutSession(callCtx, SessionRequest{
		PriceID:    plan.ID,
		CustomerID: userID.String(),
		Email:      opts.Email,
		SuccessURL: opts.SuccessURL,
		CancelURL:  opts.CancelURL,
		// Stable per user+plan so a retried request reuses the session
		// instead of opening a second billing relationship.
		IdempotencyKey: fmt.Sprintf("checkout:%s:%s", userID, plan.ID),
	})
	if err != nil {
		return nil, subscription.NewExternalError("create checkout session", err)
	}
	return session, nil
}

// HandleWebhook verifies, dedupes, and applies a processor notification.
// Events that cannot be applied are parked for manual inspection rather
// than dropped; returning nil acknowledges the delivery.
func (c *Coordinator) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := c.provider.ParseWebhook(ctx, payload, signature)
	if err != nil {
		// Signature or payload failures are the sender's problem; do not
		// acknowledge so the processor redelivers or alerts.
		return subscription.NewExternalError("parse webhook", err)
	}

	if event.EventID != "" {
		seen, err := c.dedupe.Seen(ctx, event.EventID)
		if err != nil {
			return err
		}
		if seen {
			c.log.DebugContext(ctx, "duplicate webhook skipped", "event_id", event.EventID)
			return nil
		}
	}

	if err := c.applyEvent(ctx, event, payload); err != nil {
		return err
	}

	if event.EventID != "" {
		if err := c.dedupe.Mark(ctx, event.EventID); err != nil {
			// Worst case the event is re-applied; every apply path is
			// idempotent, so log and acknowledge.
			c.log.ErrorContext(ctx, "failed to mark webhook processed", "event_id", event.EventID, "error", err)
		}
	}
	return nil
}

func (c *Coordinator) applyEvent(ctx context.Context, event *WebhookEvent, payload []byte) error {
	if event.Type == EventUnknown {
		c.log.DebugContext(ctx, "ignoring unmapped webhook event", "provider_event", event.ProviderEvent)
		return nil
	}

	userID, err := uuid.Parse(event.CustomerID)
	if err != nil {
		return c.park(ctx, event, payload, "customer ID is not a valid user ID")
	}

	switch event.Type {
	case EventCheckoutCompleted:
		return c.applyCheckoutCompleted(ctx, event, payload, userID)

	case EventPaymentSucceeded:
		_, err = c.retryOnConflict(ctx, func() (*subscription.Record, error) {
			return c.engine.ApplyPaymentSucceeded(ctx, userID)
		})
	case EventPaymentFailed:
		_, err = c.retryOnConflict(ctx, func() (*subscription.Record, error) {
			return c.engine.ApplyPaymentFailed(ctx, userID)
		})
	case EventSubscriptionCancelled:
		_, err = c.retryOnConflict(ctx, func() (*subscription.Record, error) {
			return c.engine.ApplyProcessorCancelled(ctx, userID)
		})
	}

	if err != nil {
		if subscription.IsValidationError(err) || subscription.IsNotFoundError(err) {
			return c.park(ctx, event, payload, err.Error())
		}
		return err
	}
	return nil
}

func (c *Coordinator) applyCheckoutCompleted(ctx context.Context, event *WebhookEvent, payload []byte, userID uuid.UUID) error {
	plan, err := c.engine.ValidateSubscribe(ctx, userID, event.PlanID)
	if err != nil {
		if errors.Is(err, subscription.ErrAlreadySubscribed) {
			// Redelivered completion for an already-activated checkout.
			return nil
		}
		if subscription.IsValidationError(err) || subscription.IsNotFoundError(err) {
			return c.park(ctx, event, payload, err.Error())
		}
		return err
	}

	_, err = c.engine.ActivateSubscription(ctx, userID, plan, event.SubscriptionID, customerIDFromRaw(event))
	if err != nil {
		if errors.Is(err, subscription.ErrAlreadySubscribed) {
			return nil
		}
		return err
	}
	return nil
}

// retryOnConflict retries exactly once after a concurrent mutation; the
// engine re-reads the record on each attempt.
func (c *Coordinator) retryOnConflict(ctx context.Context, fn func() (*subscription.Record, error)) (*subscription.Record, error) {
	rec, err := fn()
	if subscription.IsConflictError(err) {
		rec, err = fn()
	}
	return rec, err
}

func (c *Coordinator) park(ctx context.Context, event *WebhookEvent, payload []byte, reason string) error {
	c.log.WarnContext(ctx, "parking unresolvable webhook event",
		"event_id", event.EventID, "type", event.Type, "reason", reason)
	return c.repo.ParkEvent(ctx, store.ParkedEvent{
		EventID:   event.EventID,
		EventType: string(event.Type),
		Payload:   payload,
		Reason:    reason,
	})
}

func customerIDFromRaw(event *WebhookEvent) string {
	if id, ok := event.Raw["customer_id"].(string); ok {
		return id
	}
	return ""
}
