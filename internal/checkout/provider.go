package checkout

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// BillingProvider is the minimal payment-processor abstraction. The
// provider owns all payment complexity through hosted checkouts; this
// keeps vendor lock-in and PCI concerns out of the core.
type BillingProvider interface {
	// CreateCheckoutSession creates a hosted checkout session and
	// returns an opaque redirect URL. Idempotent by request key.
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error)

	// ChargeProrated charges a one-off prorated amount against an
	// existing subscription (admin immediate plan changes).
	ChargeProrated(ctx context.Context, req ChargeRequest) (*Receipt, error)

	// Refund returns money for the current cycle. Never retried
	// automatically; a failed refund needs an explicit operator retry.
	Refund(ctx context.Context, req RefundRequest) (*Receipt, error)

	// ParseWebhook verifies the event signature and normalizes the
	// payload into a WebhookEvent.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error)
}

// SessionRequest contains data needed to create a checkout session.
type SessionRequest struct {
	PriceID        string // provider's price/plan identifier
	CustomerID     string // internal user ID, round-tripped via custom data
	Email          string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// Session is a hosted checkout session.
type Session struct {
	URL       string
	SessionID string
	ExpiresAt time.Time
}

// ChargeRequest is a one-off charge against an existing subscription.
type ChargeRequest struct {
	ProcessorSubID string
	CustomerID     string
	Amount         decimal.Decimal // currency units
	Currency       string
	Description    string
	IdempotencyKey string
}

// RefundRequest returns money for the current billing cycle.
type RefundRequest struct {
	ProcessorSubID string
	Amount         decimal.Decimal // currency units
	Currency       string
	Reason         string
}

// Receipt acknowledges a charge or refund accepted by the provider.
type Receipt struct {
	ReceiptID string
	Amount    decimal.Decimal
	Currency  string
}

// EventType is the normalized processor event type.
type EventType string

const (
	EventCheckoutCompleted     EventType = "checkout_completed"
	EventPaymentSucceeded      EventType = "payment_succeeded"
	EventPaymentFailed         EventType = "payment_failed"
	EventSubscriptionCancelled EventType = "subscription_cancelled"
	EventUnknown               EventType = "unknown"
)

// WebhookEvent is a normalized processor notification.
type WebhookEvent struct {
	EventID        string
	Type           EventType
	ProviderEvent  string // original provider event name
	SubscriptionID string // provider's subscription ID
	CustomerID     string // internal user ID from custom data
	PlanID         string
	Status         string
	Raw            map[string]any
}
