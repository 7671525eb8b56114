package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/shopspring/decimal"
)

// PaddleConfig holds configuration for the Paddle billing provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	// BaseURL overrides the API endpoint. Tests point it at a local
	// server; leave empty for the real environment-selected endpoint.
	BaseURL string `env:"PADDLE_BASE_URL"`
}

// PaddleProvider implements BillingProvider on the official Paddle SDK.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

// NewPaddleProvider creates a Paddle billing provider.
func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("paddle API key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("paddle webhook secret is required")
	}

	var opts []paddle.Option
	if cfg.BaseURL != "" {
		opts = append(opts, paddle.WithBaseURL(cfg.BaseURL))
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey, opts...)
	case "production", "":
		client, err = paddle.New(cfg.APIKey, opts...)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
	}, nil
}

// CreateCheckoutSession creates a hosted checkout transaction in Paddle.
func (p *PaddleProvider) CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if req.PriceID == "" {
		return nil, errors.New("price ID is required")
	}
	if req.CustomerID == "" {
		return nil, errors.New("customer ID is required")
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	transactionReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"customer_id":     req.CustomerID,
			"idempotency_key": req.IdempotencyKey,
		},
	}
	if req.Email != "" {
		transactionReq.CustomData["email"] = req.Email
	}
	if req.SuccessURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle transaction: %w", err)
	}

	if transaction.Checkout == nil || transaction.Checkout.URL == nil {
		return nil, errors.New("no checkout URL returned from paddle")
	}

	return &Session{
		URL:       *transaction.Checkout.URL,
		SessionID: transaction.ID,
		// Paddle checkout links typically expire in 24 hours
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

// ChargeProrated creates a one-off transaction for the prorated amount.
// The amount is passed through custom data so the webhook can reconcile
// the charge against the override that caused it.
func (p *PaddleProvider) ChargeProrated(ctx context.Context, req ChargeRequest) (*Receipt, error) {
	if req.ProcessorSubID == "" {
		return nil, errors.New("processor subscription ID is required")
	}

	transactionReq := &paddle.CreateTransactionRequest{
		CustomData: paddle.CustomData{
			"customer_id":     req.CustomerID,
			"subscription_id": req.ProcessorSubID,
			"description":     req.Description,
			"amount":          req.Amount.StringFixed(2),
			"currency":        req.Currency,
			"idempotency_key": req.IdempotencyKey,
		},
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle charge: %w", err)
	}

	return &Receipt{
		ReceiptID: transaction.ID,
		Amount:    req.Amount,
		Currency:  req.Currency,
	}, nil
}

// Refund issues a refund adjustment against the subscription's latest
// transaction.
func (p *PaddleProvider) Refund(ctx context.Context, req RefundRequest) (*Receipt, error) {
	if req.ProcessorSubID == "" {
		return nil, errors.New("processor subscription ID is required")
	}
	if req.Reason == "" {
		return nil, errors.New("refund reason is required")
	}

	// Paddle refunds are adjustments against the transaction that was
	// charged, not against the subscription itself, so resolve the latest
	// completed transaction on the subscription first.
	txns, err := p.client.TransactionsClient.ListTransactions(ctx, &paddle.ListTransactionsRequest{
		SubscriptionID: []string{req.ProcessorSubID},
		Status:         []string{string(paddle.TransactionStatusCompleted)},
		OrderBy:        paddle.PtrTo("billed_at[DESC]"),
		PerPage:        paddle.PtrTo(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list paddle transactions: %w", err)
	}

	res := txns.Next(ctx)
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("failed to read paddle transactions: %w", err)
	}
	if !res.Ok() {
		return nil, errors.New("no refundable transaction on paddle subscription")
	}
	txn := res.Value()

	adjustmentReq := &paddle.CreateAdjustmentRequest{
		Action:        paddle.AdjustmentActionRefund,
		TransactionID: txn.ID,
		Reason:        req.Reason,
	}

	amount := CentsString(req.Amount)
	if amount == txn.Details.Totals.GrandTotal {
		adjustmentReq.Type = paddle.PtrTo(paddle.AdjustmentTypeFull)
	} else {
		// Partial adjustments are itemized. Checkout transactions here
		// carry exactly one catalog item, so the whole amount lands on it.
		if len(txn.Details.LineItems) == 0 {
			return nil, errors.New("paddle transaction has no line items to adjust")
		}
		adjustmentReq.Type = paddle.PtrTo(paddle.AdjustmentTypePartial)
		adjustmentReq.Items = []paddle.AdjustmentItemCreate{{
			ItemID: txn.Details.LineItems[0].ID,
			Type:   paddle.AdjustmentItemCreateTypePartial,
			Amount: paddle.PtrTo(amount),
		}}
	}

	adjustment, err := p.client.AdjustmentsClient.CreateAdjustment(ctx, adjustmentReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle refund: %w", err)
	}

	return &Receipt{
		ReceiptID: adjustment.ID,
		Amount:    req.Amount,
		Currency:  req.Currency,
	}, nil
}

// ParseWebhook verifies the Paddle signature and normalizes the event.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, fmt.Errorf("webhook verification error: %w", err)
	}
	if !valid {
		return nil, errors.New("webhook signature verification failed")
	}

	var paddleEvent struct {
		EventID   string         `json:"event_id"`
		EventType string         `json:"event_type"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &paddleEvent); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	event := &WebhookEvent{
		EventID:       paddleEvent.EventID,
		Type:          MapPaddleEventType(paddleEvent.EventType),
		ProviderEvent: paddleEvent.EventType,
		Raw:           paddleEvent.Data,
	}

	if id, ok := paddleEvent.Data["id"].(string); ok {
		event.SubscriptionID = id
	}
	if subID, ok := paddleEvent.Data["subscription_id"].(string); ok {
		event.SubscriptionID = subID
	}
	if status, ok := paddleEvent.Data["status"].(string); ok {
		event.Status = status
	}
	if customData, ok := paddleEvent.Data["custom_data"].(map[string]any); ok {
		if customerID, ok := customData["customer_id"].(string); ok {
			event.CustomerID = customerID
		}
	}
	if items, ok := paddleEvent.Data["items"].([]any); ok && len(items) > 0 {
		if item, ok := items[0].(map[string]any); ok {
			if priceID, ok := item["price_id"].(string); ok {
				event.PlanID = priceID
			} else if price, ok := item["price"].(map[string]any); ok {
				if priceID, ok := price["id"].(string); ok {
					event.PlanID = priceID
				}
			}
		}
	}

	return event, nil
}

// MapPaddleEventType normalizes a Paddle event name onto the internal
// event taxonomy. Unmapped events come back as EventUnknown and are
// acknowledged without action.
func MapPaddleEventType(paddleEvent string) EventType {
	switch paddleEvent {
	case "transaction.completed", "checkout.completed":
		return EventCheckoutCompleted
	case "transaction.payment_succeeded", "subscription.payment_succeeded":
		return EventPaymentSucceeded
	case "transaction.payment_failed", "subscription.payment_failed":
		return EventPaymentFailed
	case "subscription.canceled", "subscription.cancelled":
		return EventSubscriptionCancelled
	default:
		return EventUnknown
	}
}

// CentsString renders a decimal currency amount in the lowest
// denomination string Paddle expects.
func CentsString(amount decimal.Decimal) string {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).String()
}
