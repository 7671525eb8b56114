// Package checkout owns the payment-processor boundary: creating hosted
// checkout sessions for new paid subscriptions, charging prorated
// amounts and issuing refunds for admin overrides, and ingesting
// processor webhooks.
//
// Webhook processing is idempotent against duplicate delivery (dedupe by
// event ID) and never drops an event silently: events that cannot be
// applied are parked for manual inspection.
package checkout
