// Package admin implements administrator-privileged overrides: immediate
// plan changes with proration, access revocation, and refunds. Overrides
// bypass the self-service scheduling rules but still respect the same
// status state machine, and every call is idempotent per
// subscription+operation+admin-supplied key so a retried request cannot
// double-charge.
package admin
