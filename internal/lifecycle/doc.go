// Package lifecycle implements the subscription state machine: it
// validates user intents against the plan catalog and the current
// record, schedules plan changes for period boundaries, applies
// processor payment outcomes, and reconciles records when their billing
// period ends.
//
// The engine never talks to the payment processor. Charging is owned by
// the checkout coordinator and admin override engine; this package only
// decides which transitions are legal and persists them.
package lifecycle
