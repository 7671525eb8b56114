package subscription

// Status represents the current state of a subscription record.
type Status string

const (
	StatusTrialing  Status = "trialing"
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusRefunded  Status = "refunded"
)

// IsTerminal reports whether the status ends the record's lifecycle.
// Terminal records are retained for history and never mutated again;
// a new subscription requires a fresh record.
func (s Status) IsTerminal() bool {
	return s == StatusExpired || s == StatusRefunded
}

// IsCurrent reports whether the status counts toward the
// single-record-per-user invariant. Cancelled subscriptions remain the
// current record until their end date passes.
func (s Status) IsCurrent() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue, StatusCancelled:
		return true
	}
	return false
}

// transitions enumerates every legal status change. Nested map keyed by
// source status for O(1) lookup, same shape as a guarded transition table.
var transitions = map[Status]map[Status]bool{
	StatusTrialing: {
		StatusActive:    true, // payment confirmed
		StatusPastDue:   true, // scheduled move to a paid plan, charge pending
		StatusCancelled: true, // self-service cancel or admin revoke
		StatusExpired:   true, // trial lapsed without conversion
	},
	StatusActive: {
		StatusPastDue:   true, // renewal or plan-change charge failed/pending
		StatusCancelled: true,
		StatusRefunded:  true, // admin refund
	},
	StatusPastDue: {
		StatusActive:    true, // payment recovered
		StatusCancelled: true,
		StatusRefunded:  true,
	},
	StatusCancelled: {
		StatusExpired: true, // period boundary passed without renewal
	},
}

// CanTransition reports whether moving a record from one status to
// another is legal. Same-status writes are always allowed so idempotent
// re-application of an event is not rejected here.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	return transitions[from][to]
}
