package subscription

import (
	"time"

	"github.com/google/uuid"
)

// Record is the persisted subscription state for one user. At most one
// record with a current status exists per user at a time; terminal
// records are kept for history.
type Record struct {
	ID     uuid.UUID
	UserID uuid.UUID
	PlanID string
	Status Status

	StartDate time.Time
	EndDate   time.Time

	// NextPlanID and ScheduledChangeAt are set together or not at all.
	// A scheduled change only ever takes effect at the current period's
	// boundary, so ScheduledChangeAt always equals EndDate when set.
	NextPlanID        *string
	ScheduledChangeAt *time.Time

	ProcessorSubID      string // empty for trial/free plans
	ProcessorCustomerID string

	CancelledAt *time.Time
	// RevokedAt is set only by administrative revocation with immediate
	// effect. A soft cancel leaves it nil and access runs to EndDate.
	RevokedAt *time.Time

	// Version is bumped on every write; stale-version writes fail with
	// a ConflictError.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *Record) IsTrialing() bool {
	return r.Status == StatusTrialing
}

func (r *Record) IsActive() bool {
	return r.Status == StatusActive
}

func (r *Record) IsCancelled() bool {
	return r.Status == StatusCancelled
}

// HasScheduledChange reports whether a plan change is pending for the
// period boundary.
func (r *Record) HasScheduledChange() bool {
	return r.NextPlanID != nil && r.ScheduledChangeAt != nil
}

// SetSchedule records a pending plan change taking effect at the current
// period's end. Re-scheduling replaces any previous schedule.
func (r *Record) SetSchedule(planID string) {
	at := r.EndDate
	r.NextPlanID = &planID
	r.ScheduledChangeAt = &at
}

// ClearSchedule drops any pending plan change.
func (r *Record) ClearSchedule() {
	r.NextPlanID = nil
	r.ScheduledChangeAt = nil
}

// HasActiveAccess reports whether the user can use the product at the
// given instant. A soft-cancelled subscription keeps access through the
// already-paid period; only administrative revocation ends it early.
func (r *Record) HasActiveAccess(now time.Time) bool {
	if r.Status.IsTerminal() {
		return false
	}
	if r.RevokedAt != nil && !now.Before(*r.RevokedAt) {
		return false
	}
	return !now.After(r.EndDate)
}

// HistoryAction identifies what produced a history entry.
type HistoryAction string

const (
	ActionSubscribed      HistoryAction = "subscribed"
	ActionScheduled       HistoryAction = "change_scheduled"
	ActionScheduleCleared HistoryAction = "schedule_cleared"
	ActionCancelled       HistoryAction = "cancelled"
	ActionReconciled      HistoryAction = "reconciled"
	ActionExpired         HistoryAction = "expired"
	ActionPaymentOutcome  HistoryAction = "payment_outcome"
	ActionAdminUpgrade    HistoryAction = "admin_upgrade"
	ActionAdminDowngrade  HistoryAction = "admin_downgrade"
	ActionAdminRevoke     HistoryAction = "admin_revoke"
	ActionAdminRefund     HistoryAction = "admin_refund"
)

// HistoryEntry is an append-only audit row recorded for every transition.
// Trial consumption is derived from this history, which makes it sticky
// across records.
type HistoryEntry struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	UserID         uuid.UUID
	PlanID         string
	Status         Status
	Action         HistoryAction
	Reason         string
	ActorID        string // admin identifier for override actions, empty otherwise
	CreatedAt      time.Time
}
