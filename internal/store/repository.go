package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/renewkit/renewkit/internal/subscription"
)

// Filter narrows admin subscription listings.
type Filter struct {
	Status subscription.Status // empty matches all
	PlanID string              // empty matches all
	Limit  int
	Offset int
}

// ParkedEvent is a webhook event that could not be applied and is held
// for manual inspection instead of being dropped.
type ParkedEvent struct {
	ID        uuid.UUID
	EventID   string
	EventType string
	Payload   []byte
	Reason    string
	CreatedAt time.Time
}

// Repository is the single query and mutation surface over subscription
// records. Three independent actors race on the same record (the user,
// processor webhooks, and the reconciliation job), so Update enforces
// optimistic concurrency via the record's version field.
type Repository interface {
	// Get returns the user's current record, terminal or not the most
	// recent one. Returns ErrNotSubscribed when the user never subscribed.
	Get(ctx context.Context, userID uuid.UUID) (*subscription.Record, error)

	// GetByID returns a record by its primary key.
	GetByID(ctx context.Context, id uuid.UUID) (*subscription.Record, error)

	// Create inserts a new record. Fails with ErrAlreadySubscribed when a
	// current (non-terminal) record already exists for the user.
	Create(ctx context.Context, rec *subscription.Record) error

	// Update writes the record if and only if the stored version matches
	// rec.Version, then increments it. A stale version fails with
	// ErrVersionConflict; the caller re-reads and retries.
	Update(ctx context.Context, rec *subscription.Record) error

	// HasUsedTrial reports whether the user ever held a trial plan.
	// Derived from history, so it stays true across records.
	HasUsedTrial(ctx context.Context, userID uuid.UUID) (bool, error)

	// List returns records matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]*subscription.Record, error)

	// ListDueForReconciliation returns non-terminal records whose period
	// ended at or before now, oldest first, up to limit.
	ListDueForReconciliation(ctx context.Context, now time.Time, limit int) ([]*subscription.Record, error)

	// AppendHistory records an audit entry for a transition.
	AppendHistory(ctx context.Context, entry subscription.HistoryEntry) error

	// ParkEvent stores an unresolvable webhook event for inspection.
	ParkEvent(ctx context.Context, ev ParkedEvent) error
}
