package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renewkit/renewkit/internal/store"
	"github.com/renewkit/renewkit/internal/subscription"
)

func newRecord(userID uuid.UUID, status subscription.Status) *subscription.Record {
	now := time.Now().UTC()
	return &subscription.Record{
		ID:        uuid.New(),
		UserID:    userID,
		PlanID:    "starter",
		Status:    status,
		StartDate: now,
		EndDate:   now.AddDate(0, 1, 0),
	}
}

func TestMemorySingleCurrentRecord(t *testing.T) {
	t.Parallel()

	repo := store.NewMemory()
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, repo.Create(ctx, newRecord(userID, subscription.StatusActive)))

	err := repo.Create(ctx, newRecord(userID, subscription.StatusActive))
	assert.ErrorIs(t, err, subscription.ErrAlreadySubscribed)

	// A terminal record does not block a new subscription.
	otherUser := uuid.New()
	expired := newRecord(otherUser, subscription.StatusExpired)
	require.NoError(t, repo.Create(ctx, expired))
	require.NoError(t, repo.Create(ctx, newRecord(otherUser, subscription.StatusActive)))
}

func TestMemoryGetPrefersCurrent(t *testing.T) {
	t.Parallel()

	repo := store.NewMemory()
	ctx := context.Background()
	userID := uuid.New()

	expired := newRecord(userID, subscription.StatusExpired)
	require.NoError(t, repo.Create(ctx, expired))

	current := newRecord(userID, subscription.StatusCancelled)
	require.NoError(t, repo.Create(ctx, current))

	got, err := repo.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, current.ID, got.ID, "cancelled record is still the current one")
}

func TestMemoryGetNotSubscribed(t *testing.T) {
	t.Parallel()

	repo := store.NewMemory()
	_, err := repo.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, subscription.ErrNotSubscribed)
	assert.True(t, subscription.IsNotFoundError(err))
}

func TestMemoryOptimisticConcurrency(t *testing.T) {
	t.Parallel()

	repo := store.NewMemory()
	ctx := context.Background()
	userID := uuid.New()

	rec := newRecord(userID, subscription.StatusActive)
	require.NoError(t, repo.Create(ctx, rec))

	// Two readers pick up the same version.
	first, err := repo.Get(ctx, userID)
	require.NoError(t, err)
	second, err := repo.Get(ctx, userID)
	require.NoError(t, err)

	first.Status = subscription.StatusPastDue
	require.NoError(t, repo.Update(ctx, first))

	second.Status = subscription.StatusCancelled
	err = repo.Update(ctx, second)
	assert.ErrorIs(t, err, subscription.ErrVersionConflict)
	assert.True(t, subscription.IsConflictError(err))

	// Re-read and retry succeeds.
	fresh, err := repo.Get(ctx, userID)
	require.NoError(t, err)
	fresh.Status = subscription.StatusCancelled
	require.NoError(t, repo.Update(ctx, fresh))
	assert.Equal(t, int64(3), fresh.Version)
}

func TestMemoryUpdateReturnsCopies(t *testing.T) {
	t.Parallel()

	repo := store.NewMemory()
	ctx := context.Background()
	userID := uuid.New()

	rec := newRecord(userID, subscription.StatusActive)
	rec.SetSchedule("pro")
	require.NoError(t, repo.Create(ctx, rec))

	got, err := repo.Get(ctx, userID)
	require.NoError(t, err)

	// Mutating the returned record must not leak into the store.
	*got.NextPlanID = "mutated"
	again, err := repo.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "pro", *again.NextPlanID)
}

func TestMemoryHasUsedTrial(t *testing.T) {
	t.Parallel()

	repo := store.NewMemory()
	ctx := context.Background()
	userID := uuid.New()

	used, err := repo.HasUsedTrial(ctx, userID)
	require.NoError(t, err)
	assert.False(t, used)

	// Trial consumption is derived from history, so it survives the
	// record that produced it.
	require.NoError(t, repo.AppendHistory(ctx, subscription.HistoryEntry{
		SubscriptionID: uuid.New(),
		UserID:         userID,
		PlanID:         "trial",
		Status:         subscription.StatusTrialing,
		Action:         subscription.ActionSubscribed,
	}))

	used, err = repo.HasUsedTrial(ctx, userID)
	require.NoError(t, err)
	assert.True(t, used)
}

func TestMemoryList(t *testing.T) {
	t.Parallel()

	repo := store.NewMemory()
	ctx := context.Background()

	for range 3 {
		require.NoError(t, repo.Create(ctx, newRecord(uuid.New(), subscription.StatusActive)))
	}
	pastDue := newRecord(uuid.New(), subscription.StatusPastDue)
	pastDue.PlanID = "pro"
	require.NoError(t, repo.Create(ctx, pastDue))

	all, err := repo.List(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	byStatus, err := repo.List(ctx, store.Filter{Status: subscription.StatusPastDue})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, pastDue.ID, byStatus[0].ID)

	byPlan, err := repo.List(ctx, store.Filter{PlanID: "pro"})
	require.NoError(t, err)
	assert.Len(t, byPlan, 1)

	limited, err := repo.List(ctx, store.Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestMemoryListDueForReconciliation(t *testing.T) {
	t.Parallel()

	repo := store.NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	due := newRecord(uuid.New(), subscription.StatusCancelled)
	due.EndDate = now.AddDate(0, 0, -1)
	require.NoError(t, repo.Create(ctx, due))

	notDue := newRecord(uuid.New(), subscription.StatusActive)
	require.NoError(t, repo.Create(ctx, notDue))

	terminal := newRecord(uuid.New(), subscription.StatusExpired)
	terminal.EndDate = now.AddDate(0, 0, -5)
	require.NoError(t, repo.Create(ctx, terminal))

	got, err := repo.ListDueForReconciliation(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
}
