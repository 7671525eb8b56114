package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renewkit/renewkit/internal/catalog"
	"github.com/renewkit/renewkit/internal/lifecycle"
	"github.com/renewkit/renewkit/internal/store"
	"github.com/renewkit/renewkit/internal/subscription"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(context.Background(), catalog.StaticSource{
		"trial": {
			ID: "trial", Name: "Trial", Price: decimal.Zero,
			DurationMonths: 1, TrialDays: 14, Tier: 0, Active: true,
		},
		"free": {
			ID: "free", Name: "Free", Price: decimal.Zero,
			DurationMonths: 1, Tier: 0, Active: true,
		},
		"starter": {
			ID: "starter", Name: "Starter", Price: decimal.RequireFromString("9.99"),
			DurationMonths: 1, Tier: 1, Active: true,
		},
		"pro": {
			ID: "pro", Name: "Pro", Price: decimal.RequireFromString("29.99"),
			DurationMonths: 1, Tier: 2, Active: true,
		},
	})
	require.NoError(t, err)
	return cat
}

func newEngine(t *testing.T) (*lifecycle.Engine, *store.Memory) {
	t.Helper()
	repo := store.NewMemory()
	engine := lifecycle.New(repo, testCatalog(t),
		lifecycle.WithClock(func() time.Time { return testNow }))
	return engine, repo
}

func subscribe(t *testing.T, engine *lifecycle.Engine, userID uuid.UUID, planID string) *subscription.Record {
	t.Helper()
	ctx := context.Background()
	plan, err := engine.ValidateSubscribe(ctx, userID, planID)
	require.NoError(t, err)
	rec, err := engine.ActivateSubscription(ctx, userID, plan, "psub_1", "pcus_1")
	require.NoError(t, err)
	return rec
}

func TestValidateSubscribe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("rejects a second current subscription", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t)
		userID := uuid.New()
		subscribe(t, engine, userID, "starter")

		_, err := engine.ValidateSubscribe(ctx, userID, "pro")
		assert.ErrorIs(t, err, subscription.ErrAlreadySubscribed)
	})

	t.Run("unknown plan", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t)
		_, err := engine.ValidateSubscribe(ctx, uuid.New(), "nope")
		assert.True(t, subscription.IsNotFoundError(err))
	})

	t.Run("trial is single use across records", func(t *testing.T) {
		t.Parallel()
		engine, repo := newEngine(t)
		userID := uuid.New()

		rec := subscribe(t, engine, userID, "trial")
		assert.Equal(t, subscription.StatusTrialing, rec.Status)

		// The trial record expires; its consumption sticks via history.
		rec.Status = subscription.StatusExpired
		require.NoError(t, repo.Update(ctx, rec))

		_, err := engine.ValidateSubscribe(ctx, userID, "trial")
		assert.ErrorIs(t, err, subscription.ErrTrialAlreadyUsed)

		// A paid plan is still fine.
		_, err = engine.ValidateSubscribe(ctx, userID, "starter")
		assert.NoError(t, err)
	})
}

func TestActivateSubscription(t *testing.T) {
	t.Parallel()

	t.Run("paid plan", func(t *testing.T) {
		t.Parallel()
		engine, repo := newEngine(t)
		userID := uuid.New()

		rec := subscribe(t, engine, userID, "starter")
		assert.Equal(t, subscription.StatusActive, rec.Status)
		assert.Equal(t, testNow, rec.StartDate)
		assert.Equal(t, testNow.AddDate(0, 1, 0), rec.EndDate)

		history := repo.History()
		require.Len(t, history, 1)
		assert.Equal(t, subscription.ActionSubscribed, history[0].Action)
	})

	t.Run("trial plan runs for the trial window", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t)
		rec := subscribe(t, engine, uuid.New(), "trial")
		assert.Equal(t, subscription.StatusTrialing, rec.Status)
		assert.Equal(t, testNow.AddDate(0, 0, 14), rec.EndDate)
	})
}

func TestScheduleChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("schedules at the period boundary", func(t *testing.T) {
		t.Parallel()
		engine, repo := newEngine(t)
		userID := uuid.New()
		subscribe(t, engine, userID, "starter")

		rec, err := engine.ScheduleChange(ctx, userID, "pro")
		require.NoError(t, err)
		require.True(t, rec.HasScheduledChange())
		assert.Equal(t, "pro", *rec.NextPlanID)
		assert.Equal(t, rec.EndDate, *rec.ScheduledChangeAt)
		assert.Equal(t, "starter", rec.PlanID, "current plan is untouched until the boundary")

		history := repo.History()
		require.Len(t, history, 2)
		assert.Equal(t, subscription.ActionScheduled, history[1].Action)
		assert.Equal(t, "upgrade from starter to pro at period end", history[1].Reason)
	})

	t.Run("re-scheduling replaces the previous schedule", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t)
		userID := uuid.New()
		subscribe(t, engine, userID, "starter")

		_, err := engine.ScheduleChange(ctx, userID, "pro")
		require.NoError(t, err)

		rec, err := engine.ScheduleChange(ctx, userID, "free")
		require.NoError(t, err)
		assert.Equal(t, "free", *rec.NextPlanID)
	})

	t.Run("same plan without a schedule is rejected", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t)
		userID := uuid.New()
		subscribe(t, engine, userID, "starter")

		_, err := engine.ScheduleChange(ctx, userID, "starter")
		assert.ErrorIs(t, err, subscription.ErrAlreadyOnPlan)
	})

	t.Run("re-selecting the current plan clears a pending schedule", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t)
		userID := uuid.New()
		subscribe(t, engine, userID, "starter")

		_, err := engine.ScheduleChange(ctx, userID, "pro")
		require.NoError(t, err)

		rec, err := engine.ScheduleChange(ctx, userID, "starter")
		require.NoError(t, err)
		assert.False(t, rec.HasScheduledChange())
	})

	t.Run("scheduling a used trial is rejected", func(t *testing.T) {
		t.Parallel()
		engine, repo := newEngine(t)
		userID := uuid.New()

		trialRec := subscribe(t, engine, userID, "trial")
		trialRec.Status = subscription.StatusExpired
		require.NoError(t, repo.Update(ctx, trialRec))

		subscribe(t, engine, userID, "starter")
		_, err := engine.ScheduleChange(ctx, userID, "trial")
		assert.ErrorIs(t, err, subscription.ErrTrialAlreadyUsed)
	})

	t.Run("requires trialing or active status", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t)
		userID := uuid.New()
		subscribe(t, engine, userID, "starter")

		_, err := engine.Cancel(ctx, userID)
		require.NoError(t, err)

		_, err = engine.ScheduleChange(ctx, userID, "pro")
		assert.True(t, subscription.IsValidationError(err))
	})
}

func TestCancelScheduledChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	engine, _ := newEngine(t)
	userID := uuid.New()
	subscribe(t, engine, userID, "starter")

	_, err := engine.CancelScheduledChange(ctx, userID)
	assert.ErrorIs(t, err, subscription.ErrNoScheduledChange)

	_, err = engine.ScheduleChange(ctx, userID, "pro")
	require.NoError(t, err)

	rec, err := engine.CancelScheduledChange(ctx, userID)
	require.NoError(t, err)
	assert.False(t, rec.HasScheduledChange())
	assert.Equal(t, subscription.StatusActive, rec.Status)
	assert.Equal(t, "starter", rec.PlanID)
}

func TestCancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("soft cancel keeps the paid period", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t)
		userID := uuid.New()
		created := subscribe(t, engine, userID, "starter")

		rec, err := engine.Cancel(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCancelled, rec.Status)
		require.NotNil(t, rec.CancelledAt)
		assert.Equal(t, testNow, *rec.CancelledAt)
		assert.Equal(t, created.EndDate, rec.EndDate, "end date is never shortened by a soft cancel")
		assert.Nil(t, rec.RevokedAt)
		assert.True(t, rec.HasActiveAccess(testNow.AddDate(0, 0, 7)))
	})

	t.Run("cancel drops a pending schedule", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t)
		userID := uuid.New()
		subscribe(t, engine, userID, "starter")

		_, err := engine.ScheduleChange(ctx, userID, "pro")
		require.NoError(t, err)

		rec, err := engine.Cancel(ctx, userID)
		require.NoError(t, err)
		assert.False(t, rec.HasScheduledChange())
	})

	t.Run("double cancel is rejected", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t)
		userID := uuid.New()
		subscribe(t, engine, userID, "starter")

		_, err := engine.Cancel(ctx, userID)
		require.NoError(t, err)
		_, err = engine.Cancel(ctx, userID)
		assert.True(t, subscription.IsValidationError(err))
	})
}

func TestPaymentEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("failure then recovery", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t)
		userID := uuid.New()
		subscribe(t, engine, userID, "starter")

		rec, err := engine.ApplyPaymentFailed(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusPastDue, rec.Status)

		rec, err = engine.ApplyPaymentSucceeded(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, rec.Status)
	})

	t.Run("success on active extends the period", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t)
		userID := uuid.New()
		created := subscribe(t, engine, userID, "starter")

		rec, err := engine.ApplyPaymentSucceeded(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, created.EndDate.AddDate(0, 1, 0), rec.EndDate)
	})

	t.Run("renewal moves a pending schedule to the new boundary", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t)
		userID := uuid.New()
		subscribe(t, engine, userID, "starter")

		_, err := engine.ScheduleChange(ctx, userID, "pro")
		require.NoError(t, err)

		rec, err := engine.ApplyPaymentSucceeded(ctx, userID)
		require.NoError(t, err)
		require.True(t, rec.HasScheduledChange())
		assert.Equal(t, "pro", *rec.NextPlanID)
		assert.Equal(t, rec.EndDate, *rec.ScheduledChangeAt, "the change fires at the extended boundary")
	})

	t.Run("processor cancel is idempotent", func(t *testing.T) {
		t.Parallel()
		engine, _ := newEngine(t)
		userID := uuid.New()
		subscribe(t, engine, userID, "starter")

		first, err := engine.ApplyProcessorCancelled(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCancelled, first.Status)

		second, err := engine.ApplyProcessorCancelled(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, first.Status, second.Status)
		assert.Equal(t, first.Version, second.Version, "duplicate notification must not rewrite the record")
	})
}
