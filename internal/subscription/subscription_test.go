package subscription_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/renewkit/renewkit/internal/subscription"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to subscription.Status
		want     bool
	}{
		{subscription.StatusTrialing, subscription.StatusActive, true},
		{subscription.StatusTrialing, subscription.StatusPastDue, true},
		{subscription.StatusTrialing, subscription.StatusCancelled, true},
		{subscription.StatusTrialing, subscription.StatusExpired, true},
		{subscription.StatusActive, subscription.StatusPastDue, true},
		{subscription.StatusActive, subscription.StatusCancelled, true},
		{subscription.StatusActive, subscription.StatusRefunded, true},
		{subscription.StatusActive, subscription.StatusTrialing, false},
		{subscription.StatusPastDue, subscription.StatusActive, true},
		{subscription.StatusPastDue, subscription.StatusRefunded, true},
		{subscription.StatusCancelled, subscription.StatusExpired, true},
		{subscription.StatusCancelled, subscription.StatusActive, false},
		{subscription.StatusExpired, subscription.StatusActive, false},
		{subscription.StatusRefunded, subscription.StatusActive, false},
		// Idempotent re-application of the same status is always legal.
		{subscription.StatusActive, subscription.StatusActive, true},
		{subscription.StatusExpired, subscription.StatusExpired, true},
	}

	for _, tt := range tests {
		got := subscription.CanTransition(tt.from, tt.to)
		assert.Equal(t, tt.want, got, "%s -> %s", tt.from, tt.to)
	}
}

func TestStatusClassification(t *testing.T) {
	t.Parallel()

	assert.True(t, subscription.StatusExpired.IsTerminal())
	assert.True(t, subscription.StatusRefunded.IsTerminal())
	assert.False(t, subscription.StatusCancelled.IsTerminal())

	assert.True(t, subscription.StatusCancelled.IsCurrent(), "cancelled stays current until the period ends")
	assert.True(t, subscription.StatusPastDue.IsCurrent())
	assert.False(t, subscription.StatusExpired.IsCurrent())
}

func TestHasActiveAccess(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	end := now.AddDate(0, 0, 10)

	t.Run("active within period", func(t *testing.T) {
		t.Parallel()
		rec := &subscription.Record{Status: subscription.StatusActive, EndDate: end}
		assert.True(t, rec.HasActiveAccess(now))
	})

	t.Run("soft cancel keeps access until end date", func(t *testing.T) {
		t.Parallel()
		cancelled := now
		rec := &subscription.Record{
			Status:      subscription.StatusCancelled,
			EndDate:     end,
			CancelledAt: &cancelled,
		}
		assert.True(t, rec.HasActiveAccess(now.AddDate(0, 0, 5)))
		assert.False(t, rec.HasActiveAccess(end.AddDate(0, 0, 1)))
	})

	t.Run("immediate revoke ends access now", func(t *testing.T) {
		t.Parallel()
		revoked := now
		rec := &subscription.Record{
			Status:      subscription.StatusCancelled,
			EndDate:     end,
			CancelledAt: &revoked,
			RevokedAt:   &revoked,
		}
		assert.False(t, rec.HasActiveAccess(now))
		assert.True(t, rec.HasActiveAccess(now.Add(-time.Hour)))
	})

	t.Run("terminal statuses never have access", func(t *testing.T) {
		t.Parallel()
		rec := &subscription.Record{Status: subscription.StatusRefunded, EndDate: end}
		assert.False(t, rec.HasActiveAccess(now))
	})
}

func TestSchedulePairing(t *testing.T) {
	t.Parallel()

	end := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	rec := &subscription.Record{EndDate: end}

	assert.False(t, rec.HasScheduledChange())

	rec.SetSchedule("pro")
	assert.True(t, rec.HasScheduledChange())
	assert.Equal(t, "pro", *rec.NextPlanID)
	assert.Equal(t, end, *rec.ScheduledChangeAt, "a change only takes effect at the period boundary")

	rec.SetSchedule("starter")
	assert.Equal(t, "starter", *rec.NextPlanID, "re-scheduling replaces the previous schedule")

	rec.ClearSchedule()
	assert.False(t, rec.HasScheduledChange())
	assert.Nil(t, rec.NextPlanID)
	assert.Nil(t, rec.ScheduledChangeAt)
}
