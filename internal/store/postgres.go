package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/renewkit/renewkit/internal/subscription"
)

// Postgres implements Repository on a pgx connection pool.
//
// The single-current-record-per-user invariant is enforced by a partial
// unique index on user_id for non-terminal statuses (see migrations),
// so concurrent Create calls cannot slip past the application check.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const recordColumns = `id, user_id, plan_id, status, start_date, end_date,
	next_plan_id, scheduled_change_at, processor_sub_id, processor_customer_id,
	cancelled_at, revoked_at, version, created_at, updated_at`

func (p *Postgres) Get(ctx context.Context, userID uuid.UUID) (*subscription.Record, error) {
	// The current record wins; otherwise the newest terminal one.
	row := p.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY (status NOT IN ('expired', 'refunded')) DESC, created_at DESC
		LIMIT 1`, userID)

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, subscription.ErrNotSubscribed
	}
	return rec, err
}

func (p *Postgres) GetByID(ctx context.Context, id uuid.UUID) (*subscription.Record, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM subscriptions
		WHERE id = $1`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, subscription.ErrNotSubscribed
	}
	return rec, err
}

func (p *Postgres) Create(ctx context.Context, rec *subscription.Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.Version = 1
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err := p.pool.Exec(ctx, `
		INSERT INTO subscriptions (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		rec.ID, rec.UserID, rec.PlanID, rec.Status, rec.StartDate, rec.EndDate,
		rec.NextPlanID, rec.ScheduledChangeAt, rec.ProcessorSubID, rec.ProcessorCustomerID,
		rec.CancelledAt, rec.RevokedAt, rec.Version, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return subscription.ErrAlreadySubscribed
		}
		return err
	}
	return nil
}

func (p *Postgres) Update(ctx context.Context, rec *subscription.Record) error {
	rec.UpdatedAt = time.Now().UTC()

	tag, err := p.pool.Exec(ctx, `
		UPDATE subscriptions
		SET plan_id = $1, status = $2, start_date = $3, end_date = $4,
			next_plan_id = $5, scheduled_change_at = $6,
			processor_sub_id = $7, processor_customer_id = $8,
			cancelled_at = $9, revoked_at = $10,
			version = version + 1, updated_at = $11
		WHERE id = $12 AND version = $13`,
		rec.PlanID, rec.Status, rec.StartDate, rec.EndDate,
		rec.NextPlanID, rec.ScheduledChangeAt,
		rec.ProcessorSubID, rec.ProcessorCustomerID,
		rec.CancelledAt, rec.RevokedAt,
		rec.UpdatedAt, rec.ID, rec.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrVersionConflict
	}

	rec.Version++
	return nil
}

func (p *Postgres) HasUsedTrial(ctx context.Context, userID uuid.UUID) (bool, error) {
	var used bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM subscription_history WHERE user_id = $1 AND status = 'trialing'
		) OR EXISTS (
			SELECT 1 FROM subscriptions WHERE user_id = $1 AND status = 'trialing'
		)`, userID).Scan(&used)
	return used, err
}

func (p *Postgres) List(ctx context.Context, f Filter) ([]*subscription.Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := p.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM subscriptions
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR plan_id = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		string(f.Status), f.PlanID, limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (p *Postgres) ListDueForReconciliation(ctx context.Context, now time.Time, limit int) ([]*subscription.Record, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := p.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM subscriptions
		WHERE status NOT IN ('expired', 'refunded')
		  AND end_date <= $1
		ORDER BY end_date ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (p *Postgres) AppendHistory(ctx context.Context, entry subscription.HistoryEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO subscription_history
			(id, subscription_id, user_id, plan_id, status, action, reason, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.SubscriptionID, entry.UserID, entry.PlanID,
		entry.Status, entry.Action, entry.Reason, entry.ActorID, entry.CreatedAt)
	return err
}

func (p *Postgres) ParkEvent(ctx context.Context, ev ParkedEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO parked_webhook_events (id, event_id, event_type, payload, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING`,
		ev.ID, ev.EventID, ev.EventType, ev.Payload, ev.Reason, ev.CreatedAt)
	return err
}

func scanRecord(row pgx.Row) (*subscription.Record, error) {
	var rec subscription.Record
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.PlanID, &rec.Status, &rec.StartDate, &rec.EndDate,
		&rec.NextPlanID, &rec.ScheduledChangeAt, &rec.ProcessorSubID, &rec.ProcessorCustomerID,
		&rec.CancelledAt, &rec.RevokedAt, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanRecords(rows pgx.Rows) ([]*subscription.Record, error) {
	var out []*subscription.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// isUniqueViolation reports whether the error is a Postgres unique
// constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
