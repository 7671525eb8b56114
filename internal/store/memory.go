package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/renewkit/renewkit/internal/subscription"
)

// Memory is an in-memory Repository with the same optimistic-concurrency
// semantics as the Postgres implementation. Intended for tests.
type Memory struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*subscription.Record // keyed by record ID
	history []subscription.HistoryEntry
	parked  []ParkedEvent
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[uuid.UUID]*subscription.Record),
	}
}

func (m *Memory) Get(_ context.Context, userID uuid.UUID) (*subscription.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *subscription.Record
	for _, rec := range m.records {
		if rec.UserID != userID {
			continue
		}
		// Prefer the current record; fall back to the newest terminal one.
		if rec.Status.IsCurrent() {
			return copyRecord(rec), nil
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, subscription.ErrNotSubscribed
	}
	return copyRecord(latest), nil
}

func (m *Memory) GetByID(_ context.Context, id uuid.UUID) (*subscription.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, subscription.ErrNotSubscribed
	}
	return copyRecord(rec), nil
}

func (m *Memory) Create(_ context.Context, rec *subscription.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.records {
		if existing.UserID == rec.UserID && existing.Status.IsCurrent() {
			return subscription.ErrAlreadySubscribed
		}
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.Version = 1
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	m.records[rec.ID] = copyRecord(rec)
	return nil
}

func (m *Memory) Update(_ context.Context, rec *subscription.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.records[rec.ID]
	if !ok {
		return subscription.ErrNotSubscribed
	}
	if existing.Version != rec.Version {
		return subscription.ErrVersionConflict
	}

	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	m.records[rec.ID] = copyRecord(rec)
	return nil
}

func (m *Memory) HasUsedTrial(_ context.Context, userID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, entry := range m.history {
		if entry.UserID == userID && entry.Status == subscription.StatusTrialing {
			return true, nil
		}
	}
	for _, rec := range m.records {
		if rec.UserID == userID && rec.Status == subscription.StatusTrialing {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) List(_ context.Context, f Filter) ([]*subscription.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*subscription.Record, 0, len(m.records))
	for _, rec := range m.records {
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		if f.PlanID != "" && rec.PlanID != f.PlanID {
			continue
		}
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) ListDueForReconciliation(_ context.Context, now time.Time, limit int) ([]*subscription.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*subscription.Record, 0)
	for _, rec := range m.records {
		if rec.Status.IsTerminal() {
			continue
		}
		if rec.EndDate.After(now) {
			continue
		}
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndDate.Before(out[j].EndDate) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) AppendHistory(_ context.Context, entry subscription.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.history = append(m.history, entry)
	return nil
}

func (m *Memory) ParkEvent(_ context.Context, ev ParkedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	m.parked = append(m.parked, ev)
	return nil
}

// History returns a copy of all recorded history entries. Test helper.
func (m *Memory) History() []subscription.HistoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]subscription.HistoryEntry(nil), m.history...)
}

// Parked returns a copy of all parked events. Test helper.
func (m *Memory) Parked() []ParkedEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ParkedEvent(nil), m.parked...)
}

func copyRecord(rec *subscription.Record) *subscription.Record {
	dup := *rec
	if rec.NextPlanID != nil {
		v := *rec.NextPlanID
		dup.NextPlanID = &v
	}
	if rec.ScheduledChangeAt != nil {
		v := *rec.ScheduledChangeAt
		dup.ScheduledChangeAt = &v
	}
	if rec.CancelledAt != nil {
		v := *rec.CancelledAt
		dup.CancelledAt = &v
	}
	if rec.RevokedAt != nil {
		v := *rec.RevokedAt
		dup.RevokedAt = &v
	}
	return &dup
}
