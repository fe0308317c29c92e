package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

// ListFilter carries the optional query filters GET /schedules accepts.
type ListFilter struct {
	Token  *string
	UserID *int64
	Active *bool
}

// ScheduleKey identifies the "singleton per (token, user_id, type)" daily
// upsert target, and the by-key update/delete family of operations.
type ScheduleKey struct {
	Token  string
	UserID int64
	Type   domain.ScheduleType
}

// Update carries a partial mutation of a Schedule's user-owned fields.
// A nil pointer leaves the corresponding field untouched.
type Update struct {
	ScenarioID   *int64
	TimeHHMM     *string
	TimesHHMM    []string
	TimesHHMMSet bool
	Timezone     *string
	EveryMinutes *int
	RunAt        *time.Time
	Active       *bool
}

// ClaimedSchedule is the tuple the claim primitive hands to the Worker —
// just enough to dispatch, never the full row.
type ClaimedSchedule struct {
	ID         string
	Token      string
	UserID     int64
	ScenarioID int64
	Type       domain.ScheduleType
}

// ScheduleStore is the persistent table of schedules, with a lease-based
// claim primitive that makes concurrent polling across worker processes
// safe. Every method here is exercised by a single store call — no
// in-memory Schedule survives across them.
type ScheduleStore interface {
	Create(ctx context.Context, s *domain.Schedule) (*domain.Schedule, error)
	GetByID(ctx context.Context, id string) (*domain.Schedule, error)
	FindByKey(ctx context.Context, key ScheduleKey) ([]*domain.Schedule, error)
	List(ctx context.Context, filter ListFilter) ([]*domain.Schedule, error)
	Update(ctx context.Context, id string, delta Update) (*domain.Schedule, error)

	// UpdateNextRunAt is the narrow write the usecase layer uses after
	// calling nextrun.Next itself — it never recomputes on the store's
	// behalf. Also clears locked_until, matching Update.
	UpdateNextRunAt(ctx context.Context, id string, nextRunAt *time.Time) (*domain.Schedule, error)

	Delete(ctx context.Context, id string) error
	DeleteByKey(ctx context.Context, token string, userID int64, scheduleType *domain.ScheduleType) (int, error)

	// PeekDue returns up to batchSize claimable ids, ordered by next_run_at
	// ascending. Read-only — not itself a claim.
	PeekDue(ctx context.Context, batchSize int, now time.Time) ([]string, error)

	// Claim atomically sets locked_until on every id in ids that still
	// satisfies the claimable predicate at now, and returns the tuples
	// claimed. Rows that no longer qualify are silently skipped.
	Claim(ctx context.Context, ids []string, leaseUntil time.Time, now time.Time) ([]ClaimedSchedule, error)

	// WriteOutcome is the post-fire writeback of §4.E.3: it clears the
	// lease, records the fire outcome, and writes active and nextRunAt as
	// given (the Worker passes active=false and nil nextRunAt to retire a
	// once schedule).
	WriteOutcome(ctx context.Context, id string, tickNow time.Time, statusCode *int, errText *string, active bool, nextRunAt *time.Time) error

	// LeaseStats reports, as of now, how many rows are actively leased
	// (locked_until in the future) versus abandoned (locked_until in the
	// past, awaiting the next poll to self-heal). Used only for the
	// observability gauges in scheduler.LeaseMonitor — never mutates.
	LeaseStats(ctx context.Context, now time.Time) (active int, abandoned int, err error)
}
