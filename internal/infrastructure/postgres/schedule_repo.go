package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const scheduleColumns = `
	id, token, user_id, scenario_id, type,
	time_hhmm, times_hhmm, timezone, every_minutes, run_at,
	active, next_run_at, locked_until,
	last_run_at, last_status_code, last_error,
	created_at, updated_at`

// ScheduleRepository is the postgres-backed repository.ScheduleStore. The
// claim protocol is two steps: PeekDue, a plain read-only SELECT of
// candidate ids, then Claim, a single conditional UPDATE ... RETURNING that
// re-checks the claimable predicate, so two concurrent claimers can never
// both take the same row. Neither step uses FOR UPDATE or an explicit
// transaction.
type ScheduleRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewScheduleRepository(pool *pgxpool.Pool, logger *slog.Logger) *ScheduleRepository {
	return &ScheduleRepository{pool: pool, logger: logger.With("component", "schedule_repo")}
}

// rowScanner is implemented by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *ScheduleRepository) Create(ctx context.Context, s *domain.Schedule) (*domain.Schedule, error) {
	timesJSON, err := encodeTimes(s.TimesHHMM)
	if err != nil {
		return nil, fmt.Errorf("encode times_hhmm: %w", err)
	}

	query := `
		INSERT INTO schedules (
			token, user_id, scenario_id, type,
			time_hhmm, times_hhmm, timezone, every_minutes, run_at,
			active, next_run_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + scheduleColumns

	row := r.pool.QueryRow(ctx, query,
		s.Token, s.UserID, s.ScenarioID, s.Type,
		s.TimeHHMM, timesJSON, s.Timezone, s.EveryMinutes, s.RunAt,
		s.Active, s.NextRunAt,
	)
	return scanSchedule(row)
}

func (r *ScheduleRepository) GetByID(ctx context.Context, id string) (*domain.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	return scanSchedule(row)
}

func (r *ScheduleRepository) FindByKey(ctx context.Context, key repository.ScheduleKey) ([]*domain.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules
		WHERE token = $1 AND user_id = $2 AND type = $3
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, key.Token, key.UserID, key.Type)
	if err != nil {
		return nil, fmt.Errorf("find by key: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func (r *ScheduleRepository) List(ctx context.Context, filter repository.ListFilter) ([]*domain.Schedule, error) {
	args := []any{}
	where := []string{"1=1"}

	if filter.Token != nil {
		args = append(args, *filter.Token)
		where = append(where, fmt.Sprintf("token = $%d", len(args)))
	}
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		where = append(where, fmt.Sprintf("active = $%d", len(args)))
	}

	query := fmt.Sprintf(`SELECT %s FROM schedules WHERE %s ORDER BY created_at DESC`,
		scheduleColumns, strings.Join(where, " AND "))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func (r *ScheduleRepository) Update(ctx context.Context, id string, delta repository.Update) (*domain.Schedule, error) {
	sets := []string{"updated_at = NOW()", "locked_until = NULL"}
	args := []any{}

	add := func(clause string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", clause, len(args)))
	}

	if delta.ScenarioID != nil {
		add("scenario_id", *delta.ScenarioID)
	}
	if delta.TimeHHMM != nil {
		add("time_hhmm", *delta.TimeHHMM)
	}
	if delta.TimesHHMMSet {
		timesJSON, err := encodeTimes(delta.TimesHHMM)
		if err != nil {
			return nil, fmt.Errorf("encode times_hhmm: %w", err)
		}
		add("times_hhmm", timesJSON)
	}
	if delta.Timezone != nil {
		add("timezone", *delta.Timezone)
	}
	if delta.EveryMinutes != nil {
		add("every_minutes", *delta.EveryMinutes)
	}
	if delta.RunAt != nil {
		add("run_at", *delta.RunAt)
	}
	if delta.Active != nil {
		add("active", *delta.Active)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE schedules SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), scheduleColumns)

	row := r.pool.QueryRow(ctx, query, args...)
	return scanSchedule(row)
}

// UpdateNextRunAt is a narrower form of Update used by the usecase layer
// once it has recomputed next_run_at via nextrun.Next — avoids shipping
// the recompute policy into the repository.
func (r *ScheduleRepository) UpdateNextRunAt(ctx context.Context, id string, nextRunAt *time.Time) (*domain.Schedule, error) {
	query := `UPDATE schedules SET next_run_at = $2, locked_until = NULL, updated_at = NOW()
		WHERE id = $1 RETURNING ` + scheduleColumns
	row := r.pool.QueryRow(ctx, query, id, nextRunAt)
	return scanSchedule(row)
}

func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

func (r *ScheduleRepository) DeleteByKey(ctx context.Context, token string, userID int64, scheduleType *domain.ScheduleType) (int, error) {
	if scheduleType != nil {
		tag, err := r.pool.Exec(ctx,
			`DELETE FROM schedules WHERE token = $1 AND user_id = $2 AND type = $3`,
			token, userID, *scheduleType)
		if err != nil {
			return 0, fmt.Errorf("delete by key: %w", err)
		}
		return int(tag.RowsAffected()), nil
	}
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM schedules WHERE token = $1 AND user_id = $2`,
		token, userID)
	if err != nil {
		return 0, fmt.Errorf("delete all by key: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// PeekDue is read-only: it never mutates locked_until, so callers must
// tolerate claim() then rejecting some of the ids it returns.
func (r *ScheduleRepository) PeekDue(ctx context.Context, batchSize int, now time.Time) ([]string, error) {
	query := `
		SELECT id FROM schedules
		WHERE active AND next_run_at IS NOT NULL AND next_run_at <= $1
		  AND (locked_until IS NULL OR locked_until <= $1)
		ORDER BY next_run_at ASC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("peek due: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan due id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Claim is a single atomic UPDATE ... RETURNING, scoped to ids and guarded
// by the claimable predicate re-evaluated at now, so a row peek_due handed
// to two callers is claimed by at most one of them.
func (r *ScheduleRepository) Claim(ctx context.Context, ids []string, leaseUntil time.Time, now time.Time) ([]repository.ClaimedSchedule, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		UPDATE schedules
		SET locked_until = $1
		WHERE id = ANY($2)
		  AND active AND next_run_at IS NOT NULL AND next_run_at <= $3
		  AND (locked_until IS NULL OR locked_until <= $3)
		RETURNING id, token, user_id, scenario_id, type`

	rows, err := r.pool.Query(ctx, query, leaseUntil, ids, now)
	if err != nil {
		return nil, fmt.Errorf("claim schedules: %w", err)
	}
	defer rows.Close()

	var claimed []repository.ClaimedSchedule
	for rows.Next() {
		var c repository.ClaimedSchedule
		if err := rows.Scan(&c.ID, &c.Token, &c.UserID, &c.ScenarioID, &c.Type); err != nil {
			return nil, fmt.Errorf("scan claimed schedule: %w", err)
		}
		claimed = append(claimed, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *ScheduleRepository) WriteOutcome(ctx context.Context, id string, tickNow time.Time, statusCode *int, errText *string, active bool, nextRunAt *time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE schedules
		SET last_run_at = $2, last_status_code = $3, last_error = $4,
		    locked_until = NULL, active = $5, next_run_at = $6, updated_at = NOW()
		WHERE id = $1`,
		id, tickNow, statusCode, errText, active, nextRunAt,
	)
	if err != nil {
		return fmt.Errorf("write outcome for schedule %s: %w", id, err)
	}
	return nil
}

func (r *ScheduleRepository) LeaseStats(ctx context.Context, now time.Time) (active int, abandoned int, err error) {
	row := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE locked_until > $1),
			COUNT(*) FILTER (WHERE locked_until IS NOT NULL AND locked_until <= $1)
		FROM schedules`, now)
	if scanErr := row.Scan(&active, &abandoned); scanErr != nil {
		return 0, 0, fmt.Errorf("lease stats: %w", scanErr)
	}
	return active, abandoned, nil
}

func scanSchedules(rows pgx.Rows) ([]*domain.Schedule, error) {
	var out []*domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSchedule(row rowScanner) (*domain.Schedule, error) {
	var s domain.Schedule
	var timesJSON *string

	err := row.Scan(
		&s.ID, &s.Token, &s.UserID, &s.ScenarioID, &s.Type,
		&s.TimeHHMM, &timesJSON, &s.Timezone, &s.EveryMinutes, &s.RunAt,
		&s.Active, &s.NextRunAt, &s.LockedUntil,
		&s.LastRunAt, &s.LastStatusCode, &s.LastError,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("scan schedule: %w", err)
	}

	if timesJSON != nil && *timesJSON != "" {
		if decodeErr := json.Unmarshal([]byte(*timesJSON), &s.TimesHHMM); decodeErr != nil {
			return nil, fmt.Errorf("decode times_hhmm: %w", decodeErr)
		}
	}
	return &s, nil
}

func encodeTimes(times []string) (*string, error) {
	if len(times) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(times)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}
