package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/nextrun"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/repository"
)

// ScheduleUsecase is the API component of §2: it validates trigger-field
// combinations against the §3 invariants, owns every call into
// nextrun.Next on create/update, and implements the daily
// singleton-per-(token,user_id) upsert policy. It never writes last_* or
// sets a lease, and never calls the Worker's writeback path; its only
// effect on locked_until is to clear it when a row is updated.
type ScheduleUsecase struct {
	store repository.ScheduleStore
	clock domain.Clock
}

func NewScheduleUsecase(store repository.ScheduleStore, clock domain.Clock) *ScheduleUsecase {
	return &ScheduleUsecase{store: store, clock: clock}
}

type CreateDailyInput struct {
	Token      string
	UserID     int64
	ScenarioID int64
	TimeHHMM   *string
	TimesHHMM  []string
	Timezone   *string
}

// CreateDaily implements the §4.F singleton-per-(token,user_id) upsert: on
// a duplicate create for the same (token, user_id, daily), the most
// recently created existing row is updated in place and any others for
// the same key are deleted, rather than accumulating duplicates.
func (u *ScheduleUsecase) CreateDaily(ctx context.Context, in CreateDailyInput) (*domain.Schedule, error) {
	if len(in.TimesHHMM) == 0 && (in.TimeHHMM == nil || *in.TimeHHMM == "") {
		return nil, domain.ErrMissingDailyTime
	}
	for _, t := range in.TimesHHMM {
		if err := domain.ValidateHHMM(t); err != nil {
			return nil, err
		}
	}
	if in.TimeHHMM != nil {
		if err := domain.ValidateHHMM(*in.TimeHHMM); err != nil {
			return nil, err
		}
	}
	tz := "UTC"
	if in.Timezone != nil && *in.Timezone != "" {
		tz = *in.Timezone
	}
	if err := domain.ValidateTimezone(tz); err != nil {
		return nil, err
	}

	existing, err := u.store.FindByKey(ctx, repository.ScheduleKey{Token: in.Token, UserID: in.UserID, Type: domain.ScheduleDaily})
	if err != nil {
		return nil, fmt.Errorf("find existing daily schedule: %w", err)
	}

	s := &domain.Schedule{
		Token:      in.Token,
		UserID:     in.UserID,
		ScenarioID: in.ScenarioID,
		Type:       domain.ScheduleDaily,
		TimeHHMM:   in.TimeHHMM,
		TimesHHMM:  in.TimesHHMM,
		Timezone:   &tz,
		Active:     true,
	}
	now := u.clock.Now()
	if next, ok := nextrun.Next(*s, now); ok {
		s.NextRunAt = &next
	}

	if len(existing) == 0 {
		created, err := u.store.Create(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("create daily schedule: %w", err)
		}
		return created, nil
	}

	keep := existing[0] // FindByKey orders newest-created first
	for _, dup := range existing[1:] {
		if err := u.store.Delete(ctx, dup.ID); err != nil {
			return nil, fmt.Errorf("collapse duplicate daily schedule: %w", err)
		}
	}

	delta := repository.Update{
		ScenarioID:   &in.ScenarioID,
		TimeHHMM:     in.TimeHHMM,
		TimesHHMM:    in.TimesHHMM,
		TimesHHMMSet: true,
		Timezone:     &tz,
		Active:       boolPtr(true),
	}
	if _, err := u.store.Update(ctx, keep.ID, delta); err != nil {
		return nil, fmt.Errorf("update existing daily schedule: %w", err)
	}
	return u.recompute(ctx, keep.ID)
}

type CreateIntervalInput struct {
	Token        string
	UserID       int64
	ScenarioID   int64
	EveryMinutes int
}

func (u *ScheduleUsecase) CreateInterval(ctx context.Context, in CreateIntervalInput) (*domain.Schedule, error) {
	if err := domain.ValidateEveryMinutes(in.EveryMinutes); err != nil {
		return nil, err
	}

	s := &domain.Schedule{
		Token:        in.Token,
		UserID:       in.UserID,
		ScenarioID:   in.ScenarioID,
		Type:         domain.ScheduleInterval,
		EveryMinutes: &in.EveryMinutes,
		Active:       true,
	}
	now := u.clock.Now()
	if next, ok := nextrun.Next(*s, now); ok {
		s.NextRunAt = &next
	}

	created, err := u.store.Create(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("create interval schedule: %w", err)
	}
	return created, nil
}

type CreateOnceInput struct {
	Token      string
	UserID     int64
	ScenarioID int64
	RunAt      time.Time
}

func (u *ScheduleUsecase) CreateOnce(ctx context.Context, in CreateOnceInput) (*domain.Schedule, error) {
	runAt := in.RunAt.UTC()

	s := &domain.Schedule{
		Token:      in.Token,
		UserID:     in.UserID,
		ScenarioID: in.ScenarioID,
		Type:       domain.ScheduleOnce,
		RunAt:      &runAt,
		Active:     true,
	}
	// once passes run_at through verbatim per §4.B, even if already past —
	// the Worker's claim predicate then fires it on the very next tick.
	s.NextRunAt = &runAt

	created, err := u.store.Create(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("create once schedule: %w", err)
	}
	return created, nil
}

func (u *ScheduleUsecase) Get(ctx context.Context, id string) (*domain.Schedule, error) {
	s, err := u.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return s, nil
}

func (u *ScheduleUsecase) List(ctx context.Context, filter repository.ListFilter) ([]*domain.Schedule, error) {
	schedules, err := u.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return schedules, nil
}

// Update applies a partial PATCH, re-validates the §3 invariants for the
// row's existing type, recomputes next_run_at, and clears locked_until so
// a mid-flight lease cannot survive a field change out from under the
// Worker. times_hhmm wins over time_hhmm when both are present in one
// PATCH (Open Question decision, see SPEC_FULL.md).
func (u *ScheduleUsecase) Update(ctx context.Context, id string, delta repository.Update) (*domain.Schedule, error) {
	existing, err := u.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}

	if err := u.validateDelta(*existing, delta); err != nil {
		return nil, err
	}

	if delta.TimesHHMMSet && len(delta.TimesHHMM) > 0 {
		delta.TimeHHMM = nil
	}

	if _, err := u.store.Update(ctx, id, delta); err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return u.recompute(ctx, id)
}

// UpdateByKey mirrors Update but resolves the target row by
// (token, user_id, type); newest wins if multiple rows match.
func (u *ScheduleUsecase) UpdateByKey(ctx context.Context, token string, userID int64, scheduleType domain.ScheduleType, delta repository.Update) (*domain.Schedule, error) {
	matches, err := u.store.FindByKey(ctx, repository.ScheduleKey{Token: token, UserID: userID, Type: scheduleType})
	if err != nil {
		return nil, fmt.Errorf("find schedule by key: %w", err)
	}
	if len(matches) == 0 {
		return nil, domain.ErrScheduleNotFound
	}
	return u.Update(ctx, matches[0].ID, delta)
}

func (u *ScheduleUsecase) validateDelta(existing domain.Schedule, delta repository.Update) error {
	timesHHMM := existing.TimesHHMM
	if delta.TimesHHMMSet {
		timesHHMM = delta.TimesHHMM
	}
	timeHHMM := existing.TimeHHMM
	if delta.TimeHHMM != nil {
		timeHHMM = delta.TimeHHMM
	}
	if delta.TimesHHMMSet && len(delta.TimesHHMM) > 0 {
		timeHHMM = nil
	}

	switch existing.Type {
	case domain.ScheduleDaily:
		if len(timesHHMM) == 0 && (timeHHMM == nil || *timeHHMM == "") {
			return domain.ErrMissingDailyTime
		}
		for _, t := range timesHHMM {
			if err := domain.ValidateHHMM(t); err != nil {
				return err
			}
		}
		if timeHHMM != nil {
			if err := domain.ValidateHHMM(*timeHHMM); err != nil {
				return err
			}
		}
		if delta.Timezone != nil {
			if err := domain.ValidateTimezone(*delta.Timezone); err != nil {
				return err
			}
		}
	case domain.ScheduleInterval:
		every := existing.EveryMinutes
		if delta.EveryMinutes != nil {
			every = delta.EveryMinutes
		}
		if every == nil {
			return domain.ErrInvalidEveryMinutes
		}
		if err := domain.ValidateEveryMinutes(*every); err != nil {
			return err
		}
	case domain.ScheduleOnce:
		if delta.RunAt == nil && existing.RunAt == nil {
			return domain.ErrMissingRunAt
		}
	}
	return nil
}

// recompute reloads the row post-update and rewrites next_run_at via
// nextrun.Next; store.Update already cleared locked_until. A schedule
// that becomes unfireable (inactive, or daily with an unresolvable zone)
// is also flipped inactive here, matching §3 invariant 4.
func (u *ScheduleUsecase) recompute(ctx context.Context, id string) (*domain.Schedule, error) {
	s, err := u.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload schedule: %w", err)
	}

	now := u.clock.Now()
	next, ok := nextrun.Next(*s, now)

	if !ok {
		if s.Active {
			if _, err := u.store.Update(ctx, id, repository.Update{Active: boolPtr(false)}); err != nil {
				return nil, fmt.Errorf("deactivate schedule: %w", err)
			}
		}
		if _, err := u.store.UpdateNextRunAt(ctx, id, nil); err != nil {
			return nil, fmt.Errorf("clear next_run_at: %w", err)
		}
	} else {
		if _, err := u.store.UpdateNextRunAt(ctx, id, &next); err != nil {
			return nil, fmt.Errorf("recompute next_run_at: %w", err)
		}
	}

	return u.store.GetByID(ctx, id)
}

func (u *ScheduleUsecase) Delete(ctx context.Context, id string) error {
	if err := u.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}

func (u *ScheduleUsecase) DeleteByKey(ctx context.Context, token string, userID int64, scheduleType *domain.ScheduleType) (int, error) {
	n, err := u.store.DeleteByKey(ctx, token, userID, scheduleType)
	if err != nil {
		return 0, fmt.Errorf("delete schedules by key: %w", err)
	}
	return n, nil
}

func boolPtr(b bool) *bool { return &b }
