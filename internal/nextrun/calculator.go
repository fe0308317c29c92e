// Package nextrun computes the next UTC fire instant for a schedule.
//
// Next is a pure function: given a schedule and the instant "now", it
// returns the next time the schedule should fire, or false if the
// schedule will never fire again (inactive, or malformed trigger fields).
package nextrun

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

// Next returns the next UTC fire instant for s, evaluated at now.
//
//   - Inactive schedules never fire: (zero, false).
//   - once returns s.RunAt unchanged, even if it is already in the past —
//     the Worker's claim predicate then picks it up on the next tick.
//   - interval advances from the current NextRunAt (or now, if unset) in
//     steps of EveryMinutes until the result is strictly after now. This
//     collapses any number of missed ticks into a single future fire.
//   - daily resolves the schedule's timezone, collects its configured
//     local times, and returns the earliest one strictly after the local
//     "now", rolling over to the next calendar date if none remain today.
func Next(s domain.Schedule, now time.Time) (time.Time, bool) {
	if !s.Active {
		return time.Time{}, false
	}

	switch s.Type {
	case domain.ScheduleOnce:
		return nextOnce(s)
	case domain.ScheduleInterval:
		return nextInterval(s, now)
	case domain.ScheduleDaily:
		return nextDaily(s, now)
	default:
		return time.Time{}, false
	}
}

func nextOnce(s domain.Schedule) (time.Time, bool) {
	if s.RunAt == nil {
		return time.Time{}, false
	}
	return s.RunAt.UTC(), true
}

func nextInterval(s domain.Schedule, now time.Time) (time.Time, bool) {
	if s.EveryMinutes == nil || *s.EveryMinutes < 1 {
		return time.Time{}, false
	}
	step := time.Duration(*s.EveryMinutes) * time.Minute

	base := now
	if s.NextRunAt != nil {
		base = *s.NextRunAt
	}

	next := base.Add(step)
	for !next.After(now) {
		next = next.Add(step)
	}
	return next.UTC(), true
}

func nextDaily(s domain.Schedule, now time.Time) (time.Time, bool) {
	zoneName := "UTC"
	if s.Timezone != nil && *s.Timezone != "" {
		zoneName = *s.Timezone
	}
	loc, err := time.LoadLocation(zoneName)
	if err != nil {
		// Unknown zone: the calculator treats the schedule as non-firing.
		// The API rejects unknown zones at create/update time, so this
		// path is reached only for rows written before that validation
		// existed, or by direct store manipulation.
		return time.Time{}, false
	}

	candidates := dailyTimes(s)
	parsed := make([]time.Time, 0, len(candidates))
	for _, raw := range candidates {
		hh, mm, ok := parseHHMM(raw)
		if !ok {
			continue
		}
		parsed = append(parsed, time.Date(0, 1, 1, hh, mm, 0, 0, time.UTC))
	}
	if len(parsed) == 0 {
		return time.Time{}, false
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].Before(parsed[j]) })

	localNow := now.In(loc)

	for _, t := range parsed {
		candidate := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), t.Hour(), t.Minute(), 0, 0, loc)
		if candidate.After(localNow) {
			return candidate.UTC(), true
		}
	}

	earliest := parsed[0]
	tomorrow := localNow.AddDate(0, 0, 1)
	candidate := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), earliest.Hour(), earliest.Minute(), 0, 0, loc)
	return candidate.UTC(), true
}

// dailyTimes returns the ordered list of HH:MM candidates, preferring
// TimesHHMM when non-empty and falling back to the legacy single TimeHHMM.
func dailyTimes(s domain.Schedule) []string {
	if len(s.TimesHHMM) > 0 {
		return s.TimesHHMM
	}
	if s.TimeHHMM != nil && *s.TimeHHMM != "" {
		return []string{*s.TimeHHMM}
	}
	return nil
}

func parseHHMM(raw string) (hh, mm int, ok bool) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}
