package domain_test

import (
	"testing"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

var now = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

func TestSchedule_Claimable_InactiveNeverClaimable(t *testing.T) {
	next := now.Add(-time.Minute)
	s := domain.Schedule{Active: false, NextRunAt: &next}
	if s.Claimable(now) {
		t.Error("an inactive schedule must never be claimable")
	}
}

func TestSchedule_Claimable_NoNextRunAtNeverClaimable(t *testing.T) {
	s := domain.Schedule{Active: true, NextRunAt: nil}
	if s.Claimable(now) {
		t.Error("a schedule with no next_run_at must never be claimable")
	}
}

func TestSchedule_Claimable_FutureNextRunAtNotYetClaimable(t *testing.T) {
	next := now.Add(time.Minute)
	s := domain.Schedule{Active: true, NextRunAt: &next}
	if s.Claimable(now) {
		t.Error("a schedule whose next_run_at is still in the future must not be claimable")
	}
}

func TestSchedule_Claimable_DuePastDueIsClaimable(t *testing.T) {
	next := now.Add(-time.Minute)
	s := domain.Schedule{Active: true, NextRunAt: &next}
	if !s.Claimable(now) {
		t.Error("a due, active, unlocked schedule must be claimable")
	}
}

func TestSchedule_Claimable_HeldLeaseNotClaimable(t *testing.T) {
	next := now.Add(-time.Minute)
	lockedUntil := now.Add(time.Minute)
	s := domain.Schedule{Active: true, NextRunAt: &next, LockedUntil: &lockedUntil}
	if s.Claimable(now) {
		t.Error("a schedule held under an unexpired lease must not be claimable")
	}
}

func TestSchedule_Claimable_ExpiredLeaseSelfHeals(t *testing.T) {
	next := now.Add(-time.Minute)
	lockedUntil := now.Add(-time.Second)
	s := domain.Schedule{Active: true, NextRunAt: &next, LockedUntil: &lockedUntil}
	if !s.Claimable(now) {
		t.Error("a schedule whose lease has expired must be claimable again without explicit reclaim")
	}
}
