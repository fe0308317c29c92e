package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/repository"
)

// LeaseMonitor periodically reports how many schedules hold an active
// lease versus an abandoned one. It never mutates a row: an abandoned
// lease (locked_until in the past) self-heals the moment the next tick's
// Claim re-selects it, so there is nothing here to reclaim — only to
// observe. Grounded on the teacher's Reaper ticker loop, stripped of its
// reschedule/fail mutations.
type LeaseMonitor struct {
	store    repository.ScheduleStore
	interval time.Duration
	logger   *slog.Logger
}

func NewLeaseMonitor(store repository.ScheduleStore, interval time.Duration, logger *slog.Logger) *LeaseMonitor {
	return &LeaseMonitor{
		store:    store,
		interval: interval,
		logger:   logger.With("component", "lease_monitor"),
	}
}

func (m *LeaseMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("lease monitor started", "interval", m.interval)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("lease monitor shut down")
			return
		case <-ticker.C:
			m.report(ctx)
		}
	}
}

func (m *LeaseMonitor) report(ctx context.Context) {
	active, abandoned, err := m.store.LeaseStats(ctx, time.Now().UTC())
	if err != nil {
		m.logger.Error("lease stats failed", "error", err)
		return
	}
	metrics.LeasesActive.Set(float64(active))
	metrics.LeasesAbandoned.Set(float64(abandoned))
	if abandoned > 0 {
		m.logger.Warn("abandoned leases observed", "count", abandoned)
	}
}
