package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/nextrun"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/repository"
	"golang.org/x/sync/semaphore"
)

// Worker is the single long-lived per-tick loop of §4.E: peek due
// schedules, claim them with a lease, fan them out to the Dispatcher
// under a bounded concurrency cap, and write the outcome back. Ticks
// never overlap within a process; cross-process safety comes entirely
// from the store's atomic claim, not from anything in this type.
type Worker struct {
	store      repository.ScheduleStore
	dispatcher *Dispatcher
	clock      domain.Clock
	logger     *slog.Logger

	pollInterval  time.Duration
	batchSize     int
	leaseSeconds  time.Duration
	maxConcurrent int64

	sem *semaphore.Weighted
}

func NewWorker(store repository.ScheduleStore, dispatcher *Dispatcher, clock domain.Clock, logger *slog.Logger, pollInterval time.Duration, batchSize int, leaseSeconds time.Duration, maxConcurrent int) *Worker {
	return &Worker{
		store:         store,
		dispatcher:    dispatcher,
		clock:         clock,
		logger:        logger.With("component", "worker"),
		pollInterval:  pollInterval,
		batchSize:     batchSize,
		leaseSeconds:  leaseSeconds,
		maxConcurrent: int64(maxConcurrent),
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Start runs the poll loop until ctx is canceled. The current tick always
// runs to completion before the loop observes cancellation, so a claimed
// lease is never orphaned without a writeback attempt.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("worker started", "poll_interval", w.pollInterval, "batch_size", w.batchSize, "max_concurrent", w.maxConcurrent)

	for {
		tickStart := time.Now()
		w.tick(ctx)
		elapsed := time.Since(tickStart)

		sleepFor := w.pollInterval - elapsed
		if sleepFor < 0 {
			sleepFor = 0
		}

		select {
		case <-ctx.Done():
			w.dispatcher.Close()
			w.logger.Info("worker shut down")
			return
		case <-time.After(sleepFor):
		}
	}
}

// tick implements §4.E.2: peek, claim, fan out, wait. Errors from the
// store are logged and the tick is abandoned — an abandoned claim
// self-heals once its lease expires, so a single bad tick never poisons
// the schedule.
func (w *Worker) tick(ctx context.Context) {
	tickStart := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(tickStart).Seconds()) }()

	now := w.clock.Now()

	ids, err := w.store.PeekDue(ctx, w.batchSize, now)
	if err != nil {
		w.logger.Error("peek due failed", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	claimed, err := w.store.Claim(ctx, ids, now.Add(w.leaseSeconds), now)
	if err != nil {
		w.logger.Error("claim failed", "error", err)
		return
	}
	if len(claimed) == 0 {
		return
	}

	metrics.ClaimedTotal.Add(float64(len(claimed)))
	w.logger.Info("claimed schedules", "count", len(claimed))

	done := make(chan struct{}, len(claimed))
	for _, c := range claimed {
		c := c
		if err := w.sem.Acquire(ctx, 1); err != nil {
			// Context canceled while waiting for a slot — still owe a
			// writeback attempt for every claimed row, so continue rather
			// than drop it silently.
			w.fire(context.Background(), c, now)
			done <- struct{}{}
			continue
		}
		go func() {
			defer w.sem.Release(1)
			defer func() { done <- struct{}{} }()
			w.fire(context.WithoutCancel(ctx), c, now)
		}()
	}

	for i := 0; i < len(claimed); i++ {
		<-done
	}
}

// fire dispatches one claimed schedule and writes back its outcome. A
// failure of this single row never fails the tick or poisons another.
func (w *Worker) fire(ctx context.Context, c repository.ClaimedSchedule, tickNow time.Time) {
	metrics.SchedulesInFlight.Inc()
	defer metrics.SchedulesInFlight.Dec()

	result := w.dispatcher.Run(ctx, c)

	var statusCode *int
	var errText *string

	switch {
	case result.Err != nil:
		msg := result.Err.Error()
		errText = &msg
		metrics.FiresTotal.WithLabelValues("transport_error").Inc()
	case result.StatusCode >= 400:
		sc := result.StatusCode
		statusCode = &sc
		msg := fmt.Sprintf("HTTP %d: %s", result.StatusCode, result.Body)
		errText = &msg
		metrics.FiresTotal.WithLabelValues("upstream_error").Inc()
	default:
		sc := result.StatusCode
		statusCode = &sc
		metrics.FiresTotal.WithLabelValues("success").Inc()
	}
	metrics.FireDuration.Observe(result.Duration.Seconds())

	active := true
	var next *time.Time

	if c.Type == domain.ScheduleOnce {
		active = false
		next = nil
	} else {
		// The writeback recompute needs the row's current trigger fields,
		// which the claim tuple deliberately omits (it carries only what
		// the dispatcher needs). Reload it so nextrun.Next sees a
		// consistent view — cheap relative to the HTTP round trip just
		// made, and avoids threading the whole row through the semaphore.
		full, err := w.storeGetByID(ctx, c.ID)
		if err != nil {
			w.logger.Error("reload schedule for recompute failed", "schedule_id", c.ID, "error", err)
			return
		}

		if n, ok := nextrun.Next(*full, tickNow); ok {
			next = &n
		} else {
			active = false
		}
	}

	if err := w.store.WriteOutcome(ctx, c.ID, tickNow, statusCode, errText, active, next); err != nil {
		w.logger.Error("writeback failed", "schedule_id", c.ID, "error", err)
	}
}

func (w *Worker) storeGetByID(ctx context.Context, id string) (*domain.Schedule, error) {
	return w.store.GetByID(ctx, id)
}
