package retryqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"

	"github.com/ManuelReschke/SlotFox/app/models"
	"github.com/ManuelReschke/SlotFox/app/repository"
	"github.com/ManuelReschke/SlotFox/internal/pkg/booking"
	"github.com/ManuelReschke/SlotFox/internal/pkg/env"
	"github.com/ManuelReschke/SlotFox/internal/pkg/logging"
	"github.com/ManuelReschke/SlotFox/internal/pkg/notify"
)

const (
	defaultTickSeconds = 15
	sweepInterval      = 60 * time.Second
	batchSize          = 20

	baseBackoff = 30 * time.Second
	maxBackoff  = 30 * time.Minute

	tickLockKey = "retryqueue:tick"
	tickLockTTL = 10 * time.Second
)

// Worker drains the durable outbox: deferred SMS sends, calendar inserts
// left behind by an outage, and calendar deletes from cancellations. It also
// sweeps expired pending holds and stale OAuth flows on a slower ticker.
type Worker struct {
	repos      *repository.Repositories
	dispatcher *notify.Dispatcher
	calendars  booking.CalendarFactory
	locker     *redislock.Client

	interval    time.Duration
	taskTicker  *time.Ticker
	sweepTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool

	now func() time.Time
}

// NewWorker wires the outbox drain loop. The tick interval comes from
// RETRY_TICK_SEC; the hold/flow sweep runs on a fixed cadence.
func NewWorker(repos *repository.Repositories, dispatcher *notify.Dispatcher, calendars booking.CalendarFactory) *Worker {
	tick := env.GetEnvInt("RETRY_TICK_SEC", defaultTickSeconds)
	if tick <= 0 {
		tick = defaultTickSeconds
	}
	return &Worker{
		repos:      repos,
		dispatcher: dispatcher,
		calendars:  calendars,
		interval:   time.Duration(tick) * time.Second,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithTickGuard installs the cross-replica tick lock. Without it ticks are
// only serialized within this process.
func (w *Worker) WithTickGuard(locker *redislock.Client) *Worker {
	w.locker = locker
	return w
}

// Start launches the tick and sweep loops. Starting a running worker is a
// no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.stopCh = make(chan struct{})
	w.running = true

	logging.GetLogger().WithField("tick", w.interval.String()).Info("[RetryQueue] Starting worker")

	w.taskTicker = time.NewTicker(w.interval)
	w.wg.Add(1)
	go w.taskLoop()

	w.sweepTicker = time.NewTicker(sweepInterval)
	w.wg.Add(1)
	go w.sweepLoop()
}

// Stop halts both loops and waits for an in-flight tick to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.taskTicker.Stop()
	w.sweepTicker.Stop()
	close(w.stopCh)
	w.running = false
	w.wg.Wait()
	logging.GetLogger().Info("[RetryQueue] Stopped")
}

func (w *Worker) taskLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			return
		case <-w.taskTicker.C:
			w.RunTick(context.Background())
		}
	}
}

func (w *Worker) sweepLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			return
		case <-w.sweepTicker.C:
			w.SweepOnce()
		}
	}
}

// RunTick processes one batch of due tasks and returns how many it handled.
// No error escapes a tick; every outcome lands on the task row.
func (w *Worker) RunTick(ctx context.Context) int {
	handled := 0
	w.withTickLock(ctx, func() {
		tasks, err := w.repos.RetryTask.GetDue(w.now(), batchSize)
		if err != nil {
			logging.GetLogger().WithError(err).Error("[RetryQueue] Could not load due tasks")
			return
		}
		for i := range tasks {
			w.runTask(ctx, &tasks[i])
		}
		handled = len(tasks)
	})
	return handled
}

// withTickLock serializes ticks across replicas. A tick another replica owns
// is skipped; a Redis outage degrades to local execution rather than
// stalling the outbox.
func (w *Worker) withTickLock(ctx context.Context, fn func()) {
	if w.locker == nil {
		fn()
		return
	}
	lock, err := w.locker.Obtain(ctx, tickLockKey, tickLockTTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return
	}
	if err != nil {
		logging.GetLogger().WithError(err).Warn("[RetryQueue] Tick lock unavailable, running locally")
		fn()
		return
	}
	defer func() {
		if rErr := lock.Release(ctx); rErr != nil && !errors.Is(rErr, redislock.ErrLockNotHeld) {
			logging.GetLogger().WithError(rErr).Warn("[RetryQueue] Tick lock release failed")
		}
	}()
	fn()
}

func (w *Worker) runTask(ctx context.Context, task *models.RetryTask) {
	attempt := task.AttemptCount + 1
	log := logging.WithRequest(requestIDOf(task)).WithFields(logrus.Fields{
		"retry_id": task.ID,
		"kind":     task.Kind,
		"attempt":  attempt,
	})

	err := w.execute(ctx, task, log)
	if err == nil {
		if mErr := w.repos.RetryTask.MarkSucceeded(task.ID, attempt); mErr != nil {
			log.WithError(mErr).Error("[RetryQueue] Could not settle task")
			return
		}
		log.Info("[RetryQueue] Task succeeded")
		return
	}

	if isPermanent(err) || attempt >= task.MaxAttempts {
		if mErr := w.repos.RetryTask.MarkFailed(task.ID, attempt, err.Error()); mErr != nil {
			log.WithError(mErr).Error("[RetryQueue] Could not fail task")
			return
		}
		log.WithError(err).Error("[RetryQueue] Task failed terminally")
		return
	}

	next := w.now().Add(backoff(attempt))
	if mErr := w.repos.RetryTask.Reschedule(task.ID, attempt, err.Error(), next); mErr != nil {
		log.WithError(mErr).Error("[RetryQueue] Could not reschedule task")
		return
	}
	log.WithError(err).WithField("next_attempt_at", next.Format(time.RFC3339)).Warn("[RetryQueue] Task rescheduled")
}

// SweepOnce cancels expired pending holds across all tenants and purges
// OAuth flows past their expiry.
func (w *Worker) SweepOnce() {
	log := logging.GetLogger()
	if n, err := w.repos.Booking.CleanupExpiredHolds(""); err != nil {
		log.WithError(err).Error("[RetryQueue] Hold sweep failed")
	} else if n > 0 {
		log.WithField("released", n).Info("[RetryQueue] Released expired holds")
	}

	if n, err := w.repos.OAuthFlow.DeleteExpired(w.now()); err != nil {
		log.WithError(err).Error("[RetryQueue] OAuth flow sweep failed")
	} else if n > 0 {
		log.WithField("purged", n).Debug("[RetryQueue] Purged expired oauth flows")
	}
}

// backoff returns the wait after attempt failed tries: 30s doubling per
// attempt, capped at 30 minutes.
func backoff(attempt int) time.Duration {
	d := baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
