package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/Kerhoff/tripbot/internal/models"
	"github.com/Kerhoff/tripbot/internal/notify"
	"github.com/Kerhoff/tripbot/internal/repository"
	"github.com/Kerhoff/tripbot/pkg/logger"
)

// SchedulerOptions configures the lifecycle scheduler.
type SchedulerOptions struct {
	Interval    time.Duration
	Concurrency int
	BatchSize   int
}

// TickReport summarizes one scheduler tick.
type TickReport struct {
	ID        string
	Started   int
	Completed int
	Skipped   bool
}

// LifecycleScheduler moves plans through their lifecycle as dates pass:
// NEW plans whose start date has arrived are started, IN_PROGRESS plans whose
// end date has arrived are completed.
type LifecycleScheduler struct {
	svc     *Service
	opts    SchedulerOptions
	running *atomic.Bool
	ticks   *atomic.Int64
	logger  *logrus.Entry
}

// NewLifecycleScheduler creates a scheduler bound to the service.
func (s *Service) NewLifecycleScheduler(opts SchedulerOptions) *LifecycleScheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &LifecycleScheduler{
		svc:     s,
		opts:    opts,
		running: atomic.NewBool(false),
		ticks:   atomic.NewInt64(0),
		logger:  logger.WithComponent(s.logger, "scheduler"),
	}
}

// Run ticks once immediately and then every interval until ctx is cancelled.
// It blocks, so it should be launched in a separate goroutine.
func (ls *LifecycleScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(ls.opts.Interval)
	defer ticker.Stop()

	ls.logger.WithField("interval", ls.opts.Interval).Info("Lifecycle scheduler started")
	ls.runTick(ctx)

	for {
		select {
		case <-ctx.Done():
			ls.logger.Info("Lifecycle scheduler stopped")
			return
		case <-ticker.C:
			ls.runTick(ctx)
		}
	}
}

func (ls *LifecycleScheduler) runTick(ctx context.Context) {
	report, err := ls.Tick(ctx, ls.svc.now())
	entry := ls.logger.WithFields(logrus.Fields{
		"tick_id":   report.ID,
		"started":   report.Started,
		"completed": report.Completed,
	})
	switch {
	case err != nil:
		entry.WithError(err).Error("Lifecycle tick finished with errors")
	case report.Skipped:
		entry.Warn("Lifecycle tick skipped, previous tick still running")
	case report.Started > 0 || report.Completed > 0:
		entry.Info("Lifecycle tick finished")
	default:
		entry.Debug("Lifecycle tick finished")
	}
}

// Ticks returns how many ticks have run.
func (ls *LifecycleScheduler) Ticks() int64 {
	return ls.ticks.Load()
}

// Tick runs StartDue then CompleteDue for now. A tick that overlaps a running
// one is skipped. Errors of individual plans are aggregated; they never stop
// other plans from being processed.
func (ls *LifecycleScheduler) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	report := TickReport{ID: uuid.NewString()}
	if !ls.running.CAS(false, true) {
		report.Skipped = true
		return report, nil
	}
	defer ls.running.Store(false)

	began := time.Now()
	defer func() { ls.svc.metrics.Tick(time.Since(began)) }()
	ls.ticks.Inc()

	var result *multierror.Error

	started, err := ls.StartDue(ctx, now)
	report.Started = started
	if err != nil {
		result = multierror.Append(result, err)
	}

	completed, err := ls.CompleteDue(ctx, now)
	report.Completed = completed
	if err != nil {
		result = multierror.Append(result, err)
	}

	return report, result.ErrorOrNil()
}

// StartDue starts every NEW plan whose start date is not after now and
// returns how many it started.
func (ls *LifecycleScheduler) StartDue(ctx context.Context, now time.Time) (int, error) {
	find := func(ctx context.Context, limit int) ([]*models.Plan, error) {
		return ls.svc.store.Plans().FindDueToStart(ctx, now, limit)
	}
	return ls.drain(ctx, "start", find, func(ctx context.Context, tx repository.Tx, plan *models.Plan) (*models.Plan, []notify.Event, error) {
		if !plan.IsDueToStart(now) {
			return nil, nil, nil
		}
		return ls.svc.startLocked(ctx, tx, plan)
	})
}

// CompleteDue completes every IN_PROGRESS plan whose end date is not after
// now and returns how many it completed.
func (ls *LifecycleScheduler) CompleteDue(ctx context.Context, now time.Time) (int, error) {
	find := func(ctx context.Context, limit int) ([]*models.Plan, error) {
		return ls.svc.store.Plans().FindDueToComplete(ctx, now, limit)
	}
	return ls.drain(ctx, "complete", find, func(ctx context.Context, tx repository.Tx, plan *models.Plan) (*models.Plan, []notify.Event, error) {
		if !plan.IsDueToComplete(now) {
			return nil, nil, nil
		}
		return ls.svc.completeLocked(ctx, tx, plan)
	})
}

type findFunc func(ctx context.Context, limit int) ([]*models.Plan, error)

// drain processes due plans page by page until a page comes back short.
// A plan is attempted at most once per call. Plans that failed stay due and
// are returned again by find, so each page asks for that many extra rows.
func (ls *LifecycleScheduler) drain(ctx context.Context, phase string, find findFunc, fn transitionFunc) (int, error) {
	var (
		total  int
		failed int
		errs   *multierror.Error
		seen   = make(map[int64]bool)
	)
	for ctx.Err() == nil {
		limit := ls.opts.BatchSize + failed
		plans, err := find(ctx, limit)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to find plans due to %s: %w", phase, err))
			break
		}

		var batch []*models.Plan
		for _, p := range plans {
			if !seen[p.ID] {
				seen[p.ID] = true
				batch = append(batch, p)
			}
		}
		if len(batch) == 0 {
			break
		}

		moved, batchFailed, err := ls.process(ctx, phase, batch, fn)
		total += moved
		failed += batchFailed
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		if len(plans) < limit {
			break
		}
	}
	return total, errs.ErrorOrNil()
}

type transitionFunc func(ctx context.Context, tx repository.Tx, plan *models.Plan) (*models.Plan, []notify.Event, error)

// process runs fn for each plan in its own transaction, holding the plan lock.
// The due condition is re-checked under the lock, so a plan another worker or
// an owner already moved is skipped. Events are published after commit.
// It returns how many plans moved and how many failed.
func (ls *LifecycleScheduler) process(ctx context.Context, phase string, plans []*models.Plan, fn transitionFunc) (int, int, error) {
	var (
		g     errgroup.Group
		mu    sync.Mutex
		errs  *multierror.Error
		moved = atomic.NewInt64(0)
	)
	g.SetLimit(ls.opts.Concurrency)

	for _, p := range plans {
		planID := p.ID
		g.Go(func() error {
			var updated *models.Plan
			err := ls.svc.withinTx(ctx, func(ctx context.Context, tx repository.Tx) ([]notify.Event, error) {
				plan, err := lockPlan(ctx, tx, planID)
				if err != nil {
					return nil, err
				}
				var events []notify.Event
				updated, events, err = fn(ctx, tx, plan)
				return events, err
			})
			fields := logrus.Fields{"plan_id": planID, "phase": phase}
			if err != nil {
				ls.svc.metrics.PlanError(phase)
				ls.logger.WithFields(fields).WithError(err).Error("Failed to transition plan")
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("%s plan %d: %w", phase, planID, err))
				mu.Unlock()
				return nil
			}
			if updated != nil {
				moved.Inc()
				ls.logger.WithFields(fields).Infof("Plan is now %s", updated.Status)
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(moved.Load()), len(errs.WrappedErrors()), errs.ErrorOrNil()
}
