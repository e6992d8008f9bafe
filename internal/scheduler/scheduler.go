// Package scheduler drives ScheduleEntry rows through the Execution
// Orchestrator on a cron tick, grounded on the teacher's
// internal/app/services/automation.Scheduler poll-and-dispatch loop, with
// cron-expression parsing delegated to robfig/cron/v3 instead of the
// teacher's simple due-time comparison.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/r3e-network/qa-automation-core/internal/framework"
	"github.com/r3e-network/qa-automation-core/internal/logging"
	"github.com/r3e-network/qa-automation-core/internal/metricsx"
	"github.com/r3e-network/qa-automation-core/internal/model"
	"github.com/r3e-network/qa-automation-core/internal/orchestrator"
)

// CatchupPolicy names how the Scheduler behaves when a tick discovers more
// than one missed firing instant for an entry (§4.F).
type CatchupPolicy string

const (
	// CatchupSingle submits exactly one run for the most recent missed
	// instant and folds the rest into the missed counter.
	CatchupSingle CatchupPolicy = "SINGLE"
	// CatchupNone submits nothing for a missed-instant tick; every missed
	// occurrence is folded into the missed counter and next_run_ts is
	// still advanced past all of them.
	CatchupNone CatchupPolicy = "NONE"
)

// Config controls the Scheduler's tick cadence and catch-up behavior.
type Config struct {
	TickInterval time.Duration
	Catchup      CatchupPolicy
}

// Scheduler polls Repository for due ScheduleEntry rows and submits jobs to
// the Orchestrator, preventing overlap and applying the catch-up policy.
type Scheduler struct {
	*framework.ServiceBase

	cfg     Config
	log     *logging.Logger
	metrics *metricsx.Metrics
	repo    Repository
	submit  Submitter

	parser cron.Parser

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Scheduler. cfg.TickInterval and cfg.Catchup default to
// 2s/SINGLE if left zero, matching config.New()'s defaults.
func New(cfg Config, log *logging.Logger, metrics *metricsx.Metrics, repo Repository, submit Submitter) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 2 * time.Second
	}
	if cfg.Catchup == "" {
		cfg.Catchup = CatchupSingle
	}
	s := &Scheduler{
		ServiceBase: framework.NewServiceBase("scheduler"),
		cfg:         cfg,
		log:         log,
		metrics:     metrics,
		repo:        repo,
		submit:      submit,
		parser:      cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	submit.Observe(s.onRunTerminal)
	return s
}

// Start launches the tick loop. Idempotent.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.tick(runCtx)
			}
		}
	}()

	s.MarkStarted()
	s.log.WithContext(ctx).Info("scheduler started")
	return nil
}

// Stop halts the tick loop and waits for any in-flight tick to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.MarkStopped()
	s.log.WithContext(ctx).Info("scheduler stopped")
	return nil
}

// Create registers a new schedule entry and computes its first next_run_ts.
func (s *Scheduler) Create(ctx context.Context, entry *model.ScheduleEntry) error {
	schedule, err := s.parser.Parse(entry.Cron)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", entry.Cron, err)
	}
	loc, err := resolveLocation(entry.Timezone)
	if err != nil {
		return err
	}
	entry.NextRunTS = schedule.Next(time.Now().In(loc))
	return s.repo.Create(ctx, entry)
}

// Update applies patch (identified by entry.ID) onto the stored entry and
// recomputes next_run_ts if the cron expression or timezone changed.
func (s *Scheduler) Update(ctx context.Context, patch *model.ScheduleEntry) error {
	existing, err := s.repo.Get(ctx, patch.ID)
	if err != nil {
		return err
	}
	if patch.Cron != "" {
		existing.Cron = patch.Cron
	}
	if patch.Timezone != "" {
		existing.Timezone = patch.Timezone
	}
	schedule, err := s.parser.Parse(existing.Cron)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", existing.Cron, err)
	}
	loc, err := resolveLocation(existing.Timezone)
	if err != nil {
		return err
	}
	existing.NextRunTS = schedule.Next(time.Now().In(loc))
	return s.repo.Update(ctx, existing)
}

// Enable flips an entry's Enabled flag to true.
func (s *Scheduler) Enable(ctx context.Context, id string) error { return s.setEnabled(ctx, id, true) }

// Disable flips an entry's Enabled flag to false; a disabled entry is never
// picked up by a tick even if overdue.
func (s *Scheduler) Disable(ctx context.Context, id string) error { return s.setEnabled(ctx, id, false) }

func (s *Scheduler) setEnabled(ctx context.Context, id string, enabled bool) error {
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	entry.Enabled = enabled
	return s.repo.Update(ctx, entry)
}

// TriggerNow injects an out-of-band job for entry id, bypassing the cron
// schedule entirely. It still honors overlap prevention.
func (s *Scheduler) TriggerNow(ctx context.Context, id string) (*model.Run, error) {
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	claimed, err := s.repo.TryClaim(ctx, id)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("schedule %s: a run is already in flight", id)
	}
	run, err := s.submit.Submit(ctx, entry.TestID, orchestrator.SubmitOptions{
		TriggeredBy: model.TriggerSchedule,
		ScheduleID:  entry.ID,
	})
	if err != nil {
		_ = s.repo.Release(ctx, id)
		return nil, err
	}
	return run, nil
}

// ListDue returns every enabled, non-running entry whose next_run_ts is at
// or before now, without claiming or submitting anything.
func (s *Scheduler) ListDue(ctx context.Context, now time.Time) ([]*model.ScheduleEntry, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	var due []*model.ScheduleEntry
	for _, entry := range all {
		if entry.Enabled && !entry.Running && !entry.NextRunTS.After(now) {
			due = append(due, entry)
		}
	}
	return due, nil
}

// tick scans for due entries and, for each, attempts the atomic claim,
// submits a job (subject to the catch-up policy), and recomputes
// next_run_ts.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	due, err := s.ListDue(ctx, now)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("scheduler tick: list due entries failed")
		return
	}

	var wg sync.WaitGroup
	for _, entry := range due {
		s.metrics.ScheduleDueTotal.Inc()
		wg.Add(1)
		go func(entry *model.ScheduleEntry) {
			defer wg.Done()
			s.fire(ctx, entry, now)
		}(entry)
	}
	wg.Wait()
}

// fire claims entry, applies the catch-up policy, submits at most one job,
// and advances next_run_ts past every occurrence that elapsed since the
// previous next_run_ts (including ones collapsed by the catch-up policy).
func (s *Scheduler) fire(ctx context.Context, entry *model.ScheduleEntry, now time.Time) {
	claimed, err := s.repo.TryClaim(ctx, entry.ID)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("schedule_id", entry.ID).Warn("scheduler: claim failed")
		return
	}
	if !claimed {
		// The previous run is still RUNNING: this fire is a missed
		// occurrence (§8 scenario 5), not just a metric blip. Re-fetch
		// rather than updating the stale `entry` we hold, since its
		// Running field predates whichever claim just won the race.
		s.metrics.ScheduleSkippedTotal.Inc()
		fresh, err := s.repo.Get(ctx, entry.ID)
		if err != nil {
			s.log.WithContext(ctx).WithError(err).WithField("schedule_id", entry.ID).Warn("scheduler: reload entry after missed fire failed")
			return
		}
		fresh.Missed++
		s.metrics.ScheduleMissedTotal.Inc()
		if err := s.repo.Update(ctx, fresh); err != nil {
			s.log.WithContext(ctx).WithError(err).WithField("schedule_id", entry.ID).Warn("scheduler: persist missed-fire count failed")
		}
		return
	}

	schedule, err := s.parser.Parse(entry.Cron)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("schedule_id", entry.ID).Error("scheduler: unparseable cron on fire")
		_ = s.repo.Release(ctx, entry.ID)
		return
	}
	loc, err := resolveLocation(entry.Timezone)
	if err != nil {
		loc = time.UTC
	}

	occurrences, next := countOccurrences(schedule, entry.NextRunTS, now)
	missedBefore := entry.Missed
	submitted := false

	switch s.cfg.Catchup {
	case CatchupNone:
		entry.Missed += occurrences
		_ = s.repo.Release(ctx, entry.ID)
	default: // CatchupSingle
		entry.Missed += occurrences - 1
		run, err := s.submit.Submit(ctx, entry.TestID, orchestrator.SubmitOptions{
			TriggeredBy: model.TriggerSchedule,
			ScheduleID:  entry.ID,
		})
		if err != nil {
			s.log.WithContext(ctx).WithError(err).WithField("schedule_id", entry.ID).Warn("scheduler: submit failed")
			_ = s.repo.Release(ctx, entry.ID)
			break
		}
		submitted = true
		s.metrics.ScheduleSubmittedTotal.Inc()
		entry.LastRunTS = now
		entry.Total++
		_ = run // terminal bookkeeping happens in onRunTerminal
	}

	if delta := entry.Missed - missedBefore; delta > 0 {
		s.metrics.ScheduleMissedTotal.Add(float64(delta))
	}
	entry.NextRunTS = next
	if next.IsZero() {
		entry.NextRunTS = schedule.Next(now.In(loc))
	}
	if err := s.repo.Update(ctx, entry); err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("schedule_id", entry.ID).Warn("scheduler: persist after tick failed")
	}
	if !submitted {
		return
	}
}

// countOccurrences walks schedule forward from `from` counting fire
// instants up to and including the most recent one at or before `now`,
// returning that count plus the next instant strictly after now. If `from`
// is zero or already past now, it reports a single occurrence at `from`
// itself (the ordinary, non-catch-up case) — occurrences only exceeds 1
// when the scheduler has fallen behind by more than one interval.
func countOccurrences(schedule cron.Schedule, from, now time.Time) (occurrences int, next time.Time) {
	if from.IsZero() || from.After(now) {
		return 1, schedule.Next(now)
	}
	occurrences = 1
	cursor := from
	for {
		upcoming := schedule.Next(cursor)
		if upcoming.After(now) {
			return occurrences, upcoming
		}
		occurrences++
		cursor = upcoming
	}
}

// onRunTerminal is registered as an Orchestrator observer; it clears the
// running claim and updates counters for entries triggered by this
// scheduler once their run reaches a terminal status.
func (s *Scheduler) onRunTerminal(run *model.Run) {
	if run.ScheduleID == "" || !run.Status.IsTerminal() {
		return
	}
	ctx := context.Background()
	entry, err := s.repo.Get(ctx, run.ScheduleID)
	if err != nil {
		return
	}
	if run.Status == model.RunPassed {
		entry.Success++
	} else {
		entry.Failure++
	}
	entry.LastStatus = run.Status
	if err := s.repo.Update(ctx, entry); err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("schedule_id", entry.ID).Warn("scheduler: update counters after terminal run failed")
	}
	if err := s.repo.Release(ctx, entry.ID); err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("schedule_id", entry.ID).Warn("scheduler: release claim after terminal run failed")
	}
}

func resolveLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}
