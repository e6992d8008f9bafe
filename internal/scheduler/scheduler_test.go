package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/qa-automation-core/internal/logging"
	"github.com/r3e-network/qa-automation-core/internal/metricsx"
	"github.com/r3e-network/qa-automation-core/internal/model"
	"github.com/r3e-network/qa-automation-core/internal/orchestrator"
	"github.com/r3e-network/qa-automation-core/internal/persistence/memory"
)

// slowSubmitter is a Submitter that blocks inside Submit until release is
// closed, so a test can deterministically hold a claim across a second
// tick to exercise overlap prevention.
type slowSubmitter struct {
	mu       sync.Mutex
	observer orchestrator.Observer
	calls    int32
	release  chan struct{}
}

func (s *slowSubmitter) Submit(ctx context.Context, testID string, opts orchestrator.SubmitOptions) (*model.Run, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.release != nil {
		<-s.release
	}
	run := &model.Run{ID: "run-1", TestID: testID, Status: model.RunQueued, ScheduleID: opts.ScheduleID}
	return run, nil
}

func (s *slowSubmitter) Observe(obs orchestrator.Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = obs
}

func (s *slowSubmitter) notify(run *model.Run) {
	s.mu.Lock()
	obs := s.observer
	s.mu.Unlock()
	if obs != nil {
		obs(run)
	}
}

func newTestScheduler(t *testing.T, cfg Config, submit Submitter) (*Scheduler, *memory.ScheduleRepository) {
	t.Helper()
	log := logging.New("test", "error", "text")
	metrics := metricsx.New(prometheus.NewRegistry())
	store := memory.New()
	repo := memory.NewScheduleRepository(store)
	s := New(cfg, log, metrics, repo, submit)
	return s, repo
}

func TestCreateComputesNextRunFromCron(t *testing.T) {
	submit := &slowSubmitter{}
	s, repo := newTestScheduler(t, Config{}, submit)

	entry := &model.ScheduleEntry{ID: "sch-1", TestID: "t1", Cron: "* * * * *", Enabled: true}
	require.NoError(t, s.Create(context.Background(), entry))

	stored, err := repo.Get(context.Background(), "sch-1")
	require.NoError(t, err)
	assert.False(t, stored.NextRunTS.IsZero())
}

func TestTickSubmitsDueEntryAndAdvancesNextRun(t *testing.T) {
	submit := &slowSubmitter{}
	s, repo := newTestScheduler(t, Config{TickInterval: time.Hour, Catchup: CatchupSingle}, submit)

	entry := &model.ScheduleEntry{ID: "sch-2", TestID: "t1", Cron: "* * * * *", Enabled: true,
		NextRunTS: time.Now().Add(-time.Minute)}
	require.NoError(t, repo.Create(context.Background(), entry))

	s.tick(context.Background())

	assert.Equal(t, int32(1), atomic.LoadInt32(&submit.calls))
	stored, err := repo.Get(context.Background(), "sch-2")
	require.NoError(t, err)
	assert.True(t, stored.NextRunTS.After(time.Now()))
	assert.Equal(t, 1, stored.Total)
}

func TestTickSkipsDisabledEntry(t *testing.T) {
	submit := &slowSubmitter{}
	s, repo := newTestScheduler(t, Config{}, submit)

	entry := &model.ScheduleEntry{ID: "sch-3", TestID: "t1", Cron: "* * * * *", Enabled: false,
		NextRunTS: time.Now().Add(-time.Minute)}
	require.NoError(t, repo.Create(context.Background(), entry))

	s.tick(context.Background())

	assert.Equal(t, int32(0), atomic.LoadInt32(&submit.calls))
}

// TestOverlapPreventionSkipsSecondTickWhileFirstRunIsInFlight exercises the
// scheduler overlap-prevention scenario (§8): a tick whose Submit call is
// still in flight must cause a second concurrent tick to skip the same
// entry entirely rather than double-submitting it.
func TestOverlapPreventionSkipsSecondTickWhileFirstRunIsInFlight(t *testing.T) {
	submit := &slowSubmitter{release: make(chan struct{})}
	s, repo := newTestScheduler(t, Config{Catchup: CatchupSingle}, submit)

	entry := &model.ScheduleEntry{ID: "sch-4", TestID: "t1", Cron: "* * * * *", Enabled: true,
		NextRunTS: time.Now().Add(-time.Minute)}
	require.NoError(t, repo.Create(context.Background(), entry))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.tick(context.Background()) // blocks inside Submit until release closes
	}()

	time.Sleep(20 * time.Millisecond) // let the first tick claim the entry
	s.tick(context.Background())      // second tick must see running=true and skip

	close(submit.release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&submit.calls), "overlapping tick must not double-submit")
}

// TestFireIncrementsMissedCounterWhenOverlapSkipsSubmit exercises fire()
// directly (bypassing tick()'s ListDue prefilter) so the second call's
// TryClaim genuinely races against the first's in-flight claim, driving
// the skipped-fire branch that must bump the missed counter (§8 scenario
// 5: "missed-fires counter increments by 1").
func TestFireIncrementsMissedCounterWhenOverlapSkipsSubmit(t *testing.T) {
	submit := &slowSubmitter{release: make(chan struct{})}
	s, repo := newTestScheduler(t, Config{Catchup: CatchupSingle}, submit)

	entry := &model.ScheduleEntry{ID: "sch-6", TestID: "t1", Cron: "* * * * *", Enabled: true,
		NextRunTS: time.Now().Add(-time.Minute)}
	require.NoError(t, repo.Create(context.Background(), entry))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.fire(context.Background(), entry, time.Now()) // claims, then blocks inside Submit
	}()

	time.Sleep(20 * time.Millisecond) // let the first fire win the claim
	stale, err := repo.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	s.fire(context.Background(), stale, time.Now()) // TryClaim fails; must bump Missed

	close(submit.release)
	wg.Wait()

	stored, err := repo.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Missed)
}

func TestCatchupSingleCollapsesMissedFiresIntoOneSubmitPlusCounter(t *testing.T) {
	submit := &slowSubmitter{}
	s, repo := newTestScheduler(t, Config{Catchup: CatchupSingle}, submit)

	entry := &model.ScheduleEntry{ID: "sch-5", TestID: "t1", Cron: "* * * * *", Enabled: true,
		NextRunTS: time.Now().Add(-5 * time.Minute)}
	require.NoError(t, repo.Create(context.Background(), entry))

	s.tick(context.Background())

	assert.Equal(t, int32(1), atomic.LoadInt32(&submit.calls))
	stored, err := repo.Get(context.Background(), "sch-5")
	require.NoError(t, err)
	assert.True(t, stored.Missed >= 3, "expected several missed fires to be folded into the counter, got %d", stored.Missed)
	assert.Equal(t, 1, stored.Total)
}

func TestCatchupNoneSkipsSubmitButStillAdvancesAndCounts(t *testing.T) {
	submit := &slowSubmitter{}
	s, repo := newTestScheduler(t, Config{Catchup: CatchupNone}, submit)

	entry := &model.ScheduleEntry{ID: "sch-6", TestID: "t1", Cron: "* * * * *", Enabled: true,
		NextRunTS: time.Now().Add(-5 * time.Minute)}
	require.NoError(t, repo.Create(context.Background(), entry))

	s.tick(context.Background())

	assert.Equal(t, int32(0), atomic.LoadInt32(&submit.calls))
	stored, err := repo.Get(context.Background(), "sch-6")
	require.NoError(t, err)
	assert.True(t, stored.Missed >= 4, "expected all missed fires counted, got %d", stored.Missed)
	assert.Equal(t, 0, stored.Total)
	assert.False(t, stored.Running, "NONE policy must still release the claim")
	assert.True(t, stored.NextRunTS.After(time.Now()))
}

func TestTerminalRunNotificationClearsRunningAndUpdatesCounters(t *testing.T) {
	submit := &slowSubmitter{}
	s, repo := newTestScheduler(t, Config{Catchup: CatchupSingle}, submit)

	entry := &model.ScheduleEntry{ID: "sch-7", TestID: "t1", Cron: "* * * * *", Enabled: true,
		NextRunTS: time.Now().Add(-time.Minute)}
	require.NoError(t, repo.Create(context.Background(), entry))

	s.tick(context.Background())

	run := &model.Run{ID: "run-1", TestID: "t1", ScheduleID: "sch-7", Status: model.RunPassed}
	submit.notify(run)

	stored, err := repo.Get(context.Background(), "sch-7")
	require.NoError(t, err)
	assert.False(t, stored.Running)
	assert.Equal(t, 1, stored.Success)
	assert.Equal(t, model.RunPassed, stored.LastStatus)
}
