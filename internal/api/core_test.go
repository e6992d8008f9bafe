package api

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/qa-automation-core/internal/agent"
	"github.com/r3e-network/qa-automation-core/internal/apperrors"
	"github.com/r3e-network/qa-automation-core/internal/artifact"
	"github.com/r3e-network/qa-automation-core/internal/browserdriver"
	"github.com/r3e-network/qa-automation-core/internal/config"
	"github.com/r3e-network/qa-automation-core/internal/flaky"
	"github.com/r3e-network/qa-automation-core/internal/history"
	"github.com/r3e-network/qa-automation-core/internal/logging"
	"github.com/r3e-network/qa-automation-core/internal/metricsx"
	"github.com/r3e-network/qa-automation-core/internal/model"
	"github.com/r3e-network/qa-automation-core/internal/orchestrator"
	"github.com/r3e-network/qa-automation-core/internal/persistence/memory"
	"github.com/r3e-network/qa-automation-core/internal/scheduler"
)

type stubProposer struct{}

func (stubProposer) Propose(ctx context.Context, test *model.Test, recent []*model.RunHistory) (agent.Proposal, error) {
	return agent.Proposal{Script: test.Script, Rationale: "no-op"}, nil
}

func newTestCore(t *testing.T, dir string) *Core {
	t.Helper()
	log := logging.New("test", "error", "text")
	metrics := metricsx.New(prometheus.NewRegistry())
	store := memory.New()

	testRepo := memory.NewTestRepository(store)
	runRepo := memory.NewRunRepository(store)
	schedRepo := memory.NewScheduleRepository(store)
	histRepo := memory.NewHistoryRepository(store)
	agentRepo := memory.NewAgentRepository(store)

	cfg := config.New()
	driver := browserdriver.NewFakeDriver()
	store2 := artifact.New(dir, 0)
	sink := &orchestrator.StoreArtifactSink{Store: store2}
	orch := orchestrator.New(cfg, log, metrics, runRepo, testRepo, driver, sink)
	require.NoError(t, orch.Start(context.Background()))
	t.Cleanup(func() { _ = orch.Stop(context.Background()) })

	sched := scheduler.New(scheduler.Config{TickInterval: time.Hour}, log, metrics, schedRepo, orch)

	analyzer := flaky.NewAnalyzer(histRepo, nil, 0, log, metrics)

	newAgent := func(acfg agent.Config) *agent.Agent {
		return agent.New(acfg, log, metrics, testRepo, orch, orch, analyzer, histRepo, stubProposer{})
	}

	_ = history.New(8, log, metrics, histRepo, testRepo)

	return New(orch, sched, store2, testRepo, agentRepo, analyzer, newAgent)
}

func TestCreateTestRejectsUnknownAction(t *testing.T) {
	core := newTestCore(t, t.TempDir())
	_, err := core.CreateTest(context.Background(), "bad-test", "playwright",
		[]model.Step{{Action: "NOT_A_REAL_ACTION"}}, 1)
	require.Error(t, err)
	svcErr, ok := err.(*apperrors.ServiceError)
	require.True(t, ok)
	assert.Equal(t, apperrors.Validation, svcErr.Kind)
}

func TestCreateTestRejectsMissingLocator(t *testing.T) {
	core := newTestCore(t, t.TempDir())
	_, err := core.CreateTest(context.Background(), "bad-test", "playwright",
		[]model.Step{{Action: model.ActionClick}}, 1)
	require.Error(t, err)
}

func TestCreateTestAcceptsValidScript(t *testing.T) {
	core := newTestCore(t, t.TempDir())
	id, err := core.CreateTest(context.Background(), "good-test", "playwright",
		[]model.Step{{Action: model.ActionNavigate, Value: "https://example.com"}}, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestUploadDownloadDeleteArtifactRoundTrip(t *testing.T) {
	core := newTestCore(t, t.TempDir())
	key, err := core.UploadArtifact("run-1", artifact.KindLog, "run.log", []byte("hello"))
	require.NoError(t, err)

	rc, err := core.DownloadArtifact(key)
	require.NoError(t, err)
	defer rc.Close()

	entries, err := core.ListArtifacts("run-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	count, err := core.DeleteArtifacts("run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	entries, err = core.ListArtifacts("run-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreateScheduleRejectsInvalidCron(t *testing.T) {
	core := newTestCore(t, t.TempDir())
	_, err := core.CreateSchedule(context.Background(), "t1", "not a cron", "UTC")
	require.Error(t, err)
}

func TestStartAndStopAgentLifecycle(t *testing.T) {
	core := newTestCore(t, t.TempDir())
	id, err := core.CreateTest(context.Background(), "flaky-test", "playwright",
		[]model.Step{{Action: model.ActionNavigate, Value: "https://example.com"}}, 1)
	require.NoError(t, err)

	agentID, err := core.StartAgent(context.Background(), id, agent.Config{MaxIter: 1, VerificationRuns: 1})
	require.NoError(t, err)
	require.NotEmpty(t, agentID)

	require.NoError(t, core.StopAgent(agentID))
}

func TestStopAgentNotFound(t *testing.T) {
	core := newTestCore(t, t.TempDir())
	err := core.StopAgent("does-not-exist")
	require.Error(t, err)
	svcErr, ok := err.(*apperrors.ServiceError)
	require.True(t, ok)
	assert.Equal(t, apperrors.NotFound, svcErr.Kind)
}
