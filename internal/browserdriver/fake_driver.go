package browserdriver

import (
	"context"
	"sync"

	"github.com/r3e-network/qa-automation-core/internal/model"
)

// FakeDriver is an in-memory Driver for orchestrator/retry-engine tests that
// never needs a real browser. Script callers configure per-step outcomes by
// action, in the order Execute is expected to be called.
type FakeDriver struct {
	mu      sync.Mutex
	Opened  int
	Outcome func(step model.Step, callIndex int) StepOutcome
}

// NewFakeDriver constructs a FakeDriver whose Execute always reports
// success unless Outcome is set.
func NewFakeDriver() *FakeDriver { return &FakeDriver{} }

func (d *FakeDriver) Open(ctx context.Context, opts LaunchOptions) (Session, error) {
	d.mu.Lock()
	d.Opened++
	d.mu.Unlock()
	return &fakeSession{driver: d}, nil
}

type fakeSession struct {
	driver *FakeDriver
	mu     sync.Mutex
	calls  int
	closed bool
}

func (s *fakeSession) Execute(ctx context.Context, step model.Step) StepOutcome {
	s.mu.Lock()
	idx := s.calls
	s.calls++
	s.mu.Unlock()

	if s.driver.Outcome != nil {
		return s.driver.Outcome(step, idx)
	}
	return StepOutcome{Success: true}
}

func (s *fakeSession) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("fake-screenshot"), nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
