package agent

import (
	"context"
	"fmt"

	"github.com/r3e-network/qa-automation-core/internal/model"
)

// HeuristicProposer is the default Proposer: a small rule set over the
// Failure Classifier's categories (§4.C), standing in for the pluggable
// external proposer the spec treats as a black box. It never calls out to
// an LLM or human queue; it exists so qaengine has a working Fix Agent out
// of the box, and as a reference shape for a real proposer integration.
type HeuristicProposer struct {
	// TimeoutBumpMs is added to a step's TimeoutMs when the most recent
	// failures classify as TIMEOUT or STALE_ELEMENT.
	TimeoutBumpMs int
}

// NewHeuristicProposer constructs a HeuristicProposer with the given
// timeout bump (a zero or negative value defaults to 5000ms).
func NewHeuristicProposer(timeoutBumpMs int) *HeuristicProposer {
	if timeoutBumpMs <= 0 {
		timeoutBumpMs = 5000
	}
	return &HeuristicProposer{TimeoutBumpMs: timeoutBumpMs}
}

// Propose inspects recentFailures' dominant failure category and returns a
// script adjusted for that category: longer timeouts for TIMEOUT/
// STALE_ELEMENT, an inserted WAIT_FOR_SELECTOR ahead of the first
// locator-bearing step for ELEMENT_NOT_FOUND, and an unmodified script (the agent will then
// find it still flaky and try another iteration) for anything else.
func (p *HeuristicProposer) Propose(ctx context.Context, test *model.Test, recentFailures []*model.RunHistory) (Proposal, error) {
	dominant := dominantCategory(recentFailures)

	script := make([]model.Step, len(test.Script))
	copy(script, test.Script)

	switch dominant {
	case model.CategoryTimeout, model.CategoryStaleElement:
		for i := range script {
			script[i].TimeoutMs += p.TimeoutBumpMs
		}
		return Proposal{
			Script:    script,
			Rationale: fmt.Sprintf("recent failures classify as %s; increased every step's timeout by %dms", dominant, p.TimeoutBumpMs),
		}, nil

	case model.CategoryElementNotFound:
		idx := firstLocatorStep(script)
		if idx >= 0 {
			wait := model.Step{Action: model.ActionWaitForSelector, Locator: script[idx].Locator, TimeoutMs: p.TimeoutBumpMs}
			script = append(script[:idx:idx], append([]model.Step{wait}, script[idx:]...)...)
		}
		return Proposal{
			Script:    script,
			Rationale: fmt.Sprintf("recent failures classify as %s; inserted an explicit wait before the first element-targeting step", dominant),
		}, nil

	default:
		return Proposal{Script: script, Rationale: fmt.Sprintf("no actionable pattern for category %q; resubmitting script unchanged", dominant)}, nil
	}
}

func dominantCategory(recent []*model.RunHistory) model.FailureCategory {
	counts := make(map[model.FailureCategory]int)
	for _, rec := range recent {
		counts[rec.FailureType]++
	}
	var best model.FailureCategory
	bestCount := 0
	for cat, count := range counts {
		if count > bestCount {
			best, bestCount = cat, count
		}
	}
	if bestCount == 0 {
		return model.CategoryUnknown
	}
	return best
}

func firstLocatorStep(script []model.Step) int {
	for i, step := range script {
		if step.Locator != "" {
			return i
		}
	}
	return -1
}
