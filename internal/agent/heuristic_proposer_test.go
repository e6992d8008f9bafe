package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/qa-automation-core/internal/model"
)

func TestHeuristicProposerBumpsTimeoutOnTimeoutFailures(t *testing.T) {
	p := NewHeuristicProposer(3000)
	test := &model.Test{Script: []model.Step{{Action: model.ActionClick, Locator: "css=.btn", TimeoutMs: 1000}}}
	recent := []*model.RunHistory{
		{FailureType: model.CategoryTimeout}, {FailureType: model.CategoryTimeout},
	}

	proposal, err := p.Propose(context.Background(), test, recent)
	require.NoError(t, err)
	assert.Equal(t, 4000, proposal.Script[0].TimeoutMs)
}

func TestHeuristicProposerInsertsWaitOnElementNotFound(t *testing.T) {
	p := NewHeuristicProposer(0)
	test := &model.Test{Script: []model.Step{{Action: model.ActionClick, Locator: "css=.btn"}}}
	recent := []*model.RunHistory{{FailureType: model.CategoryElementNotFound}}

	proposal, err := p.Propose(context.Background(), test, recent)
	require.NoError(t, err)
	require.Len(t, proposal.Script, 2)
	assert.Equal(t, model.ActionWaitForSelector, proposal.Script[0].Action)
	assert.Equal(t, "css=.btn", proposal.Script[0].Locator)
}

func TestHeuristicProposerLeavesScriptUnchangedForUnknownCategory(t *testing.T) {
	p := NewHeuristicProposer(0)
	original := []model.Step{{Action: model.ActionNavigate, Value: "https://example.com"}}
	test := &model.Test{Script: original}

	proposal, err := p.Propose(context.Background(), test, nil)
	require.NoError(t, err)
	assert.Equal(t, original, proposal.Script)
}
