package localstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectralnotify/internal/broker/apperr"
	"spectralnotify/internal/domain/status"
	"spectralnotify/internal/domain/workflow"
)

func createTestWorkflow(t *testing.T, s *Store) {
	t.Helper()
	_, _, err := s.Create(context.Background(), workflow.CreateParams{
		WorkflowID: "w1",
		Phases: []workflow.PhaseSpec{
			{PhaseKey: "fetch", Weight: 0.3},
			{PhaseKey: "transform", Weight: 0.5},
			{PhaseKey: "publish", Weight: 0.2},
		},
	})
	require.NoError(t, err)
}

func TestWorkflowCreateRejectsDuplicatePhaseKey(t *testing.T) {
	s := openTestStore(t)
	_, _, err := s.Create(context.Background(), workflow.CreateParams{
		WorkflowID: "w1",
		Phases: []workflow.PhaseSpec{
			{PhaseKey: "a", Weight: 1},
			{PhaseKey: "a", Weight: 1},
		},
	})
	assert.Equal(t, apperr.CodeDuplicatePhase, apperr.CodeOf(err))
}

func TestWorkflowOverallProgressRecomputesAcrossUpdates(t *testing.T) {
	s := openTestStore(t)
	createTestWorkflow(t, s)
	ctx := context.Background()

	_, _, _, err := s.UpdatePhaseProgress(ctx, "w1", "fetch", 100)
	require.NoError(t, err)
	_, _, _, err = s.CompletePhase(ctx, "w1", "fetch")
	require.NoError(t, err)

	wf, phases, _, err := s.UpdatePhaseProgress(ctx, "w1", "transform", 50)
	require.NoError(t, err)
	assert.Equal(t, 55, wf.OverallProgress)
	assert.Equal(t, 1, wf.CompletedPhaseCount)
	require.NotNil(t, wf.ActivePhaseKey)
	assert.Equal(t, "transform", *wf.ActivePhaseKey)
	assert.Len(t, phases, 3)
}

func TestWorkflowCompleteDefaultForceCompletesRemainingPhases(t *testing.T) {
	s := openTestStore(t)
	createTestWorkflow(t, s)
	ctx := context.Background()

	wf, phases, _, err := s.Complete(ctx, "w1", false)
	require.NoError(t, err)
	assert.Equal(t, status.Success, wf.Status)
	assert.Equal(t, 100, wf.OverallProgress)
	for _, ph := range phases {
		assert.Equal(t, status.Success, ph.Status)
	}
}

func TestWorkflowCompleteStrictRejectsIncompletePhases(t *testing.T) {
	s := openTestStore(t)
	createTestWorkflow(t, s)

	_, _, _, err := s.Complete(context.Background(), "w1", true)
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
}

func TestWorkflowCompleteStrictSucceedsWhenAllPhasesSuccess(t *testing.T) {
	s := openTestStore(t)
	createTestWorkflow(t, s)
	ctx := context.Background()

	for _, key := range []string{"fetch", "transform", "publish"} {
		_, _, _, err := s.CompletePhase(ctx, "w1", key)
		require.NoError(t, err)
	}

	wf, _, _, err := s.Complete(ctx, "w1", true)
	require.NoError(t, err)
	assert.Equal(t, status.Success, wf.Status)
}

func TestWorkflowTerminalStateRejectsPhaseUpdate(t *testing.T) {
	s := openTestStore(t)
	createTestWorkflow(t, s)
	ctx := context.Background()

	_, _, _, err := s.Fail(ctx, "w1", "boom")
	require.NoError(t, err)

	_, _, _, err = s.UpdatePhaseProgress(ctx, "w1", "fetch", 10)
	assert.Equal(t, apperr.CodeTerminalState, apperr.CodeOf(err))
}
