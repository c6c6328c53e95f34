package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"spectralnotify/internal/domain/status"
)

func TestOverallProgress_WeightedAverage(t *testing.T) {
	phases := []Phase{
		{PhaseKey: "fetch", Weight: 0.3, Progress: 100, Status: status.Success},
		{PhaseKey: "transform", Weight: 0.5, Progress: 50, Status: status.InProgress},
		{PhaseKey: "publish", Weight: 0.2, Progress: 0, Status: status.Pending},
	}
	assert.Equal(t, 55, OverallProgress(phases))
}

func TestOverallProgress_NoPhases(t *testing.T) {
	assert.Equal(t, 0, OverallProgress(nil))
}

func TestOverallProgress_ZeroWeightAllSuccess(t *testing.T) {
	phases := []Phase{
		{PhaseKey: "a", Weight: 0, Progress: 100, Status: status.Success},
	}
	assert.Equal(t, 100, OverallProgress(phases))
}

func TestOverallProgress_ZeroWeightNotAllSuccess(t *testing.T) {
	phases := []Phase{
		{PhaseKey: "a", Weight: 0, Progress: 50, Status: status.InProgress},
	}
	assert.Equal(t, 0, OverallProgress(phases))
}

func TestDerivedFields_ActivePhaseIsLowestOrderNonTerminal(t *testing.T) {
	phases := []Phase{
		{PhaseKey: "a", Order: 0, Status: status.Success},
		{PhaseKey: "b", Order: 1, Status: status.InProgress},
		{PhaseKey: "c", Order: 2, Status: status.Pending},
	}
	completed, active := DerivedFields(phases)
	assert.Equal(t, 1, completed)
	assert.NotNil(t, active)
	assert.Equal(t, "b", *active)
}

func TestDerivedFields_NoActivePhaseWhenAllTerminal(t *testing.T) {
	phases := []Phase{
		{PhaseKey: "a", Order: 0, Status: status.Success},
		{PhaseKey: "b", Order: 1, Status: status.Failed},
	}
	completed, active := DerivedFields(phases)
	assert.Equal(t, 1, completed)
	assert.Nil(t, active)
}
