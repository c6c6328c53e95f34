package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTerminal(t *testing.T) {
	assert.False(t, Pending.IsTerminal())
	assert.False(t, InProgress.IsTerminal())
	assert.True(t, Success.IsTerminal())
	assert.True(t, Failed.IsTerminal())
	assert.True(t, Canceled.IsTerminal())
}

func TestValid(t *testing.T) {
	assert.True(t, Pending.Valid())
	assert.False(t, Status("bogus").Valid())
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0, Clamp(-5))
	assert.Equal(t, 100, Clamp(150))
	assert.Equal(t, 42, Clamp(42))
}
