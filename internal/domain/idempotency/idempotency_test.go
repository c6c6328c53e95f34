package idempotency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyIsStableAcrossKeyOrder(t *testing.T) {
	k1, err := DeriveKey("/tasks/create", []byte(`{"id":"t1","metadata":{"a":1,"b":2}}`))
	require.NoError(t, err)
	k2, err := DeriveKey("/tasks/create", []byte(`{"metadata":{"b":2,"a":1},"id":"t1"}`))
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestDeriveKeyDiffersByPath(t *testing.T) {
	body := []byte(`{"id":"t1"}`)
	k1, err := DeriveKey("/tasks/create", body)
	require.NoError(t, err)
	k2, err := DeriveKey("/workflows/create", body)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestDeriveKeyDiffersByBody(t *testing.T) {
	k1, err := DeriveKey("/tasks/create", []byte(`{"id":"t1"}`))
	require.NoError(t, err)
	k2, err := DeriveKey("/tasks/create", []byte(`{"id":"t2"}`))
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestDeriveKeyHandlesEmptyBody(t *testing.T) {
	k, err := DeriveKey("/tasks/getAll", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, k)
}
