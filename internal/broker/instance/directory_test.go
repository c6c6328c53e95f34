package instance

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectralnotify/internal/broker/fanout"
	"spectralnotify/internal/platform/logging"
	"spectralnotify/internal/storage/localstore"
)

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	store, err := localstore.Open(filepath.Join(t.TempDir(), "test.db"), logging.Nop)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(context.Background()))
	t.Cleanup(func() { store.Close() })
	return NewDirectory(store, store, false, fanout.DefaultConfig(), logging.Nop, nil)
}

func TestDirectoryTaskIsLazyAndStable(t *testing.T) {
	d := newTestDirectory(t)
	a := d.Task("t1")
	b := d.Task("t1")
	assert.Same(t, a, b)
}

func TestDirectoryTaskSingleflightDedupesConcurrentFirstReference(t *testing.T) {
	d := newTestDirectory(t)

	var wg sync.WaitGroup
	instances := make([]*TaskInstance, 32)
	for i := range instances {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			instances[i] = d.Task("concurrent")
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(instances); i++ {
		assert.Same(t, instances[0], instances[i])
	}
}

func TestDirectoryForgetTaskBuildsFreshInstance(t *testing.T) {
	d := newTestDirectory(t)
	a := d.Task("t1")
	d.ForgetTask("t1")
	b := d.Task("t1")
	assert.NotSame(t, a, b)
}

func TestDirectoryCloseAllWithNoSubscribersDoesNotPanic(t *testing.T) {
	d := newTestDirectory(t)
	ti := d.Task("t1")
	_ = ti

	wi := d.Workflow("w1")
	_ = wi

	// CloseAll should not panic with no live subscribers on either hub.
	d.CloseAll(1000, "shutdown")
}
