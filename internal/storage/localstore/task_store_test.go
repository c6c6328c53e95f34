package localstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectralnotify/internal/broker/apperr"
	"spectralnotify/internal/domain/status"
	"spectralnotify/internal/domain/task"
	"spectralnotify/internal/platform/logging"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath, logging.Nop)
	require.NoError(t, err)
	require.NoError(t, s.EnsureSchema(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTaskCreateAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, task.CreateParams{TaskID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, status.Pending, created.Status)

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.TaskID)
	assert.Equal(t, status.Pending, got.Status)
}

func TestTaskCreateDuplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, task.CreateParams{TaskID: "dup"})
	require.NoError(t, err)

	_, err = s.Create(ctx, task.CreateParams{TaskID: "dup"})
	assert.Equal(t, apperr.CodeDuplicateEntity, apperr.CodeOf(err))
}

func TestTaskUpdateProgressTransitionsToInProgress(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, task.CreateParams{TaskID: "t1"})
	require.NoError(t, err)

	updated, ev, err := s.UpdateProgress(ctx, "t1", 40, "working")
	require.NoError(t, err)
	assert.Equal(t, status.InProgress, updated.Status)
	require.NotNil(t, updated.Progress)
	assert.Equal(t, 40, *updated.Progress)
	assert.Equal(t, task.EventProgress, ev.EventType)

	history, err := s.History(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 40, *history[0].Progress)
}

func TestTaskUpdateProgressClamps(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, task.CreateParams{TaskID: "t1"})
	require.NoError(t, err)

	updated, _, err := s.UpdateProgress(ctx, "t1", 150, "")
	require.NoError(t, err)
	assert.Equal(t, 100, *updated.Progress)
}

func TestTaskCompleteIsTerminalAndRejectsFurtherMutation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, task.CreateParams{TaskID: "t1"})
	require.NoError(t, err)

	completed, _, err := s.Complete(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, status.Success, completed.Status)
	assert.NotNil(t, completed.CompletedAt)
	assert.Equal(t, 100, *completed.Progress)

	_, _, err = s.UpdateProgress(ctx, "t1", 50, "")
	var coded *apperr.CodedError
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, apperr.CodeTerminalState, coded.Code)

	historyBefore, err := s.History(ctx, "t1", 10)
	require.NoError(t, err)
	_, _, err = s.Fail(ctx, "t1", "too late")
	require.Error(t, err)
	historyAfter, err := s.History(ctx, "t1", 10)
	require.NoError(t, err)
	assert.Equal(t, len(historyBefore), len(historyAfter))
}

func TestTaskDeleteMissing(t *testing.T) {
	s := openTestStore(t)
	err := s.Delete(context.Background(), "nope")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}
