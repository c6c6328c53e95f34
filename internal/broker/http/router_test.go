package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectralnotify/internal/broker/apperr"
	"spectralnotify/internal/broker/fanout"
	"spectralnotify/internal/broker/instance"
	"spectralnotify/internal/platform/logging"
	"spectralnotify/internal/storage/localstore"
)

func newTestDeps(t *testing.T, apiKey string) Deps {
	t.Helper()
	store, err := localstore.Open(filepath.Join(t.TempDir(), "test.db"), logging.Nop)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(context.Background()))
	t.Cleanup(func() { store.Close() })

	return Deps{
		Directory:     instance.NewDirectory(store, store, false, fanout.DefaultConfig(), logging.Nop, nil),
		TaskStore:     store,
		WorkflowStore: store,
		Idempotency:   newMemIdempotencyStore(),
		Registry:      newMemRegistryStore(),
		Logger:        logging.Nop,
		APIKey:        apiKey,
	}
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddlewareRejectsMissingKeyWhenConfigured(t *testing.T) {
	router := NewRouter(newTestDeps(t, "secret"))
	rec := doJSON(t, router, http.MethodPost, "/tasks/create", map[string]string{"id": "t1"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apperr.CodeUnauthorized, body.Code)
}

func TestAuthMiddlewareAcceptsMatchingKey(t *testing.T) {
	router := NewRouter(newTestDeps(t, "secret"))
	rec := doJSON(t, router, http.MethodPost, "/tasks/create", map[string]string{"id": "t1"}, map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddlewareDisabledWhenKeyBlank(t *testing.T) {
	router := NewRouter(newTestDeps(t, ""))
	rec := doJSON(t, router, http.MethodPost, "/tasks/create", map[string]string{"id": "t1"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateThenGetTaskRoundTrips(t *testing.T) {
	router := NewRouter(newTestDeps(t, ""))

	createRec := doJSON(t, router, http.MethodPost, "/tasks/create", map[string]string{"id": "t1"}, nil)
	require.Equal(t, http.StatusOK, createRec.Code)

	getRec := doJSON(t, router, http.MethodPost, "/tasks/getById", map[string]string{"id": "t1"}, nil)
	require.Equal(t, http.StatusOK, getRec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &out))
	assert.Equal(t, "t1", out["taskId"])
}

func TestIdempotencyReplaysIdenticalRequestWithoutReexecuting(t *testing.T) {
	router := NewRouter(newTestDeps(t, ""))
	body := map[string]string{"id": "t1"}

	first := doJSON(t, router, http.MethodPost, "/tasks/create", body, map[string]string{"Idempotency-Key": "k1"})
	require.Equal(t, http.StatusOK, first.Code)

	second := doJSON(t, router, http.MethodPost, "/tasks/create", body, map[string]string{"Idempotency-Key": "k1"})
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestIdempotencyConflictsOnKeyReuseAcrossEndpoints(t *testing.T) {
	router := NewRouter(newTestDeps(t, ""))
	headers := map[string]string{"Idempotency-Key": "shared-key"}

	create := doJSON(t, router, http.MethodPost, "/tasks/create", map[string]string{"id": "t1"}, headers)
	require.Equal(t, http.StatusOK, create.Code)

	complete := doJSON(t, router, http.MethodPost, "/tasks/complete", map[string]string{"id": "t1"}, headers)
	assert.Equal(t, http.StatusConflict, complete.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(complete.Body.Bytes(), &body))
	assert.Equal(t, apperr.CodeIdempotencyConflict, body.Code)
}

func TestIdempotencyWithoutKeyDerivesFromPathAndBody(t *testing.T) {
	router := NewRouter(newTestDeps(t, ""))

	first := doJSON(t, router, http.MethodPost, "/tasks/create", map[string]string{"id": "t2"}, nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := doJSON(t, router, http.MethodPost, "/tasks/create", map[string]string{"id": "t2"}, nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestDeleteAllTasksCollectsPerIDFailuresWithoutAborting(t *testing.T) {
	deps := newTestDeps(t, "")
	router := NewRouter(deps)

	for _, id := range []string{"a", "b"} {
		rec := doJSON(t, router, http.MethodPost, "/tasks/create", map[string]string{"id": id}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	// Delete "a" directly from the store so deleteAll's later attempt to
	// re-delete it fails, while "b" still deletes cleanly.
	require.NoError(t, deps.TaskStore.Delete(context.Background(), "a"))

	rec := doJSON(t, router, http.MethodPost, "/tasks/deleteAll", map[string]string{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result deleteAllResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Contains(t, result.Deleted, "b")
	assert.NotContains(t, result.Deleted, "a")
	require.Contains(t, result.Failures, "a")
}

func TestGetTaskMissingReturnsNotFound(t *testing.T) {
	router := NewRouter(newTestDeps(t, ""))
	rec := doJSON(t, router, http.MethodPost, "/tasks/getById", map[string]string{"id": "nope"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWorkflowCreateUpdatePhaseAndCompleteRoundTrips(t *testing.T) {
	router := NewRouter(newTestDeps(t, ""))

	create := doJSON(t, router, http.MethodPost, "/workflows/create", map[string]any{
		"id": "w1",
		"phases": []map[string]any{
			{"phaseKey": "fetch", "weight": 0.3},
			{"phaseKey": "transform", "weight": 0.5},
			{"phaseKey": "publish", "weight": 0.2},
		},
	}, nil)
	require.Equal(t, http.StatusOK, create.Code)

	updated := doJSON(t, router, http.MethodPost, "/workflows/updatePhaseProgress", map[string]any{
		"workflowId": "w1", "phase": "fetch", "progress": 100,
	}, nil)
	require.Equal(t, http.StatusOK, updated.Code)
	var updateOut struct {
		Workflow struct {
			OverallProgress int `json:"overallProgress"`
		} `json:"workflow"`
	}
	require.NoError(t, json.Unmarshal(updated.Body.Bytes(), &updateOut))
	assert.Equal(t, 30, updateOut.Workflow.OverallProgress)

	complete := doJSON(t, router, http.MethodPost, "/workflows/complete", map[string]string{"workflowId": "w1"}, nil)
	require.Equal(t, http.StatusOK, complete.Code)
	var completeOut struct {
		Workflow struct {
			Status string `json:"status"`
		} `json:"workflow"`
	}
	require.NoError(t, json.Unmarshal(complete.Body.Bytes(), &completeOut))
	assert.Equal(t, "success", completeOut.Workflow.Status)
}
